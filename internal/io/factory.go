package io

import (
	"context"
	"fmt"
	"strings"

	"ingest-connector/internal/logging"
)

// Source formats handled by OpenSource.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatXML  = "xml"
	FormatSQL  = "sql"
)

// Source describes one record source. Spreadsheets are opened per worksheet
// through OpenWorkbook instead.
type Source struct {
	Format     string
	Path       string // File path for csv, json and xml.
	RecordPath string // JSON record array path or XML record XPath.
	CSV        CSVOptions
	SQL        SQLOptions
}

// OpenSource creates and returns the RecordReader for src.
func OpenSource(ctx context.Context, src Source) (RecordReader, error) {
	format := strings.ToLower(src.Format)
	logging.Logf(logging.Debug, "Creating record reader for format: %s", format)

	switch format {
	case FormatCSV:
		reader, err := NewCSVReader(src.Path, src.CSV)
		if err != nil {
			return nil, fmt.Errorf("failed to create CSV reader: %w", err)
		}
		return reader, nil
	case FormatJSON:
		reader, err := NewJSONReader(src.Path, src.RecordPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create JSON reader: %w", err)
		}
		return reader, nil
	case FormatXML:
		if strings.TrimSpace(src.RecordPath) == "" {
			return nil, fmt.Errorf("record XPath is required for format 'xml'")
		}
		reader, err := NewXMLReader(src.Path, src.RecordPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create XML reader: %w", err)
		}
		return reader, nil
	case FormatSQL:
		if strings.TrimSpace(src.SQL.ConnectionString) == "" {
			return nil, fmt.Errorf("connection string is required for format 'sql'")
		}
		if strings.TrimSpace(src.SQL.Query) == "" {
			return nil, fmt.Errorf("query is required for format 'sql'")
		}
		reader, err := NewSQLReader(ctx, src.SQL)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQL reader: %w", err)
		}
		return reader, nil
	default:
		return nil, fmt.Errorf("unsupported source format '%s'", src.Format)
	}
}
