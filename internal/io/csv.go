package io

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	stdio "io"
	"os"
	"strings"
	"unicode/utf8"

	"ingest-connector/internal/logging"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// CSVOptions configures delimited-text parsing.
type CSVOptions struct {
	Delimiter   string // Single character; defaults to ','.
	CommentChar string // Single character or empty to disable.
	Encoding    string // WHATWG label such as "windows-1251"; defaults to UTF-8.
}

// CSVReader streams records from a delimited text file. The first line defines
// the selectors (trimmed column names); later lines are matched to them by position.
type CSVReader struct {
	path    string
	file    *os.File
	reader  *csv.Reader
	index   *columnIndex
	headers []string
	row     int
	closed  bool
}

// parseRune validates a single-character option.
func parseRune(name, value string, def rune) (rune, error) {
	if value == "" {
		return def, nil
	}
	if utf8.RuneCountInString(value) != 1 {
		return 0, fmt.Errorf("invalid %s '%s': must be a single character", name, value)
	}
	r, _ := utf8.DecodeRuneInString(value)
	if !validSeparator(r) {
		return 0, fmt.Errorf("invalid %s %q: quotes, line breaks and NUL are not allowed", name, value)
	}
	return r, nil
}

// validSeparator mirrors the delimiter rules of encoding/csv.
func validSeparator(r rune) bool {
	return r != 0 && r != '"' && r != '\r' && r != '\n' && utf8.ValidRune(r) && r != utf8.RuneError
}

// CheckSeparator reports whether value can be used as a delimiter or comment character.
// An empty value is accepted; callers decide whether it is required.
func CheckSeparator(value string) error {
	_, err := parseRune("character", value, 0)
	return err
}

// CheckEncoding reports whether label names a supported text encoding.
func CheckEncoding(label string) error {
	_, err := decoderFor(label)
	return err
}

// decoderFor resolves an encoding label. A leading byte order mark always wins.
func decoderFor(label string) (transform.Transformer, error) {
	var enc encoding.Encoding = unicode.UTF8
	if strings.TrimSpace(label) != "" {
		e, err := htmlindex.Get(strings.TrimSpace(label))
		if err != nil {
			return nil, fmt.Errorf("unsupported encoding '%s': %w", label, err)
		}
		enc = e
	}
	return unicode.BOMOverride(enc.NewDecoder()), nil
}

// NewCSVReader opens path and reads its header line.
func NewCSVReader(path string, opts CSVOptions) (*CSVReader, error) {
	delim, err := parseRune("delimiter", opts.Delimiter, ',')
	if err != nil {
		return nil, err
	}
	comment, err := parseRune("comment character", opts.CommentChar, 0)
	if err != nil {
		return nil, err
	}
	decoder, err := decoderFor(opts.Encoding)
	if err != nil {
		return nil, err
	}

	logging.Logf(logging.Debug, "CSVReader opening file: %s (Delimiter: '%c', Encoding: '%s')", path, delim, opts.Encoding)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("CSVReader failed to open file '%s': %w", path, err)
	}

	reader := csv.NewReader(transform.NewReader(f, decoder))
	reader.Comma = delim
	reader.Comment = comment
	reader.FieldsPerRecord = -1 // Short and long rows are tolerated.
	reader.LazyQuotes = true

	cr := &CSVReader{path: path, file: f, reader: reader}

	header, err := reader.Read()
	if err != nil {
		_ = f.Close()
		cr.closed = true
		if errors.Is(err, stdio.EOF) {
			logging.Logf(logging.Warning, "CSV file '%s' is empty", path)
			cr.index = newColumnIndex(nil)
			return cr, nil
		}
		return nil, fmt.Errorf("CSVReader failed to read header from '%s': %w", path, err)
	}
	line, _ := reader.FieldPos(0)
	cr.row = line

	cr.headers = make([]string, len(header))
	for i, h := range header {
		cr.headers[i] = strings.TrimSpace(h)
		if cr.headers[i] == "" {
			logging.Logf(logging.Warning, "CSVReader: Empty header found in column %d of file '%s'; this column will be skipped", i+1, path)
		}
	}
	cr.index = newColumnIndex(cr.headers)
	if cr.index.len() < len(header) {
		logging.Logf(logging.Debug, "CSVReader: '%s' has duplicate or empty headers; the last column wins", path)
	}
	return cr, nil
}

// Headers returns the trimmed header names in column order.
func (cr *CSVReader) Headers() []string { return append([]string(nil), cr.headers...) }

// Next returns the next data line. Its RowNumber is the 1-based line number in the file.
func (cr *CSVReader) Next(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cr.closed {
		return nil, stdio.EOF
	}
	values, err := cr.reader.Read()
	if err != nil {
		if errors.Is(err, stdio.EOF) {
			return nil, stdio.EOF
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return nil, fmt.Errorf("CSVReader parse error in '%s' on line %d, column %d: %w", cr.path, parseErr.Line, parseErr.Column, parseErr.Err)
		}
		return nil, fmt.Errorf("CSVReader failed to read row from '%s': %w", cr.path, err)
	}
	line, _ := cr.reader.FieldPos(0)
	cr.row = line
	return &rowRecord{index: cr.index, values: values, row: line}, nil
}

// Close releases the file handle.
func (cr *CSVReader) Close() error {
	if cr.closed {
		return nil
	}
	cr.closed = true
	if err := cr.file.Close(); err != nil {
		return fmt.Errorf("CSVReader failed to close '%s': %w", cr.path, err)
	}
	return nil
}
