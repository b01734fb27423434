package io

import (
	"context"
	"fmt"
	stdio "io"
	"strings"

	"ingest-connector/internal/logging"

	"github.com/xuri/excelize/v2"
)

// Workbook is an open spreadsheet file whose worksheets are read one at a time.
type Workbook struct {
	path   string
	file   *excelize.File
	closed bool
}

// OpenWorkbook opens an .xlsx file for reading.
func OpenWorkbook(path string) (*Workbook, error) {
	logging.Logf(logging.Debug, "XLSXReader opening workbook: %s", path)
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("XLSXReader failed to open file '%s': %w", path, err)
	}
	return &Workbook{path: path, file: f}, nil
}

// SheetNames lists the worksheets in workbook order.
func (w *Workbook) SheetNames() []string { return w.file.GetSheetList() }

// FindSheet matches name against the worksheet names case-insensitively.
func (w *Workbook) FindSheet(name string) (string, bool) {
	for _, s := range w.file.GetSheetList() {
		if strings.EqualFold(s, strings.TrimSpace(name)) {
			return s, true
		}
	}
	return "", false
}

// Sheet returns a reader over the named worksheet. Row 1 is the header row.
func (w *Workbook) Sheet(name string) (*XLSXReader, error) {
	actual, ok := w.FindSheet(name)
	if !ok {
		return nil, fmt.Errorf("XLSXReader: sheet '%s' not found in '%s'", name, w.path)
	}
	rows, err := w.file.Rows(actual)
	if err != nil {
		return nil, fmt.Errorf("XLSXReader failed to get rows from sheet '%s' in '%s': %w", actual, w.path, err)
	}
	xr := &XLSXReader{path: w.path, sheet: actual, rows: rows}
	if err := xr.readHeader(); err != nil {
		_ = xr.Close()
		return nil, err
	}
	return xr, nil
}

// Close releases the workbook.
func (w *Workbook) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("XLSXReader failed to close file '%s': %w", w.path, err)
	}
	return nil
}

// XLSXReader streams the rows of one worksheet as display text.
// Entirely blank rows are skipped.
type XLSXReader struct {
	path    string
	sheet   string
	rows    *excelize.Rows
	index   *columnIndex
	headers []string
	row     int
	done    bool
	closed  bool
}

func (xr *XLSXReader) readHeader() error {
	xr.index = newColumnIndex(nil)
	if !xr.rows.Next() {
		if err := xr.rows.Error(); err != nil {
			return fmt.Errorf("XLSXReader failed to read header of sheet '%s' in '%s': %w", xr.sheet, xr.path, err)
		}
		logging.Logf(logging.Warning, "XLSX sheet '%s' in '%s' is empty or contains no header row.", xr.sheet, xr.path)
		xr.done = true
		return nil
	}
	xr.row = 1
	cols, err := xr.rows.Columns()
	if err != nil {
		return fmt.Errorf("XLSXReader failed to read header of sheet '%s' in '%s': %w", xr.sheet, xr.path, err)
	}
	xr.headers = make([]string, len(cols))
	for i, h := range cols {
		xr.headers[i] = strings.TrimSpace(h)
		if xr.headers[i] == "" {
			logging.Logf(logging.Debug, "XLSXReader: Empty header found in column %d of sheet '%s'; this column's data will be ignored.", i+1, xr.sheet)
		}
	}
	xr.index = newColumnIndex(xr.headers)
	return nil
}

// SheetName returns the worksheet's actual name.
func (xr *XLSXReader) SheetName() string { return xr.sheet }

// Headers returns the trimmed header row.
func (xr *XLSXReader) Headers() []string { return append([]string(nil), xr.headers...) }

// Next returns the next non-blank row. Its RowNumber is the worksheet row.
func (xr *XLSXReader) Next(ctx context.Context) (Record, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if xr.done || xr.closed {
			return nil, stdio.EOF
		}
		if !xr.rows.Next() {
			xr.done = true
			if err := xr.rows.Error(); err != nil {
				return nil, fmt.Errorf("XLSXReader failed reading sheet '%s' in '%s': %w", xr.sheet, xr.path, err)
			}
			return nil, stdio.EOF
		}
		xr.row++
		cols, err := xr.rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("XLSXReader failed to read row %d of sheet '%s' in '%s': %w", xr.row, xr.sheet, xr.path, err)
		}
		if blankRow(cols) {
			continue
		}
		values := make([]string, len(cols))
		for i, c := range cols {
			values[i] = strings.TrimSpace(c)
		}
		return &rowRecord{index: xr.index, values: values, row: xr.row}, nil
	}
}

func blankRow(cols []string) bool {
	for _, c := range cols {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Close releases the row iterator. The workbook stays open.
func (xr *XLSXReader) Close() error {
	if xr.closed {
		return nil
	}
	xr.closed = true
	if err := xr.rows.Close(); err != nil {
		return fmt.Errorf("XLSXReader failed to close rows of sheet '%s': %w", xr.sheet, err)
	}
	return nil
}
