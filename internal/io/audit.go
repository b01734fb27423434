package io

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"ingest-connector/internal/logging"
)

// Audit row outcomes.
const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
)

// auditHeader is the fixed first line of every audit file.
const auditHeader = "RowNumber,UniqueValue,Status,HttpStatus,Remarks,TimestampUtc"

// auditTimestampLayout is a round-trip UTC timestamp with 7 fractional digits.
const auditTimestampLayout = "2006-01-02T15:04:05.0000000Z07:00"

// auditFileStampLayout is the UTC stamp embedded in audit file names.
const auditFileStampLayout = "20060102_150405.000"

// AuditRow is one dispatched payload's outcome.
type AuditRow struct {
	RowNumber   int
	UniqueValue string
	Status      string
	HTTPStatus  string
	Remarks     string
	Timestamp   time.Time // Zero means "now".
}

// AuditFileName returns "{derivedName}_{yyyyMMdd_HHmmss_fff}_ImportLog.csv" for ts in UTC.
func AuditFileName(derivedName string, ts time.Time) string {
	stamp := strings.Replace(ts.UTC().Format(auditFileStampLayout), ".", "_", 1)
	return fmt.Sprintf("%s_%s_ImportLog.csv", derivedName, stamp)
}

// auditLocks serializes physical writes per file across every logger in the process.
var auditLocks sync.Map // absolute path -> *sync.Mutex

func lockFor(path string) *sync.Mutex {
	mu, _ := auditLocks.LoadOrStore(path, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// CSVAuditLogger appends audit rows to a CSV file. The header is written only
// when the file is new or empty, so reusing a file name appends.
type CSVAuditLogger struct {
	filePath string
	mu       *sync.Mutex
	file     *os.File
	closed   bool
	rows     int
}

// NewCSVAuditLogger opens (or creates) the audit file at filePath and ensures its header.
func NewCSVAuditLogger(filePath string) (*CSVAuditLogger, error) {
	abs, err := filepath.Abs(filePath)
	if err != nil {
		abs = filePath
	}
	if dir := filepath.Dir(abs); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("CSVAuditLogger failed to create directory for '%s': %w", filePath, err)
		}
	}

	mu := lockFor(abs)
	mu.Lock()
	defer mu.Unlock()

	f, err := os.OpenFile(abs, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("CSVAuditLogger failed to open file '%s': %w", filePath, err)
	}
	info, err := f.Stat()
	if err != nil || info.Size() == 0 {
		logging.Logf(logging.Debug, "Writing header to audit file '%s'", abs)
		if _, err := f.WriteString(auditHeader + "\n"); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("CSVAuditLogger failed to write header to '%s': %w", filePath, err)
		}
	}
	return &CSVAuditLogger{filePath: abs, mu: mu, file: f}, nil
}

// Path returns the absolute path of the audit file.
func (l *CSVAuditLogger) Path() string { return l.filePath }

// Rows returns the number of rows written by this logger.
func (l *CSVAuditLogger) Rows() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rows
}

// WriteRow appends exactly one line. Safe for concurrent use.
func (l *CSVAuditLogger) WriteRow(row AuditRow) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return errors.New("CSVAuditLogger: write called on closed logger")
	}
	ts := row.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	line := strings.Join([]string{
		strconv.Itoa(row.RowNumber),
		escapeAuditField(row.UniqueValue),
		row.Status,
		row.HTTPStatus,
		escapeAuditField(row.Remarks),
		ts.UTC().Format(auditTimestampLayout),
	}, ",")
	if _, err := l.file.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("CSVAuditLogger failed to write row to '%s': %w", l.filePath, err)
	}
	l.rows++
	return nil
}

// escapeAuditField leaves blank values empty and otherwise doubles embedded
// quotes and wraps the value in quotes.
func escapeAuditField(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

// Close closes the underlying file. Safe to call multiple times.
func (l *CSVAuditLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("CSVAuditLogger file close error for '%s': %w", l.filePath, err)
	}
	logging.Logf(logging.Debug, "CSVAuditLogger closed: %s (%d rows)", l.filePath, l.rows)
	return nil
}
