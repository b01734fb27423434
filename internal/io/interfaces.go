package io

import "context"

// Record is one source row or node. Lookup resolves a selector in the reader's
// dialect (column header, JSON path, XPath, SQL column) to its raw text.
// The second result is false when the selector is absent; present-but-blank
// values are returned as-is and filtered by the caller.
type Record interface {
	Lookup(selector string) (string, bool)
}

// RecordReader produces a lazy, finite, non-restartable sequence of records.
type RecordReader interface {
	// Next returns the next record, or io.EOF once the source is exhausted.
	// Implementations check ctx before blocking source I/O.
	Next(ctx context.Context) (Record, error)

	// Close releases file handles, cursors or connections. Safe to call more than once.
	Close() error
}

// AuditWriter appends one audit row per dispatched payload.
type AuditWriter interface {
	WriteRow(row AuditRow) error

	// Close releases the underlying file. Safe to call more than once.
	Close() error
}
