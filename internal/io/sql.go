package io

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	stdio "io"
	"strings"
	"time"

	"ingest-connector/internal/logging"
	"ingest-connector/internal/util"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	mssql "github.com/microsoft/go-mssqldb"
)

// Supported SQL drivers.
const (
	DriverPostgres  = "postgres"
	DriverMySQL     = "mysql"
	DriverSQLServer = "sqlserver"
)

// Default database connection timeout.
const defaultDbTimeout = 30 * time.Second

// Cursor is a forward-only result set. *sql.Rows satisfies it.
type Cursor interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// SQLOptions configures a tabular-cursor source.
type SQLOptions struct {
	Driver           string // postgres (default), mysql or sqlserver.
	ConnectionString string
	Query            string
	ConnectTimeout   time.Duration
}

// sqlOpenFunc allows overriding database opening for testing.
var sqlOpenFunc = openDB

// NormalizeDriver maps accepted driver aliases to a supported driver name.
func NormalizeDriver(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "postgres", "postgresql", "pgx":
		return DriverPostgres, nil
	case "mysql", "mariadb":
		return DriverMySQL, nil
	case "sqlserver", "mssql":
		return DriverSQLServer, nil
	default:
		return "", fmt.Errorf("unsupported SQL driver '%s'", driver)
	}
}

// openDB builds a *sql.DB from a driver-specific connector so each driver
// parses its own connection string format.
func openDB(driver, connStr string) (*sql.DB, error) {
	switch driver {
	case DriverPostgres:
		cfg, err := pgx.ParseConfig(connStr)
		if err != nil {
			return nil, err
		}
		return stdlib.OpenDB(*cfg), nil
	case DriverMySQL:
		cfg, err := mysql.ParseDSN(connStr)
		if err != nil {
			return nil, err
		}
		connector, err := mysql.NewConnector(cfg)
		if err != nil {
			return nil, err
		}
		return sql.OpenDB(connector), nil
	case DriverSQLServer:
		connector, err := mssql.NewConnector(connStr)
		if err != nil {
			return nil, err
		}
		return sql.OpenDB(connector), nil
	default:
		return nil, fmt.Errorf("unsupported SQL driver '%s'", driver)
	}
}

// SQLReader iterates the rows of one query. Column lookup is case-insensitive;
// SQL NULL is present but blank.
type SQLReader struct {
	cursor  Cursor
	db      *sql.DB
	columns []string
	index   *columnIndex
	closed  bool
}

// NewSQLReader connects, runs the query and returns a reader over its cursor.
// The query runs under ctx, so cancelling ctx stops row iteration.
func NewSQLReader(ctx context.Context, opts SQLOptions) (*SQLReader, error) {
	driver, err := NormalizeDriver(opts.Driver)
	if err != nil {
		return nil, err
	}
	connStr := util.ExpandEnvUniversal(opts.ConnectionString)
	masked := util.MaskCredentials(connStr)
	logging.Logf(logging.Debug, "SQLReader connecting (%s) using: %s", driver, masked)

	db, err := sqlOpenFunc(driver, connStr)
	if err != nil {
		return nil, fmt.Errorf("SQLReader failed to open %s database (using %s): %w", driver, masked, err)
	}

	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultDbTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("SQLReader database connection timed out (using %s): %w", masked, err)
		}
		return nil, fmt.Errorf("SQLReader failed to connect to database (using %s): %w", masked, err)
	}

	rows, err := db.QueryContext(ctx, opts.Query)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("SQLReader failed to execute query '%s': %w", util.Snippet(opts.Query), err)
	}
	reader, err := NewCursorReader(rows)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	reader.db = db
	return reader, nil
}

// NewCursorReader wraps an already executed cursor.
func NewCursorReader(cursor Cursor) (*SQLReader, error) {
	columns, err := cursor.Columns()
	if err != nil {
		_ = cursor.Close()
		return nil, fmt.Errorf("SQLReader failed to read result columns: %w", err)
	}
	if len(columns) == 0 {
		logging.Logf(logging.Warning, "SQLReader query returned no columns.")
	}
	return &SQLReader{cursor: cursor, columns: columns, index: newColumnIndex(columns)}, nil
}

// Columns returns the cursor's column names.
func (sr *SQLReader) Columns() []string { return append([]string(nil), sr.columns...) }

// Next fetches the next row.
func (sr *SQLReader) Next(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sr.closed {
		return nil, stdio.EOF
	}
	if !sr.cursor.Next() {
		if err := sr.cursor.Err(); err != nil {
			return nil, fmt.Errorf("SQLReader error during row iteration: %w", err)
		}
		return nil, stdio.EOF
	}
	values := make([]sql.NullString, len(sr.columns))
	dest := make([]any, len(values))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := sr.cursor.Scan(dest...); err != nil {
		return nil, fmt.Errorf("SQLReader failed to scan row values: %w", err)
	}
	texts := make([]string, len(values))
	for i, v := range values {
		texts[i] = v.String // NULL scans to "".
	}
	return &rowRecord{index: sr.index, values: texts}, nil
}

// Close closes the cursor and, when owned, the database handle.
func (sr *SQLReader) Close() error {
	if sr.closed {
		return nil
	}
	sr.closed = true
	err := sr.cursor.Close()
	if sr.db != nil {
		if dbErr := sr.db.Close(); err == nil {
			err = dbErr
		}
	}
	if err != nil {
		return fmt.Errorf("SQLReader failed to close: %w", err)
	}
	return nil
}
