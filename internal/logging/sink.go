package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Sink is a leveled message channel owned by a single connector run.
// Build-time record diagnostics are written here rather than to the audit CSV.
type Sink interface {
	Log(level int, msg string)
	// Close flushes and releases the underlying destination. Safe to call more than once.
	Close() error
}

// processSink forwards messages to the process-wide logger.
type processSink struct{}

// Default returns a Sink backed by the process logger configured through Logf.
func Default() Sink { return processSink{} }

func (processSink) Log(level int, msg string) { logf(level, "%s", msg) }
func (processSink) Close() error              { return nil }

// FileSink writes leveled messages to a rotating file through zap.
type FileSink struct {
	logger *zap.Logger
	roller *lumberjack.Logger
	closed bool
}

// NewFileSink creates (or appends to) the file at path. The parent directory is
// created when missing. Files larger than 50 MB are rotated, keeping 5 backups.
func NewFileSink(path string) (*FileSink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	roller := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    50,
		MaxBackups: 5,
	}
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig()),
		zapcore.AddSync(roller),
		zapcore.DebugLevel,
	)
	return &FileSink{logger: zap.New(core), roller: roller}, nil
}

// Log writes msg at the given level. Messages at None are discarded.
func (s *FileSink) Log(level int, msg string) {
	if s == nil || s.closed {
		return
	}
	switch level {
	case Error:
		s.logger.Error(msg)
	case Warning:
		s.logger.Warn(msg)
	case Info:
		s.logger.Info(msg)
	case Debug:
		s.logger.Debug(msg)
	}
}

// Close flushes buffered entries and closes the file.
func (s *FileSink) Close() error {
	if s == nil || s.closed {
		return nil
	}
	s.closed = true
	_ = s.logger.Sync()
	return s.roller.Close()
}

// TeeSink fans a message out to several sinks.
type TeeSink []Sink

func (t TeeSink) Log(level int, msg string) {
	for _, s := range t {
		s.Log(level, msg)
	}
}

// Close closes every sink and returns the first error encountered.
func (t TeeSink) Close() error {
	var first error
	for _, s := range t {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
