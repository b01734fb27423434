package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log levels constants.
const (
	None = iota
	Error
	Warning
	Info
	Debug
)

var currentLevel atomic.Int32 // Stores the current logging level atomically.

var (
	mu     sync.RWMutex
	output io.Writer = os.Stderr
	logger *zap.Logger
)

func init() {
	// Default log level is Info.
	currentLevel.Store(Info)
	logger = newZapLogger(output)
}

// encoderConfig is shared by the process logger and the per-run file sinks.
func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		MessageKey:     "msg",
		CallerKey:      "caller",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// newZapLogger builds the process logger. Level filtering happens in logf,
// so the core itself accepts everything down to Debug.
func newZapLogger(w io.Writer) *zap.Logger {
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig()),
		zapcore.AddSync(w),
		zapcore.DebugLevel,
	)
	// Skip logf and Logf so Debug lines point at the real caller.
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2))
}

// SetLevel atomically sets the global logging level.
// It clamps the input level to the valid range [None, Debug].
func SetLevel(level int) {
	if level < None {
		level = None
	} else if level > Debug {
		level = Debug
	}
	currentLevel.Store(int32(level))
	if level >= Debug {
		logf(Debug, "Log level set to %d", level)
	}
}

// GetLevel atomically retrieves the current logging level.
func GetLevel() int {
	return int(currentLevel.Load())
}

// ParseLevel converts a log level string (case-insensitive) to its integer representation.
// Returns Info level and an error if the string is invalid.
func ParseLevel(levelStr string) (int, error) {
	switch strings.ToLower(levelStr) {
	case "none":
		return None, nil
	case "error":
		return Error, nil
	case "warn", "warning":
		return Warning, nil
	case "info":
		return Info, nil
	case "debug":
		return Debug, nil
	default:
		return Info, fmt.Errorf("invalid log level string: '%s'", levelStr)
	}
}

// SetupLogging configures the logging level based on an input string.
// Logs a warning and uses Info level if the input string is invalid.
// Returns the finally set log level.
func SetupLogging(levelStr string) int {
	level, err := ParseLevel(levelStr)
	if err != nil {
		logf(Warning, "Invalid log level '%s' provided, defaulting to 'info'. Error: %v", levelStr, err)
	}
	SetLevel(level)
	return level
}

// SetOutput changes the output destination of the global logger.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if logger != nil {
		_ = logger.Sync()
	}
	output = w
	logger = newZapLogger(w)
}

// Sync flushes any buffered log entries.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = logger.Sync()
}

func logf(level int, format string, v ...interface{}) {
	if int32(level) > currentLevel.Load() {
		return
	}
	message := fmt.Sprintf(format, v...)

	mu.RLock()
	l := logger
	mu.RUnlock()

	switch level {
	case Error:
		l.Error(message)
	case Warning:
		l.Warn(message)
	case Info:
		l.Info(message)
	case Debug:
		l.Debug(message)
	}
}

// Logf logs a formatted message if the specified level is enabled according to the global setting.
func Logf(level int, format string, v ...interface{}) {
	logf(level, format, v...)
}
