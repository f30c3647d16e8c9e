// Package logger provides the process-wide logger. Nothing is written until
// Init or InitWriter is called.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	globalLogger *logrus.Logger
	logFile      *os.File
	mu           sync.RWMutex
)

func newLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000000",
	})
	return l
}

// Init initializes the global logger with the specified log file path.
func Init(logPath string) error {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	logFile = f
	globalLogger = newLogger(f)
	return nil
}

// InitWriter initializes the global logger on an arbitrary writer (stderr
// for --verbose, a buffer in tests).
func InitWriter(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	globalLogger = newLogger(w)
}

// SetLevel sets the minimum level by name: debug, info, warn, error.
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	mu.RLock()
	defer mu.RUnlock()
	if globalLogger != nil {
		globalLogger.SetLevel(lvl)
	}
	return nil
}

// Close closes the log file and disables logging.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	globalLogger = nil
}

// Fields is a set of structured log fields.
type Fields = logrus.Fields

// With returns an entry carrying fields. When logging is disabled the entry
// writes to io.Discard.
func With(fields Fields) *logrus.Entry {
	mu.RLock()
	l := globalLogger
	mu.RUnlock()

	if l == nil {
		l = discard
	}
	return l.WithFields(fields)
}

var discard = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return l
}()

func logf(level logrus.Level, format string, v ...interface{}) {
	mu.RLock()
	l := globalLogger
	mu.RUnlock()

	if l != nil {
		l.Logf(level, format, v...)
	}
}

// Info logs an info message.
func Info(format string, v ...interface{}) { logf(logrus.InfoLevel, format, v...) }

// Debug logs a debug message.
func Debug(format string, v ...interface{}) { logf(logrus.DebugLevel, format, v...) }

// Error logs an error message.
func Error(format string, v ...interface{}) { logf(logrus.ErrorLevel, format, v...) }

// Warn logs a warning message.
func Warn(format string, v ...interface{}) { logf(logrus.WarnLevel, format, v...) }

// GetWriter returns the underlying writer for use by device adapters.
func GetWriter() io.Writer {
	mu.RLock()
	defer mu.RUnlock()

	if globalLogger != nil {
		return globalLogger.Out
	}
	return io.Discard
}
