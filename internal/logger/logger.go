// Package logger provides leveled logging (info/warning/error) to stdout/stderr and optional
// per-level files.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// Leveled is the logging surface the rest of the module depends on
type Leveled interface {
	Info(format string, v ...interface{})
	Warning(format string, v ...interface{})
	Error(format string, v ...interface{})
}

// Nop discards everything
type Nop struct{}

func (Nop) Info(string, ...interface{})    {}
func (Nop) Warning(string, ...interface{}) {}
func (Nop) Error(string, ...interface{})   {}

// OrNop returns l, or Nop when l is nil
func OrNop(l Leveled) Leveled {
	if l == nil {
		return Nop{}
	}
	return l
}

// Logger writes leveled entries to stdout/stderr and, when a directory is given, to
// info.log, warning.log and error.log.
type Logger struct {
	infoLog    *log.Logger
	warningLog *log.Logger
	errorLog   *log.Logger
	files      []*os.File
	mu         sync.Mutex
}

// New creates a Logger. An empty logDir logs to the console only.
func New(logDir string) (*Logger, error) {
	if logDir == "" {
		return NewWithWriters(os.Stdout, os.Stderr), nil
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	l := &Logger{}
	var writers [3]io.Writer
	for i, name := range []string{"info.log", "warning.log", "error.log"} {
		f, err := os.OpenFile(filepath.Join(logDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("failed to open log file %s: %w", name, err)
		}
		l.files = append(l.files, f)
		writers[i] = f
	}

	l.setup(
		io.MultiWriter(os.Stdout, writers[0]),
		io.MultiWriter(os.Stdout, writers[1]),
		io.MultiWriter(os.Stderr, writers[2]),
	)
	return l, nil
}

// NewWithWriters creates a Logger writing info and warnings to out and errors to errOut
func NewWithWriters(out, errOut io.Writer) *Logger {
	l := &Logger{}
	l.setup(out, out, errOut)
	return l
}

func (l *Logger) setup(info, warning, errOut io.Writer) {
	flags := log.Ldate | log.Ltime | log.Lmsgprefix
	l.infoLog = log.New(info, "INFO    ", flags)
	l.warningLog = log.New(warning, "WARNING ", flags)
	l.errorLog = log.New(errOut, "ERROR   ", flags)
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infoLog.Printf(format, v...)
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warningLog.Printf(format, v...)
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errorLog.Printf(format, v...)
}

// Close closes the log files
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var first error
	for _, f := range l.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	l.files = nil
	return first
}
