// Package logging provides session-scoped debug logging for the agentdir
// CLI. Each process writes to one log file under the user cache directory;
// when file logging cannot be initialized the logger falls back to stderr.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logger writes timestamped, component-tagged entries to the session log.
type Logger struct {
	sessionID string
	component string
	file      *os.File
	logger    *log.Logger
	logPath   string
	mu        sync.Mutex
	closeOnce sync.Once
}

var (
	sessionID     string
	sessionIDOnce sync.Once
)

// SessionID returns the process-wide session identifier, generating it on
// first use.
func SessionID() string {
	sessionIDOnce.Do(func() {
		sessionID = uuid.New().String()
	})
	return sessionID
}

// LogDirectory returns the directory session logs are written to.
func LogDirectory() (string, error) {
	cache, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("logging: resolve cache directory: %w", err)
	}
	return filepath.Join(cache, "agentdir", "logs"), nil
}

// NewLogger creates a logger for one component, writing to the shared
// session log file. On failure it returns a stderr-backed logger along with
// the error so callers can surface the degradation.
func NewLogger(component string) (*Logger, error) {
	dir, err := LogDirectory()
	if err != nil {
		return fallbackLogger(component, err), err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		err = fmt.Errorf("logging: create log directory: %w", err)
		return fallbackLogger(component, err), err
	}

	logPath := filepath.Join(dir, SessionID()+"-agentdir.log")
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		err = fmt.Errorf("logging: open log file: %w", err)
		return fallbackLogger(component, err), err
	}

	return &Logger{
		sessionID: SessionID(),
		component: component,
		file:      file,
		logger:    log.New(file, "", 0),
		logPath:   logPath,
	}, nil
}

func fallbackLogger(component string, cause error) *Logger {
	logger := log.New(os.Stderr, fmt.Sprintf("[%s] ", component), log.LstdFlags)
	logger.Printf("file logging unavailable, using stderr: %v", cause)
	return &Logger{
		sessionID: SessionID(),
		component: component,
		logger:    logger,
	}
}

func (l *Logger) write(level, format string, v ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := time.Now().Format("2006-01-02 15:04:05.000")
	l.logger.Printf("[%s] [%s] [%s] %s", ts, l.component, level, fmt.Sprintf(format, v...))
}

// Debugf logs a debug-level message.
func (l *Logger) Debugf(format string, v ...any) { l.write("DEBUG", format, v...) }

// Infof logs an info-level message.
func (l *Logger) Infof(format string, v ...any) { l.write("INFO", format, v...) }

// Warnf logs a warning-level message.
func (l *Logger) Warnf(format string, v ...any) { l.write("WARN", format, v...) }

// Errorf logs an error-level message.
func (l *Logger) Errorf(format string, v ...any) { l.write("ERROR", format, v...) }

// Writer returns the underlying destination for components that stream.
func (l *Logger) Writer() io.Writer {
	if l.file != nil {
		return l.file
	}
	return os.Stderr
}

// LogPath returns the session log file path, or "" in fallback mode.
func (l *Logger) LogPath() string { return l.logPath }

// Close closes the log file. Safe to call multiple times.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		if l.file != nil {
			err = l.file.Close()
		}
	})
	return err
}
