// internal/utils/logger.go
package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the logging level
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARNING
	ERROR
)

// Logger is a levelled logger writing to stdout and an optional log file
type Logger struct {
	mu      sync.Mutex
	file    *os.File
	out     io.Writer
	level   LogLevel
	enabled bool
	fields  map[string]interface{}
	parent  *Logger
}

var (
	globalLogger *Logger
	loggerOnce   sync.Once
)

// GetLogger returns the global logger instance
func GetLogger() *Logger {
	loggerOnce.Do(func() {
		globalLogger = &Logger{
			out:     os.Stdout,
			level:   INFO,
			enabled: true,
		}
	})
	return globalLogger
}

// InitLogger attaches a log file to the global logger
func InitLogger(logFile string) error {
	logger := GetLogger()

	if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	logger.mu.Lock()
	defer logger.mu.Unlock()

	if logger.file != nil {
		logger.file.Close()
	}
	logger.file = file
	return nil
}

// NewLogger creates a standalone logger, mostly for tests and the CLI
func NewLogger(out io.Writer, level LogLevel) *Logger {
	return &Logger{out: out, level: level, enabled: true}
}

// ParseLogLevel maps a config string to a level, defaulting to INFO
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARNING
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// SetLogLevel sets the minimum level for logging
func (l *Logger) SetLogLevel(level LogLevel) {
	root := l.root()
	root.mu.Lock()
	defer root.mu.Unlock()
	root.level = level
}

// Enable enables or disables logging
func (l *Logger) Enable(enabled bool) {
	root := l.root()
	root.mu.Lock()
	defer root.mu.Unlock()
	root.enabled = enabled
}

// With returns a child logger that adds fields to every entry
func (l *Logger) With(fields map[string]interface{}) *Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{fields: merged, parent: l.root()}
}

func (l *Logger) root() *Logger {
	if l.parent != nil {
		return l.parent
	}
	return l
}

func (l *Logger) log(level LogLevel, message string, fields map[string]interface{}) {
	root := l.root()

	root.mu.Lock()
	defer root.mu.Unlock()

	if !root.enabled || level < root.level {
		return
	}

	file, line, funcName := callerInfo(3)

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s %s:%d:%s - %s",
		levelToString(level),
		time.Now().Format("2006-01-02 15:04:05.000"),
		file, line, funcName, message)

	all := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		all[k] = v
	}
	for k, v := range fields {
		all[k] = v
	}
	if len(all) > 0 {
		keys := make([]string, 0, len(all))
		for k := range all {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" |")
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, all[k])
		}
	}
	b.WriteString("\n")

	if root.file != nil {
		root.file.WriteString(b.String())
	}
	if root.out != nil {
		io.WriteString(root.out, b.String())
	}
}

func callerInfo(skip int) (string, int, string) {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "?", 0, ""
	}
	funcName := ""
	if fn := runtime.FuncForPC(pc); fn != nil {
		funcName = fn.Name()
		if idx := strings.LastIndex(funcName, "/"); idx >= 0 {
			funcName = funcName[idx+1:]
		}
	}
	if idx := strings.LastIndex(file, "/"); idx >= 0 {
		file = file[idx+1:]
	}
	return file, line, funcName
}

func levelToString(level LogLevel) string {
	switch level {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARNING:
		return "WARNING"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields map[string]interface{}) {
	l.log(DEBUG, message, fields)
}

// Info logs an info message
func (l *Logger) Info(message string, fields map[string]interface{}) {
	l.log(INFO, message, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields map[string]interface{}) {
	l.log(WARNING, message, fields)
}

// Error logs an error message
func (l *Logger) Error(message string, fields map[string]interface{}) {
	l.log(ERROR, message, fields)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(INFO, fmt.Sprintf(format, args...), nil)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(WARNING, fmt.Sprintf(format, args...), nil)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(ERROR, fmt.Sprintf(format, args...), nil)
}
