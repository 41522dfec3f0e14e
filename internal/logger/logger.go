package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"

	apperrors "github.com/shipslog/backend/internal/errors"
)

// Level represents the log level
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseLevel converts a level name into a Level, defaulting to info
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Entry represents a structured log entry
type Entry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	RequestID string                 `json:"request_id,omitempty"`
	ItemID    string                 `json:"item_id,omitempty"`
	Component string                 `json:"component,omitempty"`
	Error     *ErrorDetails          `json:"error,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller,omitempty"`
}

// ErrorDetails contains structured error information
type ErrorDetails struct {
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
	Category   string `json:"category,omitempty"`
	StackTrace string `json:"stack_trace,omitempty"`
}

// Config holds logger configuration
type Config struct {
	Output    io.Writer
	Level     Level
	Component string
}

// Logger provides structured JSON logging
type Logger struct {
	mu        sync.Mutex
	output    io.Writer
	level     Level
	component string
	redactor  *Redactor
}

// global default logger
var defaultLogger = New(&Config{Output: os.Stdout, Level: LevelInfo})

// New creates a new logger
func New(cfg *Config) *Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	return &Logger{
		output:    output,
		level:     cfg.Level,
		component: cfg.Component,
		redactor:  DefaultRedactor(),
	}
}

// SetDefault sets the default logger
func SetDefault(l *Logger) {
	defaultLogger = l
}

// Default returns the default logger
func Default() *Logger {
	return defaultLogger
}

// WithComponent creates a new logger with the specified component name
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		output:    l.output,
		level:     l.level,
		component: component,
		redactor:  l.redactor,
	}
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return apperrors.WithRequestID(ctx, requestID)
}

// log writes a log entry
func (l *Logger) log(ctx context.Context, level Level, msg string, fields map[string]interface{}, err error) {
	if level < l.level {
		return
	}

	entry := Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level.String(),
		Message:   l.redactor.Redact(msg),
		RequestID: apperrors.GetRequestID(ctx),
		ItemID:    apperrors.GetItemID(ctx),
		Component: l.component,
		Fields:    l.redactor.RedactFields(fields),
	}

	// Add caller info for errors
	if level >= LevelError {
		_, file, line, ok := runtime.Caller(2)
		if ok {
			// Shorten file path
			parts := strings.Split(file, "/")
			if len(parts) > 2 {
				file = strings.Join(parts[len(parts)-2:], "/")
			}
			entry.Caller = fmt.Sprintf("%s:%d", file, line)
		}
	}

	// Add error details if present
	if err != nil {
		entry.Error = &ErrorDetails{
			Message: err.Error(),
		}

		if appErr, ok := err.(*apperrors.AppError); ok {
			entry.Error.Code = appErr.Code
			entry.Error.Category = string(appErr.Category)
		}

		// Add stack trace for errors
		if level >= LevelError {
			entry.Error.StackTrace = getStackTrace()
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	data, _ := json.Marshal(entry)
	l.output.Write(data)
	l.output.Write([]byte("\n"))
}

// Debug logs a debug message
func (l *Logger) Debug(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log(ctx, LevelDebug, msg, fields, nil)
}

// Info logs an info message
func (l *Logger) Info(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log(ctx, LevelInfo, msg, fields, nil)
}

// Warn logs a warning message
func (l *Logger) Warn(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log(ctx, LevelWarn, msg, fields, nil)
}

// Error logs an error message
func (l *Logger) Error(ctx context.Context, msg string, err error, fields map[string]interface{}) {
	l.log(ctx, LevelError, msg, fields, err)
}

// Package-level convenience functions

func Debug(ctx context.Context, msg string, fields map[string]interface{}) {
	defaultLogger.Debug(ctx, msg, fields)
}

func Info(ctx context.Context, msg string, fields map[string]interface{}) {
	defaultLogger.Info(ctx, msg, fields)
}

func Warn(ctx context.Context, msg string, fields map[string]interface{}) {
	defaultLogger.Warn(ctx, msg, fields)
}

func Error(ctx context.Context, msg string, err error, fields map[string]interface{}) {
	defaultLogger.Error(ctx, msg, err, fields)
}

// getStackTrace returns a stack trace string
func getStackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// Redactor scrubs secrets from log output
type Redactor struct {
	sensitiveKeys []string
	patterns      []*regexp.Regexp
}

// DefaultRedactor returns a redactor covering API keys and bearer tokens
func DefaultRedactor() *Redactor {
	return &Redactor{
		sensitiveKeys: []string{"password", "secret", "token", "key", "auth", "credential"},
		patterns: []*regexp.Regexp{
			// JWT-shaped tokens
			regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`),
			// OpenAI-style API keys
			regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),
		},
	}
}

// Redact replaces secret-shaped substrings in a message
func (r *Redactor) Redact(msg string) string {
	for _, p := range r.patterns {
		msg = p.ReplaceAllString(msg, "[REDACTED]")
	}
	return msg
}

// RedactFields replaces values of sensitive field keys
func (r *Redactor) RedactFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		lower := strings.ToLower(k)
		redacted := false
		for _, s := range r.sensitiveKeys {
			if strings.Contains(lower, s) {
				out[k] = "[REDACTED]"
				redacted = true
				break
			}
		}
		if !redacted {
			if s, ok := v.(string); ok {
				out[k] = r.Redact(s)
			} else {
				out[k] = v
			}
		}
	}
	return out
}
