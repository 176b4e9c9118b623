// Package logging provides structured logging for the MCP runtime.
// It supports leveled output, key/value fields, and pluggable formatters.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level is the severity of a log message.
type Level int

const (
	// DebugLevel is verbose diagnostic output.
	DebugLevel Level = iota - 1
	// InfoLevel is routine operational output.
	InfoLevel
	// WarnLevel flags recoverable problems.
	WarnLevel
	// ErrorLevel flags failures.
	ErrorLevel
)

// String returns the level's display name.
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Field is one key/value pair attached to a log entry.
type Field struct {
	Key   string
	Value interface{}
}

// String builds a string-valued field.
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int builds an integer-valued field.
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Bool builds a boolean-valued field.
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// ErrorField builds a field keyed "error".
func ErrorField(err error) Field {
	return Field{Key: "error", Value: err}
}

// Duration builds a duration-valued field.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

// Any builds a field holding an arbitrary value.
func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Logger is the leveled, fielded logging interface the runtime takes
// everywhere it logs.
type Logger interface {
	// Debug emits at DebugLevel.
	Debug(msg string, fields ...Field)
	// Info emits at InfoLevel.
	Info(msg string, fields ...Field)
	// Warn emits at WarnLevel.
	Warn(msg string, fields ...Field)
	// Error emits at ErrorLevel.
	Error(msg string, fields ...Field)

	// WithFields derives a logger whose entries always carry fields.
	WithFields(fields ...Field) Logger

	// SetLevel changes the minimum emitted level.
	SetLevel(level Level)
}

// Entry is one formatted-and-written log record.
type Entry struct {
	Level     Level
	Message   string
	Fields    map[string]interface{}
	Timestamp time.Time
	Component string
}

// Formatter renders an Entry to bytes.
type Formatter interface {
	Format(entry *Entry) ([]byte, error)
}

type baseLogger struct {
	mu        sync.RWMutex
	level     Level
	output    io.Writer
	formatter Formatter
	fields    map[string]interface{}
}

// New builds a logger writing to output with the given formatter.
// Nil arguments fall back to stderr and the text formatter.
func New(output io.Writer, formatter Formatter) Logger {
	if output == nil {
		output = os.Stderr
	}
	if formatter == nil {
		formatter = NewTextFormatter()
	}
	return &baseLogger{
		level:     InfoLevel,
		output:    output,
		formatter: formatter,
		fields:    make(map[string]interface{}),
	}
}

func (l *baseLogger) Debug(msg string, fields ...Field) { l.log(DebugLevel, msg, fields...) }
func (l *baseLogger) Info(msg string, fields ...Field)  { l.log(InfoLevel, msg, fields...) }
func (l *baseLogger) Warn(msg string, fields ...Field)  { l.log(WarnLevel, msg, fields...) }
func (l *baseLogger) Error(msg string, fields ...Field) { l.log(ErrorLevel, msg, fields...) }

func (l *baseLogger) WithFields(fields ...Field) Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	newFields := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		newFields[k] = v
	}
	for _, field := range fields {
		newFields[field.Key] = field.Value
	}

	return &baseLogger{
		level:     l.level,
		output:    l.output,
		formatter: l.formatter,
		fields:    newFields,
	}
}

func (l *baseLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *baseLogger) log(level Level, msg string, fields ...Field) {
	l.mu.RLock()
	if level < l.level {
		l.mu.RUnlock()
		return
	}
	l.mu.RUnlock()

	entry := &Entry{
		Level:     level,
		Message:   msg,
		Fields:    make(map[string]interface{}),
		Timestamp: time.Now(),
	}

	l.mu.RLock()
	for k, v := range l.fields {
		entry.Fields[k] = v
	}
	l.mu.RUnlock()

	for _, field := range fields {
		entry.Fields[field.Key] = field.Value
	}

	if component, ok := entry.Fields["component"].(string); ok {
		entry.Component = component
	}

	data, err := l.formatter.Format(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to format log entry: %v\n", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.output.Write(data); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write log entry: %v\n", err)
	}
}

type nopLogger struct{}

// NewNopLogger returns a logger that discards everything. It is the default
// inside the protocol engine so logging stays opt-in.
func NewNopLogger() Logger {
	return nopLogger{}
}

func (nopLogger) Debug(string, ...Field)          {}
func (nopLogger) Info(string, ...Field)           {}
func (nopLogger) Warn(string, ...Field)           {}
func (nopLogger) Error(string, ...Field)          {}
func (n nopLogger) WithFields(...Field) Logger    { return n }
func (nopLogger) SetLevel(Level)                  {}
