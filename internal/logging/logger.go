package logging

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/austindbirch/outboundiq/internal/tracing"
)

// LogLevel represents the severity of the log entry
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
	LevelFatal LogLevel = "fatal"
)

// LogEntry represents a structured log entry
type LogEntry struct {
	Time        time.Time      `json:"time"`
	Level       LogLevel       `json:"level"`
	Message     string         `json:"msg"`
	Service     string         `json:"service,omitempty"`
	TraceID     string         `json:"trace_id,omitempty"`
	JobID       string         `json:"job_id,omitempty"`
	Transport   string         `json:"transport,omitempty"`
	RequestType string         `json:"request_type,omitempty"`
	URL         string         `json:"url,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`

	zl *zap.Logger
}

// Logger provides structured logging with trace correlation
type Logger struct {
	service string
	zl      *zap.Logger
}

// New creates a new structured logger for the given service writing JSON to stdout
func New(service string) *Logger {
	return NewWithCore(service, newJSONCore())
}

// NewWithCore creates a logger on top of an existing zap core (tests use an observer core)
func NewWithCore(service string, core zapcore.Core) *Logger {
	return &Logger{
		service: service,
		zl:      zap.New(core),
	}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{zl: zap.NewNop()}
}

func newJSONCore() zapcore.Core {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.MessageKey = "msg"
	encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	return zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.Lock(os.Stdout),
		zap.DebugLevel,
	)
}

// Sync flushes any buffered output
func (l *Logger) Sync() {
	_ = l.zl.Sync()
}

func (l *Logger) entry(fields map[string]any) *LogEntry {
	return &LogEntry{
		Time:    time.Now().UTC(),
		Service: l.service,
		Fields:  fields,
		zl:      l.zl,
	}
}

// WithContext creates a log entry with trace correlation from context
func (l *Logger) WithContext(ctx context.Context) *LogEntry {
	entry := l.entry(make(map[string]any))
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		entry.TraceID = traceID
	}
	return entry
}

// WithFields creates a log entry with arbitrary key-value pairs
func (l *Logger) WithFields(fields map[string]any) *LogEntry {
	return l.entry(fields)
}

// Plain creates a basic log entry without context
func (l *Logger) Plain() *LogEntry {
	return l.entry(make(map[string]any))
}

// WithTraceID sets the trace ID for the log entry
func (e *LogEntry) WithTraceID(traceID string) *LogEntry {
	e.TraceID = traceID
	return e
}

// WithJob sets the delivery job ID for the log entry
func (e *LogEntry) WithJob(jobID string) *LogEntry {
	e.JobID = jobID
	return e
}

// WithTransport sets the metrics transport name
func (e *LogEntry) WithTransport(name string) *LogEntry {
	e.Transport = name
	return e
}

// WithRequestType sets the capture mechanism tag
func (e *LogEntry) WithRequestType(requestType string) *LogEntry {
	e.RequestType = requestType
	return e
}

// WithURL sets the URL the entry refers to
func (e *LogEntry) WithURL(url string) *LogEntry {
	e.URL = url
	return e
}

// WithField adds a single field to the log entry
func (e *LogEntry) WithField(key string, value any) *LogEntry {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// WithFields adds multiple fields to the log entry
func (e *LogEntry) WithFields(fields map[string]any) *LogEntry {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	for k, v := range fields {
		e.Fields[k] = v
	}
	return e
}

// WithError adds an error field to the log entry
func (e *LogEntry) WithError(err error) *LogEntry {
	if err != nil {
		if e.Fields == nil {
			e.Fields = make(map[string]any)
		}
		e.Fields["error"] = err.Error()
	}
	return e
}

func (e *LogEntry) Debug(message string) { e.log(LevelDebug, message) }

func (e *LogEntry) Debugf(format string, args ...any) {
	e.log(LevelDebug, fmt.Sprintf(format, args...))
}

func (e *LogEntry) Info(message string) { e.log(LevelInfo, message) }

func (e *LogEntry) Infof(format string, args ...any) {
	e.log(LevelInfo, fmt.Sprintf(format, args...))
}

func (e *LogEntry) Warn(message string) { e.log(LevelWarn, message) }

func (e *LogEntry) Warnf(format string, args ...any) {
	e.log(LevelWarn, fmt.Sprintf(format, args...))
}

func (e *LogEntry) Error(message string) { e.log(LevelError, message) }

func (e *LogEntry) Errorf(format string, args ...any) {
	e.log(LevelError, fmt.Sprintf(format, args...))
}

// Fatal logs at fatal level and exits
func (e *LogEntry) Fatal(message string) { e.log(LevelFatal, message) }

// Fatalf logs at fatal level with formatting and exits
func (e *LogEntry) Fatalf(format string, args ...any) {
	e.log(LevelFatal, fmt.Sprintf(format, args...))
}

func (e *LogEntry) log(level LogLevel, message string) {
	e.Level = level
	e.Message = message
	e.output()
}

// zapFields flattens the entry into zap fields in a stable order
func (e *LogEntry) zapFields() []zap.Field {
	fields := make([]zap.Field, 0, 6+len(e.Fields))
	addString := func(key, val string) {
		if val != "" {
			fields = append(fields, zap.String(key, val))
		}
	}
	addString("service", e.Service)
	addString("trace_id", e.TraceID)
	addString("job_id", e.JobID)
	addString("transport", e.Transport)
	addString("request_type", e.RequestType)
	addString("url", e.URL)

	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		nested := make([]zap.Field, 0, len(keys))
		for _, k := range keys {
			nested = append(nested, zap.Any(k, e.Fields[k]))
		}
		fields = append(fields, zap.Dict("fields", nested...))
	}
	return fields
}

func (e *LogEntry) output() {
	zl := e.zl
	if zl == nil {
		zl = defaultLogger.zl
	}
	fields := e.zapFields()

	switch e.Level {
	case LevelDebug:
		zl.Debug(e.Message, fields...)
	case LevelWarn:
		zl.Warn(e.Message, fields...)
	case LevelError:
		zl.Error(e.Message, fields...)
	case LevelFatal:
		zl.Fatal(e.Message, fields...)
	default:
		zl.Info(e.Message, fields...)
	}
}

// Global convenience functions

var defaultLogger = New("outboundiq")

// WithContext creates a log entry with trace correlation from context using the default logger
func WithContext(ctx context.Context) *LogEntry {
	return defaultLogger.WithContext(ctx)
}

// WithFields creates a log entry with fields using the default logger
func WithFields(fields map[string]any) *LogEntry {
	return defaultLogger.WithFields(fields)
}

// Plain creates a basic log entry using the default logger
func Plain() *LogEntry {
	return defaultLogger.Plain()
}

// SetDefaultService sets the service name for the default logger
func SetDefaultService(service string) {
	defaultLogger.service = service
}
