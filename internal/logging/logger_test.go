package logging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObserved(service string) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewWithCore(service, core), logs
}

func TestNew(t *testing.T) {
	logger := New("test-service")
	require.NotNil(t, logger)
	assert.Equal(t, "test-service", logger.service)
}

func TestLogger_WithContext(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(trace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)

	tests := []struct {
		name     string
		hasTrace bool
	}{
		{name: "with trace context", hasTrace: true},
		{name: "without trace context", hasTrace: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, _ := newObserved("svc")
			ctx := context.Background()
			if tt.hasTrace {
				newCtx, span := otel.Tracer("test-tracer").Start(ctx, "test-span")
				ctx = newCtx
				defer span.End()
			}

			before := time.Now().UTC()
			entry := logger.WithContext(ctx)
			after := time.Now().UTC()

			require.NotNil(t, entry)
			assert.Equal(t, "svc", entry.Service)
			assert.False(t, entry.Time.Before(before) || entry.Time.After(after))
			assert.NotNil(t, entry.Fields)
			if tt.hasTrace {
				assert.NotEmpty(t, entry.TraceID)
			} else {
				assert.Empty(t, entry.TraceID)
			}
		})
	}
}

func TestLogEntry_LevelsReachZap(t *testing.T) {
	tests := []struct {
		name  string
		log   func(e *LogEntry)
		level zapcore.Level
		msg   string
	}{
		{name: "debug", log: func(e *LogEntry) { e.Debug("d") }, level: zapcore.DebugLevel, msg: "d"},
		{name: "infof", log: func(e *LogEntry) { e.Infof("batch of %d", 3) }, level: zapcore.InfoLevel, msg: "batch of 3"},
		{name: "warn", log: func(e *LogEntry) { e.Warn("dropped") }, level: zapcore.WarnLevel, msg: "dropped"},
		{name: "errorf", log: func(e *LogEntry) { e.Errorf("failed %s", "x") }, level: zapcore.ErrorLevel, msg: "failed x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, logs := newObserved("svc")
			tt.log(logger.Plain())

			entries := logs.All()
			require.Len(t, entries, 1)
			assert.Equal(t, tt.level, entries[0].Level)
			assert.Equal(t, tt.msg, entries[0].Message)
		})
	}
}

func TestLogEntry_DomainFields(t *testing.T) {
	logger, logs := newObserved("outboundiq-worker")

	logger.Plain().
		WithJob("job-1").
		WithTransport("queue").
		WithRequestType("http").
		WithURL("https://api.example.com").
		WithField("attempt", 2).
		WithError(errors.New("boom")).
		Warn("requeue")

	entries := logs.All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "outboundiq-worker", ctx["service"])
	assert.Equal(t, "job-1", ctx["job_id"])
	assert.Equal(t, "queue", ctx["transport"])
	assert.Equal(t, "http", ctx["request_type"])
	assert.Equal(t, "https://api.example.com", ctx["url"])

	nested, ok := ctx["fields"].(map[string]any)
	require.True(t, ok, "fields should be a nested object, got %T", ctx["fields"])
	assert.EqualValues(t, 2, nested["attempt"])
	assert.Equal(t, "boom", nested["error"])
}

func TestLogEntry_EmptyFieldsOmitted(t *testing.T) {
	logger, logs := newObserved("")
	logger.Plain().Info("hello")

	entries := logs.All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	_, hasFields := ctx["fields"]
	assert.False(t, hasFields)
	_, hasService := ctx["service"]
	assert.False(t, hasService)
}

func TestLogEntry_WithErrorNil(t *testing.T) {
	entry := Nop().Plain().WithError(nil)
	assert.Empty(t, entry.Fields)
}

func TestLogEntry_WithFieldsMerges(t *testing.T) {
	entry := Nop().WithFields(nil).WithFields(map[string]any{"a": 1}).WithField("b", 2)
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, entry.Fields)
}

func TestSetDefaultService(t *testing.T) {
	orig := defaultLogger.service
	defer SetDefaultService(orig)

	SetDefaultService("custom")
	assert.Equal(t, "custom", Plain().Service)
	assert.Equal(t, "custom", WithFields(map[string]any{}).Service)
	assert.Equal(t, "custom", WithContext(context.Background()).Service)
}
