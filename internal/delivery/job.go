package delivery

import (
	"time"

	"github.com/google/uuid"

	"github.com/austindbirch/outboundiq/internal/config"
	"github.com/austindbirch/outboundiq/internal/tracking"
)

// Job is one flushed batch on its way to the collector. It carries
// everything the worker needs, so the worker never reads agent config.
type Job struct {
	ID           string            `json:"id"`
	Metrics      []tracking.Call   `json:"metrics"`
	Endpoint     string            `json:"endpoint"`
	APIKey       string            `json:"api_key"`
	Version      string            `json:"version"`
	Timeout      int               `json:"timeout"`                 // seconds
	EnqueuedAt   string            `json:"enqueued_at"`             // RFC3339
	TraceHeaders map[string]string `json:"trace_headers,omitempty"` // OTel trace propagation headers
}

func NewJob(metrics []tracking.Call, agent config.Agent, traceHeaders map[string]string) Job {
	// Whole seconds on the wire, rounded up.
	timeout := int((agent.Timeout + time.Second - 1) / time.Second)
	if timeout <= 0 {
		timeout = 10
	}
	return Job{
		ID:           uuid.NewString(),
		Metrics:      metrics,
		Endpoint:     agent.URL,
		APIKey:       agent.APIKey,
		Version:      agent.Version,
		Timeout:      timeout,
		EnqueuedAt:   time.Now().UTC().Format(time.RFC3339),
		TraceHeaders: traceHeaders,
	}
}

func (j Job) timeout() time.Duration {
	if j.Timeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(j.Timeout) * time.Second
}
