package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/nsqio/go-nsq"
	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/outboundiq/internal/logging"
	"github.com/austindbirch/outboundiq/internal/metrics"
	"github.com/austindbirch/outboundiq/internal/tracing"
)

// Publisher is satisfied by *nsq.Producer.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// DeadLetterStore persists exhausted batches.
type DeadLetterStore interface {
	SaveDeadLetter(ctx context.Context, dl DeadLetter) error
}

type RetryPolicy struct {
	MaxAttempts int
	Backoff     []time.Duration
	JitterPct   float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: []time.Duration{5 * time.Second}}
}

// Handler consumes Jobs from NSQ. It always responds to the message itself
// and never returns an error, so go-nsq never applies its own requeue.
type Handler struct {
	sender Deliverer
	policy RetryPolicy
	logger *logging.Logger

	dlqTopic     string
	dlqPublisher Publisher
	store        DeadLetterStore
}

type HandlerOption func(*Handler)

// WithDLQTopic publishes dead letters to topic through p.
func WithDLQTopic(topic string, p Publisher) HandlerOption {
	return func(h *Handler) {
		h.dlqTopic = topic
		h.dlqPublisher = p
	}
}

func WithDeadLetterStore(s DeadLetterStore) HandlerOption {
	return func(h *Handler) { h.store = s }
}

func WithLogger(l *logging.Logger) HandlerOption {
	return func(h *Handler) { h.logger = l }
}

func NewHandler(sender Deliverer, policy RetryPolicy, opts ...HandlerOption) *Handler {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	if len(policy.Backoff) == 0 {
		policy.Backoff = []time.Duration{5 * time.Second}
	}
	h := &Handler{
		sender: sender,
		policy: policy,
		logger: logging.New("outboundiq-worker"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleMessage implements nsq.Handler.
func (h *Handler) HandleMessage(m *nsq.Message) error {
	m.DisableAutoResponse() // we manually requeue or finish
	defer func() {
		if !m.HasResponded() {
			h.logger.Plain().Warn("message had no response, finishing")
			m.Finish()
		}
	}()

	var job Job
	if err := json.Unmarshal(m.Body, &job); err != nil {
		h.logger.Plain().WithError(err).Error("bad job payload")
		metrics.RecordDelivery("invalid", 0)
		m.Finish() // terminal: don't retry bad payloads
		return nil
	}

	ctx := tracing.ExtractHeaders(context.Background(), job.TraceHeaders)
	ctx, span := tracing.StartSpan(ctx, "worker.deliver_metrics",
		tracing.BatchAttributes(job.ID, len(job.Metrics), int(m.Attempts))...)
	defer span.End()

	start := time.Now()
	err := h.sender.Deliver(ctx, job)
	latency := time.Since(start)

	if err == nil {
		tracing.AddSpanEvent(ctx, "delivery.success")
		metrics.RecordDelivery("delivered", latency)
		h.logger.WithContext(ctx).WithJob(job.ID).WithFields(map[string]any{
			"batch_size": len(job.Metrics),
			"latency_ms": latency.Milliseconds(),
		}).Debug("metrics delivered")
		m.Finish()
		return nil
	}

	tracing.SetSpanError(ctx, err)
	if errors.Is(err, ErrEncode) {
		h.logger.WithContext(ctx).WithJob(job.ID).WithError(err).Error("batch cannot be encoded, dropping")
		metrics.RecordDelivery("invalid", latency)
		m.Finish()
		return nil
	}

	status := statusOf(err)
	reason := classifyReason(err, status)
	attempt := int(m.Attempts)
	span.SetAttributes(attribute.String("failure_reason", reason), attribute.Int("http.status_code", status))
	metrics.RecordRetry(reason)
	metrics.RecordDelivery("failed", latency)

	if attempt >= h.policy.MaxAttempts {
		h.deadLetter(ctx, job, attempt, status, err, reason)
		m.Finish() // drop from main topic
		return nil
	}

	delay := computeDelay(attempt, h.policy.Backoff, h.policy.JitterPct)
	tracing.AddSpanEvent(ctx, "delivery.requeue",
		tracing.AttrAttempt.Int(attempt),
		attribute.String("delay", delay.String()),
	)
	h.logger.WithContext(ctx).WithJob(job.ID).WithError(err).WithFields(map[string]any{
		"attempt": attempt,
		"delay":   delay.String(),
		"reason":  reason,
	}).Warn("requeue metrics batch")
	m.Requeue(delay)
	return nil
}

func (h *Handler) deadLetter(ctx context.Context, job Job, attempt, status int, cause error, reason string) {
	tracing.AddSpanEvent(ctx, "delivery.dlq", tracing.AttrAttempt.Int(attempt))
	dl := NewDeadLetter(job, attempt, status, cause.Error(), fmt.Sprintf("max attempts reached (%d)", attempt))

	h.logger.WithContext(ctx).WithJob(job.ID).WithError(cause).WithFields(map[string]any{
		"attempt":    attempt,
		"batch_size": len(job.Metrics),
		"reason":     reason,
	}).Error("metrics batch dead-lettered")
	metrics.RecordDLQ(reason)

	if h.store != nil {
		if err := h.store.SaveDeadLetter(ctx, dl); err != nil {
			h.logger.WithContext(ctx).WithJob(job.ID).WithError(err).Error("dead letter insert failed")
		}
	}
	if h.dlqPublisher != nil && h.dlqTopic != "" {
		b, err := json.Marshal(dl)
		if err != nil {
			h.logger.WithContext(ctx).WithJob(job.ID).WithError(err).Error("dead letter encode failed")
			return
		}
		if err := h.dlqPublisher.Publish(h.dlqTopic, b); err != nil {
			h.logger.WithContext(ctx).WithJob(job.ID).WithError(err).Error("dlq publish failed")
			return
		}
		tracing.AddSpanEvent(ctx, "nsq.published_dlq", tracing.AttrTopic.String(h.dlqTopic))
	}
}

func statusOf(err error) int {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.StatusCode
	}
	return 0
}

func computeDelay(attempt int, schedule []time.Duration, jitterPct float64) time.Duration {
	// attempt is 1-based; map to schedule index
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	base := schedule[idx]
	if jitterPct <= 0 {
		return base
	}
	// jitter: +/- jitterPct
	j := 1 + (rand.Float64()*2-1)*jitterPct
	if j < 0.1 {
		j = 0.1
	}
	return time.Duration(float64(base) * j)
}

func classifyReason(err error, status int) string {
	if status == 0 && err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "timeout"
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "timeout"
		}
		errLower := strings.ToLower(err.Error())
		if strings.Contains(errLower, "timeout") || strings.Contains(errLower, "timed out") {
			return "timeout"
		}
		if strings.Contains(errLower, "connection refused") {
			return "connection_refused"
		}
		if strings.Contains(errLower, "no such host") || strings.Contains(errLower, "dns") {
			return "dns_error"
		}
		return "network"
	}
	if status >= 500 {
		return "http_5xx"
	}
	if status == 429 {
		return "http_429"
	}
	if status >= 400 {
		return "http_4xx"
	}
	return "other"
}
