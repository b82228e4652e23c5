package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/austindbirch/outboundiq/internal/config"
	"github.com/austindbirch/outboundiq/internal/delivery"
	"github.com/austindbirch/outboundiq/internal/logging"
	"github.com/austindbirch/outboundiq/internal/tracing"
	"github.com/austindbirch/outboundiq/internal/tracking"
)

// Queue publishes one delivery.Job per batch to an NSQ topic. The worker
// process performs the POST.
type Queue struct {
	agent         config.Agent
	publisher     delivery.Publisher
	topic         string
	ownsPublisher bool
}

func NewQueue(agent config.Agent, p delivery.Publisher) *Queue {
	topic := agent.Queue
	if topic == "" {
		topic = config.DefaultTopic
	}
	return &Queue{agent: agent, publisher: p, topic: topic}
}

func (q *Queue) Name() string { return config.TransportQueue }

func (q *Queue) Topic() string { return q.topic }

func (q *Queue) Send(ctx context.Context, calls []tracking.Call) error {
	ctx, span := tracing.StartSpan(ctx, "agent.enqueue_metrics")
	defer span.End()

	job := delivery.NewJob(calls, q.agent, tracing.InjectHeaders(ctx))
	span.SetAttributes(tracing.BatchAttributes(job.ID, len(calls), 0)...)
	body, err := json.Marshal(job)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return fmt.Errorf("%w: %v", delivery.ErrEncode, err)
	}
	if err := q.publisher.Publish(q.topic, body); err != nil {
		tracing.SetSpanError(ctx, err)
		return fmt.Errorf("publish to %s: %w", q.topic, err)
	}
	tracing.AddSpanEvent(ctx, "nsq.published", tracing.AttrTopic.String(q.topic))
	return nil
}

// Close stops the producer when New created it.
func (q *Queue) Close(context.Context) error {
	if s, ok := q.publisher.(interface{ Stop() }); ok && q.ownsPublisher {
		s.Stop()
	}
	return nil
}

// nsqLogger routes go-nsq's internal log lines through the agent logger.
type nsqLogger struct {
	l *logging.Logger
}

func (n nsqLogger) Output(_ int, s string) error {
	n.l.Plain().WithTransport(config.TransportQueue).WithField("component", "nsq").Warn(strings.TrimSpace(s))
	return nil
}
