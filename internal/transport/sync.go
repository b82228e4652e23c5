package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aponysus/recourse/classify"
	"github.com/aponysus/recourse/policy"
	"github.com/aponysus/recourse/retry"

	"github.com/austindbirch/outboundiq/internal/config"
	"github.com/austindbirch/outboundiq/internal/delivery"
	"github.com/austindbirch/outboundiq/internal/tracing"
	"github.com/austindbirch/outboundiq/internal/tracking"
)

const (
	deliverPolicy = "outboundiq.deliver"

	// recourse clamps policies to this many attempts.
	maxSyncAttempts = 10
)

// Sync POSTs the batch in the caller's goroutine. Attempts share one
// deadline of agent.Timeout, so a dead collector never holds the caller
// longer than that.
type Sync struct {
	agent     config.Agent
	deliverer delivery.Deliverer
	attempts  int
	exec      *retry.Executor
	key       policy.PolicyKey
}

func NewSync(agent config.Agent, d delivery.Deliverer) *Sync {
	attempts := agent.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	if attempts > maxSyncAttempts {
		attempts = maxSyncAttempts
	}
	deadline := agent.Timeout
	if deadline <= 0 {
		deadline = 10 * time.Second
	}

	exec := retry.NewExecutor(
		retry.WithPolicy(deliverPolicy, func(p *policy.EffectivePolicy) {
			p.Retry.MaxAttempts = attempts
			p.Retry.InitialBackoff = agent.RetryBackoff
			p.Retry.MaxBackoff = agent.RetryBackoff
			p.Retry.BackoffMultiplier = 1
			p.Retry.Jitter = policy.JitterNone
			p.Retry.OverallTimeout = deadline
		}),
		retry.WithDefaultClassifier(deliveryClassifier{}),
	)
	return &Sync{
		agent:     agent,
		deliverer: d,
		attempts:  attempts,
		exec:      exec,
		key:       policy.ParseKey(deliverPolicy),
	}
}

func (s *Sync) Name() string { return config.TransportSync }

func (s *Sync) Send(ctx context.Context, calls []tracking.Call) error {
	job := delivery.NewJob(calls, s.agent, tracing.InjectHeaders(ctx))

	err := s.exec.Do(ctx, s.key, func(ctx context.Context) error {
		return s.deliverer.Deliver(ctx, job)
	})
	if err != nil {
		if errors.Is(err, delivery.ErrEncode) {
			return err
		}
		return fmt.Errorf("deliver batch %s (max %d attempts): %w", job.ID, s.attempts, err)
	}
	return nil
}

// deliveryClassifier retries every failure except a batch that cannot be
// encoded, which would fail the same way again.
type deliveryClassifier struct{}

func (deliveryClassifier) Classify(_ any, err error) classify.Outcome {
	switch {
	case err == nil:
		return classify.Outcome{Kind: classify.OutcomeSuccess}
	case errors.Is(err, delivery.ErrEncode):
		return classify.Outcome{Kind: classify.OutcomeNonRetryable, Reason: "encode"}
	case errors.Is(err, context.Canceled):
		return classify.Outcome{Kind: classify.OutcomeAbort, Reason: "canceled"}
	default:
		return classify.Outcome{Kind: classify.OutcomeRetryable, Reason: "delivery"}
	}
}
