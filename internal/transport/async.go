package transport

import (
	"context"
	"sync"
	"time"

	"github.com/austindbirch/outboundiq/internal/config"
	"github.com/austindbirch/outboundiq/internal/logging"
	"github.com/austindbirch/outboundiq/internal/metrics"
	"github.com/austindbirch/outboundiq/internal/tracking"
)

const (
	defaultAsyncQueueSize = 64
	asyncSendTimeout      = 30 * time.Second
)

// Async hands batches to a background goroutine that sends them through
// inner. Send never blocks; a full queue drops the batch.
type Async struct {
	inner  Sender
	logger *logging.Logger

	mu     sync.RWMutex
	queue  chan []tracking.Call
	closed bool
	wg     sync.WaitGroup
}

func NewAsync(inner Sender, queueSize int, logger *logging.Logger) *Async {
	if queueSize <= 0 {
		queueSize = defaultAsyncQueueSize
	}
	if logger == nil {
		logger = logging.New("outboundiq")
	}
	a := &Async{
		inner:  inner,
		logger: logger,
		queue:  make(chan []tracking.Call, queueSize),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Async) Name() string { return config.TransportAsync }

func (a *Async) Send(_ context.Context, calls []tracking.Call) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		metrics.RecordDrop(a.Name(), "closed")
		return ErrClosed
	}
	select {
	case a.queue <- calls:
		return nil
	default:
		metrics.RecordDrop(a.Name(), "queue_full")
		return ErrQueueFull
	}
}

// Close stops accepting batches and waits for queued ones to be sent, or
// for ctx to end.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Async) run() {
	defer a.wg.Done()
	for batch := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), asyncSendTimeout)
		if err := a.inner.Send(ctx, batch); err != nil {
			metrics.RecordDrop(a.Name(), "delivery_failed")
			a.logger.Plain().WithTransport(a.Name()).WithError(err).
				WithField("batch_size", len(batch)).Warn("async metrics batch dropped")
		}
		cancel()
	}
}
