// Package buffer accumulates tracked calls in memory and hands them to a
// transport in batches.
package buffer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/austindbirch/outboundiq/internal/logging"
	"github.com/austindbirch/outboundiq/internal/metrics"
	"github.com/austindbirch/outboundiq/internal/tracking"
)

const (
	defaultMaxItems      = 100
	defaultFlushInterval = 5 * time.Second
)

// ErrClosed is returned by Flush after Close.
var ErrClosed = errors.New("buffer closed")

// Sender delivers one batch. Implementations live in internal/transport.
type Sender interface {
	Name() string
	Send(ctx context.Context, calls []tracking.Call) error
}

type closer interface {
	Close(ctx context.Context) error
}

type Config struct {
	MaxItems      int
	FlushInterval time.Duration
	Logger        *logging.Logger
	Now           func() time.Time
}

func (c Config) withDefaults() Config {
	if c.MaxItems <= 0 {
		c.MaxItems = defaultMaxItems
	}
	if c.FlushInterval < 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.Logger == nil {
		c.Logger = logging.New("outboundiq")
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

type Option func(*Config)

// WithMaxItems sets the batch size that forces a flush.
func WithMaxItems(n int) Option {
	return func(c *Config) { c.MaxItems = n }
}

// WithFlushInterval sets the periodic flush. Zero disables the ticker.
func WithFlushInterval(d time.Duration) Option {
	return func(c *Config) { c.FlushInterval = d }
}

func WithLogger(l *logging.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(c *Config) { c.Now = now }
}

// Buffer is the only owner of the pending batch. A batch is swapped out under
// the lock and sent outside it, so TrackAPICall never waits on the network
// unless the size threshold is hit with a blocking transport.
type Buffer struct {
	sender Sender
	cfg    Config

	mu      sync.Mutex
	pending []tracking.Call
	closed  bool

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func New(sender Sender, opts ...Option) *Buffer {
	cfg := Config{FlushInterval: defaultFlushInterval}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	b := &Buffer{
		sender: sender,
		cfg:    cfg,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if cfg.FlushInterval > 0 {
		go b.loop()
	} else {
		close(b.done)
	}
	return b
}

// TrackAPICall normalizes call and appends it to the pending batch. Calls
// arriving after Close are dropped.
func (b *Buffer) TrackAPICall(call tracking.Call) {
	call = call.Normalize(b.cfg.Now())
	metrics.RecordCallTracked(string(call.RequestType), string(call.ErrorType))

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		metrics.RecordDrop(b.sender.Name(), "closed")
		return
	}
	b.pending = append(b.pending, call)
	var batch []tracking.Call
	if len(b.pending) >= b.cfg.MaxItems {
		batch = b.pending
		b.pending = nil
	}
	n := len(b.pending)
	b.mu.Unlock()

	metrics.SetBuffered(n)
	if batch != nil {
		_ = b.send(context.Background(), batch)
	}
}

// Len reports the number of calls waiting for the next flush.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Flush sends whatever is pending. An empty buffer is a no-op.
func (b *Buffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	batch := b.take()
	b.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return b.send(ctx, batch)
}

// Close stops the ticker, performs a final best-effort flush and closes the
// sender if it holds resources.
func (b *Buffer) Close(ctx context.Context) error {
	var err error
	b.closeOnce.Do(func() {
		close(b.stop)
		select {
		case <-b.done:
		case <-ctx.Done():
		}

		b.mu.Lock()
		b.closed = true
		batch := b.take()
		b.mu.Unlock()

		if len(batch) > 0 {
			err = b.send(ctx, batch)
		}
		if c, ok := b.sender.(closer); ok {
			if cerr := c.Close(ctx); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}

// take must be called with mu held.
func (b *Buffer) take() []tracking.Call {
	batch := b.pending
	b.pending = nil
	metrics.SetBuffered(0)
	return batch
}

func (b *Buffer) send(ctx context.Context, batch []tracking.Call) error {
	name := b.sender.Name()
	if err := b.sender.Send(ctx, batch); err != nil {
		metrics.RecordFlush(name, "failed")
		b.cfg.Logger.WithContext(ctx).WithTransport(name).WithError(err).
			WithField("batch_size", len(batch)).Warn("metrics batch not sent")
		return err
	}
	metrics.RecordFlush(name, "ok")
	return nil
}

func (b *Buffer) loop() {
	defer close(b.done)
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = b.Flush(context.Background())
		case <-b.stop:
			return
		}
	}
}
