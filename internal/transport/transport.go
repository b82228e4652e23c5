// Package transport implements the ways a flushed batch leaves the process:
// direct POST (sync), a background sender (async), an NSQ topic (queue) and
// a local JSON-lines file.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/nsqio/go-nsq"

	"github.com/austindbirch/outboundiq/internal/config"
	"github.com/austindbirch/outboundiq/internal/delivery"
	"github.com/austindbirch/outboundiq/internal/logging"
	"github.com/austindbirch/outboundiq/internal/tracking"
)

var (
	ErrQueueFull = errors.New("transport queue full")
	ErrClosed    = errors.New("transport closed")
)

// Sender matches buffer.Sender.
type Sender interface {
	Name() string
	Send(ctx context.Context, calls []tracking.Call) error
}

// Deps are the collaborators New wires into the selected transport. Zero
// values are replaced with production defaults.
type Deps struct {
	Deliverer delivery.Deliverer
	Publisher delivery.Publisher
	Logger    *logging.Logger
}

// New returns the transport named by agent.Transport.
func New(cfg config.Config, deps Deps) (Sender, error) {
	agent := cfg.Agent
	if deps.Logger == nil {
		deps.Logger = logging.New("outboundiq")
	}
	if deps.Deliverer == nil {
		deps.Deliverer = delivery.NewSender(agent.ConnectTimeout)
	}

	switch agent.Transport {
	case config.TransportSync:
		return NewSync(agent, deps.Deliverer), nil
	case config.TransportAsync, "":
		return NewAsync(NewSync(agent, deps.Deliverer), agent.AsyncQueueSize, deps.Logger), nil
	case config.TransportQueue:
		owned := false
		if deps.Publisher == nil {
			p, err := nsq.NewProducer(cfg.NSQ.NsqdTCPAddr, nsq.NewConfig())
			if err != nil {
				return nil, fmt.Errorf("create nsq producer: %w", err)
			}
			p.SetLogger(nsqLogger{deps.Logger}, nsq.LogLevelWarning)
			deps.Publisher = p
			owned = true
		}
		q := NewQueue(agent, deps.Publisher)
		q.ownsPublisher = owned
		return q, nil
	case config.TransportFile:
		return NewFile(agent.FilePath), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownTransport, agent.Transport)
	}
}
