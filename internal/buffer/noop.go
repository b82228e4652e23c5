package buffer

import (
	"context"

	"github.com/austindbirch/outboundiq/internal/tracking"
)

// Noop discards everything. Used when the agent is disabled or misconfigured.
type Noop struct{}

func (Noop) TrackAPICall(tracking.Call)  {}
func (Noop) Len() int                    { return 0 }
func (Noop) Flush(context.Context) error { return nil }
func (Noop) Close(context.Context) error { return nil }
