package interceptor

import (
	"net/http"

	"github.com/austindbirch/outboundiq/internal/tracking"
)

// Token identifies one in-flight call between OnSending and its completion.
type Token string

// Observer is notified around every outbound call. Exactly one of
// OnCompleted or OnFailed follows each OnSending.
type Observer interface {
	OnSending(req *http.Request) Token
	OnCompleted(token Token, req *http.Request, resp *http.Response)
	// OnFailed receives resp when the server answered with an error status,
	// and nil when no response was received.
	OnFailed(token Token, req *http.Request, resp *http.Response, err error)
}

// Sink is the buffer ingress that receives finished records.
type Sink interface {
	TrackAPICall(call tracking.Call)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(call tracking.Call)

func (f SinkFunc) TrackAPICall(call tracking.Call) { f(call) }
