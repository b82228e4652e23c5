package tracking

import (
	"net/http"
	"time"
)

// RequestType tags the mechanism that captured a call.
type RequestType string

const (
	RequestManual RequestType = "manual"
	RequestHTTP   RequestType = "http"
	RequestGuzzle RequestType = "guzzle"
	RequestCurl   RequestType = "curl"
	RequestStream RequestType = "stream"
)

// Valid reports whether t is one of the known capture tags.
func (t RequestType) Valid() bool {
	switch t {
	case RequestManual, RequestHTTP, RequestGuzzle, RequestCurl, RequestStream:
		return true
	}
	return false
}

// ErrorType classifies a failed call.
type ErrorType string

const (
	ErrorConnection ErrorType = "connection_error"
	ErrorTimeout    ErrorType = "timeout"
	ErrorDNS        ErrorType = "dns_error"
	ErrorHTTP       ErrorType = "http_error"
	ErrorUnknown    ErrorType = "unknown_error"
)

// Call is one observed outbound HTTP interaction. It is built once the call
// has completed or failed and is not modified afterwards.
type Call struct {
	URL             string      `json:"url"`
	Method          string      `json:"method"`
	DurationMS      float64     `json:"duration_ms"`
	StatusCode      int         `json:"status_code"`
	RequestHeaders  http.Header `json:"request_headers"`
	RequestBody     *string     `json:"request_body"`
	ResponseHeaders http.Header `json:"response_headers"`
	ResponseBody    *string     `json:"response_body"`
	RequestType     RequestType `json:"request_type"`
	UserContext     UserContext `json:"user_context"`
	ErrorMessage    string      `json:"error_message,omitempty"`
	ErrorType       ErrorType   `json:"error_type,omitempty"`
	Timestamp       time.Time   `json:"timestamp"`
}

// Failed reports whether the call carries an error classification.
func (c Call) Failed() bool {
	return c.ErrorType != ""
}

// Normalize fills defaults so every record leaving the agent is well formed.
func (c Call) Normalize(now time.Time) Call {
	if !c.RequestType.Valid() {
		c.RequestType = RequestManual
	}
	if c.DurationMS < 0 {
		c.DurationMS = 0
	}
	if c.RequestHeaders == nil {
		c.RequestHeaders = http.Header{}
	}
	if c.ResponseHeaders == nil {
		c.ResponseHeaders = http.Header{}
	}
	if c.UserContext.Context == "" {
		c.UserContext.Context = ContextAnonymous
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = now.UTC()
	}
	if c.ErrorMessage != "" && c.ErrorType == "" {
		c.ErrorType = ErrorUnknown
	}
	return c
}

// DurationSince converts the elapsed time between start and end to the
// millisecond float used on the wire, clamped at zero.
func DurationSince(start, end time.Time) float64 {
	ms := float64(end.Sub(start)) / float64(time.Millisecond)
	if ms < 0 {
		return 0
	}
	return ms
}

// StringPtr returns nil for empty captures so "not captured" stays null.
func StringPtr(s string, captured bool) *string {
	if !captured {
		return nil
	}
	return &s
}
