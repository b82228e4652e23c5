package interceptor

import (
	"bytes"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/austindbirch/outboundiq/internal/tracking"
)

const (
	defaultCaptureLimit = 64 << 10 // 64KB per body
	redacted            = "[REDACTED]"
)

var defaultRedactedHeaders = []string{"Authorization", "Proxy-Authorization", "Cookie", "Set-Cookie"}

type pendingCall struct {
	start time.Time
	user  tracking.UserContext
}

// Tracker turns observer callbacks into tracking.Call records. Per-call state
// lives in a map keyed by a generated token and is removed on completion and
// on failure, so a long-lived process does not accumulate entries.
type Tracker struct {
	sink        Sink
	requestType tracking.RequestType
	now         func() time.Time

	captureLimit    int64
	bufferResponses bool
	redact          []string

	mu      sync.Mutex
	pending map[Token]pendingCall
}

type TrackerOption func(*Tracker)

// WithRequestType overrides the capture tag (defaults to "http").
func WithRequestType(rt tracking.RequestType) TrackerOption {
	return func(t *Tracker) { t.requestType = rt }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// WithCaptureLimit bounds how many bytes of each body are recorded.
func WithCaptureLimit(n int64) TrackerOption {
	return func(t *Tracker) {
		if n > 0 {
			t.captureLimit = n
		}
	}
}

// WithResponseBuffering captures non-seekable response bodies by reading up
// to the capture limit ahead of the caller and handing the caller an
// equivalent reader.
func WithResponseBuffering(enabled bool) TrackerOption {
	return func(t *Tracker) { t.bufferResponses = enabled }
}

// WithRedactedHeaders sets the header names whose values are masked.
func WithRedactedHeaders(names ...string) TrackerOption {
	return func(t *Tracker) { t.redact = names }
}

func NewTracker(sink Sink, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		sink:         sink,
		requestType:  tracking.RequestHTTP,
		now:          time.Now,
		captureLimit: defaultCaptureLimit,
		redact:       defaultRedactedHeaders,
		pending:      make(map[Token]pendingCall),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnSending records the start time and the caller's user context.
func (t *Tracker) OnSending(req *http.Request) Token {
	token := Token(uuid.NewString())
	p := pendingCall{start: t.now(), user: tracking.CaptureUserContext(req.Context())}

	t.mu.Lock()
	t.pending[token] = p
	t.mu.Unlock()
	return token
}

func (t *Tracker) OnCompleted(token Token, req *http.Request, resp *http.Response) {
	p := t.release(token, req)
	call := t.baseCall(p, req)
	if resp != nil {
		call.StatusCode = resp.StatusCode
		call.ResponseHeaders = t.headers(resp.Header)
		call.ResponseBody = t.captureResponse(resp)
	}
	t.sink.TrackAPICall(call)
}

func (t *Tracker) OnFailed(token Token, req *http.Request, resp *http.Response, err error) {
	p := t.release(token, req)
	call := t.baseCall(p, req)

	call.ErrorType, call.StatusCode = tracking.ClassifyError(err, resp)
	if err != nil {
		call.ErrorMessage = err.Error()
	} else if resp != nil {
		call.ErrorMessage = resp.Status
	}
	if resp != nil {
		call.ResponseHeaders = t.headers(resp.Header)
		call.ResponseBody = t.captureResponse(resp)
	}
	t.sink.TrackAPICall(call)
}

// Pending reports how many calls are between OnSending and completion.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// release removes the bookkeeping for token. A completion without a matching
// OnSending falls back to "now" and a freshly captured context.
func (t *Tracker) release(token Token, req *http.Request) pendingCall {
	t.mu.Lock()
	p, ok := t.pending[token]
	delete(t.pending, token)
	t.mu.Unlock()

	if !ok {
		p = pendingCall{start: t.now(), user: tracking.CaptureUserContext(req.Context())}
	}
	return p
}

func (t *Tracker) baseCall(p pendingCall, req *http.Request) tracking.Call {
	end := t.now()
	return tracking.Call{
		URL:             req.URL.String(),
		Method:          req.Method,
		DurationMS:      tracking.DurationSince(p.start, end),
		RequestHeaders:  t.headers(req.Header),
		RequestBody:     t.captureRequest(req),
		ResponseHeaders: http.Header{},
		RequestType:     t.requestType,
		UserContext:     p.user,
		Timestamp:       p.start.UTC(),
	}
}

func (t *Tracker) headers(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		return http.Header{}
	}
	for _, name := range t.redact {
		if _, ok := out[http.CanonicalHeaderKey(name)]; ok {
			out.Set(name, redacted)
		}
	}
	return out
}

// captureRequest re-reads the body through GetBody when the request is
// replayable, or through Seek when the body supports it.
func (t *Tracker) captureRequest(req *http.Request) *string {
	if req.Body == nil || req.Body == http.NoBody {
		return tracking.StringPtr("", true)
	}
	if req.GetBody != nil {
		rc, err := req.GetBody()
		if err != nil {
			return nil
		}
		defer rc.Close()
		data, err := io.ReadAll(io.LimitReader(rc, t.captureLimit))
		if err != nil {
			return nil
		}
		return tracking.StringPtr(string(data), true)
	}
	s, ok := readSeekable(req.Body, t.captureLimit)
	return tracking.StringPtr(s, ok)
}

func (t *Tracker) captureResponse(resp *http.Response) *string {
	if resp.Body == nil || resp.Body == http.NoBody {
		return tracking.StringPtr("", true)
	}
	if s, ok := readSeekable(resp.Body, t.captureLimit); ok {
		return tracking.StringPtr(s, true)
	}
	if !t.bufferResponses {
		return nil
	}

	prefix, err := io.ReadAll(io.LimitReader(resp.Body, t.captureLimit))
	resp.Body = &replayBody{Reader: io.MultiReader(bytes.NewReader(prefix), resp.Body), closer: resp.Body}
	if err != nil {
		return nil
	}
	return tracking.StringPtr(string(prefix), true)
}

// readSeekable reads from the start of a seekable stream and restores the
// original position, leaving the stream as the caller had it.
func readSeekable(body io.Reader, limit int64) (string, bool) {
	s, ok := body.(io.ReadSeeker)
	if !ok {
		return "", false
	}
	pos, err := s.Seek(0, io.SeekCurrent)
	if err != nil {
		return "", false
	}
	if _, err := s.Seek(0, io.SeekStart); err != nil {
		return "", false
	}
	data, readErr := io.ReadAll(io.LimitReader(s, limit))
	if _, err := s.Seek(pos, io.SeekStart); err != nil {
		return "", false
	}
	if readErr != nil {
		return "", false
	}
	return string(data), true
}

type replayBody struct {
	io.Reader
	closer io.Closer
}

func (b *replayBody) Close() error { return b.closer.Close() }
