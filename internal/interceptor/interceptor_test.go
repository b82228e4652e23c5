package interceptor

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/austindbirch/outboundiq/internal/tracking"
)

type recordingSink struct {
	mu    sync.Mutex
	calls []tracking.Call
}

func (s *recordingSink) TrackAPICall(c tracking.Call) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
}

func (s *recordingSink) all() []tracking.Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]tracking.Call(nil), s.calls...)
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

type seekCloser struct {
	*bytes.Reader
}

func (seekCloser) Close() error { return nil }

// steppingClock advances by step on every call.
func steppingClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := cur
		cur = cur.Add(step)
		return t
	}
}

func TestTransportRecordsCompletedCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	sink := &recordingSink{}
	tracker := NewTracker(sink)
	client := &http.Client{Transport: NewTransport(nil, tracker)}

	resp, err := client.Post(srv.URL+"/charges", "application/json", strings.NewReader(`{"amount":100}`))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, `{"ok":true}`, string(body))

	calls := sink.all()
	require.Len(t, calls, 1)
	c := calls[0]
	assert.Equal(t, srv.URL+"/charges", c.URL)
	assert.Equal(t, http.MethodPost, c.Method)
	assert.Equal(t, http.StatusCreated, c.StatusCode)
	assert.GreaterOrEqual(t, c.DurationMS, 0.0)
	assert.Equal(t, tracking.RequestHTTP, c.RequestType)
	require.NotNil(t, c.RequestBody)
	assert.Equal(t, `{"amount":100}`, *c.RequestBody)
	assert.Empty(t, c.ErrorType)
	assert.Equal(t, tracking.ContextAnonymous, c.UserContext.Context)
	assert.Zero(t, tracker.Pending())
}

func TestTrackerDurationFromClock(t *testing.T) {
	sink := &recordingSink{}
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tracker := NewTracker(sink, WithClock(steppingClock(start, 250*time.Millisecond)))

	req := httptest.NewRequest(http.MethodGet, "https://api.example.com/v1/users", nil)
	token := tracker.OnSending(req)
	tracker.OnCompleted(token, req, &http.Response{StatusCode: 200, Header: http.Header{}})

	calls := sink.all()
	require.Len(t, calls, 1)
	assert.InDelta(t, 250.0, calls[0].DurationMS, 0.001)
	assert.Equal(t, start, calls[0].Timestamp)
}

func TestTrackerCompletedWithoutStart(t *testing.T) {
	sink := &recordingSink{}
	tracker := NewTracker(sink, WithClock(func() time.Time { return time.Unix(100, 0) }))

	req := httptest.NewRequest(http.MethodGet, "https://api.example.com/ping", nil)
	req = req.WithContext(tracking.WithExecution(req.Context(), tracking.ContextJob))
	tracker.OnCompleted(Token("never-started"), req, &http.Response{StatusCode: 204})

	calls := sink.all()
	require.Len(t, calls, 1)
	assert.Zero(t, calls[0].DurationMS)
	assert.Equal(t, tracking.ContextJob, calls[0].UserContext.Context)
	assert.Equal(t, 204, calls[0].StatusCode)
}

func TestTransportHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	tests := []struct {
		name       string
		httpErrors bool
		wantType   tracking.ErrorType
	}{
		{name: "status errors reported", httpErrors: true, wantType: tracking.ErrorHTTP},
		{name: "status errors are completed calls", httpErrors: false, wantType: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			rt := &Transport{Observer: NewTracker(sink), HTTPErrors: tt.httpErrors}
			client := &http.Client{Transport: rt}

			resp, err := client.Get(srv.URL)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

			calls := sink.all()
			require.Len(t, calls, 1)
			assert.Equal(t, tt.wantType, calls[0].ErrorType)
			assert.Equal(t, http.StatusInternalServerError, calls[0].StatusCode)
		})
	}
}

func TestTransportConnectionFailure(t *testing.T) {
	sink := &recordingSink{}
	tracker := NewTracker(sink)
	base := roundTripperFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("cURL error 28: Operation timed out after 5000 milliseconds")
	})
	client := &http.Client{Transport: NewTransport(base, tracker)}

	_, err := client.Get("https://slow.example.com/")
	require.Error(t, err)

	calls := sink.all()
	require.Len(t, calls, 1)
	assert.Equal(t, tracking.ErrorTimeout, calls[0].ErrorType)
	assert.Zero(t, calls[0].StatusCode)
	assert.Contains(t, calls[0].ErrorMessage, "timed out")
	assert.Zero(t, tracker.Pending())
}

func TestTransportRealConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	sink := &recordingSink{}
	client := &http.Client{Transport: NewTransport(nil, NewTracker(sink))}
	_, err := client.Get(addr)
	require.Error(t, err)

	calls := sink.all()
	require.Len(t, calls, 1)
	assert.Equal(t, tracking.ErrorConnection, calls[0].ErrorType)
}

func TestResponseBodyPositionRestored(t *testing.T) {
	payload := []byte(`{"id":"ch_123","status":"paid"}`)
	reader := bytes.NewReader(payload)
	_, _ = reader.Seek(4, io.SeekStart)

	sink := &recordingSink{}
	base := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: 200, Header: http.Header{}, Body: seekCloser{reader}, Request: r}, nil
	})
	client := &http.Client{Transport: NewTransport(base, NewTracker(sink))}

	resp, err := client.Get("https://api.example.com/charges/ch_123")
	require.NoError(t, err)
	defer resp.Body.Close()

	pos, err := reader.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(4), pos)

	calls := sink.all()
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0].ResponseBody)
	assert.Equal(t, string(payload), *calls[0].ResponseBody)
}

func TestResponseBodyBuffering(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	t.Run("not captured by default", func(t *testing.T) {
		sink := &recordingSink{}
		client := &http.Client{Transport: NewTransport(nil, NewTracker(sink))}
		resp, err := client.Get(srv.URL)
		require.NoError(t, err)
		resp.Body.Close()

		calls := sink.all()
		require.Len(t, calls, 1)
		assert.Nil(t, calls[0].ResponseBody)
	})

	t.Run("buffered prefix leaves caller body intact", func(t *testing.T) {
		sink := &recordingSink{}
		tracker := NewTracker(sink, WithResponseBuffering(true), WithCaptureLimit(4))
		client := &http.Client{Transport: NewTransport(nil, tracker)}
		resp, err := client.Get(srv.URL)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, "0123456789", string(body))

		calls := sink.all()
		require.Len(t, calls, 1)
		require.NotNil(t, calls[0].ResponseBody)
		assert.Equal(t, "0123", *calls[0].ResponseBody)
	})
}

func TestHeadersRedacted(t *testing.T) {
	sink := &recordingSink{}
	tracker := NewTracker(sink)

	req := httptest.NewRequest(http.MethodGet, "https://api.example.com/", nil)
	req.Header.Set("Authorization", "Bearer sk_live_abc")
	req.Header.Set("X-Request-Id", "r-1")
	token := tracker.OnSending(req)
	tracker.OnCompleted(token, req, &http.Response{StatusCode: 200, Header: http.Header{"Set-Cookie": {"session=abc"}}})

	calls := sink.all()
	require.Len(t, calls, 1)
	assert.Equal(t, redacted, calls[0].RequestHeaders.Get("Authorization"))
	assert.Equal(t, "r-1", calls[0].RequestHeaders.Get("X-Request-Id"))
	assert.Equal(t, redacted, calls[0].ResponseHeaders.Get("Set-Cookie"))
	assert.Equal(t, "Bearer sk_live_abc", req.Header.Get("Authorization"))
}

func TestUserContextCapturedAtSend(t *testing.T) {
	sink := &recordingSink{}
	tracker := NewTracker(sink)

	req := httptest.NewRequest(http.MethodGet, "https://api.example.com/", nil)
	req = req.WithContext(tracking.WithUser(req.Context(), "42", "customer"))
	token := tracker.OnSending(req)
	tracker.OnCompleted(token, httptest.NewRequest(http.MethodGet, "https://api.example.com/", nil), &http.Response{StatusCode: 200})

	calls := sink.all()
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0].UserContext.UserID)
	assert.Equal(t, "42", *calls[0].UserContext.UserID)
	assert.Equal(t, tracking.ContextAuthenticated, calls[0].UserContext.Context)
}

func TestTransportSkip(t *testing.T) {
	sink := &recordingSink{}
	base := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: 202, Body: http.NoBody, Request: r}, nil
	})
	rt := &Transport{
		Base:     base,
		Observer: NewTracker(sink),
		Skip:     func(r *http.Request) bool { return r.URL.Host == "agent.outboundiq.dev" },
	}
	client := &http.Client{Transport: rt}

	resp, err := client.Post("https://agent.outboundiq.dev/api/metric", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, sink.all())
}

func TestTransportPanicStillReleases(t *testing.T) {
	sink := &recordingSink{}
	tracker := NewTracker(sink)
	base := roundTripperFunc(func(*http.Request) (*http.Response, error) { panic("boom") })
	rt := NewTransport(base, tracker)

	req := httptest.NewRequest(http.MethodGet, "https://api.example.com/", nil)
	assert.Panics(t, func() { _, _ = rt.RoundTrip(req) })

	calls := sink.all()
	require.Len(t, calls, 1)
	assert.Equal(t, errRoundTripAborted.Error(), calls[0].ErrorMessage)
	assert.Zero(t, tracker.Pending())
}

func TestConcurrentCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := &recordingSink{}
	tracker := NewTracker(sink)
	client := &http.Client{Transport: NewTransport(nil, tracker)}

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := client.Get(srv.URL)
			if err == nil {
				resp.Body.Close()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, sink.all(), n)
	assert.Zero(t, tracker.Pending())
}

func TestStatusError(t *testing.T) {
	err := &StatusError{Code: 404, Method: "GET", URL: "https://x/y"}
	assert.Equal(t, "http status 404 for GET https://x/y", err.Error())
	assert.Equal(t, 404, err.HTTPStatusCode())
}
