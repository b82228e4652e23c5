package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type mockPool struct {
	pingError error
}

func (m *mockPool) Ping(ctx context.Context) error {
	return m.pingError
}

type mockProducer struct {
	pingError error
}

func (m *mockProducer) Ping() error {
	return m.pingError
}

func TestHTTPHandler(t *testing.T) {
	tests := []struct {
		name               string
		checks             []Check
		expectedStatusCode int
		expectedOK         bool
		expectedChecks     map[string]bool
	}{
		{
			name:               "healthy without checks",
			expectedStatusCode: http.StatusOK,
			expectedOK:         true,
		},
		{
			name: "healthy with working dependencies",
			checks: []Check{
				PoolCheck("database", &mockPool{}),
				ProducerCheck("nsqd", &mockProducer{}),
			},
			expectedStatusCode: http.StatusOK,
			expectedOK:         true,
			expectedChecks:     map[string]bool{"database": true, "nsqd": true},
		},
		{
			name: "unhealthy with database ping failure",
			checks: []Check{
				PoolCheck("database", &mockPool{pingError: context.DeadlineExceeded}),
				ProducerCheck("nsqd", &mockProducer{}),
			},
			expectedStatusCode: http.StatusServiceUnavailable,
			expectedOK:         false,
			expectedChecks:     map[string]bool{"database": false, "nsqd": true},
		},
		{
			name: "unhealthy with nsqd down",
			checks: []Check{
				ProducerCheck("nsqd", &mockProducer{pingError: errors.New("connection refused")}),
			},
			expectedStatusCode: http.StatusServiceUnavailable,
			expectedOK:         false,
			expectedChecks:     map[string]bool{"nsqd": false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			w := httptest.NewRecorder()

			HTTPHandler(tt.checks...).ServeHTTP(w, req)

			if w.Code != tt.expectedStatusCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.expectedStatusCode)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}

			var st Status
			if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if st.OK != tt.expectedOK {
				t.Errorf("OK = %v, want %v", st.OK, tt.expectedOK)
			}
			for name, want := range tt.expectedChecks {
				if got := st.Checks[name]; got != want {
					t.Errorf("check %q = %v, want %v", name, got, want)
				}
			}
			if !tt.expectedOK && st.Message == "ok" {
				t.Error("failing status kept the ok message")
			}
		})
	}
}

func TestHTTPHandler_RequestContext(t *testing.T) {
	var sawDeadline bool
	check := Check{Name: "slow", Run: func(ctx context.Context) error {
		_, sawDeadline = ctx.Deadline()
		return nil
	}}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	HTTPHandler(check).ServeHTTP(httptest.NewRecorder(), req)

	if !sawDeadline {
		t.Error("check context has no deadline")
	}
}

func TestStatusJSONOmitempty(t *testing.T) {
	data, err := json.Marshal(Status{OK: true})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Errorf("JSON = %s, want {\"ok\":true}", data)
	}
}
