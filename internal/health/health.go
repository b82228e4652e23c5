package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

type Status struct {
	OK      bool            `json:"ok"`
	Message string          `json:"message,omitempty"`
	Checks  map[string]bool `json:"checks,omitempty"`
}

// Check is one named dependency check.
type Check struct {
	Name string
	Run  func(ctx context.Context) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// PoolCheck pings a database pool such as *pgxpool.Pool.
func PoolCheck(name string, p pinger) Check {
	return Check{Name: name, Run: p.Ping}
}

type producerPinger interface {
	Ping() error
}

// ProducerCheck pings an NSQ producer connection.
func ProducerCheck(name string, p producerPinger) Check {
	return Check{Name: name, Run: func(context.Context) error { return p.Ping() }}
}

// HTTPHandler returns an HTTP handler that reports the health status of the
// service. Any failing check turns the response into a 503.
func HTTPHandler(checks ...Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := Status{OK: true, Message: "ok"}

		if len(checks) > 0 {
			st.Checks = make(map[string]bool, len(checks))
			ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
			defer cancel()
			for _, c := range checks {
				err := c.Run(ctx)
				st.Checks[c.Name] = err == nil
				if err != nil {
					st.OK = false
					st.Message = c.Name + " check failed"
				}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if !st.OK {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(st)
	}
}
