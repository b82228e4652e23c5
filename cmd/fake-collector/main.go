package main

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/austindbirch/outboundiq/internal/config"
	"github.com/austindbirch/outboundiq/internal/delivery"
	"github.com/austindbirch/outboundiq/internal/logging"
	"github.com/austindbirch/outboundiq/internal/tracking"
)

// fakeCollector stands in for the OutboundIQ API in local runs and e2e tests.
type fakeCollector struct {
	cfg    config.FakeCollector
	logger *logging.Logger

	mu       sync.Mutex
	posts    int
	received []tracking.Call
}

func newFakeCollector(cfg config.FakeCollector, logger *logging.Logger) *fakeCollector {
	return &fakeCollector{cfg: cfg, logger: logger}
}

func (f *fakeCollector) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("POST /api/metric", f.authorized(f.handleMetric))
	mux.HandleFunc("GET /api/ping", f.authorized(f.handlePing))
	mux.HandleFunc("GET /api/recommend/{service}", f.authorized(f.handleRecommend))
	mux.HandleFunc("GET /api/providers/{slug}/status", f.authorized(f.handleStatus("provider")))
	mux.HandleFunc("GET /api/endpoints/{slug}/status", f.authorized(f.handleStatus("endpoint")))
	return mux
}

func (f *fakeCollector) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if f.cfg.ResponseDelayMS > 0 {
			time.Sleep(time.Duration(f.cfg.ResponseDelayMS) * time.Millisecond)
		}
		if f.cfg.APIKey != "" && r.Header.Get("Authorization") != "Bearer "+f.cfg.APIKey {
			f.logger.Plain().WithURL(r.URL.Path).Warn("rejected request with bad api key")
			http.Error(w, "invalid api key", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (f *fakeCollector) handleMetric(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.posts++
	n := f.posts
	f.mu.Unlock()

	if n <= f.cfg.FailFirstN {
		f.logger.Plain().WithField("post", n).Info("failing metric post on purpose")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("fail"))
		return
	}

	calls, err := delivery.Decode(body)
	if err != nil {
		f.logger.Plain().WithError(err).Warn("undecodable metric batch")
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.received = append(f.received, calls...)
	f.mu.Unlock()

	f.logger.Plain().WithFields(map[string]any{
		"post":       n,
		"batch_size": len(calls),
		"user_agent": r.Header.Get("User-Agent"),
		"trace_id":   r.Header.Get("X-Trace-Id"),
	}).Info("received metric batch")
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "accepted": len(calls)})
}

func (f *fakeCollector) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "project": "fake-collector"})
}

func (f *fakeCollector) handleRecommend(w http.ResponseWriter, r *http.Request) {
	service := r.PathValue("service")
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, map[string]any{
		"service":    service,
		"request_id": q.Get("request_id"),
		"context":    q.Get("context"),
		"decision": map[string]any{
			"action": "proceed",
			"use":    strings.ToLower(service) + "-primary",
		},
	})
}

func (f *fakeCollector) handleStatus(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			kind: r.PathValue("slug"),
			"decision": map[string]any{
				"usable": true,
				"health": "healthy",
			},
		})
	}
}

func (f *fakeCollector) stats() (posts int, received []tracking.Call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.posts, append([]tracking.Call(nil), f.received...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func main() {
	cfg := config.FromEnv()
	logger := logging.New("fake-collector")
	defer logger.Sync()

	fc := newFakeCollector(cfg.FakeCollector, logger)
	logger.Plain().WithFields(map[string]any{
		"port":         cfg.FakeCollector.Port,
		"fail_first_n": cfg.FakeCollector.FailFirstN,
		"delay_ms":     cfg.FakeCollector.ResponseDelayMS,
	}).Info("fake collector listening")

	srv := &http.Server{
		Addr:              cfg.FakeCollector.Port,
		Handler:           fc.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Plain().WithError(err).Fatal("fake collector stopped")
	}
}
