package delivery

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/austindbirch/outboundiq/internal/tracing"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	userAgentPrefix       = "OutboundIQ-Go/"
)

// DeliveryError is returned when the collector did not acknowledge a batch.
// StatusCode is 0 when no response was received.
type DeliveryError struct {
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("deliver metrics: %v", e.Err)
	}
	return fmt.Sprintf("deliver metrics: collector returned status %d", e.StatusCode)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Deliverer performs one delivery attempt.
type Deliverer interface {
	Deliver(ctx context.Context, job Job) error
}

// Sender POSTs batches to the collector. TLS verification is always on.
type Sender struct {
	client *http.Client
}

func NewSender(connectTimeout time.Duration) *Sender {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	dialer := &net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		TLSHandshakeTimeout: connectTimeout,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Sender{client: &http.Client{Transport: transport}}
}

// NewSenderWithClient uses client as is, e.g. an httptest server client.
func NewSenderWithClient(client *http.Client) *Sender {
	return &Sender{client: client}
}

// Deliver makes exactly one POST attempt for job. Encoding failures wrap
// ErrEncode; everything else is a *DeliveryError.
func (s *Sender) Deliver(ctx context.Context, job Job) error {
	body, err := Encode(job.Metrics)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, job.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.Endpoint, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+job.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgentPrefix+job.Version)
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		req.Header.Set("X-Trace-Id", traceID)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return &DeliveryError{Err: err}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{StatusCode: resp.StatusCode}
	}
	return nil
}
