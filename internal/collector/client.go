// Package collector queries the OutboundIQ service for routing decisions and
// provider health. Queries are advisory: every failure yields a nil Decision
// so the caller falls back to its default behavior.
package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/austindbirch/outboundiq/internal/config"
	"github.com/austindbirch/outboundiq/internal/logging"
	"github.com/austindbirch/outboundiq/internal/tracking"
)

const (
	defaultQueryTimeout        = 5 * time.Second
	defaultConsecutiveFailures = 5
	defaultOpenTimeout         = 30 * time.Second
	maxResponseBytes           = 1 << 20
)

// Decision is the collector's response document, passed through unchanged.
type Decision map[string]any

// QueryOptions tune Recommend. RequestID defaults to a fresh UUID. Setting
// UserID overrides the user context captured from ctx.
type QueryOptions struct {
	RequestID string
	UserID    string
	UserType  string
}

// StatusError reports a non-2xx collector response.
type StatusError struct {
	StatusCode int
	Path       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("collector %s returned status %d", e.Path, e.StatusCode)
}

type Client struct {
	base    string
	apiKey  string
	version string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *logging.Logger
}

type Option func(*clientOptions)

type clientOptions struct {
	httpClient          *http.Client
	consecutiveFailures uint32
	openTimeout         time.Duration
	logger              *logging.Logger
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = c }
}

// WithBreaker sets how many consecutive failures open the circuit and how
// long it stays open before a trial request is allowed.
func WithBreaker(consecutiveFailures uint32, openTimeout time.Duration) Option {
	return func(o *clientOptions) {
		o.consecutiveFailures = consecutiveFailures
		o.openTimeout = openTimeout
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(o *clientOptions) { o.logger = l }
}

func New(agent config.Agent, opts ...Option) *Client {
	o := clientOptions{
		consecutiveFailures: defaultConsecutiveFailures,
		openTimeout:         defaultOpenTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		timeout := agent.Timeout
		if timeout <= 0 || timeout > defaultQueryTimeout {
			timeout = defaultQueryTimeout
		}
		o.httpClient = &http.Client{Timeout: timeout}
	}
	if o.logger == nil {
		o.logger = logging.New("outboundiq")
	}

	c := &Client{
		base:    agent.BaseURL(),
		apiKey:  agent.APIKey,
		version: agent.Version,
		http:    o.httpClient,
		logger:  o.logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "outboundiq-collector",
		MaxRequests: 1,
		Timeout:     o.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= o.consecutiveFailures
		},
		// A 4xx means the collector is up and answered; only transport
		// failures and 5xx count against it.
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.StatusCode < 500
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Plain().WithFields(map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("collector circuit breaker state changed")
		},
	})
	return c
}

// Recommend asks which provider to use for service.
func (c *Client) Recommend(ctx context.Context, service string, opts QueryOptions) Decision {
	return c.query(ctx, "/recommend/"+url.PathEscape(service), userParams(ctx, opts))
}

// ProviderStatus returns health and metrics for a provider slug.
func (c *Client) ProviderStatus(ctx context.Context, slug string) Decision {
	return c.query(ctx, "/providers/"+url.PathEscape(slug)+"/status", userParams(ctx, QueryOptions{}))
}

// EndpointStatus returns health and metrics for an endpoint slug.
func (c *Client) EndpointStatus(ctx context.Context, slug string) Decision {
	return c.query(ctx, "/endpoints/"+url.PathEscape(slug)+"/status", userParams(ctx, QueryOptions{}))
}

// userParams is the request id and user context sent with every query.
// An explicit opts.UserID wins over the user captured from ctx.
func userParams(ctx context.Context, opts QueryOptions) url.Values {
	uc := tracking.CaptureUserContext(ctx)
	if opts.UserID != "" {
		uc = tracking.ManualUserContext(opts.UserID, opts.UserType)
	}
	requestID := opts.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	q := url.Values{}
	q.Set("request_id", requestID)
	q.Set("context", uc.Context)
	if uc.UserID != nil {
		q.Set("user_id", *uc.UserID)
	}
	if uc.UserType != nil {
		q.Set("user_type", *uc.UserType)
	}
	return q
}

// Ping verifies the API key and connectivity. Unlike the queries it reports
// why it failed.
func (c *Client) Ping(ctx context.Context) (Decision, error) {
	return c.get(ctx, "/ping", nil)
}

// State reports the circuit breaker state ("closed", "open", "half-open").
func (c *Client) State() string {
	return c.breaker.State().String()
}

func (c *Client) query(ctx context.Context, path string, q url.Values) Decision {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.get(ctx, path, q)
	})
	if err != nil {
		c.logger.WithContext(ctx).WithURL(c.base+path).WithError(err).Debug("collector query failed")
		return nil
	}
	d, _ := res.(Decision)
	return d
}

func (c *Client) get(ctx context.Context, path string, q url.Values) (Decision, error) {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build collector request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "OutboundIQ-Go/"+c.version)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("collector %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, &StatusError{StatusCode: resp.StatusCode, Path: path}
	}

	var d Decision
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&d); err != nil {
		return nil, fmt.Errorf("decode collector %s response: %w", path, err)
	}
	if d == nil {
		return nil, fmt.Errorf("collector %s returned an empty document", path)
	}
	return d, nil
}
