// Package outboundiq records the outbound HTTP calls an application makes and
// ships them, batched, to the OutboundIQ collector. It also exposes the
// collector's provider recommendations and health queries.
//
// Typical use:
//
//	agent, err := outboundiq.New(outboundiq.ConfigFromEnv())
//	if err != nil {
//		log.Printf("outboundiq disabled: %v", err) // agent is a safe no-op
//	}
//	defer agent.Close(context.Background())
//
//	client := agent.Client(nil)
//	resp, err := client.Get("https://api.stripe.com/v1/charges")
package outboundiq

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/austindbirch/outboundiq/internal/buffer"
	"github.com/austindbirch/outboundiq/internal/collector"
	"github.com/austindbirch/outboundiq/internal/config"
	"github.com/austindbirch/outboundiq/internal/delivery"
	"github.com/austindbirch/outboundiq/internal/interceptor"
	"github.com/austindbirch/outboundiq/internal/logging"
	"github.com/austindbirch/outboundiq/internal/metrics"
	"github.com/austindbirch/outboundiq/internal/tracking"
	"github.com/austindbirch/outboundiq/internal/transport"
)

type (
	Config       = config.Config
	AgentConfig  = config.Agent
	TrackedCall  = tracking.Call
	UserContext  = tracking.UserContext
	RequestType  = tracking.RequestType
	ErrorType    = tracking.ErrorType
	Decision     = collector.Decision
	QueryOptions = collector.QueryOptions
)

const (
	RequestManual = tracking.RequestManual
	RequestHTTP   = tracking.RequestHTTP

	ErrorConnection = tracking.ErrorConnection
	ErrorTimeout    = tracking.ErrorTimeout
	ErrorDNS        = tracking.ErrorDNS
	ErrorHTTP       = tracking.ErrorHTTP
	ErrorUnknown    = tracking.ErrorUnknown
)

var (
	ErrMissingAPIKey    = config.ErrMissingAPIKey
	ErrDisabled         = config.ErrDisabled
	ErrUnknownTransport = config.ErrUnknownTransport
)

// ConfigFromEnv reads OUTBOUNDIQ_* environment variables.
func ConfigFromEnv() Config { return config.FromEnv() }

// LoadConfig reads an optional YAML file, with environment overrides.
func LoadConfig(path string) (Config, error) { return config.Load(path) }

// Publisher is the subset of *nsq.Producer the queue transport uses.
type Publisher = delivery.Publisher

type sink interface {
	TrackAPICall(call tracking.Call)
	Len() int
	Flush(ctx context.Context) error
	Close(ctx context.Context) error
}

type options struct {
	logger            *logging.Logger
	publisher         Publisher
	registerer        prometheus.Registerer
	httpErrors        bool
	responseBuffering bool
	collectorClient   *http.Client
}

type Option func(*options)

// WithLogger replaces the default JSON logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithPublisher supplies the NSQ producer for the queue transport instead of
// letting the agent create one.
func WithPublisher(p Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithMetricsRegisterer registers the agent's Prometheus collectors on reg.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithHTTPErrors records 4xx and 5xx responses as failed calls
// (error_type http_error). By default any received response is a completed
// call.
func WithHTTPErrors(enabled bool) Option {
	return func(o *options) { o.httpErrors = enabled }
}

// WithResponseBuffering captures response bodies that cannot be re-read, by
// buffering a bounded prefix ahead of the caller.
func WithResponseBuffering(enabled bool) Option {
	return func(o *options) { o.responseBuffering = enabled }
}

// WithCollectorHTTPClient sets the client used for collector queries.
func WithCollectorHTTPClient(c *http.Client) Option {
	return func(o *options) { o.collectorClient = c }
}

// Agent is safe for concurrent use.
type Agent struct {
	cfg       Config
	opts      options
	enabled   bool
	initErr   error
	buf       sink
	tracker   *interceptor.Tracker
	collector *collector.Client
	skipHost  string
}

// New builds an agent from cfg. When cfg is disabled or invalid it returns a
// working no-op agent together with the reason, so the host application can
// log it and carry on.
func New(cfg Config, opts ...Option) (*Agent, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.New("outboundiq")
	}
	if o.registerer != nil {
		if err := metrics.Register(o.registerer); err != nil {
			o.logger.Plain().WithError(err).Warn("outboundiq metrics not registered")
		}
	}

	if err := cfg.Agent.Validate(); err != nil {
		if !errors.Is(err, config.ErrDisabled) {
			o.logger.Plain().WithError(err).Warn("outboundiq agent disabled: invalid configuration")
		}
		return newNoop(cfg, o, err), err
	}

	sender, err := transport.New(cfg, transport.Deps{Publisher: o.publisher, Logger: o.logger})
	if err != nil {
		o.logger.Plain().WithError(err).Warn("outboundiq agent disabled: transport unavailable")
		return newNoop(cfg, o, err), err
	}

	buf := buffer.New(sender,
		buffer.WithMaxItems(cfg.Agent.MaxItems),
		buffer.WithFlushInterval(cfg.Agent.FlushInterval),
		buffer.WithLogger(o.logger),
	)

	collectorOpts := []collector.Option{collector.WithLogger(o.logger)}
	if o.collectorClient != nil {
		collectorOpts = append(collectorOpts, collector.WithHTTPClient(o.collectorClient))
	}

	a := &Agent{
		cfg:       cfg,
		opts:      o,
		enabled:   true,
		buf:       buf,
		tracker:   interceptor.NewTracker(buf, interceptor.WithResponseBuffering(o.responseBuffering)),
		collector: collector.New(cfg.Agent, collectorOpts...),
	}
	if u, err := url.Parse(cfg.Agent.URL); err == nil {
		a.skipHost = u.Host
	}
	o.logger.Plain().WithTransport(sender.Name()).WithField("max_items", cfg.Agent.MaxItems).Info("outboundiq agent started")
	return a, nil
}

func newNoop(cfg Config, o options, err error) *Agent {
	return &Agent{cfg: cfg, opts: o, initErr: err, buf: buffer.Noop{}}
}

// Enabled reports whether calls are being recorded.
func (a *Agent) Enabled() bool { return a.enabled }

// Transport wraps base (http.DefaultTransport when nil) so every call through
// it is recorded. A disabled agent returns base unchanged.
func (a *Agent) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if !a.enabled {
		return base
	}
	return &interceptor.Transport{
		Base:       base,
		Observer:   a.tracker,
		HTTPErrors: a.opts.httpErrors,
		Skip:       a.skipCollector,
	}
}

// Client returns a shallow copy of base whose transport is recorded.
func (a *Agent) Client(base *http.Client) *http.Client {
	c := &http.Client{}
	if base != nil {
		*c = *base
	}
	c.Transport = a.Transport(c.Transport)
	return c
}

// Track records a call made outside an instrumented client. A missing user
// context is captured from ctx.
func (a *Agent) Track(ctx context.Context, call TrackedCall) {
	if call.UserContext.Context == "" {
		call.UserContext = tracking.CaptureUserContext(ctx)
	}
	a.buf.TrackAPICall(call)
}

// TrackAPICall hands a fully formed record to the buffer.
func (a *Agent) TrackAPICall(call TrackedCall) {
	a.buf.TrackAPICall(call)
}

// Recommend returns the collector's provider recommendation for service, or
// nil when it is unavailable.
func (a *Agent) Recommend(ctx context.Context, service string, opts ...QueryOptions) Decision {
	if a.collector == nil {
		return nil
	}
	var o QueryOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	return a.collector.Recommend(ctx, service, o)
}

func (a *Agent) ProviderStatus(ctx context.Context, slug string) Decision {
	if a.collector == nil {
		return nil
	}
	return a.collector.ProviderStatus(ctx, slug)
}

func (a *Agent) EndpointStatus(ctx context.Context, slug string) Decision {
	if a.collector == nil {
		return nil
	}
	return a.collector.EndpointStatus(ctx, slug)
}

// Ping checks connectivity and the API key. A disabled agent returns the
// configuration error it was built with.
func (a *Agent) Ping(ctx context.Context) (Decision, error) {
	if a.collector == nil {
		return nil, a.initErr
	}
	return a.collector.Ping(ctx)
}

// Pending reports calls started but not yet completed.
func (a *Agent) Pending() int {
	if a.tracker == nil {
		return 0
	}
	return a.tracker.Pending()
}

// Buffered reports completed calls waiting for the next flush.
func (a *Agent) Buffered() int { return a.buf.Len() }

// Flush sends buffered calls now.
func (a *Agent) Flush(ctx context.Context) error { return a.buf.Flush(ctx) }

// Close flushes what is left and releases the transport.
func (a *Agent) Close(ctx context.Context) error { return a.buf.Close(ctx) }

func (a *Agent) skipCollector(req *http.Request) bool {
	return a.skipHost != "" && req.URL.Host == a.skipHost
}

// WithUser attaches an authenticated user to ctx; calls made with it are
// attributed to that user.
func WithUser(ctx context.Context, id, userType string) context.Context {
	return tracking.WithUser(ctx, id, userType)
}

// AsJob marks ctx as background job execution.
func AsJob(ctx context.Context) context.Context {
	return tracking.WithExecution(ctx, tracking.ContextJob)
}

// AsConsole marks ctx as command-line execution.
func AsConsole(ctx context.Context) context.Context {
	return tracking.WithExecution(ctx, tracking.ContextConsole)
}
