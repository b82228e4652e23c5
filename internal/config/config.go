package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Transport names accepted in OUTBOUNDIQ_TRANSPORT.
const (
	TransportAsync = "async"
	TransportSync  = "sync"
	TransportQueue = "queue"
	TransportFile  = "file"
)

const (
	DefaultURL   = "https://agent.outboundiq.dev/api/metric"
	DefaultTopic = "outboundiq_metrics"
)

var (
	ErrMissingAPIKey    = errors.New("outboundiq: api key is not configured")
	ErrDisabled         = errors.New("outboundiq: monitoring is disabled")
	ErrUnknownTransport = errors.New("outboundiq: unknown transport")
)

type Agent struct {
	APIKey         string        // Bearer token for the collector
	Enabled        bool          // Master switch
	URL            string        // Metric ingest endpoint
	Transport      string        // async, sync, queue or file
	MaxItems       int           // Buffer size before a flush is forced
	FlushInterval  time.Duration // Periodic flush; 0 disables the ticker
	Timeout        time.Duration // Overall HTTP timeout for delivery
	ConnectTimeout time.Duration // Dial timeout for delivery
	RetryAttempts  int           // Attempts for the sync transport
	RetryBackoff   time.Duration // Pause between sync attempts
	AsyncQueueSize int           // Pending batches for the async transport
	Queue          string        // NSQ topic for queue transport
	FilePath       string        // JSONL file for file transport
	Version        string        // Client version sent in User-Agent
}

type DB struct {
	User              string
	Pass              string
	Host              string
	Port              string
	Name              string
	PersistDeadLetter bool // Write exhausted jobs to Postgres
}

type NSQ struct {
	NsqdTCPAddr    string // e.g. nsqd:4150
	LookupHTTPAddr string // e.g. http://nsqlookupd:4161
	DLQTopic       string // Dead letter topic
	WorkerChannel  string // NSQ channel name for workers
	MaxInFlight    int
}

type Worker struct {
	MaxAttempts     int             // Delivery attempts before dead-lettering
	BackoffSchedule []time.Duration // Requeue delays by attempt
	JitterPercent   float64         // Backoff jitter percentage (0.0-1.0)
	PublishDLQ      bool            // Whether to publish exhausted jobs to the DLQ topic
	HTTPPort        string          // Worker HTTP metrics port
}

type FakeCollector struct {
	FailFirstN      int    // Number of metric posts to fail initially
	APIKey          string // Expected bearer token, empty accepts any
	ResponseDelayMS int    // Simulated response delay in milliseconds
	Port            string // Server listen port
}

type Config struct {
	AppName       string
	Agent         Agent
	DB            DB
	NSQ           NSQ
	Worker        Worker
	FakeCollector FakeCollector
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// getenvDuration accepts Go durations ("10s") or bare integers as seconds.
func getenvDuration(key string, def time.Duration) time.Duration {
	return parseDuration(os.Getenv(key), def)
}

// parseDuration accepts a Go duration ("250ms") or a bare integer, read as
// seconds.
func parseDuration(v string, def time.Duration) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}

var defaultBackoff = []time.Duration{5 * time.Second}

func parseBackoffSchedule(schedule string) []time.Duration {
	if schedule == "" {
		return append([]time.Duration(nil), defaultBackoff...)
	}

	parts := strings.Split(schedule, ",")
	durations := make([]time.Duration, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if d, err := time.ParseDuration(part); err == nil {
			durations = append(durations, d)
		}
	}

	if len(durations) == 0 {
		return append([]time.Duration(nil), defaultBackoff...)
	}

	return durations
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		AppName: "outboundiq",
		Agent: Agent{
			Enabled:        true,
			URL:            DefaultURL,
			Transport:      TransportAsync,
			MaxItems:       100,
			FlushInterval:  5 * time.Second,
			Timeout:        10 * time.Second,
			ConnectTimeout: 5 * time.Second,
			RetryAttempts:  3,
			RetryBackoff:   5 * time.Second,
			AsyncQueueSize: 64,
			Queue:          DefaultTopic,
			FilePath:       "outboundiq-metrics.jsonl",
			Version:        "dev",
		},
		DB: DB{
			User: "postgres",
			Pass: "postgres",
			Host: "postgres",
			Port: "5432",
			Name: "outboundiq",
		},
		NSQ: NSQ{
			NsqdTCPAddr:    "nsqd:4150",
			LookupHTTPAddr: "http://nsqlookupd:4161",
			DLQTopic:       DefaultTopic + "_dlq",
			WorkerChannel:  "workers",
			MaxInFlight:    200,
		},
		Worker: Worker{
			MaxAttempts:     3,
			BackoffSchedule: append([]time.Duration(nil), defaultBackoff...),
			HTTPPort:        ":8083",
		},
		FakeCollector: FakeCollector{
			Port: ":8081",
		},
	}
}

func FromEnv() Config {
	d := Defaults()
	return Config{
		AppName: getenv("APP_NAME", d.AppName),
		Agent: Agent{
			APIKey:         getenv("OUTBOUNDIQ_API_KEY", ""),
			Enabled:        getenvBool("OUTBOUNDIQ_ENABLED", d.Agent.Enabled),
			URL:            getenv("OUTBOUNDIQ_URL", d.Agent.URL),
			Transport:      strings.ToLower(getenv("OUTBOUNDIQ_TRANSPORT", d.Agent.Transport)),
			MaxItems:       getenvInt("OUTBOUNDIQ_MAX_ITEMS", d.Agent.MaxItems),
			FlushInterval:  getenvDuration("OUTBOUNDIQ_FLUSH_INTERVAL", d.Agent.FlushInterval),
			Timeout:        getenvDuration("OUTBOUNDIQ_TIMEOUT", d.Agent.Timeout),
			ConnectTimeout: getenvDuration("OUTBOUNDIQ_CONNECT_TIMEOUT", d.Agent.ConnectTimeout),
			RetryAttempts:  getenvInt("OUTBOUNDIQ_RETRY_ATTEMPTS", d.Agent.RetryAttempts),
			RetryBackoff:   getenvDuration("OUTBOUNDIQ_RETRY_BACKOFF", d.Agent.RetryBackoff),
			AsyncQueueSize: getenvInt("OUTBOUNDIQ_ASYNC_QUEUE_SIZE", d.Agent.AsyncQueueSize),
			Queue:          getenv("OUTBOUNDIQ_QUEUE", d.Agent.Queue),
			FilePath:       getenv("OUTBOUNDIQ_FILE_PATH", d.Agent.FilePath),
			Version:        getenv("OUTBOUNDIQ_VERSION", d.Agent.Version),
		},
		DB: DB{
			User:              getenv("DB_USER", d.DB.User),
			Pass:              getenv("DB_PASS", d.DB.Pass),
			Host:              getenv("DB_HOST", d.DB.Host),
			Port:              getenv("DB_PORT", d.DB.Port),
			Name:              getenv("DB_NAME", d.DB.Name),
			PersistDeadLetter: getenvBool("PERSIST_DEAD_LETTERS", false),
		},
		NSQ: NSQ{
			NsqdTCPAddr:    getenv("NSQD_TCP_ADDR", d.NSQ.NsqdTCPAddr),
			LookupHTTPAddr: getenv("NSQ_LOOKUP_HTTP_ADDR", d.NSQ.LookupHTTPAddr),
			DLQTopic:       getenv("NSQ_DLQ_TOPIC", d.NSQ.DLQTopic),
			WorkerChannel:  getenv("NSQ_WORKER_CHANNEL", d.NSQ.WorkerChannel),
			MaxInFlight:    getenvInt("NSQ_MAX_IN_FLIGHT", d.NSQ.MaxInFlight),
		},
		Worker: Worker{
			MaxAttempts:     getenvInt("MAX_ATTEMPTS", d.Worker.MaxAttempts),
			BackoffSchedule: parseBackoffSchedule(getenv("BACKOFF_SCHEDULE", "")),
			JitterPercent:   getenvFloat("BACKOFF_JITTER_PCT", 0),
			PublishDLQ:      getenvBool("PUBLISH_DLQ_TOPIC", false),
			HTTPPort:        ":" + strings.TrimPrefix(getenv("WORKER_HTTP_PORT", "8083"), ":"),
		},
		FakeCollector: FakeCollector{
			FailFirstN:      getenvInt("FAIL_FIRST_N", 0),
			APIKey:          getenv("FAKE_COLLECTOR_API_KEY", ""),
			ResponseDelayMS: getenvInt("RESPONSE_DELAY_MS", 0),
			Port:            getenv("FAKE_COLLECTOR_PORT", d.FakeCollector.Port),
		},
	}
}

// Validate reports configuration problems that must stop delivery.
// ErrDisabled is returned for an intentionally disabled agent.
func (a Agent) Validate() error {
	if !a.Enabled {
		return ErrDisabled
	}
	if strings.TrimSpace(a.APIKey) == "" {
		return ErrMissingAPIKey
	}
	switch a.Transport {
	case TransportAsync, TransportSync, TransportQueue, TransportFile:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTransport, a.Transport)
	}
	if _, err := url.ParseRequestURI(a.URL); err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	return nil
}

// BaseURL is the collector API root, derived from the metric endpoint by
// dropping its last path segment.
func (a Agent) BaseURL() string {
	u, err := url.Parse(a.URL)
	if err != nil || u.Path == "" {
		return strings.TrimRight(a.URL, "/")
	}
	p := strings.TrimRight(u.Path, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[:i]
	}
	u.Path = p
	u.RawQuery = ""
	return strings.TrimRight(u.String(), "/")
}

// PingURL is the diagnostic endpoint.
func (a Agent) PingURL() string {
	return a.BaseURL() + "/ping"
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}
