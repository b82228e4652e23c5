package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/austindbirch/outboundiq/internal/config"
	"github.com/austindbirch/outboundiq/internal/db"
	"github.com/austindbirch/outboundiq/internal/delivery"
	"github.com/austindbirch/outboundiq/internal/health"
	"github.com/austindbirch/outboundiq/internal/logging"
	"github.com/austindbirch/outboundiq/internal/metrics"
	"github.com/austindbirch/outboundiq/internal/tracing"
)

const backlogInterval = 15 * time.Second

func retryPolicy(w config.Worker) delivery.RetryPolicy {
	p := delivery.RetryPolicy{
		MaxAttempts: w.MaxAttempts,
		Backoff:     w.BackoffSchedule,
		JitterPct:   w.JitterPercent,
	}
	def := delivery.DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if len(p.Backoff) == 0 {
		p.Backoff = def.Backoff
	}
	return p
}

func topicOf(a config.Agent) string {
	if a.Queue == "" {
		return config.DefaultTopic
	}
	return a.Queue
}

func main() {
	cfg := config.FromEnv()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := logging.New("outboundiq-worker")
	defer logger.Sync()

	shutdown, err := tracing.InitTracing(ctx, "outboundiq-worker")
	if err != nil {
		logger.Plain().WithError(err).Fatal("Failed to initialize tracing")
	}
	defer shutdown()

	var checks []health.Check
	handlerOpts := []delivery.HandlerOption{delivery.WithLogger(logger)}

	// Dead letter persistence is optional; the worker runs without Postgres.
	if cfg.DB.PersistDeadLetter {
		pool, err := db.Connect(ctx, cfg.DSN())
		if err != nil {
			logger.Plain().WithError(err).Fatal("db connect failed")
		}
		defer pool.Close()

		store := db.NewDeadLetterStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			logger.Plain().WithError(err).Fatal("dead letter schema setup failed")
		}
		handlerOpts = append(handlerOpts, delivery.WithDeadLetterStore(store))
		checks = append(checks, health.PoolCheck("postgres", pool))
	}

	if cfg.Worker.PublishDLQ {
		dlqProducer, err := nsq.NewProducer(cfg.NSQ.NsqdTCPAddr, nsq.NewConfig())
		if err != nil {
			logger.Plain().WithError(err).Fatal("nsq producer for DLQ creation failed")
		}
		defer dlqProducer.Stop()
		handlerOpts = append(handlerOpts, delivery.WithDLQTopic(cfg.NSQ.DLQTopic, dlqProducer))
		checks = append(checks, health.ProducerCheck("nsqd", dlqProducer))
	}

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	mux := http.NewServeMux()
	mux.Handle("/healthz", health.HTTPHandler(checks...))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.Worker.HTTPPort, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("worker HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("worker HTTP server failed")
		}
	}()

	topic := topicOf(cfg.Agent)
	conf := nsq.NewConfig()
	conf.MaxInFlight = cfg.NSQ.MaxInFlight
	consumer, err := nsq.NewConsumer(topic, cfg.NSQ.WorkerChannel, conf)
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq consumer creation failed")
	}
	consumer.SetLogger(nsqLogger{logger}, nsq.LogLevelWarning)

	sender := delivery.NewSender(cfg.Agent.ConnectTimeout)
	consumer.AddHandler(delivery.NewHandler(sender, retryPolicy(cfg.Worker), handlerOpts...))

	monitor := newBacklogMonitor(nsqdHTTPAddr(cfg.NSQ.NsqdTCPAddr), topic, cfg.NSQ.WorkerChannel, logger)
	go monitor.run(ctx, backlogInterval)

	// Connecting directly to nsqd creates the channel up front instead of on first publish.
	if err := consumer.ConnectToNSQD(cfg.NSQ.NsqdTCPAddr); err != nil {
		logger.Plain().WithError(err).Fatal("connect to nsqd failed")
	}
	if err := consumer.ConnectToNSQLookupd(cfg.NSQ.LookupHTTPAddr); err != nil {
		logger.Plain().WithError(err).Fatal("connect to lookupd failed")
	}

	logger.Plain().WithFields(map[string]any{
		"topic":        topic,
		"channel":      cfg.NSQ.WorkerChannel,
		"max_attempts": cfg.Worker.MaxAttempts,
	}).Info("worker service started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("Shutting down worker service")
	cancel()
	consumer.Stop()
	<-consumer.StopChan

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	logger.Plain().Info("worker service stopped")
}

// nsqLogger routes go-nsq's internal logging through the service logger.
type nsqLogger struct {
	l *logging.Logger
}

func (n nsqLogger) Output(_ int, s string) error {
	n.l.Plain().WithField("component", "nsq").Warn(s)
	return nil
}
