// Package main provides the demo prediction service entry point.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/drfirst/go-retinarisk/internal/api/handlers"
	"github.com/drfirst/go-retinarisk/internal/config"
	"github.com/drfirst/go-retinarisk/internal/demo"
	"github.com/drfirst/go-retinarisk/internal/infrastructure/postgres"
	"github.com/drfirst/go-retinarisk/internal/infrastructure/redpanda"
	"github.com/drfirst/go-retinarisk/internal/observability/logging"
	"github.com/drfirst/go-retinarisk/internal/observability/metrics"
	"github.com/drfirst/go-retinarisk/internal/observability/tracing"
)

const serviceName = "demo-predictor"

func main() {
	envFile := flag.String("env-file", ".env", "optional .env file")
	flag.Parse()

	cfg, err := config.LoadServer(*envFile)
	if err != nil {
		zap.NewExample().Fatal("failed to load configuration", zap.Error(err))
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, serviceName)
	if err != nil {
		zap.NewExample().Fatal("failed to build logger", zap.Error(err))
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	tcfg := tracing.DefaultConfig(serviceName)
	tcfg.Enabled = cfg.TracingEnabled
	tcfg.Environment = cfg.Env
	tcfg.OTLPEndpoint = cfg.OTLPEndpoint
	tcfg.SampleRate = cfg.TraceSampling
	tp, err := tracing.Init(ctx, tcfg)
	if err != nil {
		logger.Fatal("failed to initialize tracing", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var (
		recorders []handlers.Recorder
		archive   handlers.Archive
		checks    []func(context.Context) error
		closers   []func()
	)

	if cfg.DatabaseURL != "" {
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		closers = append(closers, pool.Close)
		store := postgres.NewArchive(pool, logger)
		if err := store.EnsureSchema(ctx); err != nil {
			logger.Fatal("failed to create archive schema", zap.Error(err))
		}
		archive = store
		recorders = append(recorders, store)
		checks = append(checks, pool.Ping)
		logger.Info("prediction archive enabled")
	}

	if len(cfg.KafkaBrokers) > 0 {
		admin, err := redpanda.NewAdmin(cfg.KafkaBrokers, logger)
		if err != nil {
			logger.Fatal("failed to create kafka admin", zap.Error(err))
		}
		if err := admin.EnsureTopics(ctx, redpanda.AuditTopicConfig(cfg.AuditTopic)); err != nil {
			logger.Warn("failed to ensure audit topic", zap.Error(err))
		}
		admin.Close()

		pcfg := redpanda.DefaultProducerConfig()
		pcfg.Brokers = cfg.KafkaBrokers
		pcfg.Topic = cfg.AuditTopic
		producer, err := redpanda.NewProducer(pcfg, logger)
		if err != nil {
			logger.Fatal("failed to create audit producer", zap.Error(err))
		}
		closers = append(closers, func() {
			_ = producer.Close()
			stats := producer.Stats()
			logger.Info("audit producer closed",
				zap.Int64("messages_sent", stats.MessagesSent),
				zap.Int64("bytes_sent", stats.BytesSent),
				zap.Int64("errors", stats.ErrorCount))
		})
		recorders = append(recorders, producer)
		brokers := cfg.KafkaBrokers
		checks = append(checks, func(ctx context.Context) error { return redpanda.HealthCheck(ctx, brokers) })
		logger.Info("prediction audit stream enabled", zap.String("topic", pcfg.Topic))
	}

	predictions, err := handlers.NewPredictionHandler(demo.NewAnalyzer(), logger,
		handlers.WithRecorders(recorders...), handlers.WithMetrics(m))
	if err != nil {
		logger.Fatal("failed to create prediction handler", zap.Error(err))
	}

	r := newRouter(cfg, logger, routes{
		predictions: predictions,
		archive:     archive,
		checks:      checks,
		metrics:     metricsHandler(cfg, reg),
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting demo predictor",
		zap.String("port", cfg.Port),
		zap.Int("recorders", len(recorders)))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	// recorders flush before their clients close
	if err := predictions.Close(); err != nil {
		logger.Warn("recorder pool stop", zap.Error(err))
	}
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func metricsHandler(cfg *config.Server, reg *prometheus.Registry) http.Handler {
	if !cfg.MetricsEnabled {
		return nil
	}
	return metrics.Handler(reg)
}
