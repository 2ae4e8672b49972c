package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/couchbase/gocb/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"asyncpub/internal/couchbase"
	"asyncpub/internal/pub"
	"asyncpub/internal/pub/bus"
	"asyncpub/internal/pub/controller"
	"asyncpub/internal/pub/metrics"
	"asyncpub/internal/pub/producer"
	"asyncpub/internal/pub/publisher"
	"asyncpub/internal/pub/tracing"
)

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to parse environment variables: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("publisher run failed", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		log.Printf("invalid log level %q, defaulting to info: %v", level, err)
		zapLevel = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	return config.Build(zap.AddCaller())
}

// buildInfo returns the module version and VCS commit time stamped into the
// binary, or "devel" and "unknown" when they are missing.
func buildInfo(info *debug.BuildInfo, ok bool) (version, buildTime string) {
	version, buildTime = "devel", "unknown"
	if !ok || info == nil {
		return version, buildTime
	}

	if v := info.Main.Version; v != "" && v != "(devel)" {
		version = v
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.time" && s.Value != "" {
			buildTime = s.Value
		}
	}

	return version, buildTime
}

func run(cfg Config, logger *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	registry := metrics.NewRegistry()
	registry.SetSystemInfo(buildInfo(debug.ReadBuildInfo()))

	tracer, tracingCleanup, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracingCleanup(shutdownCtx); err != nil {
			logger.Error("failed to cleanup tracing", zap.Error(err))
		}
	}()

	// topics are unique per run so verification only sees this run's messages
	topic := fmt.Sprintf("%s-%d", cfg.Topic, time.Now().UnixNano())

	base, verifier, closeTransport, err := newTransport(ctx, cfg, topic, tracer, registry, logger)
	if err != nil {
		return err
	}
	defer closeTransport()

	recorder := newSendRecorder(base)
	transport := producer.NewTracedTransport(producer.NewMetricsTransport(recorder, registry), tracer)

	p, err := publisher.New(topic, transport, logger, cfg.Publisher,
		publisher.WithMetrics(registry),
		publisher.WithMessageOrdering(),
	)
	if err != nil {
		return fmt.Errorf("failed to create publisher: %w", err)
	}

	metricsServer := metrics.NewServer(cfg.Metrics, registry, logger, func() bool { return !p.Stopped() })
	go func() {
		if err := metricsServer.Start(ctx); err != nil {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	start := time.Now()
	w := newWorkload(cfg, topic)
	sendErr := w.publish(ctx, p)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := p.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down publisher: %w", err)
	}
	if sendErr != nil {
		return sendErr
	}

	report := w.report()
	logger.Info("workload published",
		zap.String("topic", topic),
		zap.Int("accepted", report.accepted),
		zap.Int("succeeded", report.succeeded),
		zap.Int("failed", report.failed),
		zap.Duration("elapsed", time.Since(start)),
	)
	if report.failed > 0 {
		return fmt.Errorf("%d of %d messages failed to publish", report.failed, report.accepted)
	}

	if err := recorder.verify(w); err != nil {
		return fmt.Errorf("failed to verify send order: %w", err)
	}
	if err := verifier(ctx, w); err != nil {
		return fmt.Errorf("failed to verify published messages: %w", err)
	}
	logger.Info("per key ordering verified", zap.Int("keys", len(w.keys)))

	return nil
}

type verifyFunc func(ctx context.Context, w *workload) error

func newTransport(
	ctx context.Context,
	cfg Config,
	topic string,
	tracer *tracing.Tracer,
	registry *metrics.Registry,
	logger *zap.Logger,
) (pub.Transport, verifyFunc, func(), error) {
	switch cfg.Transport {
	case "mem":
		tr, err := bus.NewTransport(cfg.Bus, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create bus transport: %w", err)
		}
		if err := tr.Open(ctx, topic); err != nil {
			return nil, nil, nil, err
		}
		verify, err := subscribe(ctx, cfg.Bus.URL(topic), logger)
		if err != nil {
			return nil, nil, nil, err
		}
		closeFn := func() {
			if err := tr.Shutdown(context.Background()); err != nil {
				logger.Error("failed to shut down bus transport", zap.Error(err))
			}
		}
		return tr, verify, closeFn, nil

	case "couchbase":
		cluster, bucket, err := newCouchbase(cfg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to connect to Couchbase: %w", err)
		}
		ctlr, err := newController(cfg, cluster, bucket, tracer, registry)
		if err != nil {
			return nil, nil, nil, err
		}
		p, err := producer.NewProducer(ctlr, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create producer: %w", err)
		}
		closeFn := func() {
			if err := cluster.Close(nil); err != nil {
				logger.Error("failed to close couchbase cluster", zap.Error(err))
			}
		}
		return p, verifyLogs(ctlr), closeFn, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

func newController(cfg Config, cluster *gocb.Cluster, bucket *gocb.Bucket, tracer *tracing.Tracer, registry *metrics.Registry) (pub.Controller, error) {
	records, err := pub.NewRecordsStore(cluster, bucket, cfg.CouchbaseScopeName)
	if err != nil {
		return nil, fmt.Errorf("failed to create records store: %w", err)
	}
	offsets, err := pub.NewOffsetsStore(cluster, bucket, cfg.CouchbaseScopeName)
	if err != nil {
		return nil, fmt.Errorf("failed to create offsets store: %w", err)
	}
	transactions, err := couchbase.NewTransactions(cluster)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactions: %w", err)
	}

	base, err := controller.NewController(records, offsets, transactions, cfg.CouchbaseRetention)
	if err != nil {
		return nil, fmt.Errorf("failed to create controller: %w", err)
	}

	return controller.NewTracedController(controller.NewMetricsController(base, registry), tracer), nil
}

func newCouchbase(config Config) (*gocb.Cluster, *gocb.Bucket, error) {
	cluster, err := gocb.Connect(config.CouchbaseConnectionString, gocb.ClusterOptions{
		Authenticator: gocb.PasswordAuthenticator{
			Username: config.CouchbaseUsername,
			Password: config.CouchbasePassword,
		},
		TimeoutsConfig: gocb.TimeoutsConfig{
			ConnectTimeout: 10 * time.Second,
			KVTimeout:      5 * time.Second,
			QueryTimeout:   30 * time.Second,
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to cluster: %w", err)
	}

	bucket := cluster.Bucket(config.CouchbaseBucketName)
	if err := bucket.WaitUntilReady(5*time.Second, nil); err != nil {
		return nil, nil, fmt.Errorf("bucket not ready: %w", err)
	}

	return cluster, bucket, nil
}
