package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/andreasstove999/cafeteria-system/services/menu-stock-service-go/internal/config"
	"github.com/andreasstove999/cafeteria-system/services/menu-stock-service-go/internal/db"
	"github.com/andreasstove999/cafeteria-system/services/menu-stock-service-go/internal/events"
	httpapi "github.com/andreasstove999/cafeteria-system/services/menu-stock-service-go/internal/http"
	"github.com/andreasstove999/cafeteria-system/services/menu-stock-service-go/internal/logging"
	"github.com/andreasstove999/cafeteria-system/services/menu-stock-service-go/internal/metrics"
	"github.com/andreasstove999/cafeteria-system/services/menu-stock-service-go/internal/notify"
	"github.com/andreasstove999/cafeteria-system/services/menu-stock-service-go/internal/sequence"
	"github.com/andreasstove999/cafeteria-system/services/menu-stock-service-go/internal/shutdown"
	"github.com/andreasstove999/cafeteria-system/services/menu-stock-service-go/internal/stock"
)

const serviceName = "menu-stock-service"

var errShuttingDown = errors.New("shutting down")

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Config{
		Service: serviceName,
		Env:     cfg.AppEnv,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("service stopped", zap.Error(err))
		logging.Sync(logger)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	shutdowns := shutdown.New(cfg.ShutdownTimeout, logger)

	// --- DB ---
	pool, err := db.NewPool(ctx, cfg.DatabaseDSN, cfg.DBMaxConns)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	shutdowns.Add("postgres", shutdown.ClosePool(pool))

	if cfg.RunMigrations {
		if err := db.RunMigrations(cfg.DatabaseDSN, logger); err != nil {
			shutdowns.Run()
			return fmt.Errorf("db migrate: %w", err)
		}
	}

	// --- metrics ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// --- AMQP ---
	conn, err := events.DialRabbit(cfg.RabbitMQURL)
	if err != nil {
		shutdowns.Run()
		return err
	}
	shutdowns.Add("rabbitmq", shutdown.CloseErr(conn))

	publisher, err := events.NewPublisher(conn, sequence.NewRepository(pool), events.PublisherOptions{
		PublishEnveloped: cfg.PublishEnvelopedEvents,
	})
	if err != nil {
		shutdowns.Run()
		return fmt.Errorf("publisher: %w", err)
	}
	shutdowns.Add("publisher", shutdown.CloseErr(publisher))

	notifier := notify.NewAsync(publisher, cfg.NotifyQueueSize, cfg.NotifyTimeout, logger.Named("notify"), m)
	shutdowns.Add("notifier", notifier.Close)

	// --- stock ---
	svc := stock.NewService(
		stock.NewPostgresStore(pool, cfg.LockTimeout),
		stock.NewPostgresDirectory(pool),
		notifier,
		stock.WithLogger(logger.Named("stock")),
		stock.WithMetrics(m),
		stock.WithLocation(loc),
	)

	stopConsumers, err := events.StartStockConsumers(ctx, conn, svc, svc, events.ConsumerOptions{
		ConsumeEnveloped: cfg.ConsumeEnvelopedEvents,
	}, logger.Named("consumer"))
	if err != nil {
		shutdowns.Run()
		return fmt.Errorf("start consumers: %w", err)
	}
	shutdowns.Add("consumers", func(context.Context) error {
		cancel(errShuttingDown)
		stopConsumers()
		return nil
	})

	// --- HTTP ---
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(httpapi.NewHandler(svc, logger.Named("http")), reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	shutdowns.Add("http", shutdown.ShutdownHTTPServer(httpServer))

	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cancel(fmt.Errorf("http server: %w", err))
		}
	}()

	logger.Info("menu stock service started",
		zap.String("operating_timezone", loc.String()),
		zap.Duration("lock_timeout", cfg.LockTimeout),
		zap.Bool("publish_enveloped", cfg.PublishEnvelopedEvents))

	shutdowns.Wait(ctx)
	if err := context.Cause(ctx); err != nil && !errors.Is(err, errShuttingDown) {
		return err
	}
	return nil
}
