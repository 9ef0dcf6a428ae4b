// Package main is the entry point for the capsule service.
// It wires the capsule facade to the HTTP API, the archive and the Kafka relay.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"capsule-go/internal/api"
	"capsule-go/internal/archive"
	"capsule-go/internal/banner"
	"capsule-go/internal/capsule"
	"capsule-go/internal/config"
	kafkaqueue "capsule-go/internal/queue/kafka"
	"capsule-go/internal/relay"
	"capsule-go/internal/store"
	memorystor "capsule-go/internal/store/memory"
	postgresstor "capsule-go/internal/store/postgres"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "path to configuration file (optional)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration from %q: %v\n", *configPath, err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logger)
	banner.Print(os.Stdout, fmt.Sprintf("%s db %d", redact(cfg.Redis.URL), cfg.Redis.DBIndex()))

	logger.Info("configuration loaded",
		"path", *configPath,
		"environment", cfg.Environment,
		"db", cfg.Redis.DBIndex(),
	)

	// Create context that listens for shutdown signals
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	deps, cleanup, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize dependencies", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	// Start the relay ingester in background
	if deps.ingester != nil {
		go func() {
			if err := deps.ingester.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("relay ingester error", "error", err)
				cancel()
			}
		}()
	}

	// Start HTTP server
	go func() {
		if err := deps.server.Start(); err != nil {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	logger.Info("capsule started",
		"address", cfg.Server.Address(),
		"archive", cfg.Archive.Enabled,
		"relay", cfg.Relay.Enabled,
	)

	// Wait for shutdown signal
	<-ctx.Done()
	logger.Info("shutdown signal received")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout+cfg.Listener.PollTimeout)
	defer shutdownCancel()

	if err := deps.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	if deps.forwarder != nil {
		deps.forwarder.Stop()
	}

	if err := deps.capsule.Close(shutdownCtx); err != nil {
		logger.Error("capsule shutdown error", "error", err)
	}

	logger.Info("capsule stopped")
}

// dependencies holds all initialized service dependencies.
type dependencies struct {
	capsule   *capsule.Capsule
	server    *api.Server
	forwarder *relay.Forwarder
	ingester  *relay.Ingester
}

// initDependencies creates and wires all service dependencies based on config.
// Returns the dependencies and a cleanup function.
func initDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*dependencies, func(), error) {
	var cleanupFuncs []func()
	cleanup := func() {
		for i := len(cleanupFuncs) - 1; i >= 0; i-- {
			cleanupFuncs[i]()
		}
	}

	c := capsule.New(capsule.Options{
		URL:               cfg.Redis.URL,
		DB:                cfg.Redis.DBIndex(),
		DialTimeout:       cfg.Redis.DialTimeout,
		ReconnectBackoff:  cfg.Listener.ReconnectBackoff,
		PollTimeout:       cfg.Listener.PollTimeout,
		StopIdleListeners: cfg.Listener.StopIdle,
	}, logger)

	deps := &dependencies{capsule: c}

	// Initialize archive
	var recorder *archive.Recorder
	if cfg.Archive.Enabled {
		repo, closeRepo, err := initArchiveRepository(ctx, cfg, logger)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		cleanupFuncs = append(cleanupFuncs, closeRepo)

		recorder = archive.NewRecorder(repo, cfg.Archive.Backend, logger)
		if len(cfg.Archive.Channels) > 0 {
			if _, err := c.Subscribe(cfg.Archive.Channels, recorder.Handle); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("failed to subscribe archive: %w", err)
			}
			logger.Info("archive subscribed", "channels", cfg.Archive.Channels, "backend", cfg.Archive.Backend)
		}
	}

	// Initialize Kafka relay
	if cfg.Relay.Enabled {
		logger.Info("initializing kafka relay", "brokers", cfg.Kafka.Brokers)

		if len(cfg.Relay.Channels) > 0 {
			producer := kafkaqueue.NewProducer(&cfg.Kafka)
			cleanupFuncs = append(cleanupFuncs, func() { _ = producer.Close() })

			deps.forwarder = relay.NewForwarder(c, producer, logger)
			if err := deps.forwarder.Start(cfg.Relay.Channels); err != nil {
				cleanup()
				return nil, nil, err
			}
		}

		if cfg.Kafka.IngestTopic != "" {
			consumer := kafkaqueue.NewConsumer(&cfg.Kafka, logger)
			cleanupFuncs = append(cleanupFuncs, func() { _ = consumer.Close() })

			deps.ingester = relay.NewIngester(consumer, c, cfg.Relay.IngestChannel, logger)
		}
	}

	// Initialize HTTP server
	deps.server = api.NewServer(api.ServerDeps{
		Config:          &cfg.Server,
		Logger:          logger,
		ChannelHandler:  api.NewChannelHandler(c, recorder, logger),
		ListenerHandler: api.NewListenerHandler(c, logger),
		AccessLog:       cfg.Logger.Level == "debug",
	})

	return deps, cleanup, nil
}

// initArchiveRepository opens the configured archive backend.
func initArchiveRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.ArchiveRepository, func(), error) {
	if cfg.Archive.Backend == "memory" {
		logger.Info("initializing in-memory archive")
		repo := memorystor.NewArchiveRepository()
		return repo, func() { _ = repo.Close() }, nil
	}

	logger.Info("initializing postgres archive")
	db, err := postgresstor.NewDB(ctx, &cfg.Postgres)
	if err != nil {
		return nil, nil, err
	}

	// Run migrations
	if err := db.RunMigrations(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	logger.Info("database migrations completed")

	return postgresstor.NewArchiveRepository(db), db.Close, nil
}

// initLogger creates and configures the application logger.
func initLogger(cfg config.LoggerConfig) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// redact hides credentials in a store URL for display.
func redact(url string) string {
	return capsule.Endpoint{URL: url}.Redacted()
}
