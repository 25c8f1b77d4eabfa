package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/JonMunkholm/facturas/internal/cache"
	"github.com/JonMunkholm/facturas/internal/config"
	"github.com/JonMunkholm/facturas/internal/core"
	"github.com/JonMunkholm/facturas/internal/logging"
	"github.com/JonMunkholm/facturas/internal/store/postgres"
	"github.com/JonMunkholm/facturas/internal/store/sqlstore"
	"github.com/JonMunkholm/facturas/internal/web"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	ctx := context.Background()
	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				slog.Warn("close failed", "error", err)
			}
		}
	}()

	var opts []core.Option

	history, err := openHistory(ctx, cfg.History)
	if err != nil {
		slog.Error("failed to open history store", "driver", cfg.History.Driver, "error", err)
		os.Exit(1)
	}
	if history != nil {
		closers = append(closers, history)
		opts = append(opts, core.WithHistory(history))
		slog.Info("history store ready", "driver", cfg.History.Driver)
	}

	if cfg.RedisEnabled() {
		pc, err := cache.New(ctx, cache.Options{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.SnapshotTTL,
		})
		if err != nil {
			slog.Error("failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
			os.Exit(1)
		}
		closers = append(closers, pc)
		opts = append(opts, core.WithProgressCache(pc))
		slog.Info("status cache ready", "addr", cfg.Redis.Addr)
	}

	service, err := core.NewService(core.ServiceConfig{
		Controller: core.ControllerConfig{
			PreviewCap: cfg.Ingest.PreviewCap,
			ErrorCap:   cfg.Ingest.ErrorCap,
		},
		Dispatch: core.DispatchConfig{
			Endpoint:    cfg.Dispatch.Endpoint,
			Concurrency: cfg.Dispatch.Concurrency,
			MaxRetries:  cfg.Dispatch.MaxRetries,
			Timeout:     cfg.Dispatch.Timeout,
			BackoffBase: cfg.Dispatch.BackoffBase,
			BackoffMax:  cfg.Dispatch.BackoffMax,
		},
		MaxConcurrentUploads: cfg.Upload.MaxConcurrent,
		UploadWaitTime:       cfg.Upload.MaxWaitTime,
		SessionTTL:           cfg.Session.TTL,
	}, opts...)
	if err != nil {
		slog.Error("failed to create service", "error", err)
		os.Exit(1)
	}
	if !service.UploadsEnabled() {
		slog.Warn("DISPATCH_ENDPOINT not set, running in review-only mode")
	}

	server, err := web.NewServer(service, cfg)
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	// Cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	go service.StartSessionJanitor(jobCtx, cfg.Session.SweepInterval)

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if status := service.LimiterStatus(); status.Active > 0 {
			slog.Info("waiting for uploads to complete", "active", status.Active)
			if err := service.WaitForUploads(shutdownCtx); err != nil {
				slog.Warn("uploads did not complete in time", "error", err)
			} else {
				slog.Info("all uploads completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		cancelJobs()
		return
	}
	<-done
}

// openHistory returns nil when the journal is disabled.
func openHistory(ctx context.Context, cfg config.HistoryConfig) (core.HistoryStore, error) {
	switch driver := strings.ToLower(cfg.Driver); driver {
	case "", "none":
		return nil, nil
	case "postgres":
		pool, err := postgres.Connect(ctx, cfg.DSN, cfg.MaxConns)
		if err != nil {
			return nil, err
		}
		store, err := postgres.New(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return store, nil
	default:
		store, err := sqlstore.New(driver, cfg.DSN, cfg.MaxConns)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}
