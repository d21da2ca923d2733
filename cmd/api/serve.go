package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/emilythestrangee/campusnet/backend/internal/auth"
	"github.com/emilythestrangee/campusnet/backend/internal/backend"
	"github.com/emilythestrangee/campusnet/backend/internal/cache"
	"github.com/emilythestrangee/campusnet/backend/internal/config"
	"github.com/emilythestrangee/campusnet/backend/internal/database"
	"github.com/emilythestrangee/campusnet/backend/internal/database/migrations"
	"github.com/emilythestrangee/campusnet/backend/internal/handlers"
	"github.com/emilythestrangee/campusnet/backend/internal/media"
	"github.com/emilythestrangee/campusnet/backend/internal/notify"
	"github.com/emilythestrangee/campusnet/backend/internal/observability"
	"github.com/emilythestrangee/campusnet/backend/internal/server"
	"github.com/emilythestrangee/campusnet/backend/internal/service"
)

const shutdownTimeout = 10 * time.Second

func serve(parent context.Context, cfg *config.Config, logger *slog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing {
		shutdownTracer, err := observability.InitTracer("campusnet-api", os.Stdout)
		if err != nil {
			return err
		}
		defer shutdownTracer(context.Background())
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	g, gctx := errgroup.WithContext(ctx)

	b, err := openBackend(gctx, g, cfg, logger)
	if err != nil {
		return err
	}
	defer b.closer()
	client := b.client

	c, err := cache.New(cfg.Cache.MaxEntries, cfg.Cache.TTL, cache.WithCounters(metrics.CacheHit, metrics.CacheMiss))
	if err != nil {
		return fmt.Errorf("failed to create cache: %w", err)
	}
	defer c.Close()

	services := service.New(client, c, logger)
	tokens := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	store, err := media.New(ctx, cfg.Media)
	if err != nil {
		return fmt.Errorf("failed to configure media storage: %w", err)
	}

	var sender notify.Sender = notify.LogSender{Logger: logger}
	if cfg.Twilio.Enabled() {
		sender = notify.NewTwilioSender(cfg.Twilio)
	}
	dispatcher := notify.NewDispatcher(client, services.Profiles, sender, metrics, logger)
	if err := dispatcher.Start(); err != nil {
		return err
	}
	g.Go(func() error { return dispatcher.Run(gctx) })

	h := handlers.NewHandler(handlers.Deps{
		Auth:     auth.NewService(client, c, tokens),
		Services: services,
		Client:   client,
		Media:    store,
		Metrics:  metrics,
		Logger:   logger,
	})
	srv := server.NewServer(server.Options{
		Config:   cfg,
		Handler:  h,
		Tokens:   tokens,
		Metrics:  metrics,
		Gatherer: reg,
		Health:   b.health,
		Logger:   logger,
	})

	g.Go(func() error {
		logger.Info("listening", "addr", srv.Addr, "backend", cfg.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server exited")
	return nil
}

// hubOptions gives every subscriber its own delivery queue, so a write
// returns before any subscriber has run.
func hubOptions(logger *slog.Logger) []backend.HubOption {
	return []backend.HubOption{backend.WithAsync(256), backend.WithLogger(logger)}
}

type openedBackend struct {
	client backend.Client
	health func(context.Context) map[string]string
	closer func()
}

// openBackend returns the configured data client. For postgres the change
// feed listener joins g.
func openBackend(ctx context.Context, g *errgroup.Group, cfg *config.Config, logger *slog.Logger) (*openedBackend, error) {
	switch cfg.Backend {
	case "memory":
		logger.Warn("using in-memory backend; data is lost on exit")
		mem := backend.NewMemory(hubOptions(logger)...)
		return &openedBackend{
			client: mem,
			health: func(context.Context) map[string]string {
				return map[string]string{"status": "up", "backend": "memory"}
			},
			closer: func() { mem.Close() },
		}, nil
	case "", "postgres":
	default:
		return nil, fmt.Errorf("unknown backend: %q", cfg.Backend)
	}

	db, err := database.New(cfg.Database, cfg.Env == "development")
	if err != nil {
		return nil, err
	}
	if cfg.Database.Migrate {
		sqlDB, err := db.GetDB().DB()
		if err != nil {
			db.Close()
			return nil, err
		}
		if err := migrations.Up(sqlDB); err != nil {
			db.Close()
			return nil, err
		}
		logger.Info("migrations applied")
	}

	hub := backend.NewHub(hubOptions(logger)...)
	store := database.NewStore(db.GetDB(), hub)
	listener := database.NewListener(cfg.Database.URL(), hub, store, logger)
	g.Go(func() error { return listener.Run(ctx) })

	return &openedBackend{
		client: store,
		health: db.Health,
		closer: func() {
			store.Close()
			if err := db.Close(); err != nil {
				logger.Error("failed to close database", "error", err)
			}
		},
	}, nil
}
