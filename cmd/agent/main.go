package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/playperu/geoquest/internal/agent"
	"github.com/playperu/geoquest/internal/client"
	"github.com/playperu/geoquest/internal/clientstate"
	"github.com/playperu/geoquest/internal/config"
	"github.com/playperu/geoquest/internal/engine"
	"github.com/playperu/geoquest/internal/handler/health"
	"github.com/playperu/geoquest/internal/server"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.LoadAgent()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	// --- Store client ---
	store := client.New(cfg.StoreURL, &http.Client{Timeout: 15 * time.Second}, logger)

	// --- Engine ---
	local := engine.NewLocalStore()
	defer local.Close()

	hub := agent.NewHub(logger)
	session := engine.NewSession(engine.SessionConfig{
		GeofenceInterval: cfg.GeofenceInterval,
		FeedGrace:        cfg.FeedGrace,
		PollInterval:     cfg.PollInterval,
		MaxAccuracy:      cfg.MaxAccuracy,
		User:             cfg.PatchUser,
	}, local, store, store, nil, hub, logger)
	bulk := engine.NewBulkCoordinator(local, store, engine.ChunkSizes{
		Templates: cfg.TemplateChunk,
		Lists:     cfg.ListChunk,
		Games:     cfg.GameChunk,
	}, logger)

	a := agent.New(session, local, bulk, store, clientstate.New(cfg.StateFile), hub, logger)
	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("starting agent: %w", err)
	}

	// --- HTTP Server ---
	srv := server.New(cfg.Addr, logger, func(r chi.Router) {
		r.Mount("/healthz", health.NewHandler(logger, map[string]health.Checker{
			"store": health.CheckFunc(store.Ping),
		}).Routes())
		a.Mount(r)
	})

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting agent", "addr", cfg.Addr, "store", cfg.StoreURL)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		return session.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down agent")
		return srv.Shutdown(context.Background())
	})

	return g.Wait()
}
