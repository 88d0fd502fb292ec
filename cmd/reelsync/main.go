package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"reelgraph/internal/backend"
	"reelgraph/internal/collab"
	"reelgraph/internal/config"
	"reelgraph/internal/engine"
	"reelgraph/internal/handler"
	"reelgraph/internal/hub"
	"reelgraph/internal/jobs"
	"reelgraph/internal/logging"
	"reelgraph/internal/repository/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "reelsync: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Command line flags override the config file and environment
	addr := flag.String("addr", "", "Observer API listen address")
	project := flag.String("project", "", "Project ID to sync")
	noServer := flag.Bool("no-server", false, "Disable the observer API")
	flag.Parse()

	cfg, cfgPath, err := config.Load()
	if err != nil {
		return err
	}
	if *project != "" {
		cfg.ProjectID = *project
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *noServer {
		cfg.Server.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, closeLog, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()

	log := logger.With().Str("component", "main").Logger()
	log.Info().Str("config", cfgPath).Msg("Starting reelsync")
	log.Debug().Msg(cfg.Summary())

	client := backend.New(backend.Config{
		BaseURL:   cfg.Backend.URL,
		Token:     cfg.Backend.Token,
		ProjectID: cfg.ProjectID,
		Timeout:   cfg.Backend.Timeout.Duration(),
		Logger:    logger,
	})
	defer client.Close()

	opts := engine.Options{
		ProjectID:        cfg.ProjectID,
		Logger:           logger,
		PositionDebounce: cfg.Graph.PositionDebounce.Duration(),
		JobTiming: jobs.Timing{
			FirstPoll:      cfg.Jobs.FirstPoll.Duration(),
			PollInterval:   cfg.Jobs.PollInterval.Duration(),
			ErrorBackoff:   cfg.Jobs.ErrorBackoff.Duration(),
			RequestTimeout: cfg.Backend.Timeout.Duration(),
		},
		LoadTimeout: cfg.Backend.Timeout.Duration(),
	}
	if cfg.Collab.Enabled {
		opts.Collaboration = &collab.Config{
			URL:            cfg.Collab.URL,
			Token:          cfg.Backend.Token,
			PingInterval:   cfg.Collab.PingInterval.Duration(),
			CursorInterval: cfg.Collab.CursorInterval.Duration(),
			ReconnectDelay: cfg.Collab.ReconnectDelay.Duration(),
			MaxReconnects:  cfg.Collab.MaxReconnects,
		}
	}
	if cfg.Cache.Enabled {
		if err := config.EnsureDir(cfg.Cache.Path); err != nil {
			return fmt.Errorf("create cache dir: %w", err)
		}
		repo, err := sqlite.New(cfg.Cache.Path)
		if err != nil {
			return fmt.Errorf("open snapshot cache: %w", err)
		}
		defer repo.Close()
		opts.Cache = repo
		log.Info().Str("path", cfg.Cache.Path).Msg("Snapshot cache opened")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng := engine.New(client, opts)
	if err := eng.Start(ctx); err != nil {
		eng.Close()
		return err
	}
	defer eng.Close()

	if !cfg.Server.Enabled {
		<-ctx.Done()
		log.Info().Msg("Shutting down")
		return nil
	}
	return serve(ctx, cfg.Server.Addr, eng, logger)
}

// serve runs the observer API until ctx is cancelled
func serve(ctx context.Context, addr string, eng *engine.Engine, logger zerolog.Logger) error {
	log := logger.With().Str("component", "main").Logger()

	sseHub := hub.New(logger, func() any { return eng.Store().Snapshot() })
	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go sseHub.Run(hubCtx)

	events, unsubscribe := eng.Store().Subscribe(256)
	defer unsubscribe()
	go sseHub.Forward(hubCtx, events)

	router := handler.NewRouter(handler.NewGraphHandler(eng, logger), sseHub, logger)
	server := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: /events streams for the life of the connection
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Observer API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("observer API: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	// Streams only end when the hub closes them
	hubCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Server shutdown error")
	}
	log.Info().Msg("Server stopped")
	return nil
}
