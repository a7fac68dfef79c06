package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pong-server/internal/config"
	"pong-server/internal/feed"
	"pong-server/internal/identity"
	"pong-server/internal/match"
	"pong-server/internal/server"
	"pong-server/internal/store"
)

func gracefulShutdown(customServer *server.Server, httpServer *http.Server, logger *slog.Logger, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	logger.Info("shutdown signal received, press Ctrl+C again to force")
	stop() // Allow Ctrl+C to force shutdown

	// Live sessions are finished and their results written before exit
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := customServer.Shutdown(ctx); err != nil {
		logger.Error("error during custom shutdown", "err", err)
	}

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http server forced to shutdown", "err", err)
	}

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		return store.NewMemory(), nil
	}
	pg, err := store.Open(ctx, cfg.DatabaseURL, logger.With("component", "store"))
	if err != nil {
		return nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, err
	}
	return pg, nil
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	level, _ := cfg.Level()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	st, err := openStore(startCtx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	var results match.ResultRecorder = st
	if cfg.KafkaEnabled() {
		rec := feed.NewRecorder(st, feed.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic), logger.With("component", "feed"))
		defer func() {
			if err := rec.Close(); err != nil {
				logger.Error("failed to close result feed", "err", err)
			}
		}()
		results = rec
		logger.Info("publishing match results", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	customServer, httpServer := server.NewServer(cfg, server.Deps{
		Identity: identity.NewJWTResolver(cfg.JWTSecret),
		Store:    st,
		Results:  results,
		Logger:   logger,
	})

	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(customServer, httpServer, logger, done)

	logger.Info("listening", "addr", httpServer.Addr)
	err = httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server error: %w", err)
	}

	// Wait for the graceful shutdown to complete
	<-done
	logger.Info("graceful shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "err", err)
		os.Exit(1)
	}
}
