package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"pong-server/internal/config"
	"pong-server/internal/match"
	"pong-server/internal/physics"
	"pong-server/internal/store"
)

// inactiveAfter is how long a connection may stay silent before it is
// reported as idle on /health.
const inactiveAfter = 2 * time.Minute

// Deps are the collaborators built by main.
type Deps struct {
	Identity match.IdentityResolver
	Store    store.Store
	// Results defaults to Store. main wraps it to publish results as well.
	Results match.ResultRecorder
	Logger  *slog.Logger
}

type Server struct {
	cfg               config.Config
	store             store.Store
	manager           *match.Manager
	engine            *physics.Engine
	connectionManager *ConnectionManager
	rateLimiter       *RateLimiter
	health            *ConnectionHealth
	logger            *slog.Logger
	startedAt         time.Time

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewServer(cfg config.Config, deps Deps) (*Server, *http.Server) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	results := deps.Results
	if results == nil {
		results = deps.Store
	}

	engine := physics.NewEngine(physics.Config{
		SimTick:  cfg.SimTick,
		SyncTick: cfg.SyncTick,
		Speed:    cfg.BallSpeed,
		Field:    physics.DefaultField,
	}, logger.With("component", "physics"))

	manager := match.NewManager(match.Deps{
		Identity: deps.Identity,
		Presence: deps.Store,
		Results:  results,
		Sim:      engine,
		Logger:   logger.With("component", "match"),
		WinScore: cfg.WinScore,
	})

	s := &Server{
		cfg:               cfg,
		store:             deps.Store,
		manager:           manager,
		engine:            engine,
		connectionManager: NewConnectionManager(),
		rateLimiter:       NewRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow),
		health:            NewConnectionHealth(),
		logger:            logger,
		startedAt:         time.Now(),
		done:              make(chan struct{}),
	}

	// Start background tasks
	s.wg.Add(2)
	go s.pumpSync()
	go s.cleanupTask()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s, server
}

// pumpSync forwards simulation snapshots to the sessions they belong to.
func (s *Server) pumpSync() {
	defer s.wg.Done()
	updates := s.engine.Updates()
	for {
		select {
		case u := <-updates:
			s.manager.SyncBall(u)
		case <-s.done:
			return
		}
	}
}

// cleanupTask prunes rate limiter state and reports idle connections once
// a minute.
func (s *Server) cleanupTask() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed := s.rateLimiter.Cleanup()
			inactive := s.health.GetInactiveConnections(inactiveAfter)
			if removed > 0 || len(inactive) > 0 {
				s.logger.Debug("cleanup task", "rate_limit_pruned", removed, "inactive", len(inactive))
			}
		case <-s.done:
			return
		}
	}
}

// Shutdown finishes every live session, so results are recorded, closes
// all websockets and stops the simulation loops. The store is closed by
// the caller.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.done) })
	s.manager.Shutdown(ctx)
	s.connectionManager.CloseAll("server shutting down")
	s.engine.Close()

	stopped := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for background tasks: %w", ctx.Err())
	}
}
