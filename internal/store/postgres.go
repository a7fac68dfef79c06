package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"pong-server/internal/match"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Postgres{pool: pool, logger: logger}, nil
}

// Migrate applies pending migrations using goose.
func (p *Postgres) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(p.pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	p.logger.Info("database migrations applied", "version", version)
	return nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) Health(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Connected(ctx context.Context, userID int64) error {
	query := `
		INSERT INTO player_presence (user_id, connections, status, updated_at)
		VALUES ($1, 1, 'online', now())
		ON CONFLICT (user_id) DO UPDATE SET
			connections = player_presence.connections + 1,
			status = CASE WHEN player_presence.status = 'offline' THEN 'online' ELSE player_presence.status END,
			updated_at = now()
	`
	if _, err := p.pool.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to record connect for %d: %w", userID, err)
	}
	return nil
}

func (p *Postgres) Disconnected(ctx context.Context, userID int64) error {
	query := `
		UPDATE player_presence SET
			connections = GREATEST(connections - 1, 0),
			status = CASE WHEN connections <= 1 THEN 'offline' ELSE status END,
			updated_at = now()
		WHERE user_id = $1
	`
	if _, err := p.pool.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to record disconnect for %d: %w", userID, err)
	}
	return nil
}

func (p *Postgres) MarkInGame(ctx context.Context, userID int64) error {
	return p.setStatus(ctx, userID, `'in_game'`)
}

// MarkIdle returns the player to online, or offline when no connection is
// left.
func (p *Postgres) MarkIdle(ctx context.Context, userID int64) error {
	return p.setStatus(ctx, userID, `CASE WHEN player_presence.connections > 0 THEN 'online' ELSE 'offline' END`)
}

func (p *Postgres) setStatus(ctx context.Context, userID int64, expr string) error {
	query := `
		INSERT INTO player_presence (user_id, connections, status, updated_at)
		VALUES ($1, 0, 'offline', now())
		ON CONFLICT (user_id) DO UPDATE SET status = ` + expr + `, updated_at = now()
	`
	if _, err := p.pool.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to update status for %d: %w", userID, err)
	}
	return nil
}

// RecordMatchResult stores the result row and updates both players'
// statistics in one transaction.
func (p *Postgres) RecordMatchResult(ctx context.Context, r match.Result) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var winner *int64
	if r.Winner != 0 {
		winner = &r.Winner
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO match_results (session_id, player1, player2, winner, score1, score2, forfeit, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, int64(r.SessionID), r.Players[0], r.Players[1], winner, r.Scores[0], r.Scores[1], r.Forfeit, r.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to insert result for session %d: %w", r.SessionID, err)
	}

	for _, userID := range r.Players {
		win, loss := outcome(r, userID)
		_, err := tx.Exec(ctx, `
			INSERT INTO player_stats (user_id, wins, losses, games_played, updated_at)
			VALUES ($1, $2, $3, 1, now())
			ON CONFLICT (user_id) DO UPDATE SET
				wins = player_stats.wins + EXCLUDED.wins,
				losses = player_stats.losses + EXCLUDED.losses,
				games_played = player_stats.games_played + 1,
				updated_at = now()
		`, userID, win, loss)
		if err != nil {
			return fmt.Errorf("failed to update stats for %d: %w", userID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit result for session %d: %w", r.SessionID, err)
	}
	p.logger.Debug("match result stored", "session_id", r.SessionID, "winner", r.Winner)
	return nil
}

func (p *Postgres) PresenceOf(ctx context.Context, userID int64) (Presence, error) {
	pr := Presence{UserID: userID, Status: StatusOffline}
	err := p.pool.QueryRow(ctx,
		`SELECT connections, status, updated_at FROM player_presence WHERE user_id = $1`, userID,
	).Scan(&pr.Connections, &pr.Status, &pr.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return pr, nil
	}
	if err != nil {
		return Presence{}, fmt.Errorf("failed to load presence for %d: %w", userID, err)
	}
	return pr, nil
}

func (p *Postgres) PlayerStats(ctx context.Context, userID int64) (PlayerStats, error) {
	st := PlayerStats{UserID: userID}
	err := p.pool.QueryRow(ctx,
		`SELECT wins, losses, games_played FROM player_stats WHERE user_id = $1`, userID,
	).Scan(&st.Wins, &st.Losses, &st.GamesPlayed)
	if errors.Is(err, pgx.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return PlayerStats{}, fmt.Errorf("failed to load stats for %d: %w", userID, err)
	}
	return st, nil
}
