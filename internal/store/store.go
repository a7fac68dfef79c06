// Package store persists presence, match results and per-player statistics.
// Postgres is the production backend; Memory serves local runs and tests.
package store

import (
	"context"
	"time"

	"pong-server/internal/match"
)

type Status string

const (
	StatusOffline Status = "offline"
	StatusOnline  Status = "online"
	StatusInGame  Status = "in_game"
)

type Presence struct {
	UserID      int64     `json:"userId"`
	Connections int       `json:"connections"`
	Status      Status    `json:"status"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type PlayerStats struct {
	UserID      int64 `json:"userId"`
	Wins        int   `json:"wins"`
	Losses      int   `json:"losses"`
	GamesPlayed int   `json:"gamesPlayed"`
}

// Store is everything the server needs from persistence.
type Store interface {
	match.Presence
	match.ResultRecorder

	PresenceOf(ctx context.Context, userID int64) (Presence, error)
	PlayerStats(ctx context.Context, userID int64) (PlayerStats, error)
	Health(ctx context.Context) error
	Close()
}

// outcome reports how a result counts for userID: won, lost, or neither
// (no winner recorded).
func outcome(r match.Result, userID int64) (win, loss int) {
	switch r.Winner {
	case 0:
		return 0, 0
	case userID:
		return 1, 0
	default:
		return 0, 1
	}
}
