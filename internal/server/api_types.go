package server

import (
	"pong-server/internal/match"
	"pong-server/internal/store"
)

// Error codes raised by the transport itself. Everything else comes from
// the match package.
const (
	CodeRateLimited        = "RATE_LIMIT_EXCEEDED"
	CodeInvalidMessageType = "INVALID_MESSAGE_TYPE"
	CodeInternal           = "INTERNAL"
)

// Events emitted by the transport itself.
const (
	EventConnected = "connected"
	EventPong      = "pong"
	EventError     = "error"
)

// ============================================================================
// ERROR RESPONSES
// ============================================================================
// tygo:generate
type ErrorMessage struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ============================================================================
// CONNECTION (connected)
// ============================================================================
// tygo:generate
type ConnectedPayload struct {
	ConnectionID string `json:"connectionId"`
	UserID       int64  `json:"userId"`
	DisplayName  string `json:"displayName"`
	Phase        string `json:"phase"`
}

// ============================================================================
// MATCHMAKING (search, invite, spectate)
// ============================================================================
// tygo:generate
type SearchRequest struct {
	Map        *int `json:"map"`
	Difficulty *int `json:"difficulty"`
}

// tygo:generate
type InviteRequest struct {
	TargetID   int64 `json:"targetId"`
	Map        *int  `json:"map"`
	Difficulty *int  `json:"difficulty"`
}

// tygo:generate
type SpectateRequest struct {
	TargetID int64 `json:"targetId"`
}

// ============================================================================
// GAME (scored)
// ============================================================================
// tygo:generate
type ScoredRequest struct {
	Side int `json:"side"`
}

// ============================================================================
// HTTP
// ============================================================================
type HealthResponse struct {
	Status      string      `json:"status"`
	Store       string      `json:"store"`
	Uptime      string      `json:"uptime"`
	Connections int         `json:"connections"`
	Inactive    int         `json:"inactive"`
	Simulations int         `json:"simulations"`
	Matchmaking match.Stats `json:"matchmaking"`
}

type PlayerStatsResponse struct {
	Stats    store.PlayerStats `json:"stats"`
	Presence store.Presence    `json:"presence"`
}
