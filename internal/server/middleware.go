package server

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"pong-server/internal/match"
)

// RateLimiter implements per-connection rate limiting using a sliding window.
type RateLimiter struct {
	maxRequests int                    // Maximum requests allowed per window
	window      time.Duration          // Time window for rate limiting
	requests    map[string][]time.Time // connectionID -> timestamps of recent requests
	mu          sync.Mutex
}

// NewRateLimiter creates a limiter allowing maxRequests per window for each
// connection.
func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		requests:    make(map[string][]time.Time),
	}
}

// Allow reports whether connectionID may send another message now.
func (r *RateLimiter) Allow(connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	// Drop timestamps that fell out of the window
	timestamps := r.requests[connectionID]
	valid := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}

	if len(valid) >= r.maxRequests {
		r.requests[connectionID] = valid
		return false
	}

	r.requests[connectionID] = append(valid, now)
	return true
}

// Cleanup forgets connections with no request inside the current window.
func (r *RateLimiter) Cleanup() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.window)
	removed := 0
	for connID, timestamps := range r.requests {
		if !slices.ContainsFunc(timestamps, func(ts time.Time) bool { return ts.After(cutoff) }) {
			delete(r.requests, connID)
			removed++
		}
	}
	return removed
}

// RemoveConnection immediately removes rate limit data for a connection.
func (r *RateLimiter) RemoveConnection(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.requests, connectionID)
}

// ConnectionHealth tracks the last inbound message time of each connection.
type ConnectionHealth struct {
	lastActivity map[string]time.Time // connectionID -> last message time
	mu           sync.RWMutex
}

func NewConnectionHealth() *ConnectionHealth {
	return &ConnectionHealth{
		lastActivity: make(map[string]time.Time),
	}
}

// UpdateActivity records that a connection is active.
func (h *ConnectionHealth) UpdateActivity(connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastActivity[connectionID] = time.Now()
}

// GetInactiveConnections returns all connections idle for longer than
// timeout. Idle connections are reported, never closed.
func (h *ConnectionHealth) GetInactiveConnections(timeout time.Duration) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	inactive := make([]string, 0)
	now := time.Now()
	for connID, last := range h.lastActivity {
		if now.Sub(last) > timeout {
			inactive = append(inactive, connID)
		}
	}
	return inactive
}

// RemoveConnection stops tracking a connection.
func (h *ConnectionHealth) RemoveConnection(connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.lastActivity, connectionID)
}

var phaseMessageTypes = map[match.Phase][]string{
	match.PhaseMatchmaking: {
		"ping",
		"search",
		"cancel",
		"invite",
		"accept",
		"refuse",
		"spectate",
		"leave",
	},
	match.PhaseGame: {
		"ping",
		"ready",
		"throwBall",
		"playerPosition",
		"ballClientPosition",
		"scored",
		"leave",
	},
}

// ValidateMessageType checks the message type against the whitelist of the
// endpoint the connection came in on.
func ValidateMessageType(phase match.Phase, msgType string) error {
	if msgType == "" {
		return &match.Error{Code: CodeInvalidMessageType, Message: "message type is required"}
	}
	if !slices.Contains(phaseMessageTypes[phase], msgType) {
		return &match.Error{
			Code:    CodeInvalidMessageType,
			Message: fmt.Sprintf("unknown message type %q on %s endpoint", msgType, phase),
		}
	}
	return nil
}
