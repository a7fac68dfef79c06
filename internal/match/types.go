package match

import (
	"context"
	"time"
)

// SessionID names the game between two identities. Zero means no session.
type SessionID uint64

// Combine derives the session id for a pair of identities. It is
// commutative so either side re-derives the same id, which also means a
// pair can never hold two sessions at once. Ids must fit in 32 bits.
func Combine(a, b int64) SessionID {
	lo, hi := uint64(a), uint64(b)
	if lo > hi {
		lo, hi = hi, lo
	}
	return SessionID(hi*hi + hi + lo)
}

// Identity is the externally resolved participant record.
type Identity struct {
	ID          int64
	DisplayName string
	Map         int
	Difficulty  int
}

type Preferences struct {
	Map        int `json:"map"`
	Difficulty int `json:"difficulty"`
}

func (p Preferences) validate() error {
	if p.Map < 0 || p.Difficulty < 0 {
		return ErrInvalidValue
	}
	return nil
}

// Phase tells which of the two connections a handle belongs to.
type Phase int

const (
	PhaseMatchmaking Phase = iota
	PhaseGame
)

func (p Phase) String() string {
	if p == PhaseGame {
		return "game"
	}
	return "matchmaking"
}

// Peer is a live connection. Send must not block; it queues the event for
// the connection's writer. Close flushes what was queued, then hangs up.
type Peer interface {
	ID() string
	Send(event string, payload any)
	Close(reason string)
}

// Client is one logical participant, kept across reconnects. The peer is
// swapped when a newer connection for the same identity registers.
type Client struct {
	Identity   Identity
	Prefs      Preferences
	InGame     bool
	Spectating bool
	SessionID  SessionID

	peer  Peer
	phase Phase
}

// Connected reports whether the client currently has a live connection.
func (c *Client) Connected() bool {
	return c.peer != nil
}

func (c *Client) send(event string, payload any) {
	if c.peer != nil {
		c.peer.Send(event, payload)
	}
}

func (c *Client) release() {
	c.SessionID = 0
	c.InGame = false
	c.Spectating = false
}

// IdentityResolver turns a session token into an identity.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, token string) (Identity, error)
}

// Presence tracks connection counts and play status for the user directory.
type Presence interface {
	Connected(ctx context.Context, userID int64) error
	Disconnected(ctx context.Context, userID int64) error
	MarkInGame(ctx context.Context, userID int64) error
	MarkIdle(ctx context.Context, userID int64) error
}

// ResultRecorder persists finished matches.
type ResultRecorder interface {
	RecordMatchResult(ctx context.Context, r Result) error
}

// Result is what a finished session reports. Winner is zero when neither
// player can be credited (both connections lost with level scores).
type Result struct {
	SessionID  SessionID `json:"sessionId"`
	Players    [2]int64  `json:"players"`
	Winner     int64     `json:"winner"`
	Scores     [2]int    `json:"scores"`
	Forfeit    bool      `json:"forfeit"`
	FinishedAt time.Time `json:"finishedAt"`
}
