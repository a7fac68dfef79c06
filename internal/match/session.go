package match

import (
	"time"

	"pong-server/internal/physics"
)

type SessionState int

const (
	AwaitingReady SessionState = iota
	Launched
	SetIdle
	SetActive
	Finished
)

func (s SessionState) String() string {
	switch s {
	case AwaitingReady:
		return "awaiting_ready"
	case Launched:
		return "launched"
	case SetIdle:
		return "set_idle"
	case SetActive:
		return "set_active"
	case Finished:
		return "finished"
	}
	return "unknown"
}

// Session is one match between two clients. While it sits in the invite
// registry it is a pending invite; Players[0] is always the inviter or the
// player who was waiting in the pool, and is the one who serves.
//
// All fields are guarded by the Manager's lock.
type Session struct {
	ID         SessionID
	Players    [2]*Client
	Prefs      Preferences
	Ready      [2]bool
	Score      [2]int
	State      SessionState
	Spectators map[int64]*Client
	CreatedAt  time.Time

	// Last positions seen, from the simulation or relayed by players.
	Ball    physics.Vec2
	Dir     physics.Vec2
	Paddles [2]float64

	lost      [2]bool
	simSerial uint64
}

func newSession(p1, p2 *Client, prefs Preferences) *Session {
	return &Session{
		ID:         Combine(p1.Identity.ID, p2.Identity.ID),
		Players:    [2]*Client{p1, p2},
		Prefs:      prefs,
		State:      AwaitingReady,
		Spectators: make(map[int64]*Client),
		CreatedAt:  time.Now(),
	}
}

// seat returns 0 or 1 for a player, -1 for anyone else.
func (s *Session) seat(userID int64) int {
	for i, p := range s.Players {
		if p.Identity.ID == userID {
			return i
		}
	}
	return -1
}

func (s *Session) opponent(seat int) *Client {
	return s.Players[1-seat]
}

// markReady sets a ready flag and reports whether this call launched the
// session. Repeated calls by the same player are no-ops.
func (s *Session) markReady(seat int) bool {
	if s.State != AwaitingReady {
		return false
	}
	s.Ready[seat] = true
	if s.Ready[0] && s.Ready[1] {
		s.State = Launched
		return true
	}
	return false
}

func (s *Session) serve() error {
	if s.State != Launched && s.State != SetIdle {
		return ErrInvalidState
	}
	s.State = SetActive
	return nil
}

// score credits a point and ends the set. Only one report per set counts.
func (s *Session) score(seat int) error {
	if s.State != SetActive {
		return ErrInvalidState
	}
	s.Score[seat]++
	s.State = SetIdle
	return nil
}

func (s *Session) scores() ScorePayload {
	return ScorePayload{Score1: s.Score[0], Score2: s.Score[1]}
}

func (s *Session) winner() int64 {
	switch {
	case s.lost[0] && !s.lost[1]:
		return s.Players[1].Identity.ID
	case s.lost[1] && !s.lost[0]:
		return s.Players[0].Identity.ID
	case s.Score[0] > s.Score[1]:
		return s.Players[0].Identity.ID
	case s.Score[1] > s.Score[0]:
		return s.Players[1].Identity.ID
	}
	return 0
}

func (s *Session) result(at time.Time) Result {
	return Result{
		SessionID:  s.ID,
		Players:    [2]int64{s.Players[0].Identity.ID, s.Players[1].Identity.ID},
		Winner:     s.winner(),
		Scores:     s.Score,
		Forfeit:    s.lost[0] || s.lost[1],
		FinishedAt: at,
	}
}

// members returns players first, then spectators.
func (s *Session) members() []*Client {
	out := make([]*Client, 0, 2+len(s.Spectators))
	out = append(out, s.Players[0], s.Players[1])
	for _, c := range s.Spectators {
		out = append(out, c)
	}
	return out
}

func (s *Session) broadcast(event string, payload any) {
	for _, c := range s.members() {
		c.send(event, payload)
	}
}

func (s *Session) toSpectators(event string, payload any) {
	for _, c := range s.Spectators {
		c.send(event, payload)
	}
}

// SessionInfo is a read-only copy of a session for callers outside the
// Manager's lock.
type SessionInfo struct {
	ID         SessionID
	Pending    bool
	Players    [2]int64
	Ready      [2]bool
	Score      [2]int
	State      SessionState
	Spectators []int64
	Prefs      Preferences

	// Last positions seen, for a client catching up mid-game.
	Ball    physics.Vec2
	Dir     physics.Vec2
	Paddles [2]float64
}

func (s *Session) info(pending bool) SessionInfo {
	info := SessionInfo{
		ID:      s.ID,
		Pending: pending,
		Players: [2]int64{s.Players[0].Identity.ID, s.Players[1].Identity.ID},
		Ready:   s.Ready,
		Score:   s.Score,
		State:   s.State,
		Prefs:   s.Prefs,
		Ball:    s.Ball,
		Dir:     s.Dir,
		Paddles: s.Paddles,
	}
	for id := range s.Spectators {
		info.Spectators = append(info.Spectators, id)
	}
	return info
}
