package match

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"pong-server/internal/physics"
)

// Simulator drives the ball for launched sessions. physics.Engine
// implements it.
type Simulator interface {
	Start(session uint64) uint64
	Throw(session uint64)
	SetPaddle(session uint64, side physics.Side, offset float64)
	Reset(session uint64)
	End(session uint64)
}

type Deps struct {
	Identity IdentityResolver
	Presence Presence
	Results  ResultRecorder
	Sim      Simulator
	Logger   *slog.Logger
	// WinScore is the first-to threshold. No margin is required.
	WinScore int
	// CallTimeout bounds each collaborator call made after a mutation.
	CallTimeout time.Duration
}

// Manager owns the client registry, the matchmaking pool, pending invites
// and live sessions. Every mutation runs under one lock; collaborator
// calls are collected while locked and made after the lock is released,
// batch by batch in the order the mutations happened. Peer.Send only
// queues, so notifications go out in mutation order too.
type Manager struct {
	identity    IdentityResolver
	presence    Presence
	results     ResultRecorder
	sim         Simulator
	logger      *slog.Logger
	winScore    int
	callTimeout time.Duration

	mu       sync.Mutex
	byConn   map[string]*Client
	byUser   map[int64]*Client
	pool     []*Client
	invites  map[SessionID]*Session
	sessions map[SessionID]*Session
	fxNext   uint64

	fxMu   sync.Mutex
	fxCond *sync.Cond
	fxDone uint64
}

func NewManager(d Deps) *Manager {
	m := &Manager{
		identity:    d.Identity,
		presence:    d.Presence,
		results:     d.Results,
		sim:         d.Sim,
		logger:      d.Logger,
		winScore:    d.WinScore,
		callTimeout: d.CallTimeout,
		byConn:      make(map[string]*Client),
		byUser:      make(map[int64]*Client),
		invites:     make(map[SessionID]*Session),
		sessions:    make(map[SessionID]*Session),
	}
	m.fxCond = sync.NewCond(&m.fxMu)
	if m.presence == nil {
		m.presence = nopPresence{}
	}
	if m.results == nil {
		m.results = nopResults{}
	}
	if m.sim == nil {
		m.sim = nopSim{}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.winScore <= 0 {
		m.winScore = 11
	}
	if m.callTimeout <= 0 {
		m.callTimeout = 5 * time.Second
	}
	return m
}

type effect struct {
	name   string
	userID int64
	fn     func(ctx context.Context) error
}

type effects []effect

func (fx *effects) add(name string, userID int64, fn func(ctx context.Context) error) {
	*fx = append(*fx, effect{name: name, userID: userID, fn: fn})
}

func (m *Manager) apply(ctx context.Context, fx effects) {
	for _, e := range fx {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.callTimeout)
		err := e.fn(callCtx)
		cancel()
		if err != nil {
			m.logger.Error("collaborator call failed", "event", e.name, "user_id", e.userID, "err", err)
		}
	}
}

// sequenceLocked stamps a batch with its position in mutation order. An
// empty batch takes no position.
func (m *Manager) sequenceLocked(fx effects) uint64 {
	if len(fx) == 0 {
		return 0
	}
	m.fxNext++
	return m.fxNext
}

// applyInOrder waits until every batch sequenced before seq has been
// applied, then applies fx.
func (m *Manager) applyInOrder(ctx context.Context, seq uint64, fx effects) {
	if seq == 0 {
		return
	}
	m.fxMu.Lock()
	for m.fxDone+1 != seq {
		m.fxCond.Wait()
	}
	m.fxMu.Unlock()

	defer func() {
		m.fxMu.Lock()
		m.fxDone = seq
		m.fxCond.Broadcast()
		m.fxMu.Unlock()
	}()
	m.apply(ctx, fx)
}

// do runs op as one critical section and then applies its effects.
func (m *Manager) do(op func(fx *effects) error) error {
	var fx effects
	m.mu.Lock()
	err := op(&fx)
	seq := m.sequenceLocked(fx)
	m.mu.Unlock()
	m.applyInOrder(context.Background(), seq, fx)
	return err
}

// Register resolves the token and binds peer to the identity's client
// record, creating it on first contact. A game-phase connection is only
// accepted for an identity attached to a live session. An older
// connection for the same identity is superseded and closed.
func (m *Manager) Register(ctx context.Context, peer Peer, token string, phase Phase) (Identity, error) {
	id, err := m.identity.ResolveIdentity(ctx, token)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrIdentityResolution, err)
	}

	var fx effects
	m.mu.Lock()
	c := m.byUser[id.ID]
	if phase == PhaseGame && (c == nil || m.sessions[c.SessionID] == nil) {
		m.mu.Unlock()
		return Identity{}, ErrNotInSession
	}
	if c == nil {
		c = &Client{
			Identity: id,
			Prefs:    Preferences{Map: id.Map, Difficulty: id.Difficulty},
		}
		m.byUser[id.ID] = c
	} else {
		c.Identity.DisplayName = id.DisplayName
	}
	// A spectator kept for its game connection came back to matchmaking
	// instead; it is no longer watching.
	if phase == PhaseMatchmaking && c.peer == nil && c.Spectating {
		if s := m.sessions[c.SessionID]; s != nil {
			m.dropSpectatorLocked(s, c)
		} else {
			c.release()
		}
	}
	if old := c.peer; old != nil && old.ID() != peer.ID() {
		delete(m.byConn, old.ID())
		if c.phase == phase {
			old.Send(EventDisconnectedElsewhere, nil)
		}
		old.Close("superseded by a newer connection")
		fx.add("presence.disconnected", id.ID, func(ctx context.Context) error {
			return m.presence.Disconnected(ctx, id.ID)
		})
	}
	c.peer = peer
	c.phase = phase
	m.byConn[peer.ID()] = c
	fx.add("presence.connected", id.ID, func(ctx context.Context) error {
		return m.presence.Connected(ctx, id.ID)
	})
	seq := m.sequenceLocked(fx)
	m.mu.Unlock()

	m.applyInOrder(ctx, seq, fx)
	m.logger.Info("client registered", "user_id", id.ID, "connection_id", peer.ID(), "phase", phase.String())
	return id, nil
}

// Unregister forgets a connection handle. Whatever the client was doing
// is wound down: it leaves the pool, a pending invite is cancelled for
// both parties, and a lost player connection finishes the session. A
// matchmaking connection attached to a session that has not launched is
// kept, without a handle, so the game connection can pick it up.
func (m *Manager) Unregister(connID string) {
	m.do(func(fx *effects) error {
		c := m.byConn[connID]
		if c == nil {
			return nil
		}
		delete(m.byConn, connID)
		c.peer = nil
		userID := c.Identity.ID
		fx.add("presence.disconnected", userID, func(ctx context.Context) error {
			return m.presence.Disconnected(ctx, userID)
		})

		m.removeFromPoolLocked(c)
		keep := false
		if c.SessionID != 0 {
			if inv := m.invites[c.SessionID]; inv != nil {
				m.closeInviteLocked(inv, c, EventInviteCancelled)
			} else if s := m.sessions[c.SessionID]; s != nil {
				seat := s.seat(userID)
				switch {
				case c.phase == PhaseMatchmaking && (seat < 0 || s.State == AwaitingReady):
					keep = true
				case seat < 0:
					m.dropSpectatorLocked(s, c)
				default:
					s.lost[seat] = true
					m.finishLocked(s, fx)
				}
			} else {
				c.release()
			}
		}
		if !keep {
			delete(m.byUser, userID)
		}
		m.logger.Info("client unregistered", "user_id", userID, "connection_id", connID, "kept", keep)
		return nil
	})
}

func (m *Manager) clientLocked(connID string) (*Client, error) {
	c := m.byConn[connID]
	if c == nil {
		return nil, ErrNotRegistered
	}
	return c, nil
}

// liveSessionLocked returns the launched-or-awaiting session a client is
// attached to.
func (m *Manager) liveSessionLocked(c *Client) (*Session, error) {
	if c.SessionID == 0 {
		return nil, ErrNotInSession
	}
	if s := m.sessions[c.SessionID]; s != nil {
		return s, nil
	}
	if m.invites[c.SessionID] != nil {
		return nil, ErrInvalidState
	}
	return nil, ErrSessionNotFound
}

func (m *Manager) removeFromPoolLocked(c *Client) bool {
	i := slices.Index(m.pool, c)
	if i < 0 {
		return false
	}
	m.pool = slices.Delete(m.pool, i, i+1)
	return true
}

// Client returns a copy of the record held for userID.
func (m *Manager) Client(userID int64) (Client, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byUser[userID]
	if !ok {
		return Client{}, false
	}
	return *c, true
}

// Session returns a copy of a live session or pending invite.
func (m *Manager) Session(id SessionID) (SessionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s.info(false), true
	}
	if s, ok := m.invites[id]; ok {
		return s.info(true), true
	}
	return SessionInfo{}, false
}

type Stats struct {
	Clients     int `json:"clients"`
	Connections int `json:"connections"`
	Searching   int `json:"searching"`
	Invites     int `json:"invites"`
	Sessions    int `json:"sessions"`
	Spectators  int `json:"spectators"`
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Stats{
		Clients:     len(m.byUser),
		Connections: len(m.byConn),
		Searching:   len(m.pool),
		Invites:     len(m.invites),
		Sessions:    len(m.sessions),
	}
	for _, s := range m.sessions {
		st.Spectators += len(s.Spectators)
	}
	return st
}

// Shutdown cancels pending invites and finishes every live session so
// results are recorded before the process exits.
func (m *Manager) Shutdown(ctx context.Context) {
	var fx effects
	m.mu.Lock()
	for _, inv := range m.invites {
		m.closeInviteLocked(inv, nil, EventInviteCancelled)
	}
	finished := 0
	for _, s := range m.sessions {
		m.finishLocked(s, &fx)
		finished++
	}
	m.pool = nil
	seq := m.sequenceLocked(fx)
	m.mu.Unlock()

	m.applyInOrder(ctx, seq, fx)
	m.logger.Info("matchmaking shut down", "sessions_finished", finished)
}

type nopPresence struct{}

func (nopPresence) Connected(context.Context, int64) error { return nil }
func (nopPresence) Disconnected(context.Context, int64) error { return nil }
func (nopPresence) MarkInGame(context.Context, int64) error { return nil }
func (nopPresence) MarkIdle(context.Context, int64) error { return nil }

type nopResults struct{}

func (nopResults) RecordMatchResult(context.Context, Result) error { return nil }

type nopSim struct{}

func (nopSim) Start(uint64) uint64 { return 0 }
func (nopSim) Throw(uint64) {}
func (nopSim) SetPaddle(uint64, physics.Side, float64) {}
func (nopSim) Reset(uint64) {}
func (nopSim) End(uint64) {}
