package match

import (
	"context"
	"time"

	"pong-server/internal/physics"
)

// MarkReady flags a player as ready. The second flag launches the session
// and starts its simulation. A spectator, or a player readying again after
// launch, is sent its launch payload without touching session state.
func (m *Manager) MarkReady(connID string) error {
	return m.do(func(fx *effects) error {
		c, err := m.clientLocked(connID)
		if err != nil {
			return err
		}
		s, err := m.liveSessionLocked(c)
		if err != nil {
			return err
		}
		if c.Spectating {
			c.send(EventLaunch, LaunchPayload{Role: RoleSpectate, Map: c.Prefs.Map, Difficulty: c.Prefs.Difficulty})
			return nil
		}
		seat := s.seat(c.Identity.ID)
		if seat < 0 {
			return ErrForbidden
		}
		if s.State != AwaitingReady {
			c.send(EventLaunch, s.launchPayload(seat))
			return nil
		}
		if !s.markReady(seat) {
			return nil
		}

		for i, p := range s.Players {
			p.InGame = true
			p.send(EventLaunch, s.launchPayload(i))
			userID := p.Identity.ID
			fx.add("presence.in_game", userID, func(ctx context.Context) error {
				return m.presence.MarkInGame(ctx, userID)
			})
		}
		s.simSerial = m.sim.Start(uint64(s.ID))
		m.logger.Info("session launched", "session_id", s.ID)
		return nil
	})
}

func (s *Session) launchPayload(seat int) LaunchPayload {
	return LaunchPayload{Role: playerRole(seat), Map: s.Prefs.Map, Difficulty: s.Prefs.Difficulty}
}

// playerSessionLocked resolves the session of a player. Spectators are
// refused.
func (m *Manager) playerSessionLocked(connID string) (*Session, int, error) {
	c, err := m.clientLocked(connID)
	if err != nil {
		return nil, 0, err
	}
	s, err := m.liveSessionLocked(c)
	if err != nil {
		return nil, 0, err
	}
	seat := s.seat(c.Identity.ID)
	if c.Spectating || seat < 0 {
		return nil, 0, ErrForbidden
	}
	return s, seat, nil
}

// ThrowBall serves. Only player 1 serves, and only between sets.
func (m *Manager) ThrowBall(connID string) error {
	return m.do(func(fx *effects) error {
		s, seat, err := m.playerSessionLocked(connID)
		if err != nil {
			return err
		}
		if seat != 0 {
			return ErrForbidden
		}
		if err := s.serve(); err != nil {
			return err
		}
		m.sim.Throw(uint64(s.ID))
		for _, p := range s.Players {
			p.send(EventStartGame, nil)
		}
		m.logger.Debug("ball served", "session_id", s.ID, "score1", s.Score[0], "score2", s.Score[1])
		return nil
	})
}

// ReportPlayerPosition relays a paddle offset to the opponent and the
// spectators, and hands it to the simulation.
func (m *Manager) ReportPlayerPosition(connID string, offset float64) error {
	if !physics.IsFinite(offset) {
		return ErrInvalidValue
	}
	return m.do(func(fx *effects) error {
		s, seat, err := m.playerSessionLocked(connID)
		if err != nil {
			return err
		}
		s.Paddles[seat] = offset
		if s.State != AwaitingReady {
			m.sim.SetPaddle(uint64(s.ID), physics.Side(seat), offset)
		}
		s.opponent(seat).send(EventSetPlayerPos, offset)
		s.toSpectators(EventPaddlePosition, PaddlePayload{Side: seat + 1, Position: offset})
		return nil
	})
}

// ReportBallPosition relays a client-side ball position onward.
func (m *Manager) ReportBallPosition(connID string, pos physics.Vec2) error {
	if !pos.IsFinite() {
		return ErrInvalidValue
	}
	return m.do(func(fx *effects) error {
		s, seat, err := m.playerSessionLocked(connID)
		if err != nil {
			return err
		}
		s.Ball = pos
		s.opponent(seat).send(EventBallPosition, pos)
		s.toSpectators(EventBallPosition, pos)
		return nil
	})
}

// ReportScore credits the point to side (1 or 2). Only the first report of
// a set counts. Reaching the win score finishes the session.
func (m *Manager) ReportScore(connID string, side int) error {
	if side != 1 && side != 2 {
		return ErrInvalidValue
	}
	return m.do(func(fx *effects) error {
		s, _, err := m.playerSessionLocked(connID)
		if err != nil {
			return err
		}
		seat := side - 1
		if err := s.score(seat); err != nil {
			return err
		}
		m.sim.Reset(uint64(s.ID))
		s.broadcast(EventUpdateScore, s.scores())
		m.logger.Info("point scored", "session_id", s.ID, "score1", s.Score[0], "score2", s.Score[1])

		if s.Score[seat] >= m.winScore {
			m.finishLocked(s, fx)
		}
		return nil
	})
}

// SyncBall fans a simulation snapshot out to everyone in the session.
// Snapshots from a loop other than the session's current one, or arriving
// outside an active set, are dropped.
func (m *Manager) SyncBall(u physics.Sync) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.sessions[SessionID(u.Session)]
	if s == nil || s.simSerial != u.Serial || s.State != SetActive {
		return
	}
	s.Ball, s.Dir = u.Ball, u.Dir
	s.broadcast(EventBallServerPosition, BallPayload{Position: u.Ball, Direction: u.Dir})
}

// AddSpectator attaches the client to the session targetID is playing in.
func (m *Manager) AddSpectator(connID string, targetID int64) error {
	return m.do(func(fx *effects) error {
		c, err := m.clientLocked(connID)
		if err != nil {
			return err
		}
		t := m.byUser[targetID]
		if c.Spectating && t != nil && c.SessionID == t.SessionID {
			return ErrAlreadyWatching
		}
		if c.SessionID != 0 {
			return ErrDuplicateSession
		}
		if t == nil || t.SessionID == 0 || t.Spectating {
			return ErrTargetNotInGame
		}
		s := m.sessions[t.SessionID]
		if s == nil {
			return ErrTargetNotInGame
		}
		if _, ok := s.Spectators[c.Identity.ID]; ok {
			return ErrAlreadyWatching
		}

		m.removeFromPoolLocked(c)
		c.SessionID = s.ID
		c.Spectating = true
		c.Prefs = t.Prefs
		s.Spectators[c.Identity.ID] = c
		c.send(EventFound, FoundPayload{
			SessionID:    s.ID,
			Role:         RoleSpectate,
			OpponentID:   t.Identity.ID,
			OpponentName: t.Identity.DisplayName,
			Map:          c.Prefs.Map,
			Difficulty:   c.Prefs.Difficulty,
		})
		m.logger.Info("spectator attached", "session_id", s.ID, "user_id", c.Identity.ID)
		return nil
	})
}

// RemoveSpectator detaches a spectator at its own request.
func (m *Manager) RemoveSpectator(connID string) error {
	return m.do(func(fx *effects) error {
		c, err := m.clientLocked(connID)
		if err != nil {
			return err
		}
		if !c.Spectating {
			return ErrNotInSession
		}
		s := m.sessions[c.SessionID]
		if s == nil {
			c.release()
			return ErrSessionNotFound
		}
		m.dropSpectatorLocked(s, c)
		c.send(EventDisconnectInGame, nil)
		return nil
	})
}

func (m *Manager) dropSpectatorLocked(s *Session, c *Client) {
	delete(s.Spectators, c.Identity.ID)
	c.release()
	m.logger.Info("spectator detached", "session_id", s.ID, "user_id", c.Identity.ID)
}

// finishLocked ends s: the simulation is stopped, every member is told the
// result and detached, and the result plus idle marks are queued on fx. A
// session that already left the registry is not finished again.
func (m *Manager) finishLocked(s *Session, fx *effects) {
	if s.State == Finished || m.sessions[s.ID] != s {
		return
	}
	delete(m.sessions, s.ID)
	s.State = Finished
	m.sim.End(uint64(s.ID))

	res := s.result(time.Now())
	for _, c := range s.members() {
		event := EventDisconnectInGame
		if c.phase == PhaseMatchmaking {
			event = EventDisconnectInMatchmaking
		}
		c.send(event, res)
		c.release()
		if c.peer != nil {
			c.peer.Close("game over")
		} else {
			delete(m.byUser, c.Identity.ID)
		}
	}
	clear(s.Spectators)

	fx.add("results.record", res.Winner, func(ctx context.Context) error {
		return m.results.RecordMatchResult(ctx, res)
	})
	for _, userID := range res.Players {
		fx.add("presence.idle", userID, func(ctx context.Context) error {
			return m.presence.MarkIdle(ctx, userID)
		})
	}
	m.logger.Info("session finished", "session_id", s.ID, "winner", res.Winner,
		"score1", res.Scores[0], "score2", res.Scores[1], "forfeit", res.Forfeit)
}
