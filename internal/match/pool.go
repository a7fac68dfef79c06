package match

import "slices"

// Search records prefs and pairs the client with the first waiting client
// of the same difficulty, or parks it in the pool. Searching again while
// already pooled re-runs the scan with the new prefs.
func (m *Manager) Search(connID string, prefs Preferences) error {
	if err := prefs.validate(); err != nil {
		return err
	}
	return m.do(func(fx *effects) error {
		c, err := m.clientLocked(connID)
		if err != nil {
			return err
		}
		if c.SessionID != 0 {
			return ErrDuplicateSession
		}
		c.Prefs = prefs
		m.removeFromPoolLocked(c)

		for i, waiting := range m.pool {
			if waiting.Prefs.Difficulty != prefs.Difficulty {
				continue
			}
			m.pool = slices.Delete(m.pool, i, i+1)
			m.activateLocked(newSession(waiting, c, waiting.Prefs))
			return nil
		}
		m.pool = append(m.pool, c)
		m.logger.Debug("client searching", "user_id", c.Identity.ID, "difficulty", prefs.Difficulty, "pool", len(m.pool))
		return nil
	})
}

// CancelSearch takes the client out of the pool. The connection stays
// registered.
func (m *Manager) CancelSearch(connID string) error {
	return m.do(func(fx *effects) error {
		c, err := m.clientLocked(connID)
		if err != nil {
			return err
		}
		if !m.removeFromPoolLocked(c) {
			return ErrNotSearching
		}
		return nil
	})
}

// Invite creates a pending session with targetID and notifies the target.
func (m *Manager) Invite(connID string, targetID int64, prefs Preferences) error {
	if err := prefs.validate(); err != nil {
		return err
	}
	return m.do(func(fx *effects) error {
		c, err := m.clientLocked(connID)
		if err != nil {
			return err
		}
		if targetID == c.Identity.ID {
			return ErrTargetUnavailable
		}
		id := Combine(c.Identity.ID, targetID)
		if m.invites[id] != nil || m.sessions[id] != nil {
			return ErrDuplicateInvite
		}
		if c.SessionID != 0 {
			return ErrDuplicateSession
		}
		t := m.byUser[targetID]
		if t == nil || !t.Connected() || t.SessionID != 0 || m.pooledLocked(t) {
			return ErrTargetUnavailable
		}

		m.removeFromPoolLocked(c)
		c.Prefs = prefs
		inv := newSession(c, t, prefs)
		m.invites[id] = inv
		c.SessionID = id
		t.SessionID = id

		t.send(EventInvited, InvitedPayload{
			FromID:     c.Identity.ID,
			FromName:   c.Identity.DisplayName,
			Map:        prefs.Map,
			Difficulty: prefs.Difficulty,
		})
		m.logger.Info("invite sent", "session_id", id, "user_id", c.Identity.ID, "target_id", targetID)
		return nil
	})
}

// Accept promotes the invite the client was targeted by into a live
// session.
func (m *Manager) Accept(connID string) error {
	return m.do(func(fx *effects) error {
		c, err := m.clientLocked(connID)
		if err != nil {
			return err
		}
		if c.SessionID == 0 {
			return ErrNotInSession
		}
		if m.sessions[c.SessionID] != nil {
			return ErrInvalidState
		}
		inv := m.invites[c.SessionID]
		if inv == nil {
			return ErrSessionNotFound
		}
		if inv.Players[1] != c {
			return ErrForbidden
		}
		delete(m.invites, inv.ID)
		m.activateLocked(inv)
		return nil
	})
}

// Decline discards a pending invite and releases both parties. The target
// declines; the inviter may call it to withdraw.
func (m *Manager) Decline(connID string) error {
	return m.do(func(fx *effects) error {
		c, err := m.clientLocked(connID)
		if err != nil {
			return err
		}
		if c.SessionID == 0 {
			return ErrNotInSession
		}
		inv := m.invites[c.SessionID]
		if inv == nil {
			if m.sessions[c.SessionID] != nil {
				return ErrInvalidState
			}
			return ErrSessionNotFound
		}
		event := EventInviteDeclined
		if inv.Players[0] == c {
			event = EventInviteCancelled
		}
		m.closeInviteLocked(inv, c, event)
		return nil
	})
}

// closeInviteLocked drops inv and releases both parties. The party other
// than by is told with event; a nil by tells both.
func (m *Manager) closeInviteLocked(inv *Session, by *Client, event string) {
	delete(m.invites, inv.ID)
	var byID int64
	if by != nil {
		byID = by.Identity.ID
	}
	for _, p := range inv.Players {
		p.release()
		if p != by {
			p.send(event, InviteClosedPayload{By: byID})
		}
	}
	m.logger.Info("invite closed", "session_id", inv.ID, "user_id", byID, "event", event)
}

// activateLocked inserts s into the live registry, stamps its id on both
// players and tells each of them about the pairing.
func (m *Manager) activateLocked(s *Session) {
	m.sessions[s.ID] = s
	for seat, p := range s.Players {
		p.SessionID = s.ID
		p.Prefs = s.Prefs
		opp := s.opponent(seat)
		p.send(EventFound, FoundPayload{
			SessionID:    s.ID,
			Role:         playerRole(seat),
			OpponentID:   opp.Identity.ID,
			OpponentName: opp.Identity.DisplayName,
			Map:          s.Prefs.Map,
			Difficulty:   s.Prefs.Difficulty,
		})
	}
	m.logger.Info("session paired", "session_id", s.ID,
		"player1", s.Players[0].Identity.ID, "player2", s.Players[1].Identity.ID)
}

func (m *Manager) pooledLocked(c *Client) bool {
	return slices.Contains(m.pool, c)
}
