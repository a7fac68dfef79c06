package store

import (
	"context"
	"sync"
	"time"

	"pong-server/internal/match"
)

// Memory keeps everything in process. Nothing survives a restart.
type Memory struct {
	mu       sync.RWMutex
	presence map[int64]Presence
	stats    map[int64]PlayerStats
	results  []match.Result
}

func NewMemory() *Memory {
	return &Memory{
		presence: make(map[int64]Presence),
		stats:    make(map[int64]PlayerStats),
	}
}

func (m *Memory) update(userID int64, fn func(p *Presence)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.presence[userID]
	if !ok {
		p = Presence{UserID: userID, Status: StatusOffline}
	}
	fn(&p)
	p.UpdatedAt = time.Now()
	m.presence[userID] = p
}

func (m *Memory) Connected(_ context.Context, userID int64) error {
	m.update(userID, func(p *Presence) {
		p.Connections++
		if p.Status == StatusOffline {
			p.Status = StatusOnline
		}
	})
	return nil
}

func (m *Memory) Disconnected(_ context.Context, userID int64) error {
	m.update(userID, func(p *Presence) {
		if p.Connections > 0 {
			p.Connections--
		}
		if p.Connections == 0 {
			p.Status = StatusOffline
		}
	})
	return nil
}

func (m *Memory) MarkInGame(_ context.Context, userID int64) error {
	m.update(userID, func(p *Presence) { p.Status = StatusInGame })
	return nil
}

func (m *Memory) MarkIdle(_ context.Context, userID int64) error {
	m.update(userID, func(p *Presence) {
		p.Status = StatusOffline
		if p.Connections > 0 {
			p.Status = StatusOnline
		}
	})
	return nil
}

func (m *Memory) RecordMatchResult(_ context.Context, r match.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, r)
	for _, userID := range r.Players {
		st := m.stats[userID]
		st.UserID = userID
		win, loss := outcome(r, userID)
		st.Wins += win
		st.Losses += loss
		st.GamesPlayed++
		m.stats[userID] = st
	}
	return nil
}

func (m *Memory) PresenceOf(_ context.Context, userID int64) (Presence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.presence[userID]; ok {
		return p, nil
	}
	return Presence{UserID: userID, Status: StatusOffline}, nil
}

func (m *Memory) PlayerStats(_ context.Context, userID int64) (PlayerStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := m.stats[userID]
	st.UserID = userID
	return st, nil
}

// Results returns every recorded result, oldest first.
func (m *Memory) Results() []match.Result {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]match.Result(nil), m.results...)
}

func (m *Memory) Health(context.Context) error { return nil }

func (m *Memory) Close() {}
