package match

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"pong-server/internal/physics"

	"github.com/stretchr/testify/require"
)

type sent struct {
	event   string
	payload any
}

type fakePeer struct {
	id string

	mu     sync.Mutex
	events []sent
	closed bool
	reason string
}

var peerSeq atomic.Int64

func newPeer(label string) *fakePeer {
	return &fakePeer{id: fmt.Sprintf("%s-%d", label, peerSeq.Add(1))}
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Send(event string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, sent{event: event, payload: payload})
}

func (p *fakePeer) Close(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.reason = reason
}

func (p *fakePeer) count(event string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.event == event {
			n++
		}
	}
	return n
}

func (p *fakePeer) last(event string) (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].event == event {
			return p.events[i].payload, true
		}
	}
	return nil, false
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// fakeResolver accepts the decimal user id as the token.
type fakeResolver struct{}

func (fakeResolver) ResolveIdentity(_ context.Context, token string) (Identity, error) {
	id, err := strconv.ParseInt(token, 10, 64)
	if err != nil || id <= 0 {
		return Identity{}, errors.New("bad token")
	}
	return Identity{ID: id, DisplayName: fmt.Sprintf("player%d", id), Map: 1, Difficulty: 1}, nil
}

type fakePresence struct {
	mu    sync.Mutex
	calls map[string]int
}

func (f *fakePresence) record(kind string, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[fmt.Sprintf("%s:%d", kind, userID)]++
	return nil
}

func (f *fakePresence) count(kind string, userID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[fmt.Sprintf("%s:%d", kind, userID)]
}

func (f *fakePresence) Connected(_ context.Context, id int64) error {
	return f.record("connected", id)
}

func (f *fakePresence) Disconnected(_ context.Context, id int64) error {
	return f.record("disconnected", id)
}

func (f *fakePresence) MarkInGame(_ context.Context, id int64) error {
	return f.record("in_game", id)
}

func (f *fakePresence) MarkIdle(_ context.Context, id int64) error {
	return f.record("idle", id)
}

type fakeResults struct {
	mu      sync.Mutex
	results []Result
}

func (f *fakeResults) RecordMatchResult(_ context.Context, r Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, r)
	return nil
}

func (f *fakeResults) all() []Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Result(nil), f.results...)
}

type fakeSim struct {
	mu      sync.Mutex
	serial  uint64
	started map[uint64]uint64
	throws  int
	resets  int
	ended   []uint64
	paddles map[physics.Side]float64
}

func newFakeSim() *fakeSim {
	return &fakeSim{started: make(map[uint64]uint64), paddles: make(map[physics.Side]float64)}
}

func (f *fakeSim) Start(session uint64) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.serial++
	f.started[session] = f.serial
	return f.serial
}

func (f *fakeSim) Throw(uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.throws++
}

func (f *fakeSim) SetPaddle(_ uint64, side physics.Side, offset float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paddles[side] = offset
}

func (f *fakeSim) Reset(uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

func (f *fakeSim) End(session uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, session)
}

type harness struct {
	m        *Manager
	presence *fakePresence
	results  *fakeResults
	sim      *fakeSim
}

func newHarness() *harness {
	h := &harness{presence: &fakePresence{}, results: &fakeResults{}, sim: newFakeSim()}
	h.m = NewManager(Deps{
		Identity: fakeResolver{},
		Presence: h.presence,
		Results:  h.results,
		Sim:      h.sim,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		WinScore: 11,
	})
	return h
}

func (h *harness) connect(t *testing.T, userID int64, phase Phase) *fakePeer {
	t.Helper()
	p := newPeer(phase.String())
	_, err := h.m.Register(context.Background(), p, strconv.FormatInt(userID, 10), phase)
	require.NoError(t, err)
	return p
}

// paired puts a and b in a session through the pool and returns their
// matchmaking peers.
func (h *harness) paired(t *testing.T, a, b int64) (*fakePeer, *fakePeer) {
	t.Helper()
	pa := h.connect(t, a, PhaseMatchmaking)
	pb := h.connect(t, b, PhaseMatchmaking)
	require.NoError(t, h.m.Search(pa.ID(), Preferences{Map: 1, Difficulty: 2}))
	require.NoError(t, h.m.Search(pb.ID(), Preferences{Map: 3, Difficulty: 2}))
	return pa, pb
}

// launched pairs a and b, moves both to game connections and readies them.
func (h *harness) launched(t *testing.T, a, b int64) (*fakePeer, *fakePeer) {
	t.Helper()
	h.paired(t, a, b)
	ga := h.connect(t, a, PhaseGame)
	gb := h.connect(t, b, PhaseGame)
	require.NoError(t, h.m.MarkReady(ga.ID()))
	require.NoError(t, h.m.MarkReady(gb.ID()))
	return ga, gb
}

// statusPresence keeps the last status written per user. MarkInGame waits
// on gate, and entered is closed the first time one arrives.
type statusPresence struct {
	gate    chan struct{}
	entered chan struct{}
	once    sync.Once

	mu     sync.Mutex
	status map[int64]string
}

func newStatusPresence() *statusPresence {
	return &statusPresence{
		gate:    make(chan struct{}),
		entered: make(chan struct{}),
		status:  make(map[int64]string),
	}
}

func (p *statusPresence) set(userID int64, status string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status[userID] = status
	return nil
}

func (p *statusPresence) of(userID int64) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status[userID]
}

func (p *statusPresence) Connected(_ context.Context, id int64) error {
	return p.set(id, "online")
}

func (p *statusPresence) Disconnected(_ context.Context, id int64) error {
	return p.set(id, "offline")
}

func (p *statusPresence) MarkInGame(_ context.Context, id int64) error {
	p.once.Do(func() { close(p.entered) })
	<-p.gate
	return p.set(id, "in_game")
}

func (p *statusPresence) MarkIdle(_ context.Context, id int64) error {
	return p.set(id, "idle")
}
