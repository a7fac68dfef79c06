package physics

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"
)

// Sync is the periodic snapshot a loop emits while the ball is in play.
type Sync struct {
	Session uint64
	Serial  uint64
	Ball    Vec2
	Dir     Vec2
	At      time.Time
}

type Config struct {
	SimTick  time.Duration
	SyncTick time.Duration
	Speed    float64
	Field    Field
	// Serve picks the initial direction of a throw. Nil means a random side
	// with up to 30 degrees of angle.
	Serve func() Vec2
}

func DefaultConfig() Config {
	return Config{
		SimTick:  10 * time.Millisecond,
		SyncTick: 500 * time.Millisecond,
		Speed:    200,
		Field:    DefaultField,
	}
}

func randomServe() Vec2 {
	angle := (rand.Float64()*2 - 1) * math.Pi / 6
	x := math.Cos(angle)
	if rand.IntN(2) == 0 {
		x = -x
	}
	return Vec2{X: x, Y: math.Sin(angle)}
}

// Engine runs one simulation loop per session. Loops share nothing with
// their callers: commands go in over a channel, snapshots come out on
// Updates.
type Engine struct {
	cfg    Config
	out    chan Sync
	logger *slog.Logger

	mu     sync.Mutex
	loops  map[uint64]*loop
	serial uint64
}

func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	if cfg.Serve == nil {
		cfg.Serve = randomServe
	}
	if cfg.Field == (Field{}) {
		cfg.Field = DefaultField
	}
	return &Engine{
		cfg:    cfg,
		out:    make(chan Sync, 256),
		logger: logger,
		loops:  make(map[uint64]*loop),
	}
}

// Updates delivers snapshots from every running loop.
func (e *Engine) Updates() <-chan Sync {
	return e.out
}

// Start allocates simulation state for a session and launches its loop.
// The returned serial tags every snapshot of this loop so stale snapshots
// from an earlier loop for the same session id can be told apart.
func (e *Engine) Start(session uint64) uint64 {
	e.mu.Lock()
	old := e.loops[session]
	e.serial++
	l := newLoop(session, e.serial, e.cfg, e.out, e.logger)
	e.loops[session] = l
	e.mu.Unlock()

	if old != nil {
		old.stop()
	}
	go l.run()

	e.logger.Debug("simulation started", "session_id", session, "serial", l.serial)
	return l.serial
}

func (e *Engine) Throw(session uint64) {
	e.send(session, command{kind: cmdThrow})
}

func (e *Engine) SetPaddle(session uint64, side Side, offset float64) {
	e.send(session, command{kind: cmdPaddle, side: side, offset: offset})
}

func (e *Engine) Reset(session uint64) {
	e.send(session, command{kind: cmdReset})
}

// End discards the session's state and returns once its loop has exited.
func (e *Engine) End(session uint64) {
	e.mu.Lock()
	l := e.loops[session]
	delete(e.loops, session)
	e.mu.Unlock()

	if l == nil {
		return
	}
	l.stop()
	e.logger.Debug("simulation ended", "session_id", session, "serial", l.serial)
}

// Running reports how many loops are alive.
func (e *Engine) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.loops)
}

// Close stops every loop.
func (e *Engine) Close() {
	e.mu.Lock()
	loops := e.loops
	e.loops = make(map[uint64]*loop)
	e.mu.Unlock()

	for _, l := range loops {
		l.stop()
	}
}

func (e *Engine) send(session uint64, c command) {
	e.mu.Lock()
	l := e.loops[session]
	e.mu.Unlock()

	if l == nil {
		e.logger.Debug("command for unknown simulation", "session_id", session, "command", c.kind)
		return
	}
	l.send(c)
}

type cmdKind int

const (
	cmdThrow cmdKind = iota
	cmdPaddle
	cmdReset
)

type command struct {
	kind   cmdKind
	side   Side
	offset float64
}

type loop struct {
	session uint64
	serial  uint64
	cfg     Config
	cmds    chan command
	out     chan<- Sync
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	steps atomic.Uint64
}

func newLoop(session, serial uint64, cfg Config, out chan<- Sync, logger *slog.Logger) *loop {
	ctx, cancel := context.WithCancel(context.Background())
	return &loop{
		session: session,
		serial:  serial,
		cfg:     cfg,
		cmds:    make(chan command, 64),
		out:     out,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

func (l *loop) run() {
	defer close(l.done)

	// Both tickers only run while the ball is in play.
	var (
		simTicker, syncTicker *time.Ticker
		simTick, syncTick     <-chan time.Time
	)
	stopTicking := func() {
		if simTicker != nil {
			simTicker.Stop()
			syncTicker.Stop()
			simTicker, syncTicker = nil, nil
			simTick, syncTick = nil, nil
		}
	}
	defer stopTicking()

	var st State
	dt := l.cfg.SimTick.Seconds()

	for {
		select {
		case <-l.ctx.Done():
			return

		case c := <-l.cmds:
			switch c.kind {
			case cmdThrow:
				st.Serve(l.cfg.Serve())
				if simTicker == nil {
					simTicker = time.NewTicker(l.cfg.SimTick)
					syncTicker = time.NewTicker(l.cfg.SyncTick)
					simTick, syncTick = simTicker.C, syncTicker.C
				}
				l.emit(st)
			case cmdPaddle:
				st.Paddles[c.side] = c.offset
			case cmdReset:
				st.Reset()
				stopTicking()
			}

		case <-simTick:
			st.Step(l.cfg.Field, l.cfg.Speed, dt)
			l.steps.Add(1)

		case <-syncTick:
			if st.Active {
				l.emit(st)
			}
		}
	}
}

// emit never blocks the simulation; a snapshot nobody is ready to read is
// dropped and superseded by the next one.
func (l *loop) emit(st State) {
	s := Sync{Session: l.session, Serial: l.serial, Ball: st.Ball, Dir: st.Dir, At: time.Now()}
	select {
	case l.out <- s:
	default:
		l.logger.Debug("dropped simulation snapshot", "session_id", l.session)
	}
}

func (l *loop) send(c command) {
	select {
	case l.cmds <- c:
	case <-l.done:
	}
}

func (l *loop) stop() {
	l.cancel()
	<-l.done
}
