package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ajoanos/pytania-dla-par-sub000/internal/engine"
	"github.com/ajoanos/pytania-dla-par-sub000/internal/session"
	"github.com/ajoanos/pytania-dla-par-sub000/internal/store"
	"github.com/ajoanos/pytania-dla-par-sub000/pkg/types"
)

var ErrInitialLoad = errors.New("initial load failed")
var ErrNotStarted = errors.New("loop not started")
var ErrStopped = errors.New("loop stopped")

type Phase int32

const (
	Idle Phase = iota
	Syncing
	ApplyingRemote
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Syncing:
		return "syncing"
	case ApplyingRemote:
		return "applying-remote"
	}
	return fmt.Sprintf("phase(%d)", int32(p))
}

const (
	TurnBasedInterval   = 2500 * time.Millisecond
	SwipeInterval       = 5 * time.Second
	SwipeHiddenInterval = 20 * time.Second
)

// DefaultInterval is the poll period for game while visible or hidden.
func DefaultInterval(game engine.GameType, hidden bool) time.Duration {
	if game == engine.GameSwipe {
		if hidden {
			return SwipeHiddenInterval
		}
		return SwipeInterval
	}
	return TurnBasedInterval
}

type Config struct {
	RoomCode      string
	ParticipantID string
	// Interval overrides DefaultInterval when positive.
	Interval time.Duration
	// IdleAfter suspends polling after this long without input. Zero never
	// suspends.
	IdleAfter time.Duration
}

type Option func(*Loop)

// WithLocalStore keeps a copy of every accepted snapshot in st and falls
// back to it when the initial load cannot reach the server.
func WithLocalStore(st store.Store) Option {
	return func(l *Loop) { l.local = st }
}

// WithOnChange is called with every new local state, optimistic or remote.
func WithOnChange(fn func(engine.State)) Option {
	return func(l *Loop) { l.onChange = fn }
}

// WithOnTerminal is called once when the room or participant is gone.
func WithOnTerminal(fn func(error)) Option {
	return func(l *Loop) { l.onTerminal = fn }
}

// Loop keeps one participant's copy of the session converged with the
// server: local actions render at once and are pushed in the background,
// and a timer polls for everybody else's moves. Pushes and polls never
// overlap.
type Loop struct {
	cfg        Config
	transport  Transport
	engines    *engine.Registry
	local      store.Store
	log        *zap.Logger
	onChange   func(engine.State)
	onTerminal func(error)

	net sync.Mutex // serializes push and poll round trips

	mu        sync.RWMutex
	state     engine.State
	sig       string
	gen       uint64 // bumped by every local action
	hidden    bool
	lastInput time.Time

	phase atomic.Int32
	wake  chan struct{}
	now   func() time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	pushes   sync.WaitGroup
	done     chan struct{}
	failOnce sync.Once
	err      error
}

func NewLoop(cfg Config, t Transport, engines *engine.Registry, log *zap.Logger, opts ...Option) *Loop {
	l := &Loop{
		cfg:       cfg,
		transport: t,
		engines:   engines,
		log:       log.With(zap.String("room", cfg.RoomCode), zap.String("participant", cfg.ParticipantID)),
		wake:      make(chan struct{}, 1),
		now:       time.Now,
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	l.lastInput = l.now()
	return l
}

// Start performs the initial load and starts polling. It fails with the
// terminal error if the session is gone, or ErrInitialLoad if the server is
// unreachable and no local copy exists.
func (l *Loop) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	if err := l.initialLoad(ctx); err != nil {
		cancel()
		return err
	}
	l.ctx, l.cancel = ctx, cancel

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer close(l.done)
		l.run(ctx)
	}()
	return nil
}

// Stop cancels the timer and waits for in-flight work. Results that arrive
// after Stop are discarded.
func (l *Loop) Stop() {
	if l.cancel == nil {
		return
	}
	// no push can be added to wg once cancel ran under mu
	l.mu.Lock()
	l.cancel()
	l.mu.Unlock()
	l.wg.Wait()
}

// Done is closed when polling ends, after Stop or a terminal error.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Err returns the terminal error, if any.
func (l *Loop) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.err
}

func (l *Loop) Phase() Phase { return Phase(l.phase.Load()) }

func (l *Loop) State() engine.State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Clone()
}

// Touch records user input and resumes a suspended loop.
func (l *Loop) Touch() {
	l.mu.Lock()
	l.lastInput = l.now()
	l.mu.Unlock()
	l.wakeUp()
}

func (l *Loop) wakeUp() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// SetHidden switches between visible and background poll rates. Becoming
// visible counts as input.
func (l *Loop) SetHidden(hidden bool) {
	l.mu.Lock()
	l.hidden = hidden
	l.mu.Unlock()
	if !hidden {
		l.Touch()
	}
}

// Act applies a to the local state, renders it and pushes it in the
// background. Engine errors are returned and nothing is sent. Acting counts as
// input and resumes a suspended loop.
func (l *Loop) Act(a engine.Action) error {
	if l.ctx == nil {
		return ErrNotStarted
	}

	l.mu.Lock()
	if l.ctx.Err() != nil {
		l.mu.Unlock()
		return ErrStopped
	}
	next, err := l.engines.Apply(l.state, a)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	l.gen++
	gen := l.gen
	l.setLocked(next)
	l.lastInput = l.now()
	l.wg.Add(1)
	l.pushes.Add(1)
	l.mu.Unlock()

	l.wakeUp()
	l.notify(next)

	go func() {
		defer l.wg.Done()
		defer l.pushes.Done()
		l.push(l.ctx, next, a, gen)
	}()
	return nil
}

// Wait blocks until every push issued so far has finished.
func (l *Loop) Wait() {
	l.pushes.Wait()
}

func (l *Loop) push(ctx context.Context, s engine.State, a engine.Action, gen uint64) {
	l.net.Lock()
	defer l.net.Unlock()
	if ctx.Err() != nil {
		return
	}

	l.phase.Store(int32(Syncing))
	defer l.phase.Store(int32(Idle))

	resp, err := l.transport.Sync(ctx, l.cfg.RoomCode, l.cfg.ParticipantID, s)
	if errors.Is(err, session.ErrVersionConflict) {
		resp, err = l.replay(ctx, a)
	}
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		l.handleErr("push", err)
		return
	}
	l.applyRemote(ctx, resp, gen)
}

// replay re-fetches after a version conflict and re-applies the action on
// top of the fresh document.
func (l *Loop) replay(ctx context.Context, a engine.Action) (types.StateResponse, error) {
	fresh, err := l.transport.Poll(ctx, l.cfg.RoomCode, l.cfg.ParticipantID)
	if err != nil {
		return types.StateResponse{}, err
	}
	next, err := l.engines.Apply(fresh.State, a)
	if err != nil {
		l.log.Info("action no longer legal after refresh", zap.Error(err))
		return fresh, nil
	}
	return l.transport.Sync(ctx, l.cfg.RoomCode, l.cfg.ParticipantID, next)
}

func (l *Loop) pollOnce(ctx context.Context) {
	l.net.Lock()
	defer l.net.Unlock()
	if ctx.Err() != nil {
		return
	}
	defer l.phase.Store(int32(Idle))

	l.mu.RLock()
	gen := l.gen
	l.mu.RUnlock()

	resp, err := l.transport.Poll(ctx, l.cfg.RoomCode, l.cfg.ParticipantID)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		l.handleErr("poll", err)
		return
	}
	l.applyRemote(ctx, resp, gen)
}

// applyRemote replaces the local state with resp unless a newer local
// action happened meanwhile or nothing changed.
func (l *Loop) applyRemote(ctx context.Context, resp types.StateResponse, gen uint64) {
	s := resp.State
	s.Version = resp.Version
	sig := signature(s)

	l.mu.Lock()
	if l.gen != gen || sig == l.sig {
		l.mu.Unlock()
		return
	}
	l.phase.Store(int32(ApplyingRemote))
	l.setLocked(s)
	l.mu.Unlock()

	l.notify(s)
	l.saveLocal(ctx, s)
}

func (l *Loop) setLocked(s engine.State) {
	l.state = s
	l.sig = signature(s)
}

func (l *Loop) notify(s engine.State) {
	if l.onChange != nil {
		l.onChange(s.Clone())
	}
}

func (l *Loop) initialLoad(ctx context.Context) error {
	resp, err := l.transport.Poll(ctx, l.cfg.RoomCode, l.cfg.ParticipantID)
	if err == nil {
		l.applyRemote(ctx, resp, 0)
		l.phase.Store(int32(Idle))
		return nil
	}
	if IsTerminal(err) {
		return err
	}

	if l.local != nil {
		rec, lerr := l.local.LoadState(ctx, l.localKey())
		if lerr == nil && rec != nil {
			s := engine.DecodeState(rec.Doc)
			s.Version = rec.Version
			l.log.Warn("server unreachable, starting from local copy", zap.Int64("version", s.Version), zap.Error(err))
			l.mu.Lock()
			l.setLocked(s)
			l.mu.Unlock()
			l.notify(s)
			return nil
		}
	}
	return fmt.Errorf("%w: %w", ErrInitialLoad, err)
}

func (l *Loop) saveLocal(ctx context.Context, s engine.State) {
	if l.local == nil {
		return
	}
	doc, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := l.local.SaveState(ctx, l.localKey(), doc, s.Version); err != nil && !errors.Is(err, store.ErrStaleWrite) {
		l.log.Debug("local copy not saved", zap.Error(err))
	}
}

func (l *Loop) localKey() string {
	return l.cfg.RoomCode + "/" + l.cfg.ParticipantID
}

func (l *Loop) handleErr(op string, err error) {
	if IsTerminal(err) {
		l.fail(err)
		return
	}
	l.log.Warn(op+" failed, retrying next tick", zap.Error(err))
}

func (l *Loop) fail(err error) {
	l.failOnce.Do(func() {
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
		l.log.Info("session ended", zap.Error(err))
		if l.onTerminal != nil {
			l.onTerminal(err)
		}
		l.cancel()
	})
}

func (l *Loop) run(ctx context.Context) {
	for {
		if l.suspended() {
			select {
			case <-ctx.Done():
				return
			case <-l.wake:
				continue
			}
		}

		timer := time.NewTimer(l.interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		l.pollOnce(ctx)
	}
}

func (l *Loop) interval() time.Duration {
	if l.cfg.Interval > 0 {
		return l.cfg.Interval
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return DefaultInterval(l.state.Game, l.hidden)
}

func (l *Loop) suspended() bool {
	if l.cfg.IdleAfter <= 0 {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.now().Sub(l.lastInput) >= l.cfg.IdleAfter
}

func signature(s engine.State) string {
	b, _ := json.Marshal(s)
	return string(b)
}
