package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajoanos/pytania-dla-par-sub000/internal/directory"
	"github.com/ajoanos/pytania-dla-par-sub000/internal/engine"
	"github.com/ajoanos/pytania-dla-par-sub000/internal/httpapi"
	"github.com/ajoanos/pytania-dla-par-sub000/internal/hub"
	"github.com/ajoanos/pytania-dla-par-sub000/internal/session"
	"github.com/ajoanos/pytania-dla-par-sub000/internal/store"
	"github.com/ajoanos/pytania-dla-par-sub000/pkg/types"
)

type server struct {
	url   string
	dir   *directory.Memory
	code  string
	room  string
	host  directory.Participant
	guest directory.Participant
}

func newServer(t *testing.T, opts ...session.Option) *server {
	t.Helper()
	ctx := context.Background()
	log := zaptest.NewLogger(t)

	h := hub.NewHub(ctx)
	t.Cleanup(h.Shutdown)
	dir := directory.NewMemory()
	svc := session.NewService(dir, store.NewMemory(), h, engine.DefaultRegistry(), log, opts...)
	srv := httptest.NewServer(httpapi.SetupRoutes(httpapi.Deps{Directory: dir, Sessions: svc, Hub: h, Log: log, DefaultTTL: time.Hour}))
	t.Cleanup(srv.Close)

	room, err := dir.CreateRoom(ctx, "HUG777", time.Hour)
	require.NoError(t, err)
	host, err := dir.AddParticipant(ctx, room.ID, "Ala", true)
	require.NoError(t, err)
	guest, err := dir.AddParticipant(ctx, room.ID, "Bartek", false)
	require.NoError(t, err)
	guest, err = dir.SetStatus(ctx, room.ID, guest.ID, directory.StatusActive)
	require.NoError(t, err)

	return &server{url: srv.URL, dir: dir, code: room.Code, room: room.ID, host: host, guest: guest}
}

func (s *server) loop(t *testing.T, who string, opts ...Option) *Loop {
	t.Helper()
	cfg := Config{RoomCode: s.code, ParticipantID: who, Interval: time.Hour}
	l := NewLoop(cfg, NewHTTPTransport(s.url, 5*time.Second), engine.DefaultRegistry(), zaptest.NewLogger(t), opts...)
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(l.Stop)
	return l
}

func TestLoop_ConvergesThroughServer(t *testing.T) {
	srv := newServer(t)

	var renders atomic.Int32
	a := srv.loop(t, srv.host.ID, WithOnChange(func(engine.State) { renders.Add(1) }))
	b := srv.loop(t, srv.guest.ID)

	before := renders.Load()
	require.NoError(t, a.Act(engine.Action{Type: engine.ActionRoll, Actor: srv.host.ID, Value: 4}))
	assert.Greater(t, renders.Load(), before, "local move renders before the push returns")

	a.Wait()
	assert.Equal(t, Idle, a.Phase())
	assert.Equal(t, int64(1), a.State().Version)

	b.pollOnce(b.ctx)
	got := b.State()
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, srv.guest.ID, got.CurrentTurn)

	var p engine.BoardPayload
	require.NoError(t, json.Unmarshal(got.Payload, &p))
	assert.Equal(t, 4, p.Positions[srv.host.ID])

	err := b.Act(engine.Action{Type: engine.ActionRoll, Actor: srv.host.ID, Value: 2})
	assert.ErrorIs(t, err, engine.ErrWrongTurn, "illegal moves are rejected locally")
}

func TestLoop_PollWithoutChangeDoesNotRender(t *testing.T) {
	srv := newServer(t)
	var renders atomic.Int32
	l := srv.loop(t, srv.host.ID, WithOnChange(func(engine.State) { renders.Add(1) }))

	n := renders.Load()
	l.pollOnce(l.ctx)
	l.pollOnce(l.ctx)
	assert.Equal(t, n, renders.Load())
}

func TestLoop_TerminalWhenParticipantLeaves(t *testing.T) {
	srv := newServer(t)

	terminal := make(chan error, 1)
	l := srv.loop(t, srv.guest.ID, WithOnTerminal(func(err error) { terminal <- err }))

	_, err := srv.dir.SetStatus(context.Background(), srv.room, srv.guest.ID, directory.StatusRejected)
	require.NoError(t, err)

	l.pollOnce(l.ctx)

	select {
	case err := <-terminal:
		assert.ErrorIs(t, err, directory.ErrParticipantNotFound)
	case <-time.After(time.Second):
		t.Fatal("terminal callback not called")
	}
	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
	assert.ErrorIs(t, l.Err(), directory.ErrParticipantNotFound)
	assert.ErrorIs(t, l.Act(engine.Action{Type: engine.ActionReset, Actor: srv.guest.ID}), ErrStopped)
}

func TestLoop_StrictModeReplaysAfterConflict(t *testing.T) {
	srv := newServer(t, session.WithStrictVersions(true))
	ctx := context.Background()

	// start both players on a swipe session at version 1
	seed := NewHTTPTransport(srv.url, time.Second)
	_, err := seed.Sync(ctx, srv.code, srv.host.ID, engine.NewEmptyState(engine.GameSwipe))
	require.NoError(t, err)

	a := srv.loop(t, srv.host.ID)
	b := srv.loop(t, srv.guest.ID)

	require.NoError(t, a.Act(engine.Action{Type: engine.ActionSwipe, Actor: srv.host.ID, Item: "Stargazing", Verdict: engine.VerdictLike}))
	a.Wait()
	require.Equal(t, int64(2), a.State().Version)

	// b still holds version 1
	require.NoError(t, b.Act(engine.Action{Type: engine.ActionSwipe, Actor: srv.guest.ID, Item: "Stargazing", Verdict: engine.VerdictLike}))
	b.Wait()

	got := b.State()
	assert.Equal(t, int64(3), got.Version)
	var p engine.SwipePayload
	require.NoError(t, json.Unmarshal(got.Payload, &p))
	assert.Equal(t, []string{"Stargazing"}, p.Matches, "both likes survive the conflict")
}

type fakeTransport struct {
	mu    sync.Mutex
	polls int
	poll  func() (types.StateResponse, error)
}

func (f *fakeTransport) Sync(context.Context, string, string, engine.State) (types.StateResponse, error) {
	return types.StateResponse{}, errors.New("offline")
}

func (f *fakeTransport) Poll(context.Context, string, string) (types.StateResponse, error) {
	f.mu.Lock()
	f.polls++
	f.mu.Unlock()
	return f.poll()
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func TestLoop_InitialLoad(t *testing.T) {
	log := zaptest.NewLogger(t)
	offline := &fakeTransport{poll: func() (types.StateResponse, error) {
		return types.StateResponse{}, errors.New("connection refused")
	}}
	cfg := Config{RoomCode: "ABC123", ParticipantID: "p1", Interval: time.Hour}

	t.Run("fails without a local copy", func(t *testing.T) {
		l := NewLoop(cfg, offline, engine.DefaultRegistry(), log)
		assert.ErrorIs(t, l.Start(context.Background()), ErrInitialLoad)
	})

	t.Run("falls back to the local copy", func(t *testing.T) {
		local := store.NewMemory()
		doc, err := json.Marshal(engine.NewEmptyState(engine.GameTrio))
		require.NoError(t, err)
		require.NoError(t, local.SaveState(context.Background(), "ABC123/p1", doc, 4))

		l := NewLoop(cfg, offline, engine.DefaultRegistry(), log, WithLocalStore(local))
		require.NoError(t, l.Start(context.Background()))
		defer l.Stop()
		assert.Equal(t, int64(4), l.State().Version)
		assert.Equal(t, engine.GameTrio, l.State().Game)
	})

	t.Run("terminal errors are not masked", func(t *testing.T) {
		gone := &fakeTransport{poll: func() (types.StateResponse, error) {
			return types.StateResponse{}, directory.ErrRoomExpired
		}}
		l := NewLoop(cfg, gone, engine.DefaultRegistry(), log, WithLocalStore(store.NewMemory()))
		err := l.Start(context.Background())
		assert.ErrorIs(t, err, directory.ErrRoomNotFound)
		assert.NotErrorIs(t, err, ErrInitialLoad)
	})
}

func TestLoop_SavesAcceptedSnapshotsLocally(t *testing.T) {
	srv := newServer(t)
	local := store.NewMemory()
	l := srv.loop(t, srv.host.ID, WithLocalStore(local))

	require.NoError(t, l.Act(engine.Action{Type: engine.ActionRoll, Actor: srv.host.ID, Value: 1}))
	l.Wait()

	rec, err := local.LoadState(context.Background(), srv.code+"/"+srv.host.ID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(1), rec.Version)
}

func TestLoop_IdleSuspendAndResume(t *testing.T) {
	swipe := engine.DefaultRegistry().Sanitize(engine.NewEmptyState(engine.GameSwipe), []engine.RosterEntry{{ID: "p1", Name: "Ala"}})
	swipe.Version = 1

	resumers := map[string]func(*testing.T, *Loop){
		"set visible": func(_ *testing.T, l *Loop) { l.SetHidden(false) },
		"touch":       func(_ *testing.T, l *Loop) { l.Touch() },
		"act": func(t *testing.T, l *Loop) {
			require.NoError(t, l.Act(engine.Action{Type: engine.ActionSwipe, Actor: "p1", Item: "Stargazing", Verdict: engine.VerdictLike}))
		},
	}

	for name, resume := range resumers {
		t.Run(name, func(t *testing.T) {
			ft := &fakeTransport{poll: func() (types.StateResponse, error) {
				return types.StateResponse{Version: 1, State: swipe}, nil
			}}
			cfg := Config{RoomCode: "ABC123", ParticipantID: "p1", Interval: 2 * time.Millisecond, IdleAfter: 30 * time.Millisecond}
			l := NewLoop(cfg, ft, engine.DefaultRegistry(), zaptest.NewLogger(t))
			require.NoError(t, l.Start(context.Background()))
			defer l.Stop()

			time.Sleep(100 * time.Millisecond)
			suspendedAt := ft.count()
			require.Greater(t, suspendedAt, 1, "should poll while active")

			time.Sleep(60 * time.Millisecond)
			assert.Equal(t, suspendedAt, ft.count(), "no polls while idle")

			resume(t, l)
			assert.Eventually(t, func() bool { return ft.count() > suspendedAt }, time.Second, 5*time.Millisecond)
		})
	}
}

func TestLoop_ActResumesPollingForPartnerMoves(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()

	seed := NewHTTPTransport(srv.url, time.Second)
	_, err := seed.Sync(ctx, srv.code, srv.host.ID, engine.NewEmptyState(engine.GameSwipe))
	require.NoError(t, err)

	cfg := Config{RoomCode: srv.code, ParticipantID: srv.host.ID, Interval: 2 * time.Millisecond, IdleAfter: 150 * time.Millisecond}
	host := NewLoop(cfg, NewHTTPTransport(srv.url, 5*time.Second), engine.DefaultRegistry(), zaptest.NewLogger(t))
	require.NoError(t, host.Start(ctx))
	defer host.Stop()
	guest := srv.loop(t, srv.guest.ID)

	// host is suspended by now
	time.Sleep(250 * time.Millisecond)

	require.NoError(t, host.Act(engine.Action{Type: engine.ActionSwipe, Actor: srv.host.ID, Item: "Stargazing", Verdict: engine.VerdictLike}))
	host.Wait()

	guest.pollOnce(guest.ctx)
	require.NoError(t, guest.Act(engine.Action{Type: engine.ActionSwipe, Actor: srv.guest.ID, Item: "Stargazing", Verdict: engine.VerdictLike}))
	guest.Wait()
	require.Equal(t, int64(3), guest.State().Version)

	assert.Eventually(t, func() bool { return host.State().Version == 3 }, time.Second, 5*time.Millisecond)
}

func TestLoop_StopDiscardsAndStops(t *testing.T) {
	ft := &fakeTransport{poll: func() (types.StateResponse, error) {
		return types.StateResponse{Version: 1, State: engine.NewEmptyState(engine.GameBoard)}, nil
	}}
	cfg := Config{RoomCode: "ABC123", ParticipantID: "p1", Interval: time.Millisecond}
	l := NewLoop(cfg, ft, engine.DefaultRegistry(), zaptest.NewLogger(t))
	require.NoError(t, l.Start(context.Background()))

	l.Stop()
	n := ft.count()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, ft.count())
	assert.NoError(t, l.Err())
	select {
	case <-l.Done():
	default:
		t.Fatal("done should be closed after Stop")
	}
}

func TestDefaultInterval(t *testing.T) {
	assert.Equal(t, 2500*time.Millisecond, DefaultInterval(engine.GameBoard, true))
	assert.Equal(t, 2500*time.Millisecond, DefaultInterval(engine.GameTrio, false))
	assert.Equal(t, 5*time.Second, DefaultInterval(engine.GameSwipe, false))
	assert.Equal(t, 20*time.Second, DefaultInterval(engine.GameSwipe, true))
}

func TestLoop_ActRacingStop(t *testing.T) {
	swipe := engine.DefaultRegistry().Sanitize(engine.NewEmptyState(engine.GameSwipe), []engine.RosterEntry{{ID: "p1", Name: "Ala"}})
	ft := &fakeTransport{poll: func() (types.StateResponse, error) {
		return types.StateResponse{Version: 1, State: swipe}, nil
	}}
	l := NewLoop(Config{RoomCode: "ABC123", ParticipantID: "p1", Interval: time.Hour}, ft, engine.DefaultRegistry(), zaptest.NewLogger(t))
	require.NoError(t, l.Start(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				err := l.Act(engine.Action{Type: engine.ActionSwipe, Actor: "p1", Item: "Stargazing", Verdict: engine.VerdictLike})
				if errors.Is(err, ErrStopped) {
					return
				}
			}
		}()
	}
	l.Stop()
	wg.Wait()

	assert.ErrorIs(t, l.Act(engine.Action{Type: engine.ActionReset, Actor: "p1"}), ErrStopped)
}
