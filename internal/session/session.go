package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/ajoanos/pytania-dla-par-sub000/internal/directory"
	"github.com/ajoanos/pytania-dla-par-sub000/internal/engine"
	"github.com/ajoanos/pytania-dla-par-sub000/internal/hub"
	"github.com/ajoanos/pytania-dla-par-sub000/internal/store"
)

// ErrVersionConflict is returned in strict mode when the client did not
// build on the stored version.
var ErrVersionConflict = errors.New("version conflict")

// MaxSaveAttempts bounds how often Sync re-reads after losing a write race
// against another process.
const MaxSaveAttempts = 3

// ErrVersionExhausted is returned when a room's version cannot grow further.
var ErrVersionExhausted = errors.New("version exhausted")

type Snapshot struct {
	Version int64
	State   engine.State
}

type Option func(*Service)

// WithStrictVersions rejects pushes whose version differs from the stored
// one instead of merging last-writer-wins.
func WithStrictVersions(strict bool) Option {
	return func(s *Service) { s.strict = strict }
}

// Service is the session state merger. Writes for one room run on that
// room's hub lane; reads go straight to the store.
type Service struct {
	dir     directory.Directory
	store   store.Store
	hub     *hub.Hub
	engines *engine.Registry
	log     *zap.Logger
	strict  bool
}

func NewService(dir directory.Directory, st store.Store, h *hub.Hub, engines *engine.Registry, log *zap.Logger, opts ...Option) *Service {
	s := &Service{dir: dir, store: st, hub: h, engines: engines, log: log}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Sync merges a client's document into the room's session. Game fields come
// from the client as-is, the roster is re-derived from the directory, and
// the result is stored one version above both sides.
func (s *Service) Sync(ctx context.Context, roomCode, participantID string, client engine.State) (Snapshot, error) {
	room, err := s.authorize(ctx, roomCode, participantID)
	if err != nil {
		return Snapshot{}, err
	}
	log := s.log.With(zap.String("room", room.Code), zap.String("participant", participantID))

	var out Snapshot
	err = s.hub.Do(ctx, room.ID, func(ctx context.Context) error {
		// the sweeper may have removed the room while this job queued
		if _, err := s.dir.GetParticipant(ctx, room.ID, participantID); err != nil {
			return err
		}
		for attempt := 1; ; attempt++ {
			snap, err := s.merge(ctx, room.ID, client)
			if errors.Is(err, store.ErrStaleWrite) && attempt < MaxSaveAttempts {
				log.Debug("lost write race, retrying", zap.Int("attempt", attempt))
				continue
			}
			if err != nil {
				return err
			}
			out = snap
			return nil
		}
	})
	if err != nil {
		return Snapshot{}, err
	}

	log.Debug("synced", zap.Int64("version", out.Version), zap.String("game", string(out.State.Game)))
	s.touch(ctx, room.ID, participantID)
	return out, nil
}

func (s *Service) merge(ctx context.Context, roomID string, client engine.State) (Snapshot, error) {
	stored, err := s.load(ctx, roomID)
	if err != nil {
		return Snapshot{}, err
	}
	roster, err := s.roster(ctx, roomID)
	if err != nil {
		return Snapshot{}, err
	}

	if s.strict && client.Version != stored.Version {
		return Snapshot{}, fmt.Errorf("%w: client has %d, room is at %d", ErrVersionConflict, client.Version, stored.Version)
	}

	next := client.Clone()
	next.Game = s.engines.Resolve(client.Game, stored.Game).Name()
	next = s.engines.Sanitize(next, roster)
	cv := client.Version
	if cv < 0 || cv > engine.MaxVersion {
		cv = 0
	}
	base := max(stored.Version, cv)
	if base >= math.MaxInt64 {
		return Snapshot{}, ErrVersionExhausted
	}
	next.Version = base + 1

	doc, err := json.Marshal(next)
	if err != nil {
		return Snapshot{}, fmt.Errorf("encode state: %w", err)
	}
	if err := s.store.SaveState(ctx, roomID, doc, next.Version); err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Version: next.Version, State: next}, nil
}

// Poll returns the stored document sanitized against the current roster.
// Nothing is written back; the next Sync persists the sanitized roster.
func (s *Service) Poll(ctx context.Context, roomCode, participantID string) (Snapshot, error) {
	room, err := s.authorize(ctx, roomCode, participantID)
	if err != nil {
		return Snapshot{}, err
	}

	stored, err := s.load(ctx, room.ID)
	if err != nil {
		return Snapshot{}, err
	}
	roster, err := s.roster(ctx, room.ID)
	if err != nil {
		return Snapshot{}, err
	}

	view := s.engines.Sanitize(stored, roster)
	view.Version = stored.Version

	s.touch(ctx, room.ID, participantID)
	return Snapshot{Version: view.Version, State: view}, nil
}

func (s *Service) authorize(ctx context.Context, roomCode, participantID string) (directory.Room, error) {
	room, err := s.dir.ResolveRoom(ctx, roomCode)
	if err != nil {
		return directory.Room{}, err
	}
	p, err := s.dir.GetParticipant(ctx, room.ID, participantID)
	if err != nil {
		return directory.Room{}, err
	}
	if !p.Active() {
		return directory.Room{}, fmt.Errorf("%w: status %s", directory.ErrParticipantNotFound, p.Status)
	}
	return room, nil
}

// load returns the stored state, or an empty one at version 0.
func (s *Service) load(ctx context.Context, roomID string) (engine.State, error) {
	rec, err := s.store.LoadState(ctx, roomID)
	if err != nil {
		return engine.State{}, fmt.Errorf("load state: %w", err)
	}
	if rec == nil {
		return engine.NewEmptyState(s.engines.Resolve().Name()), nil
	}
	st := engine.DecodeState(rec.Doc)
	st.Version = rec.Version
	return st, nil
}

func (s *Service) roster(ctx context.Context, roomID string) ([]engine.RosterEntry, error) {
	active, err := s.dir.ListActiveParticipants(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	out := make([]engine.RosterEntry, 0, len(active))
	for _, p := range active {
		out = append(out, engine.RosterEntry{ID: p.ID, Name: p.DisplayName})
	}
	return out, nil
}

func (s *Service) touch(ctx context.Context, roomID, participantID string) {
	if err := s.dir.Touch(ctx, roomID, participantID); err != nil {
		s.log.Warn("touch participant", zap.String("participant", participantID), zap.Error(err))
	}
}
