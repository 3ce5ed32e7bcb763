package engine

import (
	"errors"
	"fmt"
)

var ErrWrongTurn = errors.New("invalid turn")
var ErrNotAPlayer = errors.New("actor is not a player")
var ErrIllegalMove = errors.New("illegal move")
var ErrUnsupportedAction = errors.New("unsupported action")
var ErrGameAlreadyCompleted = errors.New("game already completed")
var ErrUnknownGame = errors.New("unknown game")

// Engine is one game's rules. Both methods are pure: they never mutate the
// state they are given.
//
// Sanitize must be total and idempotent: any input, however malformed,
// yields a valid state whose ids are all active roster members.
// Apply returns the unchanged state together with an error when the action
// is not legal.
type Engine interface {
	Name() GameType
	Sanitize(s State, roster []RosterEntry) State
	Apply(s State, a Action) (State, error)
}

// Registry maps game tags to engines.
type Registry struct {
	engines  map[GameType]Engine
	fallback GameType
}

func NewRegistry(fallback GameType, engines ...Engine) *Registry {
	r := &Registry{engines: make(map[GameType]Engine, len(engines)), fallback: fallback}
	for _, e := range engines {
		r.engines[e.Name()] = e
	}
	return r
}

// DefaultRegistry knows every built-in game and falls back to the board game.
func DefaultRegistry() *Registry {
	return NewRegistry(GameBoard, NewBoard(), NewTrio(), NewSwipe())
}

// WithFallback returns a copy of r that resolves unknown tags to game.
func (r *Registry) WithFallback(game GameType) (*Registry, error) {
	if _, ok := r.engines[game]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGame, game)
	}
	return &Registry{engines: r.engines, fallback: game}, nil
}

func (r *Registry) Lookup(game GameType) (Engine, bool) {
	e, ok := r.engines[game]
	return e, ok
}

// Resolve returns the engine for the first known tag among candidates, or
// the fallback engine.
func (r *Registry) Resolve(candidates ...GameType) Engine {
	for _, g := range candidates {
		if e, ok := r.engines[g]; ok {
			return e
		}
	}
	return r.engines[r.fallback]
}

// Sanitize tags s with a known game and runs that engine's Sanitize.
func (r *Registry) Sanitize(s State, roster []RosterEntry) State {
	e := r.Resolve(s.Game)
	s.Game = e.Name()
	return e.Sanitize(s, roster)
}

func (r *Registry) Apply(s State, a Action) (State, error) {
	e, ok := r.Lookup(s.Game)
	if !ok {
		return s, fmt.Errorf("%w: %q", ErrUnknownGame, s.Game)
	}
	return e.Apply(s, a)
}

// checkTurn validates the acting player for turn-based engines.
func checkTurn(s State, a Action) error {
	if _, ok := s.Players[a.Actor]; !ok {
		return ErrNotAPlayer
	}
	if s.CurrentTurn != a.Actor {
		return ErrWrongTurn
	}
	return nil
}
