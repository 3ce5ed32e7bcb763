package engine

import (
	"encoding/json"
	"fmt"
	"slices"
)

const (
	DefaultBoardLength = 30
	MinBoardLength     = 10
	MaxBoardLength     = 100
	MaxJailTurns       = 3
)

// BoardPayload is the board game's part of the session document.
type BoardPayload struct {
	BoardLength int            `json:"boardLength"`
	Positions   map[string]int `json:"positions"`
	Hearts      map[string]int `json:"hearts"`
	Jail        map[string]int `json:"jail"`
	LastRoll    int            `json:"lastRoll,omitempty"`
	Winner      string         `json:"winner,omitempty"`
}

// Board is a race along a track of tiles. Landing on a jail tile costs the
// next turn, heart tiles collect a heart, the last tile wins.
type Board struct {
	JailTiles  []int
	HeartTiles []int
}

func NewBoard() Board {
	return Board{
		JailTiles:  []int{7, 16, 24},
		HeartTiles: []int{3, 11, 19, 27},
	}
}

func (Board) Name() GameType { return GameBoard }

func (b Board) Sanitize(s State, roster []RosterEntry) State {
	out := SanitizeRoster(s, roster)
	p := decodeBoard(out.Payload)

	p.BoardLength = p.length()
	last := p.BoardLength - 1

	positions := make(map[string]int, len(out.TurnOrder))
	hearts := make(map[string]int, len(out.TurnOrder))
	jail := make(map[string]int, len(out.TurnOrder))
	for _, id := range out.TurnOrder {
		positions[id] = clamp(p.Positions[id], 0, last)
		hearts[id] = max(p.Hearts[id], 0)
		jail[id] = clamp(p.Jail[id], 0, MaxJailTurns)
	}
	p.Positions, p.Hearts, p.Jail = positions, hearts, jail

	if p.LastRoll != 0 {
		p.LastRoll = clamp(p.LastRoll, 1, 6)
	}

	if _, ok := out.Players[p.Winner]; !ok || positions[p.Winner] != last {
		p.Winner = ""
		for _, id := range out.TurnOrder {
			if positions[id] == last {
				p.Winner = id
				break
			}
		}
	}
	if p.Winner != "" {
		out.CurrentTurn = p.Winner
	}

	out.Payload = encodePayload(p)
	return out
}

func (b Board) Apply(s State, a Action) (State, error) {
	p := decodeBoard(s.Payload)

	switch a.Type {
	case ActionRoll:
		if p.Winner != "" {
			return s, ErrGameAlreadyCompleted
		}
		if err := checkTurn(s, a); err != nil {
			return s, err
		}

		out := s.Clone()
		last := p.length() - 1
		roll := clamp(a.Value, 1, 6)
		from := p.Positions[a.Actor]
		to := min(from+roll, last)

		p.Positions[a.Actor] = to
		p.LastRoll = roll
		entry := fmt.Sprintf("%s rolled %d and moved from tile %d to tile %d", playerName(s, a.Actor), roll, from, to)

		switch {
		case to == last:
			p.Winner = a.Actor
			entry += " and won"
		case slices.Contains(b.JailTiles, to):
			p.Jail[a.Actor] = 1
			entry += " and landed in jail"
		case slices.Contains(b.HeartTiles, to):
			p.Hearts[a.Actor]++
			entry += " and collected a heart"
		}

		if p.Winner == "" {
			out.CurrentTurn, p.Jail = NextTurn(out.TurnOrder, a.Actor, p.Jail)
		}
		out.History = AppendHistory(out.History, entry)
		out.Payload = encodePayload(p)
		return out, nil

	case ActionReset:
		if _, ok := s.Players[a.Actor]; !ok {
			return s, ErrNotAPlayer
		}
		out := s.Clone()
		fresh := BoardPayload{
			BoardLength: p.length(),
			Positions:   map[string]int{},
			Hearts:      map[string]int{},
			Jail:        map[string]int{},
		}
		for _, id := range out.TurnOrder {
			fresh.Positions[id], fresh.Hearts[id], fresh.Jail[id] = 0, 0, 0
		}
		if len(out.TurnOrder) > 0 {
			out.CurrentTurn = out.TurnOrder[0]
		}
		out.History = AppendHistory(out.History, fmt.Sprintf("%s started a new board", playerName(s, a.Actor)))
		out.Payload = encodePayload(fresh)
		return out, nil

	default:
		return s, ErrUnsupportedAction
	}
}

func (p BoardPayload) length() int {
	if p.BoardLength == 0 {
		return DefaultBoardLength
	}
	return clamp(p.BoardLength, MinBoardLength, MaxBoardLength)
}

func decodeBoard(raw json.RawMessage) BoardPayload {
	var p BoardPayload
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &p)
	}
	if p.Positions == nil {
		p.Positions = map[string]int{}
	}
	if p.Hearts == nil {
		p.Hearts = map[string]int{}
	}
	if p.Jail == nil {
		p.Jail = map[string]int{}
	}
	return p
}

// encodePayload marshals an engine payload. Payload types only hold maps,
// slices and scalars, so Marshal cannot fail.
func encodePayload(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
