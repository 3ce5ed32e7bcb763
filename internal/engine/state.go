package engine

import "encoding/json"

type GameType string

// MaxVersion is the largest version a document may carry, the largest
// integer a JSON number holds exactly. Larger values decode as 0.
const MaxVersion int64 = 1<<53 - 1

const (
	GameBoard GameType = "board"
	GameTrio  GameType = "trio"
	GameSwipe GameType = "swipe"
)

// Player is the roster part of a players entry. Per-game fields live in the
// engine payload, keyed by the same participant id.
type Player struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// State is the session document shared by every participant of a room.
// The envelope fields are owned by the merger, Payload by the engine named
// in Game.
type State struct {
	Game        GameType          `json:"game"`
	Version     int64             `json:"version"`
	Players     map[string]Player `json:"players"`
	TurnOrder   []string          `json:"turnOrder"`
	CurrentTurn string            `json:"currentTurn,omitempty"`
	History     []string          `json:"history"`
	Payload     json.RawMessage   `json:"payload,omitempty"`
}

// RosterEntry is one active participant as reported by the room directory.
type RosterEntry struct {
	ID   string
	Name string
}

type ActionType string

const (
	ActionRoll  ActionType = "roll"
	ActionPlace ActionType = "place"
	ActionSwipe ActionType = "swipe"
	ActionReset ActionType = "reset"
)

type Verdict string

const (
	VerdictLike    Verdict = "like"
	VerdictDislike Verdict = "dislike"
)

type Action struct {
	Type    ActionType `json:"type"`
	Actor   string     `json:"actor"`
	Value   int        `json:"value,omitempty"`
	Cell    int        `json:"cell"`
	Item    string     `json:"item,omitempty"`
	Verdict Verdict    `json:"verdict,omitempty"`
}

// Clone returns a deep copy so engines never alias the caller's maps.
func (s State) Clone() State {
	out := s
	out.Players = make(map[string]Player, len(s.Players))
	for id, p := range s.Players {
		out.Players[id] = p
	}
	out.TurnOrder = append([]string{}, s.TurnOrder...)
	out.History = append([]string{}, s.History...)
	if s.Payload != nil {
		out.Payload = append(json.RawMessage{}, s.Payload...)
	}
	return out
}

// UnmarshalJSON never fails: anything that does not decode is replaced by
// its default so a corrupt document cannot wedge a room.
func (s *State) UnmarshalJSON(b []byte) error {
	*s = DecodeState(b)
	return nil
}

// DecodeState decodes raw field by field, skipping whatever is malformed.
func DecodeState(raw []byte) State {
	s := NewEmptyState("")

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return s
	}

	var game string
	if json.Unmarshal(fields["game"], &game) == nil {
		s.Game = GameType(game)
	}

	var version float64
	if json.Unmarshal(fields["version"], &version) == nil && version > 0 && version <= float64(MaxVersion) {
		s.Version = int64(version)
	}

	var players map[string]json.RawMessage
	if json.Unmarshal(fields["players"], &players) == nil {
		for id, rawPlayer := range players {
			var p Player
			if id == "" || json.Unmarshal(rawPlayer, &p) != nil {
				continue
			}
			s.Players[id] = p
		}
	}

	s.TurnOrder = decodeStrings(fields["turnOrder"])
	s.History = decodeStrings(fields["history"])

	var current string
	if json.Unmarshal(fields["currentTurn"], &current) == nil {
		s.CurrentTurn = current
	}

	if payload := fields["payload"]; len(payload) > 0 && payload[0] == '{' && json.Valid(payload) {
		s.Payload = append(json.RawMessage{}, payload...)
	}

	return s
}

func decodeStrings(raw json.RawMessage) []string {
	out := []string{}
	var items []json.RawMessage
	if json.Unmarshal(raw, &items) != nil {
		return out
	}
	for _, item := range items {
		var v string
		if json.Unmarshal(item, &v) == nil && v != "" {
			out = append(out, v)
		}
	}
	return out
}
