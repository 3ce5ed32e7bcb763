package engine

import (
	"encoding/json"
	"fmt"
	"slices"
)

// DefaultSwipeDeck is used when a session starts without its own items.
var DefaultSwipeDeck = []string{
	"Picnic in the park",
	"Cook a new recipe together",
	"Sunrise walk",
	"Board game night",
	"Weekend without phones",
	"Dance class",
	"Stargazing",
	"Visit a museum",
	"Breakfast in bed",
	"Road trip to somewhere new",
}

// SwipePayload is the swipe game's part of the session document.
type SwipePayload struct {
	Items     []string                      `json:"items"`
	Decisions map[string]map[string]Verdict `json:"decisions"`
	Matches   []string                      `json:"matches"`
}

// Swipe lets every participant like or dislike the same deck independently.
// An item everyone liked is a match.
type Swipe struct {
	Deck []string
}

func NewSwipe() Swipe {
	return Swipe{Deck: DefaultSwipeDeck}
}

func (Swipe) Name() GameType { return GameSwipe }

func (sw Swipe) Sanitize(s State, roster []RosterEntry) State {
	out := SanitizeRoster(s, roster)
	p := decodeSwipe(out.Payload)

	items := make([]string, 0, len(p.Items))
	for _, it := range p.Items {
		if it != "" && !slices.Contains(items, it) {
			items = append(items, it)
		}
	}
	if len(items) == 0 {
		items = append(items, sw.Deck...)
	}
	p.Items = items

	decisions := make(map[string]map[string]Verdict, len(out.TurnOrder))
	for _, id := range out.TurnOrder {
		mine := map[string]Verdict{}
		for item, v := range p.Decisions[id] {
			if (v == VerdictLike || v == VerdictDislike) && slices.Contains(items, item) {
				mine[item] = v
			}
		}
		decisions[id] = mine
	}
	p.Decisions = decisions
	p.Matches = Matches(p.Items, out.TurnOrder, p.Decisions)

	out.Payload = encodePayload(p)
	return out
}

func (sw Swipe) Apply(s State, a Action) (State, error) {
	if _, ok := s.Players[a.Actor]; !ok {
		return s, ErrNotAPlayer
	}
	p := decodeSwipe(s.Payload)

	switch a.Type {
	case ActionSwipe:
		if !slices.Contains(p.Items, a.Item) {
			return s, ErrIllegalMove
		}
		if a.Verdict != VerdictLike && a.Verdict != VerdictDislike {
			return s, ErrIllegalMove
		}

		out := s.Clone()
		mine := make(map[string]Verdict, len(p.Decisions[a.Actor])+1)
		for item, v := range p.Decisions[a.Actor] {
			mine[item] = v
		}
		mine[a.Item] = a.Verdict
		p.Decisions[a.Actor] = mine

		before := len(p.Matches)
		p.Matches = Matches(p.Items, out.TurnOrder, p.Decisions)

		entry := fmt.Sprintf("%s swiped %s on %q", playerName(s, a.Actor), a.Verdict, a.Item)
		if len(p.Matches) > before && slices.Contains(p.Matches, a.Item) {
			entry += ". It's a match"
		}
		out.History = AppendHistory(out.History, entry)
		out.Payload = encodePayload(p)
		return out, nil

	case ActionReset:
		out := s.Clone()
		fresh := SwipePayload{
			Items:     p.Items,
			Decisions: map[string]map[string]Verdict{},
			Matches:   []string{},
		}
		out.History = AppendHistory(out.History, fmt.Sprintf("%s shuffled a new deck", playerName(s, a.Actor)))
		out.Payload = encodePayload(fresh)
		return out, nil

	default:
		return s, ErrUnsupportedAction
	}
}

// Matches returns, in deck order, the items liked by every player in order.
// Fewer than two players never match.
func Matches(items, order []string, decisions map[string]map[string]Verdict) []string {
	out := []string{}
	if len(order) < 2 {
		return out
	}
	for _, item := range items {
		all := true
		for _, id := range order {
			if decisions[id][item] != VerdictLike {
				all = false
				break
			}
		}
		if all {
			out = append(out, item)
		}
	}
	return out
}

func decodeSwipe(raw json.RawMessage) SwipePayload {
	var p SwipePayload
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &p)
	}
	if p.Decisions == nil {
		p.Decisions = map[string]map[string]Verdict{}
	}
	return p
}
