package engine

import "slices"

const HistoryLimit = 50

// Palette is the fixed set of player colors, assigned in order.
var Palette = []string{
	"#e63946",
	"#457b9d",
	"#2a9d8f",
	"#f4a261",
	"#9b5de5",
	"#f15bb5",
	"#00bbf9",
	"#8ac926",
}

func NewEmptyState(game GameType) State {
	return State{
		Game:      game,
		Players:   map[string]Player{},
		TurnOrder: []string{},
		History:   []string{},
	}
}

// AppendHistory appends entry and evicts the oldest entries beyond HistoryLimit.
func AppendHistory(history []string, entry string) []string {
	out := append(append([]string{}, history...), entry)
	if len(out) > HistoryLimit {
		out = out[len(out)-HistoryLimit:]
	}
	return out
}

func isPaletteColor(c string) bool {
	return slices.Contains(Palette, c)
}

func nextColor(taken map[string]bool) string {
	for _, c := range Palette {
		if !taken[c] {
			return c
		}
	}
	return Palette[len(taken)%len(Palette)]
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func playerName(s State, id string) string {
	if p, ok := s.Players[id]; ok && p.Name != "" {
		return p.Name
	}
	return id
}
