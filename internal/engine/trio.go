package engine

import (
	"encoding/json"
	"fmt"
	"slices"
)

const (
	DefaultTrioSize = 3
	MinTrioSize     = 3
	MaxTrioSize     = 6
	MinRunLength    = 3

	// TrioDraw is the winner value of a full board without a line.
	TrioDraw = "draw"
)

// TrioSymbols are handed out to players in turn order.
var TrioSymbols = []string{"X", "O", "Y", "Z", "V", "W"}

var trioWinChallenges = []string{
	"Give the winner a two-minute shoulder massage.",
	"Cook the winner's favourite breakfast this weekend.",
	"Write the winner a three-line love poem and read it aloud.",
	"Let the winner pick tonight's film without objections.",
}

var trioDrawChallenges = []string{
	"Tell each other one thing you admired today.",
	"Share your favourite memory of the two of you.",
	"Plan a surprise date for the other within a month.",
	"Hold hands for the next round, no letting go.",
}

// Challenge is the reward handed out when a trio game ends.
type Challenge struct {
	For  string `json:"for"`
	Text string `json:"text"`
}

// TrioPayload is the grid game's part of the session document.
type TrioPayload struct {
	Size        int               `json:"size"`
	RunLength   int               `json:"runLength"`
	Cells       []string          `json:"cells"`
	Symbols     map[string]string `json:"symbols"`
	Winner      string            `json:"winner,omitempty"`
	WinningLine []int             `json:"winningLine,omitempty"`
	Challenges  []Challenge       `json:"challenges,omitempty"`
}

// Trio is N-in-a-row on a square grid, tic-tac-toe style.
type Trio struct{}

func NewTrio() Trio { return Trio{} }

func (Trio) Name() GameType { return GameTrio }

func (t Trio) Sanitize(s State, roster []RosterEntry) State {
	out := SanitizeRoster(s, roster)
	p := decodeTrio(out.Payload)

	if p.Size == 0 {
		p.Size = DefaultTrioSize
	}
	p.Size = clamp(p.Size, MinTrioSize, MaxTrioSize)
	if p.RunLength == 0 {
		p.RunLength = MinRunLength
	}
	p.RunLength = clamp(p.RunLength, MinRunLength, p.Size)

	cells := make([]string, p.Size*p.Size)
	for i := range cells {
		if i < len(p.Cells) && slices.Contains(TrioSymbols, p.Cells[i]) {
			cells[i] = p.Cells[i]
		}
	}
	p.Cells = cells

	taken := make(map[string]bool, len(out.TurnOrder))
	symbols := make(map[string]string, len(out.TurnOrder))
	var unassigned []string
	for _, id := range out.TurnOrder {
		if sym := p.Symbols[id]; slices.Contains(TrioSymbols, sym) && !taken[sym] {
			symbols[id] = sym
			taken[sym] = true
			continue
		}
		unassigned = append(unassigned, id)
	}
	for _, id := range unassigned {
		for _, sym := range TrioSymbols {
			if !taken[sym] {
				symbols[id] = sym
				taken[sym] = true
				break
			}
		}
	}
	p.Symbols = symbols

	// players beyond the last symbol only watch
	order := make([]string, 0, len(out.TurnOrder))
	for _, id := range out.TurnOrder {
		if symbols[id] != "" {
			order = append(order, id)
		}
	}
	out.TurnOrder = order
	if !slices.Contains(order, out.CurrentTurn) {
		out.CurrentTurn = ""
	}

	t.settle(&p, out.TurnOrder)
	if p.Winner != "" {
		out.CurrentTurn = ""
	} else if out.CurrentTurn == "" && len(out.TurnOrder) > 0 {
		out.CurrentTurn = out.TurnOrder[0]
	}

	out.Payload = encodePayload(p)
	return out
}

func (t Trio) Apply(s State, a Action) (State, error) {
	p := decodeTrio(s.Payload)

	switch a.Type {
	case ActionPlace:
		if p.Winner != "" {
			return s, ErrGameAlreadyCompleted
		}
		if err := checkTurn(s, a); err != nil {
			return s, err
		}
		sym := p.Symbols[a.Actor]
		if sym == "" || a.Cell < 0 || a.Cell >= len(p.Cells) || p.Cells[a.Cell] != "" {
			return s, ErrIllegalMove
		}

		out := s.Clone()
		p.Cells = append([]string{}, p.Cells...)
		p.Cells[a.Cell] = sym
		t.settle(&p, out.TurnOrder)

		name := playerName(s, a.Actor)
		entry := fmt.Sprintf("%s placed %s on cell %d", name, sym, a.Cell)
		switch p.Winner {
		case "":
			out.CurrentTurn, _ = NextTurn(out.TurnOrder, a.Actor, nil)
		case TrioDraw:
			entry += ", the board is full: draw"
			out.CurrentTurn = ""
		default:
			entry += " and completed a line"
			out.CurrentTurn = ""
		}
		out.History = AppendHistory(out.History, entry)
		out.Payload = encodePayload(p)
		return out, nil

	case ActionReset:
		if _, ok := s.Players[a.Actor]; !ok {
			return s, ErrNotAPlayer
		}
		out := s.Clone()
		fresh := TrioPayload{
			Size:      p.Size,
			RunLength: p.RunLength,
			Cells:     make([]string, len(p.Cells)),
			Symbols:   p.Symbols,
		}
		if len(out.TurnOrder) > 0 {
			out.CurrentTurn = out.TurnOrder[0]
		}
		out.History = AppendHistory(out.History, fmt.Sprintf("%s cleared the grid", playerName(s, a.Actor)))
		out.Payload = encodePayload(fresh)
		return out, nil

	default:
		return s, ErrUnsupportedAction
	}
}

// settle derives winner, winning line and challenges from the cells.
func (t Trio) settle(p *TrioPayload, order []string) {
	p.Winner, p.WinningLine, p.Challenges = "", nil, nil

	if sym, line := FindRun(p.Cells, p.Size, p.RunLength); sym != "" {
		p.Winner, p.WinningLine = sym, line
		filled := countFilled(p.Cells)
		for i, id := range order {
			if p.Symbols[id] == sym {
				continue
			}
			p.Challenges = append(p.Challenges, Challenge{For: id, Text: trioWinChallenges[(filled+i)%len(trioWinChallenges)]})
		}
		return
	}

	if len(p.Cells) > 0 && countFilled(p.Cells) == len(p.Cells) {
		p.Winner = TrioDraw
		p.Challenges = DrawChallenges(order, len(p.Cells))
	}
}

// DrawChallenges returns one challenge per participant, and a shared one
// when nobody is left so a draw never comes back empty-handed.
func DrawChallenges(order []string, seed int) []Challenge {
	if len(order) == 0 {
		return []Challenge{{Text: trioDrawChallenges[seed%len(trioDrawChallenges)]}}
	}
	out := make([]Challenge, 0, len(order))
	for i, id := range order {
		out = append(out, Challenge{For: id, Text: trioDrawChallenges[(seed+i)%len(trioDrawChallenges)]})
	}
	return out
}

// FindRun scans a size×size grid for run equal, non-empty cells along a row,
// column or either diagonal and returns the symbol with the matched indices.
func FindRun(cells []string, size, run int) (string, []int) {
	if size <= 0 || run <= 0 || len(cells) < size*size {
		return "", nil
	}
	dirs := [][2]int{{0, 1}, {1, 0}, {1, 1}, {1, -1}}

	for r := 0; r < size; r++ {
		for c := 0; c < size; c++ {
			sym := cells[r*size+c]
			if sym == "" {
				continue
			}
			for _, d := range dirs {
				endR, endC := r+d[0]*(run-1), c+d[1]*(run-1)
				if endR < 0 || endR >= size || endC < 0 || endC >= size {
					continue
				}
				line := make([]int, 0, run)
				for k := 0; k < run; k++ {
					idx := (r+d[0]*k)*size + (c + d[1]*k)
					if cells[idx] != sym {
						break
					}
					line = append(line, idx)
				}
				if len(line) == run {
					return sym, line
				}
			}
		}
	}
	return "", nil
}

func countFilled(cells []string) int {
	n := 0
	for _, c := range cells {
		if c != "" {
			n++
		}
	}
	return n
}

func decodeTrio(raw json.RawMessage) TrioPayload {
	var p TrioPayload
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &p)
	}
	if p.Symbols == nil {
		p.Symbols = map[string]string{}
	}
	return p
}
