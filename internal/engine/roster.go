package engine

// SanitizeRoster reconciles the envelope of s with the active roster:
// players that are no longer active are dropped, missing ones are added with
// an unused palette color, turn order keeps its relative order and appends
// newcomers in roster order, and the current turn moves on if its holder left.
// Names always come from the roster. Payload is left alone.
func SanitizeRoster(s State, roster []RosterEntry) State {
	out := s.Clone()

	active := make(map[string]RosterEntry, len(roster))
	rosterOrder := make([]string, 0, len(roster))
	for _, r := range roster {
		if r.ID == "" {
			continue
		}
		if _, dup := active[r.ID]; dup {
			continue
		}
		active[r.ID] = r
		rosterOrder = append(rosterOrder, r.ID)
	}

	present := make(map[string]bool, len(active))
	order := make([]string, 0, len(active))
	for _, id := range s.TurnOrder {
		if _, ok := active[id]; ok && !present[id] {
			present[id] = true
			order = append(order, id)
		}
	}
	for _, id := range rosterOrder {
		if !present[id] {
			present[id] = true
			order = append(order, id)
		}
	}

	taken := make(map[string]bool, len(order))
	players := make(map[string]Player, len(order))
	var uncolored []string
	for _, id := range order {
		p := Player{Name: active[id].Name}
		if c := s.Players[id].Color; isPaletteColor(c) && !taken[c] {
			p.Color = c
			taken[c] = true
		} else {
			uncolored = append(uncolored, id)
		}
		players[id] = p
	}
	for _, id := range uncolored {
		p := players[id]
		p.Color = nextColor(taken)
		taken[p.Color] = true
		players[id] = p
	}

	current := s.CurrentTurn
	if !present[current] {
		current = successor(s.TurnOrder, current, func(id string) bool { return present[id] })
	}
	if current == "" && len(order) > 0 {
		current = order[0]
	}

	if len(out.History) > HistoryLimit {
		out.History = out.History[len(out.History)-HistoryLimit:]
	}
	if out.Version < 0 {
		out.Version = 0
	}

	out.Players = players
	out.TurnOrder = order
	out.CurrentTurn = current
	return out
}
