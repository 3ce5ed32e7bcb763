package engine

import "slices"

// NextTurn walks order cyclically from acting and returns the first player
// that is not paused. Paused players are skipped and their counter drops by
// one. If everyone is paused the acting player keeps the turn.
//
// The returned map is a copy; paused is never modified.
func NextTurn(order []string, acting string, paused map[string]int) (string, map[string]int) {
	out := make(map[string]int, len(paused))
	for id, n := range paused {
		out[id] = n
	}

	n := len(order)
	if n == 0 {
		return acting, out
	}

	idx := slices.Index(order, acting)
	for k := 1; k <= n; k++ {
		candidate := order[(idx+k)%n]
		if out[candidate] > 0 {
			out[candidate]--
			continue
		}
		return candidate, out
	}

	if idx < 0 {
		return order[0], out
	}
	return acting, out
}

// successor returns the first id after from in order (cyclically) for which
// keep reports true, or "" when from is not in order or nothing qualifies.
func successor(order []string, from string, keep func(string) bool) string {
	idx := slices.Index(order, from)
	if idx < 0 {
		return ""
	}
	for k := 1; k < len(order); k++ {
		if c := order[(idx+k)%len(order)]; keep(c) {
			return c
		}
	}
	return ""
}
