package main

import (
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/ajoanos/pytania-dla-par-sub000/internal/engine"
)

var errUsage = errors.New("commands: roll [1-6], place <cell>, swipe <item> like|dislike, reset")

// parseAction turns one input line into an action for actor. Swipe items may
// contain spaces; the verdict is always the last word.
func parseAction(line, actor string) (engine.Action, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return engine.Action{}, errUsage
	}
	a := engine.Action{Actor: actor}

	switch strings.ToLower(fields[0]) {
	case "roll":
		a.Type = engine.ActionRoll
		a.Value = rand.Intn(6) + 1
		if len(fields) > 1 {
			n, err := strconv.Atoi(fields[1])
			if err != nil || n < 1 || n > 6 {
				return engine.Action{}, fmt.Errorf("roll: %q is not a die face", fields[1])
			}
			a.Value = n
		}
	case "place":
		if len(fields) != 2 {
			return engine.Action{}, errUsage
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return engine.Action{}, fmt.Errorf("place: %q is not a cell", fields[1])
		}
		a.Type, a.Cell = engine.ActionPlace, n
	case "swipe":
		if len(fields) < 3 {
			return engine.Action{}, errUsage
		}
		a.Type = engine.ActionSwipe
		a.Item = strings.Join(fields[1:len(fields)-1], " ")
		a.Verdict = engine.Verdict(strings.ToLower(fields[len(fields)-1]))
	case "reset":
		a.Type = engine.ActionReset
	default:
		return engine.Action{}, errUsage
	}
	return a, nil
}
