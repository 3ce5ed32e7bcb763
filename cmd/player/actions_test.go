package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajoanos/pytania-dla-par-sub000/internal/engine"
)

func TestParseAction(t *testing.T) {
	cases := []struct {
		line string
		want engine.Action
	}{
		{"roll 4", engine.Action{Type: engine.ActionRoll, Actor: "p", Value: 4}},
		{"place 7", engine.Action{Type: engine.ActionPlace, Actor: "p", Cell: 7}},
		{"swipe Dance class LIKE", engine.Action{Type: engine.ActionSwipe, Actor: "p", Item: "Dance class", Verdict: engine.VerdictLike}},
		{"  reset ", engine.Action{Type: engine.ActionReset, Actor: "p"}},
	}
	for _, tc := range cases {
		t.Run(tc.line, func(t *testing.T) {
			got, err := parseAction(tc.line, "p")
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	got, err := parseAction("roll", "p")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got.Value, 1)
	assert.LessOrEqual(t, got.Value, 6)

	for _, bad := range []string{"", "dance", "roll 7", "place", "place x", "swipe like"} {
		_, err := parseAction(bad, "p")
		assert.Error(t, err, bad)
	}
}
