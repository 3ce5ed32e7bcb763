package types

import "github.com/ajoanos/pytania-dla-par-sub000/internal/engine"

// StateResponse is the answer to both sync and poll.
type StateResponse struct {
	Version int64        `json:"version"`
	State   engine.State `json:"state"`
}
