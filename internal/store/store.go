package store

import (
	"context"
	"errors"
	"time"
)

// ErrStaleWrite is returned by SaveState when the stored version is already
// at or beyond the version being written.
var ErrStaleWrite = errors.New("stale write")

// Record is one stored session document.
type Record struct {
	Doc       []byte
	Version   int64
	UpdatedAt time.Time
}

// Store keeps one session document per room. Writes are conditional: a
// version only ever replaces a strictly smaller one, so stored versions
// never go backwards even with several writers.
type Store interface {
	// LoadState returns nil, nil when the room has no document yet.
	LoadState(ctx context.Context, roomID string) (*Record, error)
	SaveState(ctx context.Context, roomID string, doc []byte, version int64) error
	DeleteState(ctx context.Context, roomID string) error
}
