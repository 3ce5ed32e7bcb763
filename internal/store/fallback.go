package store

import (
	"context"
	"errors"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Fallback reads and writes through primary and mirrors every accepted write
// into secondary. When primary fails, secondary answers instead. Either store
// may have missed writes while the other was serving, so loads return the
// newer of the two records and a write older than either is stale.
type Fallback struct {
	primary   Store
	secondary Store
	log       *zap.Logger
}

func NewFallback(primary, secondary Store, log *zap.Logger) *Fallback {
	return &Fallback{primary: primary, secondary: secondary, log: log}
}

func (f *Fallback) LoadState(ctx context.Context, roomID string) (*Record, error) {
	rec, err := f.primary.LoadState(ctx, roomID)
	if err != nil {
		f.log.Warn("primary load failed, using secondary", zap.String("room", roomID), zap.Error(err))
	}

	alt, altErr := f.secondary.LoadState(ctx, roomID)
	switch {
	case err != nil && altErr != nil:
		return nil, multierr.Combine(err, altErr)
	case altErr != nil:
		f.log.Warn("secondary load failed", zap.String("room", roomID), zap.Error(altErr))
		return rec, nil
	case err != nil:
		return alt, nil
	}
	return newer(rec, alt), nil
}

func (f *Fallback) SaveState(ctx context.Context, roomID string, doc []byte, version int64) error {
	err := f.primary.SaveState(ctx, roomID, doc, version)
	if errors.Is(err, ErrStaleWrite) {
		return err
	}
	if err != nil {
		f.log.Warn("primary save failed, writing secondary only", zap.String("room", roomID), zap.Error(err))
		return f.secondary.SaveState(ctx, roomID, doc, version)
	}

	mirrorErr := f.secondary.SaveState(ctx, roomID, doc, version)
	if errors.Is(mirrorErr, ErrStaleWrite) {
		// secondary took newer writes while primary was away
		return mirrorErr
	}
	if mirrorErr != nil {
		f.log.Warn("mirror write failed", zap.String("room", roomID), zap.Error(mirrorErr))
	}
	return nil
}

func newer(a, b *Record) *Record {
	if a == nil {
		return b
	}
	if b == nil || a.Version >= b.Version {
		return a
	}
	return b
}

func (f *Fallback) DeleteState(ctx context.Context, roomID string) error {
	return multierr.Combine(
		f.primary.DeleteState(ctx, roomID),
		f.secondary.DeleteState(ctx, roomID),
	)
}
