package session

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ajoanos/pytania-dla-par-sub000/internal/directory"
	"github.com/ajoanos/pytania-dla-par-sub000/internal/hub"
	"github.com/ajoanos/pytania-dla-par-sub000/internal/store"
)

// Sweeper periodically removes expired rooms together with their session
// state. Removal runs on the room's hub lane, so it never interleaves with a
// merge of the same room.
type Sweeper struct {
	dir      directory.Admin
	store    store.Store
	hub      *hub.Hub
	interval time.Duration
	log      *zap.Logger
	now      func() time.Time
}

func NewSweeper(dir directory.Admin, st store.Store, h *hub.Hub, interval time.Duration, log *zap.Logger) *Sweeper {
	return &Sweeper{dir: dir, store: st, hub: h, interval: interval, log: log, now: time.Now}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.SweepOnce(ctx)
			if err != nil {
				s.log.Warn("sweep incomplete", zap.Int("removed", n), zap.Error(err))
			} else if n > 0 {
				s.log.Info("swept expired rooms", zap.Int("removed", n))
			}
		}
	}
}

// SweepOnce deletes every expired room. A failure on one room does not stop
// the others; all failures are returned together.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	rooms, err := s.dir.ListExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}

	var errs error
	removed := 0
	for _, r := range rooms {
		err := s.hub.Do(ctx, r.ID, func(ctx context.Context) error {
			if err := s.store.DeleteState(ctx, r.ID); err != nil {
				return err
			}
			return s.dir.DeleteRoom(ctx, r.ID)
		})
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		removed++
	}
	return removed, errs
}
