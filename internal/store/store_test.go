package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajoanos/pytania-dla-par-sub000/internal/database"
)

func newRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, time.Hour), mr
}

func backends(t *testing.T) map[string]Store {
	t.Helper()
	r, _ := newRedis(t)
	out := map[string]Store{
		"memory":   NewMemory(),
		"redis":    r,
		"fallback": NewFallback(NewMemory(), NewMemory(), zaptest.NewLogger(t)),
	}

	db, err := database.Open(database.DriverSqlite, ":memory:", zaptest.NewLogger(t))
	if err != nil {
		t.Logf("sqlite unavailable: %v", err)
		return out
	}
	t.Cleanup(func() { _ = database.Close(db) })
	g := NewGorm(db)
	if err := g.Migrate(context.Background()); err != nil {
		t.Logf("sqlite unavailable: %v", err)
		return out
	}
	out["sqlite"] = g
	return out
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			rec, err := s.LoadState(ctx, "room-1")
			require.NoError(t, err)
			assert.Nil(t, rec, "empty room loads as nil")

			require.NoError(t, s.SaveState(ctx, "room-1", []byte(`{"version":1}`), 1))
			require.NoError(t, s.SaveState(ctx, "room-1", []byte(`{"version":3}`), 3))

			err = s.SaveState(ctx, "room-1", []byte(`{"version":2}`), 2)
			assert.ErrorIs(t, err, ErrStaleWrite, "older version must be refused")
			err = s.SaveState(ctx, "room-1", []byte(`{"version":3}`), 3)
			assert.ErrorIs(t, err, ErrStaleWrite, "equal version must be refused")

			rec, err = s.LoadState(ctx, "room-1")
			require.NoError(t, err)
			require.NotNil(t, rec)
			assert.Equal(t, int64(3), rec.Version)
			assert.JSONEq(t, `{"version":3}`, string(rec.Doc))

			other, err := s.LoadState(ctx, "room-2")
			require.NoError(t, err)
			assert.Nil(t, other, "rooms are isolated")

			require.NoError(t, s.DeleteState(ctx, "room-1"))
			rec, err = s.LoadState(ctx, "room-1")
			require.NoError(t, err)
			assert.Nil(t, rec)

			require.NoError(t, s.SaveState(ctx, "room-1", []byte(`{}`), 1), "a deleted room starts over")
		})
	}
}

func TestStoreConcurrentWritersNeverGoBackwards(t *testing.T) {
	ctx := context.Background()

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for v := int64(1); v <= 20; v++ {
				wg.Add(1)
				go func(v int64) {
					defer wg.Done()
					err := s.SaveState(ctx, "race", []byte(`{}`), v)
					if err != nil && !errors.Is(err, ErrStaleWrite) {
						t.Errorf("save %d: %v", v, err)
					}
				}(v)
			}
			wg.Wait()

			rec, err := s.LoadState(ctx, "race")
			require.NoError(t, err)
			require.NotNil(t, rec)
			assert.Equal(t, int64(20), rec.Version)
		})
	}
}

func TestRedisTTL(t *testing.T) {
	ctx := context.Background()
	r, mr := newRedis(t)

	require.NoError(t, r.SaveState(ctx, "room-1", []byte(`{}`), 1))
	assert.Equal(t, time.Hour, mr.TTL("party:state:room-1"))

	mr.FastForward(2 * time.Hour)
	rec, err := r.LoadState(ctx, "room-1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

type brokenStore struct{}

func (brokenStore) LoadState(context.Context, string) (*Record, error) {
	return nil, errors.New("connection refused")
}
func (brokenStore) SaveState(context.Context, string, []byte, int64) error {
	return errors.New("connection refused")
}
func (brokenStore) DeleteState(context.Context, string) error {
	return errors.New("connection refused")
}

// flakyStore is a Memory that can be switched off.
type flakyStore struct {
	*Memory
	down atomic.Bool
}

func (f *flakyStore) LoadState(ctx context.Context, roomID string) (*Record, error) {
	if f.down.Load() {
		return nil, errors.New("connection refused")
	}
	return f.Memory.LoadState(ctx, roomID)
}

func (f *flakyStore) SaveState(ctx context.Context, roomID string, doc []byte, version int64) error {
	if f.down.Load() {
		return errors.New("connection refused")
	}
	return f.Memory.SaveState(ctx, roomID, doc, version)
}

func TestFallback(t *testing.T) {
	ctx := context.Background()
	log := zaptest.NewLogger(t)

	t.Run("mirrors writes", func(t *testing.T) {
		primary, secondary := NewMemory(), NewMemory()
		f := NewFallback(primary, secondary, log)

		require.NoError(t, f.SaveState(ctx, "r", []byte(`{"a":1}`), 4))
		rec, err := secondary.LoadState(ctx, "r")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, int64(4), rec.Version)
	})

	t.Run("reads secondary when primary is empty", func(t *testing.T) {
		secondary := NewMemory()
		require.NoError(t, secondary.SaveState(ctx, "r", []byte(`{}`), 9))
		f := NewFallback(NewMemory(), secondary, log)

		rec, err := f.LoadState(ctx, "r")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, int64(9), rec.Version)
	})

	t.Run("survives a broken primary", func(t *testing.T) {
		secondary := NewMemory()
		f := NewFallback(brokenStore{}, secondary, log)

		require.NoError(t, f.SaveState(ctx, "r", []byte(`{}`), 1))
		rec, err := f.LoadState(ctx, "r")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, int64(1), rec.Version)
		assert.Error(t, f.DeleteState(ctx, "r"))
	})

	t.Run("stale writes are not retried elsewhere", func(t *testing.T) {
		primary, secondary := NewMemory(), NewMemory()
		require.NoError(t, primary.SaveState(ctx, "r", []byte(`{}`), 5))
		f := NewFallback(primary, secondary, log)

		assert.ErrorIs(t, f.SaveState(ctx, "r", []byte(`{}`), 5), ErrStaleWrite)
		rec, err := secondary.LoadState(ctx, "r")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("never goes back after primary recovers", func(t *testing.T) {
		primary := &flakyStore{Memory: NewMemory()}
		f := NewFallback(primary, NewMemory(), log)

		for v := int64(1); v <= 3; v++ {
			require.NoError(t, f.SaveState(ctx, "r", []byte(`{}`), v))
		}
		primary.down.Store(true)
		for v := int64(4); v <= 6; v++ {
			require.NoError(t, f.SaveState(ctx, "r", []byte(`{}`), v))
		}
		primary.down.Store(false)

		rec, err := f.LoadState(ctx, "r")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, int64(6), rec.Version)

		assert.ErrorIs(t, f.SaveState(ctx, "r", []byte(`{}`), 4), ErrStaleWrite)

		require.NoError(t, f.SaveState(ctx, "r", []byte(`{}`), 7))
		rec, err = primary.Memory.LoadState(ctx, "r")
		require.NoError(t, err)
		assert.Equal(t, int64(7), rec.Version)
	})
}
