package hub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitForLanes(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		s, err := h.Stats(context.Background())
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if s.Lanes == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("want %d lanes, have %d", want, s.Lanes)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_SameRoomNeverOverlaps(t *testing.T) {
	h := NewHub(context.Background())
	defer h.Shutdown()

	var inside, maxInside, total int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := h.Do(context.Background(), "ROOM1", func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&total, 1)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			if err != nil {
				t.Errorf("do: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Fatalf("jobs overlapped: %d at once", maxInside)
	}
	if total != 50 {
		t.Fatalf("ran %d jobs, want 50", total)
	}
	waitForLanes(t, h, 0)
}

func TestHub_RoomsRunInParallel(t *testing.T) {
	h := NewHub(context.Background())
	defer h.Shutdown()

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	go func() {
		_ = h.Do(context.Background(), "SLOW", func(ctx context.Context) error {
			started <- struct{}{}
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.Do(ctx, "FAST", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("other room should not wait: %v", err)
	}
	close(release)
}

func TestHub_ReturnsJobError(t *testing.T) {
	h := NewHub(context.Background())
	defer h.Shutdown()

	boom := errors.New("boom")
	if err := h.Do(context.Background(), "R", func(ctx context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}

	err := h.Do(context.Background(), "R", func(ctx context.Context) error { panic("bad job") })
	if err == nil {
		t.Fatalf("panic should surface as an error")
	}
	if err := h.Do(context.Background(), "R", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("lane should survive a panicking job: %v", err)
	}
}

func TestHub_CallerGivesUp(t *testing.T) {
	h := NewHub(context.Background())
	defer h.Shutdown()

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	go func() {
		_ = h.Do(context.Background(), "R", func(ctx context.Context) error {
			started <- struct{}{}
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	var ran atomic.Bool
	err := h.Do(ctx, "R", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded", err)
	}

	close(release)
	waitForLanes(t, h, 0)
	if ran.Load() {
		t.Fatalf("a job whose caller already left should not run")
	}
}

func TestHub_Shutdown(t *testing.T) {
	h := NewHub(context.Background())
	h.Shutdown()

	deadline := time.Now().Add(time.Second)
	for {
		err := h.Do(context.Background(), "R", func(ctx context.Context) error { return nil })
		if errors.Is(err, ErrHubClosed) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("hub still accepting work after shutdown: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
