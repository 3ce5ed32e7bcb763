package hub

import (
	"context"
	"errors"
	"fmt"
)

var ErrHubClosed = errors.New("hub closed")

// Job runs on a room's lane. Jobs for the same room never overlap.
type Job func(ctx context.Context) error

type HubMsg interface{ isHubMsg() }

type acquireLane struct {
	Room  string
	Reply chan *lane
}

type releaseLane struct {
	Room string
}

// GetStats reports the number of open lanes. Used by tests and /healthz.
type GetStats struct {
	Reply chan Stats
}

type ShutdownHub struct{}

func (acquireLane) isHubMsg() {}
func (releaseLane) isHubMsg() {}
func (GetStats) isHubMsg()    {}
func (ShutdownHub) isHubMsg() {}

type Stats struct {
	Lanes int
}

type job struct {
	run  Job
	ctx  context.Context
	done chan error
}

// lane executes one room's jobs in arrival order. It lives while at least
// one caller holds a reference and is closed by the hub when the last one
// is released.
type lane struct {
	room  string
	inbox chan job
	refs  int
}

// Hub owns the lanes. All bookkeeping happens on the hub goroutine; lanes
// only talk back to it to release their reference after a job ran.
type Hub struct {
	inbox  chan HubMsg
	lanes  map[string]*lane
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(parent context.Context) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		lanes:  make(map[string]*lane),
		ctx:    ctx,
		cancel: cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Do runs fn on room's lane and waits for its result. If ctx ends first Do
// returns ctx.Err(); a job that already started still finishes on the lane
// before the next one for the room begins.
func (h *Hub) Do(ctx context.Context, room string, fn Job) error {
	reply := make(chan *lane, 1)
	if err := h.send(ctx, acquireLane{Room: room, Reply: reply}); err != nil {
		return err
	}

	var l *lane
	select {
	case l = <-reply:
	case <-ctx.Done():
		// the hub still hands us a lane; give it back from here
		go h.releaseWhenReady(reply)
		return ctx.Err()
	case <-h.ctx.Done():
		return ErrHubClosed
	}

	j := job{run: fn, ctx: ctx, done: make(chan error, 1)}
	select {
	case l.inbox <- j:
	case <-ctx.Done():
		_ = h.send(context.Background(), releaseLane{Room: room})
		return ctx.Err()
	case <-h.ctx.Done():
		return ErrHubClosed
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-h.ctx.Done():
		return ErrHubClosed
	}
}

func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	if err := h.send(ctx, GetStats{Reply: reply}); err != nil {
		return Stats{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	case <-h.ctx.Done():
		return Stats{}, ErrHubClosed
	}
}

func (h *Hub) Shutdown() {
	_ = h.send(context.Background(), ShutdownHub{})
}

func (h *Hub) send(ctx context.Context, m HubMsg) error {
	select {
	case h.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.ctx.Done():
		return ErrHubClosed
	}
}

func (h *Hub) releaseWhenReady(reply chan *lane) {
	select {
	case l := <-reply:
		_ = h.send(context.Background(), releaseLane{Room: l.room})
	case <-h.ctx.Done():
	}
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case acquireLane:
				l := h.lanes[msg.Room]
				if l == nil {
					l = &lane{room: msg.Room, inbox: make(chan job, 16)}
					h.lanes[msg.Room] = l
					go h.runLane(l)
				}
				l.refs++
				msg.Reply <- l

			case releaseLane:
				l := h.lanes[msg.Room]
				if l == nil {
					break
				}
				l.refs--
				if l.refs <= 0 {
					delete(h.lanes, msg.Room)
					close(l.inbox)
				}

			case GetStats:
				msg.Reply <- Stats{Lanes: len(h.lanes)}

			case ShutdownHub:
				clear(h.lanes)
				h.cancel()
			}
		}
	}
}

func (h *Hub) runLane(l *lane) {
	for {
		select {
		case <-h.ctx.Done():
			return
		case j, ok := <-l.inbox:
			if !ok {
				return
			}
			j.done <- runJob(j)
			_ = h.send(context.Background(), releaseLane{Room: l.room})
		}
	}
}

func runJob(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hub: job panicked: %v", r)
		}
	}()
	if err := j.ctx.Err(); err != nil {
		return err
	}
	return j.run(j.ctx)
}
