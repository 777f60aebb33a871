package api

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/chatembed/internal/widget"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestRegistry_EvictIdle(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	r := NewRegistryWithClock(clock.Now)

	idle := r.Add(widget.NewHost(nil, widget.Session{}))
	active := r.Add(widget.NewHost(nil, widget.Session{}))
	streaming := r.Add(widget.NewHost(nil, widget.Session{Streaming: true}))

	clock.Advance(90 * time.Minute)
	r.Get(active)
	clock.Advance(time.Hour)

	if n := r.EvictIdle(2 * time.Hour); n != 1 {
		t.Errorf("EvictIdle = %d, want 1", n)
	}
	if _, ok := r.Get(idle); ok {
		t.Error("idle widget not evicted")
	}
	if _, ok := r.Get(active); !ok {
		t.Error("recently used widget evicted")
	}
	if _, ok := r.Get(streaming); !ok {
		t.Error("streaming widget evicted")
	}
	if r.Len() != 2 {
		t.Errorf("Len = %d, want 2", r.Len())
	}
}

func TestRegistry_RunStopsOnCancel(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, time.Millisecond, time.Hour)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
