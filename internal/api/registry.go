package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/chatembed/internal/widget"
)

// DefaultWidgetIdle is how long a widget may go unused before it is evicted.
const DefaultWidgetIdle = 2 * time.Hour

type entry struct {
	host     *widget.Host
	lastUsed time.Time
}

// Registry holds the live widgets of a host process by id.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
	logger  *slog.Logger
}

func NewRegistry() *Registry {
	return NewRegistryWithClock(time.Now)
}

// NewRegistryWithClock creates a Registry that reads time from now.
func NewRegistryWithClock(now func() time.Time) *Registry {
	return &Registry{entries: make(map[string]*entry), now: now, logger: slog.Default()}
}

// Add registers h under a new random id.
func (r *Registry) Add(h *widget.Host) string {
	id := uuid.New().String()
	r.mu.Lock()
	r.entries[id] = &entry{host: h, lastUsed: r.now()}
	r.mu.Unlock()
	return id
}

// Get returns the widget registered under id and marks it used.
func (r *Registry) Get(id string) (*widget.Host, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	e.lastUsed = r.now()
	return e.host, true
}

func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	delete(r.entries, id)
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// EvictIdle removes widgets unused for longer than maxIdle and returns how
// many were removed. A widget with a streaming turn is kept.
func (r *Registry) EvictIdle(maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-maxIdle)
	n := 0
	for id, e := range r.entries {
		if e.lastUsed.Before(cutoff) && !e.host.Streaming() {
			delete(r.entries, id)
			n++
		}
	}
	return n
}

// Run evicts idle widgets every interval until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval, maxIdle time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	if maxIdle <= 0 {
		maxIdle = DefaultWidgetIdle
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
		if n := r.EvictIdle(maxIdle); n > 0 {
			r.logger.Debug("evicted idle widgets", "count", n, "remaining", r.Len())
		}
	}
}
