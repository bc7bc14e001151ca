package cart

import (
	"context"
	"sync"
	"time"
)

// Registry holds one Coordinator per visitor session and evicts idle ones.
type Registry struct {
	api    API
	maxQty int
	idle   time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	coord    *Coordinator
	lastSeen time.Time
}

// NewRegistry builds a Registry. Coordinators unused for idle are dropped by Sweep.
func NewRegistry(api API, maxQty int, idle time.Duration) *Registry {
	if idle <= 0 {
		idle = 30 * time.Minute
	}
	return &Registry{
		api:     api,
		maxQty:  maxQty,
		idle:    idle,
		now:     time.Now,
		entries: make(map[string]*registryEntry),
	}
}

// For returns the visitor's Coordinator, creating it on first use.
func (r *Registry) For(sessionID string) *Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[sessionID]
	if !ok {
		entry = &registryEntry{coord: NewCoordinator(r.api, r.maxQty)}
		r.entries[sessionID] = entry
	}
	entry.lastSeen = r.now()
	return entry.coord
}

// Forget drops the visitor's Coordinator, e.g. on logout.
func (r *Registry) Forget(sessionID string) {
	r.mu.Lock()
	delete(r.entries, sessionID)
	r.mu.Unlock()
}

// Len reports how many coordinators are live.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep evicts coordinators idle longer than the configured window and returns how many it removed.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.idle)
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, entry := range r.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(r.entries, id)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}
