// Package session keeps one running store per signed-in identity. Stores
// are created on first use, evicted least-recently-used when the registry
// is full, and closed on eviction so their subscriptions are torn down.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mr1hm/go-emergency-alerts/internal/auth"
	"github.com/mr1hm/go-emergency-alerts/internal/observability"
	"github.com/mr1hm/go-emergency-alerts/internal/store"
)

type Factory func(id auth.Identity) *store.Store

// entry is a registered store; ready closes once its first Start returns.
type entry struct {
	store *store.Store
	ready chan struct{}
}

type Registry struct {
	mu      sync.Mutex
	stores  *lru.Cache[string, *entry]
	factory Factory
}

func NewRegistry(size int, factory Factory) (*Registry, error) {
	r := &Registry{factory: factory}
	cache, err := lru.NewWithEvict[string, *entry](size, r.onEvict)
	if err != nil {
		return nil, fmt.Errorf("create session cache: %w", err)
	}
	r.stores = cache
	return r, nil
}

func (r *Registry) onEvict(key string, e *entry) {
	observability.ActiveSessions.Dec()
	e.store.Close()
	slog.Debug("session closed", "key", key)
}

// Get returns the identity's store, starting one if needed. The initial load
// runs outside the registry lock so one slow sign-in does not hold up other
// sessions; concurrent callers for the same identity wait for it. A failed
// initial load is logged and the store still returned; it keeps its
// subscription and will refresh on the next change.
func (r *Registry) Get(ctx context.Context, id auth.Identity) *store.Store {
	key := id.Key()

	r.mu.Lock()
	e, ok := r.stores.Get(key)
	if ok {
		r.mu.Unlock()
		select {
		case <-e.ready:
		case <-ctx.Done():
		}
		return e.store
	}
	e = &entry{store: r.factory(id), ready: make(chan struct{})}
	r.stores.Add(key, e)
	observability.ActiveSessions.Inc()
	r.mu.Unlock()

	defer close(e.ready)
	if err := e.store.Start(ctx); err != nil {
		slog.Warn("initial load failed", "subject", id.Subject, "role", id.Role, "error", err)
	}
	return e.store
}

// Remove tears down the identity's store, e.g. on sign-out.
func (r *Registry) Remove(id auth.Identity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stores.Remove(id.Key())
}

func (r *Registry) Len() int {
	return r.stores.Len()
}

// Close tears down every store.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores.Purge()
}
