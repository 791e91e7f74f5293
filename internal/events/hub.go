package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Hub keeps at most one live subscription per view key. Opening a view
// again aborts the previous subscription before the new one starts, so a
// remounted view never receives events from a stale stream.
type Hub struct {
	mu       sync.Mutex
	subs     map[string]*Subscription
	registry *Registry
	observer Observer
	logger   *zap.Logger
}

// NewHub returns a hub that records subscriptions in registry.
func NewHub(registry *Registry, observer Observer, logger *zap.Logger) *Hub {
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{subs: map[string]*Subscription{}, registry: registry, observer: observer, logger: logger}
}

// Registry returns the monitored-path registry.
func (h *Hub) Registry() *Registry { return h.registry }

// Open replaces the subscription for key with a new one on path.
func (h *Hub) Open(ctx context.Context, key string, up Upstream, path string, resolve ResolveFunc, reject RejectFunc) *Subscription {
	h.mu.Lock()
	prev := h.subs[key]
	delete(h.subs, key)
	h.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	sub := Subscribe(ctx, up, path, resolve, reject,
		WithLogger(h.logger.With(zap.String("view", key))),
		WithRegistry(h.registry),
		WithObserver(h.observer),
	)

	h.mu.Lock()
	if old := h.subs[key]; old != nil {
		// a concurrent Open for the same key won; keep only the newest
		defer old.Close()
	}
	h.subs[key] = sub
	h.mu.Unlock()

	go func() {
		<-sub.Done()
		h.mu.Lock()
		if h.subs[key] == sub {
			delete(h.subs, key)
		}
		h.mu.Unlock()
	}()
	return sub
}

// Close aborts the subscription for key, if any.
func (h *Hub) Close(key string) {
	h.mu.Lock()
	sub := h.subs[key]
	delete(h.subs, key)
	h.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}

// Active returns the number of live subscriptions.
func (h *Hub) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Shutdown aborts every subscription.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	subs := h.subs
	h.subs = map[string]*Subscription{}
	h.mu.Unlock()
	for _, s := range subs {
		s.Close()
	}
}
