// Package feed delivers full per-user snapshots to registered listeners.
//
// A listener receives the current snapshot as soon as it subscribes and a
// fresh snapshot after every Publish for its user. Deliveries for one user
// are serialized and arrive in publish order. Nothing is coalesced: one
// publish yields one callback per listener.
package feed

import (
	"context"
	"log"
	"sort"
	"sync"
	"sync/atomic"
)

// Loader reads the current snapshot for a user.
type Loader[T any] func(ctx context.Context, userID string) ([]T, error)

type Hub[T any] struct {
	load   Loader[T]
	logger *log.Logger

	mu     sync.Mutex
	topics map[string]*topic[T]
	nextID int64
}

type topic[T any] struct {
	// deliver serializes snapshot loads and callbacks for one user.
	deliver sync.Mutex
	subs    map[int64]*listener[T]
}

type listener[T any] struct {
	id     int64
	fn     func([]T)
	closed atomic.Bool
}

func NewHub[T any](load Loader[T], logger *log.Logger) *Hub[T] {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub[T]{load: load, logger: logger, topics: map[string]*topic[T]{}}
}

func (h *Hub[T]) topic(userID string) *topic[T] {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[userID]
	if !ok {
		t = &topic[T]{subs: map[int64]*listener[T]{}}
		h.topics[userID] = t
	}
	return t
}

// Subscribe registers fn and calls it with the current snapshot before
// returning. The returned function removes the listener; it is safe to call
// more than once and from inside fn. No new callback starts once it returns.
// Callbacks must not call Publish for the same user.
func (h *Hub[T]) Subscribe(ctx context.Context, userID string, fn func([]T)) (func(), error) {
	t := h.topic(userID)
	t.deliver.Lock()
	defer t.deliver.Unlock()

	snapshot, err := h.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.nextID++
	l := &listener[T]{id: h.nextID, fn: fn}
	t.subs[l.id] = l
	h.mu.Unlock()

	fn(snapshot)

	var once sync.Once
	return func() {
		once.Do(func() {
			l.closed.Store(true)
			h.mu.Lock()
			delete(t.subs, l.id)
			h.mu.Unlock()
		})
	}, nil
}

// Publish loads a fresh snapshot and delivers it to every listener of userID.
// A load failure is logged and the publish is dropped.
func (h *Hub[T]) Publish(ctx context.Context, userID string) {
	h.mu.Lock()
	t, ok := h.topics[userID]
	h.mu.Unlock()
	if !ok {
		return
	}
	t.deliver.Lock()
	defer t.deliver.Unlock()

	listeners := h.listeners(t)
	if len(listeners) == 0 {
		return
	}
	snapshot, err := h.load(ctx, userID)
	if err != nil {
		h.logger.Printf("load snapshot for %s failed: %v", userID, err)
		return
	}
	for _, l := range listeners {
		if l.closed.Load() {
			continue
		}
		l.fn(snapshot)
	}
}

func (h *Hub[T]) listeners(t *topic[T]) []*listener[T] {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*listener[T], 0, len(t.subs))
	for _, l := range t.subs {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Count reports the live listeners for userID.
func (h *Hub[T]) Count(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.topics[userID]; ok {
		return len(t.subs)
	}
	return 0
}
