package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// InMemoryBus is a thread-safe in-process Bus.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[Type][]handlerEntry
	history  []*Event
	maxHist  int
	nextID   int
	now      func() time.Time
}

type handlerEntry struct {
	id      int
	handler Handler
}

// NewInMemoryBus creates an InMemoryBus keeping at most maxHistory events.
// A non-positive maxHistory defaults to 200.
func NewInMemoryBus(maxHistory int) *InMemoryBus {
	if maxHistory <= 0 {
		maxHistory = 200
	}
	return &InMemoryBus{
		handlers: make(map[Type][]handlerEntry),
		maxHist:  maxHistory,
		now:      time.Now,
	}
}

// Publish records ev and invokes matching handlers outside the lock.
func (b *InMemoryBus) Publish(ctx context.Context, ev *Event) error {
	if ev == nil {
		return errors.New("publish: nil event")
	}
	b.mu.Lock()
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.now()
	}
	b.history = append(b.history, ev)
	if len(b.history) > b.maxHist {
		b.history = b.history[len(b.history)-b.maxHist:]
	}

	var targets []Handler
	for _, e := range b.handlers[ev.Type] {
		targets = append(targets, e.handler)
	}
	if ev.Type != "" {
		for _, e := range b.handlers[""] {
			targets = append(targets, e.handler)
		}
	}
	b.mu.Unlock()

	var errs []error
	for _, h := range targets {
		if err := h(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Wrapf(errs[0], "publish %s: %d handler error(s)", ev.Type, len(errs))
	}
	return nil
}

// Subscribe registers handler for events of type t ("" for all).
func (b *InMemoryBus) Subscribe(t Type, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[t] = append(b.handlers[t], handlerEntry{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		entries := b.handlers[t]
		filtered := entries[:0]
		for _, e := range entries {
			if e.id != id {
				filtered = append(filtered, e)
			}
		}
		if len(filtered) == 0 {
			delete(b.handlers, t)
		} else {
			b.handlers[t] = filtered
		}
	}
}

// History returns up to limit recent events of type t, oldest first.
// A non-positive limit returns every retained event.
func (b *InMemoryBus) History(t Type, limit int) ([]*Event, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []*Event
	for i := len(b.history) - 1; i >= 0; i-- {
		ev := b.history[i]
		if t != "" && ev.Type != t {
			continue
		}
		result = append(result, ev)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	for l, r := 0, len(result)-1; l < r; l, r = l+1, r-1 {
		result[l], result[r] = result[r], result[l]
	}
	return result, nil
}

// Recent returns notifications published within ttl, oldest first.
func Recent(bus Bus, ttl time.Duration, now time.Time) []*Event {
	hist, err := bus.History(TypeNotification, 20)
	if err != nil {
		return nil
	}
	var out []*Event
	for _, ev := range hist {
		if now.Sub(ev.Timestamp) <= ttl {
			out = append(out, ev)
		}
	}
	return out
}
