// Package ws streams bus events (toasts and task changes) to dashboard
// browsers over Server-Sent Events.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GoCodeAlone/conduit/events"
)

const (
	// DefaultKeepAlive is the interval between comment frames on an idle
	// stream.
	DefaultKeepAlive = 25 * time.Second

	retryMillis = 3000
	bufferSize  = 64
)

// subscriber is one SSE connection and the event types it asked for.
type subscriber struct {
	ch    chan *events.Event
	types map[events.Type]bool // empty means all
}

func (s *subscriber) wants(t events.Type) bool {
	return len(s.types) == 0 || s.types[t]
}

// Hub fans bus events out to SSE connections.
type Hub struct {
	logger    *zap.Logger
	keepAlive time.Duration

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// NewHub creates a Hub ready to accept connections.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:    logger,
		keepAlive: DefaultKeepAlive,
		subs:      make(map[*subscriber]struct{}),
	}
}

// Attach forwards every event published on bus to connected clients until
// the returned function is called.
func (h *Hub) Attach(bus events.Bus) (detach func()) {
	return bus.Subscribe("", func(_ context.Context, ev *events.Event) error {
		h.Broadcast(ev)
		return nil
	})
}

// Clients returns the number of open streams.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast queues ev on every stream subscribed to its type. Streams whose
// buffer is full miss the event.
func (h *Hub) Broadcast(ev *events.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if !s.wants(ev.Type) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			h.logger.Warn("sse client lagging, event dropped", zap.String("event_id", ev.ID))
		}
	}
}

func (h *Hub) add(s *subscriber) {
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

// ServeSSE streams events until the client disconnects. Repeated ?type=
// parameters restrict the stream to those event types.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	sub := &subscriber{ch: make(chan *events.Event, bufferSize), types: make(map[events.Type]bool)}
	for _, t := range r.URL.Query()["type"] {
		sub.types[events.Type(t)] = true
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	h.add(sub)
	defer h.remove(sub)
	h.logger.Debug("sse client connected", zap.String("remote", r.RemoteAddr), zap.Int("types", len(sub.types)))

	fmt.Fprintf(w, "retry: %d\nevent: connected\ndata: {}\n\n", retryMillis) //nolint:errcheck
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			io.WriteString(w, ": keep-alive\n\n") //nolint:errcheck
			flusher.Flush()
		case ev := <-sub.ch:
			if err := writeEvent(w, ev); err != nil {
				h.logger.Debug("sse write", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

// writeEvent frames ev as a named SSE event. JSON output holds no raw
// newlines, so the payload always fits on one data line.
func writeEvent(w io.Writer, ev *events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, data)
	return err
}
