package ws

import (
	"bufio"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/GoCodeAlone/conduit/events"
	"github.com/GoCodeAlone/conduit/task"
)

// stream connects to the hub and returns a function yielding the next
// non-blank line.
func stream(t *testing.T, hub *Hub, query string) func() string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeSSE))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+query, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	lines := bufio.NewScanner(resp.Body)
	return func() string {
		for lines.Scan() {
			if l := lines.Text(); l != "" {
				return l
			}
		}
		t.Fatalf("stream ended: %v", lines.Err())
		return ""
	}
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() < n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", hub.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_StreamsBusEvents(t *testing.T) {
	hub := NewHub(nil)
	bus := events.NewInMemoryBus(0)
	defer hub.Attach(bus)()

	next := stream(t, hub, "")
	if got := next(); got != "retry: 3000" {
		t.Fatalf("first line = %q", got)
	}
	if got := next(); got != "event: connected" {
		t.Fatalf("second line = %q", got)
	}
	next() // data: {}

	waitForClients(t, hub, 1)
	if err := events.Notify(context.Background(), bus, events.LevelSuccess, "Task deleted successfully"); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if got := next(); !strings.HasPrefix(got, "id: ") {
		t.Errorf("id line = %q", got)
	}
	if got := next(); got != "event: notification" {
		t.Errorf("event line = %q", got)
	}
	got := next()
	if !strings.HasPrefix(got, "data: ") || !strings.Contains(got, `"level":"success"`) || !strings.Contains(got, "Task deleted successfully") {
		t.Errorf("data line = %q", got)
	}
}

func TestHub_TypeFilter(t *testing.T) {
	hub := NewHub(nil)
	bus := events.NewInMemoryBus(0)
	defer hub.Attach(bus)()

	next := stream(t, hub, "?type=task.deleted")
	next() // retry
	next() // event: connected
	next() // data: {}
	waitForClients(t, hub, 1)

	ctx := context.Background()
	_ = events.Notify(ctx, bus, events.LevelInfo, "skipped")
	_ = bus.Publish(ctx, &events.Event{Type: events.TypeTaskDeleted, TaskIDs: []task.ID{"7"}})

	next() // id
	if got := next(); got != "event: task.deleted" {
		t.Errorf("event line = %q, notification should have been filtered", got)
	}
	if got := next(); !strings.Contains(got, `"taskIds":[7]`) {
		t.Errorf("data line = %q", got)
	}
}

func TestHub_DetachStopsForwarding(t *testing.T) {
	hub := NewHub(nil)
	bus := events.NewInMemoryBus(0)
	sub := &subscriber{ch: make(chan *events.Event, 1)}
	hub.add(sub)

	detach := hub.Attach(bus)
	detach()
	_ = events.Notify(context.Background(), bus, events.LevelInfo, "ignored")

	select {
	case ev := <-sub.ch:
		t.Errorf("unexpected broadcast after detach: %+v", ev)
	default:
	}
}

func TestWriteEvent(t *testing.T) {
	var buf bytes.Buffer
	ev := &events.Event{ID: "e1", Type: events.TypeTaskCreated, Message: "line one\nline two"}
	if err := writeEvent(&buf, ev); err != nil {
		t.Fatalf("writeEvent: %v", err)
	}
	want := "id: e1\nevent: task.created\ndata: "
	if !strings.HasPrefix(buf.String(), want) {
		t.Fatalf("frame = %q", buf.String())
	}
	if strings.Count(buf.String(), "\n") != 4 {
		t.Errorf("payload newlines must be escaped: %q", buf.String())
	}
}
