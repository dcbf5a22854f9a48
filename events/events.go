// Package events provides the in-process notification bus that carries
// user-facing toasts and task change events to the dashboard.
package events

import (
	"context"
	"time"

	"github.com/GoCodeAlone/conduit/task"
)

// Type identifies the kind of event.
type Type string

const (
	TypeNotification Type = "notification"
	TypeTaskCreated  Type = "task.created"
	TypeTaskUpdated  Type = "task.updated"
	TypeTaskDeleted  Type = "task.deleted"
)

// Level is the severity of a notification.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

// Event is a single published occurrence.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Level     Level     `json:"level,omitempty"`
	Message   string    `json:"message,omitempty"`
	TaskIDs   []task.ID `json:"taskIds,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler processes a published event.
type Handler func(ctx context.Context, ev *Event) error

// Bus fans events out to subscribers and keeps a bounded history.
type Bus interface {
	// Publish delivers ev to subscribers of its type and to wildcard
	// subscribers. ID and Timestamp are filled in when empty.
	Publish(ctx context.Context, ev *Event) error

	// Subscribe registers handler for events of type t, or for every event
	// when t is empty. Returns an unsubscribe function.
	Subscribe(t Type, handler Handler) (unsubscribe func())

	// History returns up to limit recent events of type t (all types when t
	// is empty) in chronological order.
	History(t Type, limit int) ([]*Event, error)
}

// Notify publishes a notification with the given level and message.
func Notify(ctx context.Context, bus Bus, level Level, msg string) error {
	if bus == nil {
		return nil
	}
	return bus.Publish(ctx, &Event{Type: TypeNotification, Level: level, Message: msg})
}
