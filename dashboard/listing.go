// Package dashboard holds the view logic shared by the web dashboard and the
// CLI: the task listing and the create/edit/delete surfaces.
package dashboard

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/GoCodeAlone/conduit/events"
	"github.com/GoCodeAlone/conduit/task"
)

const (
	// FallbackWarning is shown when the task list could not be fetched and
	// placeholder tasks are displayed instead.
	FallbackWarning = "Unable to fetch tasks. Please ensure the API server is running."

	// EmptyMessage is shown when no task matches the filter.
	EmptyMessage = "No tasks found"

	// DefaultDismissDelay is how long a successful surface stays visible.
	DefaultDismissDelay = 1500 * time.Millisecond
)

// Options configures a Listing and the surfaces it opens.
type Options struct {
	Logger       *zap.Logger
	Bus          events.Bus
	DismissDelay time.Duration

	// AfterFunc schedules surface dismissal. Defaults to time.AfterFunc.
	AfterFunc func(d time.Duration, f func())
}

// Listing is the canonical task listing. It owns the in-memory task list and
// replaces it wholesale on every load.
type Listing struct {
	store task.Store
	opts  Options

	mu       sync.RWMutex
	tasks    []task.Task
	warning  string
	loadedAt time.Time
}

// NewListing creates a Listing backed by store.
func NewListing(store task.Store, opts Options) *Listing {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.DismissDelay == 0 {
		opts.DismissDelay = DefaultDismissDelay
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	}
	return &Listing{store: store, opts: opts}
}

// Load fetches the task list. When the store fails, the placeholder tasks
// are installed with a warning and the store error is returned for logging;
// the listing itself stays usable.
func (l *Listing) Load(ctx context.Context) error {
	tasks, err := l.store.List(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadedAt = time.Now()
	if err != nil {
		l.opts.Logger.Warn("task list unavailable, showing placeholders", zap.Error(err))
		l.tasks = task.Placeholders()
		l.warning = FallbackWarning
		return errors.Wrap(err, "load tasks")
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	l.tasks = tasks
	l.warning = ""
	return nil
}

// Loaded reports whether Load has run at least once.
func (l *Listing) Loaded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return !l.loadedAt.IsZero()
}

// Refresh reloads the list after a successful mutation.
func (l *Listing) Refresh(ctx context.Context) error {
	return l.Load(ctx)
}

// View is a filtered snapshot of the listing.
type View struct {
	Tasks   []task.Task
	Query   string
	Total   int
	Warning string
}

// Empty reports whether no task matched the filter.
func (v View) Empty() bool { return len(v.Tasks) == 0 }

// EmptyMessage returns the text shown for an empty view.
func (v View) EmptyMessage() string {
	if v.Empty() {
		return EmptyMessage
	}
	return ""
}

// View filters the loaded tasks by name without touching the store.
func (l *Listing) View(query string) View {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return View{
		Tasks:   task.FilterByName(l.tasks, query),
		Query:   query,
		Total:   len(l.tasks),
		Warning: l.warning,
	}
}

// Tasks returns a copy of the loaded tasks.
func (l *Listing) Tasks() []task.Task {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]task.Task, len(l.tasks))
	copy(out, l.tasks)
	return out
}

// Warning returns the current non-blocking warning, if any.
func (l *Listing) Warning() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.warning
}

// Find returns the loaded task with the given id.
func (l *Listing) Find(id task.ID) (task.Task, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, t := range l.tasks {
		if t.ID == id {
			return t, true
		}
	}
	return task.Task{}, false
}

// Stats summarises the loaded tasks by status.
type Stats struct {
	Total  int
	Active int
	Paused int
	Failed int
}

// Stats counts the loaded tasks by effective status.
func (l *Listing) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := Stats{Total: len(l.tasks)}
	for _, t := range l.tasks {
		switch t.EffectiveStatus() {
		case task.StatusActive:
			s.Active++
		case task.StatusPaused:
			s.Paused++
		case task.StatusFailed:
			s.Failed++
		}
	}
	return s
}

// Action is a per-task action offered by the listing.
type Action string

const (
	ActionRun    Action = "run"
	ActionPause  Action = "pause"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionRun, ActionPause, ActionEdit, ActionDelete:
		return a, nil
	}
	return "", errors.Wrapf(task.ErrInvalidPayload, "unknown action %q", s)
}

// Dispatch opens the surface for action on task id. Run and pause have no
// backing endpoint and return task.ErrNotImplemented.
func (l *Listing) Dispatch(action Action, id task.ID) (*Surface, error) {
	if _, err := ParseAction(string(action)); err != nil {
		return nil, err
	}
	t, ok := l.Find(id)
	if !ok {
		return nil, errors.Wrapf(task.ErrNotFound, "task %s", id)
	}
	switch action {
	case ActionEdit:
		return l.NewEditSurface(t), nil
	case ActionDelete:
		return l.NewDeleteSurface(t), nil
	}
	l.opts.Logger.Info("task action not implemented",
		zap.String("action", string(action)), zap.String("task_id", id.String()), zap.String("task", t.Name))
	return nil, errors.Wrapf(task.ErrNotImplemented, "%s task %s", action, id)
}
