package dashboard

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/GoCodeAlone/conduit/events"
	"github.com/GoCodeAlone/conduit/task"
)

// State is the lifecycle state of a surface.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateSubmitting
	StateSuccess
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateSubmitting:
		return "submitting"
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Kind identifies which form a surface represents.
type Kind string

const (
	KindCreate Kind = "create"
	KindEdit   Kind = "edit"
	KindDelete Kind = "delete"
)

var (
	// ErrBusy is returned when submitting while validation or a store call
	// is in progress.
	ErrBusy = errors.New("surface is busy")

	// ErrDismissing is returned when submitting after success, before the
	// surface has been dismissed.
	ErrDismissing = errors.New("surface is being dismissed")

	// ErrWrongKind is returned when calling an operation of another kind.
	ErrWrongKind = errors.New("operation does not match surface kind")
)

// Surface is a create, edit or delete form. It moves through
// Idle -> Validating -> Submitting -> Success|Failed -> Idle. Validation
// failures never reach the store; successes refresh the listing and dismiss
// the surface after the configured delay.
type Surface struct {
	kind    Kind
	listing *Listing

	// OnDismiss runs after a successful surface returns to Idle.
	OnDismiss func()

	mu     sync.Mutex
	state  State
	err    error
	target task.Task
	form   task.Definition
}

// NewCreateSurface opens an empty create form.
func (l *Listing) NewCreateSurface() *Surface {
	return &Surface{kind: KindCreate, listing: l}
}

// NewEditSurface opens an edit form pre-populated from t.
func (l *Listing) NewEditSurface(t task.Task) *Surface {
	return &Surface{kind: KindEdit, listing: l, target: t, form: t.Definition()}
}

// NewDeleteSurface opens a delete confirmation for t.
func (l *Listing) NewDeleteSurface(t task.Task) *Surface {
	return &Surface{kind: KindDelete, listing: l, target: t}
}

func (s *Surface) Kind() Kind { return s.kind }

// State returns the current state.
func (s *Surface) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error retained from the last failed submission.
func (s *Surface) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Target returns the task an edit or delete surface was opened for.
func (s *Surface) Target() task.Task { return s.target }

// Form returns the current form values of an edit surface.
func (s *Surface) Form() task.Definition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.form
}

// Close returns an idle, failed or successful surface to Idle. A surface
// with a store call in flight cannot be closed.
func (s *Surface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateValidating || s.state == StateSubmitting {
		return ErrBusy
	}
	s.state = StateIdle
	s.err = nil
	return nil
}

// SubmitCreate validates defs as a batch and creates them with files.
func (s *Surface) SubmitCreate(ctx context.Context, defs []task.Definition, files map[int]task.Attachment) (*task.CreateResult, error) {
	if s.kind != KindCreate {
		return nil, ErrWrongKind
	}
	if err := s.begin(); err != nil {
		return nil, err
	}
	if err := task.ValidateBatch(defs); err != nil {
		return nil, s.fail(ctx, err, false)
	}
	norm := make([]task.Definition, len(defs))
	for i, d := range defs {
		norm[i] = d.Normalize()
	}

	s.setState(StateSubmitting)
	res, err := s.listing.store.Create(ctx, norm, files)
	if err != nil {
		return nil, s.fail(ctx, err, true)
	}
	ids := make([]task.ID, 0, len(res.Tasks))
	for _, t := range res.Tasks {
		ids = append(ids, t.ID)
	}
	msg := res.Message
	if msg == "" {
		msg = fmt.Sprintf("Successfully created %d task(s)", len(norm))
	}
	s.succeed(ctx, events.TypeTaskCreated, msg, ids)
	return res, nil
}

// SubmitEdit validates def and replaces the target task's fields with it.
func (s *Surface) SubmitEdit(ctx context.Context, def task.Definition) (*task.Task, error) {
	if s.kind != KindEdit {
		return nil, ErrWrongKind
	}
	if err := s.begin(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.form = def
	s.mu.Unlock()
	if _, err := task.ParseID(s.target.ID); err != nil {
		return nil, s.fail(ctx, err, false)
	}
	if err := task.Validate(def); err != nil {
		return nil, s.fail(ctx, err, false)
	}

	s.setState(StateSubmitting)
	updated, err := s.listing.store.Update(ctx, s.target.ID, def.Normalize())
	if err != nil {
		return nil, s.fail(ctx, err, true)
	}
	s.succeed(ctx, events.TypeTaskUpdated, "Task updated successfully", []task.ID{s.target.ID})
	return updated, nil
}

// ConfirmDelete deletes the target task.
func (s *Surface) ConfirmDelete(ctx context.Context) (*task.Deletion, error) {
	if s.kind != KindDelete {
		return nil, ErrWrongKind
	}
	if err := s.begin(); err != nil {
		return nil, err
	}
	if _, err := task.ParseID(s.target.ID); err != nil {
		return nil, s.fail(ctx, err, false)
	}

	s.setState(StateSubmitting)
	del, err := s.listing.store.Delete(ctx, s.target.ID)
	if err != nil {
		return nil, s.fail(ctx, err, true)
	}
	s.succeed(ctx, events.TypeTaskDeleted, "Task deleted successfully", []task.ID{s.target.ID})
	return del, nil
}

func (s *Surface) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateValidating, StateSubmitting:
		return ErrBusy
	case StateSuccess:
		return ErrDismissing
	}
	s.state = StateValidating
	s.err = nil
	return nil
}

func (s *Surface) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// fail records err and, for remote failures, raises an error toast.
func (s *Surface) fail(ctx context.Context, err error, toast bool) error {
	s.mu.Lock()
	s.state = StateFailed
	s.err = err
	s.mu.Unlock()

	log := s.listing.opts.Logger
	if !toast {
		log.Debug("surface validation failed", zap.String("kind", string(s.kind)), zap.Error(err))
		return err
	}
	log.Warn("surface submission failed", zap.String("kind", string(s.kind)), zap.Error(err))
	if perr := events.Notify(ctx, s.listing.opts.Bus, events.LevelError, task.Message(err)); perr != nil {
		log.Warn("publish notification", zap.Error(perr))
	}
	return err
}

func (s *Surface) succeed(ctx context.Context, typ events.Type, msg string, ids []task.ID) {
	s.setState(StateSuccess)

	log := s.listing.opts.Logger
	if bus := s.listing.opts.Bus; bus != nil {
		if err := bus.Publish(ctx, &events.Event{Type: typ, Message: msg, TaskIDs: ids}); err != nil {
			log.Warn("publish task event", zap.Error(err))
		}
		if err := events.Notify(ctx, bus, events.LevelSuccess, msg); err != nil {
			log.Warn("publish notification", zap.Error(err))
		}
	}
	if err := s.listing.Refresh(ctx); err != nil {
		log.Warn("refresh after mutation", zap.Error(err))
	}

	s.listing.opts.AfterFunc(s.listing.opts.DismissDelay, s.dismiss)
}

func (s *Surface) dismiss() {
	s.mu.Lock()
	if s.state != StateSuccess {
		s.mu.Unlock()
		return
	}
	s.state = StateIdle
	onDismiss := s.OnDismiss
	s.mu.Unlock()
	if onDismiss != nil {
		onDismiss()
	}
}
