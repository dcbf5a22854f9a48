package dashboard

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/GoCodeAlone/conduit/events"
	"github.com/GoCodeAlone/conduit/task"
)

type harness struct {
	store   *task.MockStore
	bus     *events.InMemoryBus
	listing *Listing
	pending []func()
	delays  []time.Duration
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctrl := gomock.NewController(t)
	h := &harness{
		store: task.NewMockStore(ctrl),
		bus:   events.NewInMemoryBus(0),
	}
	h.listing = NewListing(h.store, Options{
		Bus: h.bus,
		AfterFunc: func(d time.Duration, f func()) {
			h.delays = append(h.delays, d)
			h.pending = append(h.pending, f)
		},
	})
	return h
}

func (h *harness) fire() {
	for _, f := range h.pending {
		f()
	}
	h.pending = nil
}

func (h *harness) notifications() []*events.Event {
	hist, _ := h.bus.History(events.TypeNotification, 0)
	return hist
}

func twoTasks() []task.Task {
	return []task.Task{
		{ID: "1", Name: "nightly_backup", Schedule: "0 0 * * *", Execution: "/backup.sh"},
		{ID: "2", Name: "Report_Mailer", Schedule: "0 9 * * 1-5", Execution: "/mail.py", Status: task.StatusPaused},
	}
}

func TestListing_LoadSuccess(t *testing.T) {
	h := newHarness(t)
	h.store.EXPECT().List(gomock.Any()).Return(twoTasks(), nil)

	require.NoError(t, h.listing.Load(context.Background()))
	v := h.listing.View("")
	assert.Len(t, v.Tasks, 2)
	assert.Empty(t, v.Warning)
	assert.Equal(t, Stats{Total: 2, Active: 1, Paused: 1}, h.listing.Stats())
}

func TestListing_LoadFailureFallsBack(t *testing.T) {
	h := newHarness(t)
	h.store.EXPECT().List(gomock.Any()).Return(nil, &task.RemoteError{Kind: task.ErrNetworkFailure, Message: "refused"})

	err := h.listing.Load(context.Background())
	assert.True(t, errors.Is(err, task.ErrNetworkFailure))

	v := h.listing.View("")
	assert.Len(t, v.Tasks, 6)
	assert.Equal(t, FallbackWarning, v.Warning)
	assert.Equal(t, "data_processing", v.Tasks[0].Name)
}

func TestListing_WarningClearedOnRecovery(t *testing.T) {
	h := newHarness(t)
	gomock.InOrder(
		h.store.EXPECT().List(gomock.Any()).Return(nil, task.ErrNetworkFailure),
		h.store.EXPECT().List(gomock.Any()).Return(twoTasks(), nil),
	)
	_ = h.listing.Load(context.Background())
	require.NoError(t, h.listing.Refresh(context.Background()))
	assert.Empty(t, h.listing.Warning())
	assert.Len(t, h.listing.Tasks(), 2)
}

func TestListing_FilterIsLocal(t *testing.T) {
	h := newHarness(t)
	h.store.EXPECT().List(gomock.Any()).Return(twoTasks(), nil).Times(1)
	require.NoError(t, h.listing.Load(context.Background()))

	v := h.listing.View("report")
	require.Len(t, v.Tasks, 1)
	assert.Equal(t, "Report_Mailer", v.Tasks[0].Name)
	assert.Equal(t, 2, v.Total)

	none := h.listing.View("does-not-exist")
	assert.True(t, none.Empty())
	assert.Equal(t, "No tasks found", none.EmptyMessage())
}

func TestListing_Dispatch(t *testing.T) {
	h := newHarness(t)
	h.store.EXPECT().List(gomock.Any()).Return(twoTasks(), nil)
	require.NoError(t, h.listing.Load(context.Background()))

	for _, a := range []Action{ActionRun, ActionPause} {
		s, err := h.listing.Dispatch(a, "1")
		assert.Nil(t, s)
		assert.Truef(t, errors.Is(err, task.ErrNotImplemented), "%s: %v", a, err)
	}

	s, err := h.listing.Dispatch(ActionEdit, "2")
	require.NoError(t, err)
	assert.Equal(t, KindEdit, s.Kind())
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, "Report_Mailer", s.Form().TaskName)
	assert.Equal(t, "0 9 * * 1-5", s.Form().CronExpression)

	s, err = h.listing.Dispatch(ActionDelete, "1")
	require.NoError(t, err)
	assert.Equal(t, KindDelete, s.Kind())
	assert.Equal(t, task.ID("1"), s.Target().ID)

	_, err = h.listing.Dispatch(ActionEdit, "99")
	assert.True(t, errors.Is(err, task.ErrNotFound))

	_, err = h.listing.Dispatch(Action("explode"), "1")
	assert.True(t, errors.Is(err, task.ErrInvalidPayload))
}

func TestCreateSurface_InvalidBatchNeverReachesStore(t *testing.T) {
	h := newHarness(t)
	s := h.listing.NewCreateSurface()

	_, err := s.SubmitCreate(context.Background(), []task.Definition{
		{TaskName: "ok", CronExpression: "* * * * *", TaskExecution: "/ok"},
		{TaskName: " ", CronExpression: "* * * * *", TaskExecution: "/bad"},
	}, nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, task.ErrMissingField))
	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, err, s.Err())
	assert.Empty(t, h.notifications(), "validation errors are inline only")
}

func TestCreateSurface_SuccessRefreshesAndDismisses(t *testing.T) {
	h := newHarness(t)
	h.store.EXPECT().List(gomock.Any()).Return(twoTasks(), nil)
	require.NoError(t, h.listing.Load(context.Background()))

	fresh := append(twoTasks(), task.Task{ID: "3", Name: "new_job", Schedule: "*/5 * * * *", Execution: "/new.sh"})
	gomock.InOrder(
		h.store.EXPECT().
			Create(gomock.Any(), []task.Definition{{TaskName: "new_job", CronExpression: "*/5 * * * *", TaskExecution: "/new.sh"}}, gomock.Nil()).
			Return(&task.CreateResult{Success: true, Message: "Successfully created 1 task(s)", Tasks: []task.Task{{ID: "3"}}}, nil),
		h.store.EXPECT().List(gomock.Any()).Return(fresh, nil),
	)

	s := h.listing.NewCreateSurface()
	dismissed := false
	s.OnDismiss = func() { dismissed = true }

	res, err := s.SubmitCreate(context.Background(), []task.Definition{
		{TaskName: "  new_job ", CronExpression: "*/5 * * * *", TaskExecution: "/new.sh "},
	}, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, StateSuccess, s.State())
	assert.Equal(t, 3, h.listing.View("").Total)

	notes := h.notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, events.LevelSuccess, notes[0].Level)

	created, _ := h.bus.History(events.TypeTaskCreated, 0)
	require.Len(t, created, 1)
	assert.Equal(t, []task.ID{"3"}, created[0].TaskIDs)

	_, err = s.SubmitCreate(context.Background(), nil, nil)
	assert.True(t, errors.Is(err, ErrDismissing))

	require.Equal(t, []time.Duration{DefaultDismissDelay}, h.delays)
	h.fire()
	assert.Equal(t, StateIdle, s.State())
	assert.True(t, dismissed)
}

func TestEditSurface_MalformedScheduleFailsLocally(t *testing.T) {
	h := newHarness(t)
	s := h.listing.NewEditSurface(task.Task{ID: "7", Name: "daily_sync", Schedule: "0 3 * * *", Execution: "/bin/sync.sh"})

	_, err := s.SubmitEdit(context.Background(), task.Definition{
		TaskName: "daily_sync", CronExpression: "0 3 * *", TaskExecution: "/bin/sync.sh",
	})
	assert.True(t, errors.Is(err, task.ErrMalformedSchedule))
	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, "0 3 * *", s.Form().CronExpression, "failed form keeps user input")
}

func TestEditSurface_RemoteFailureThenResubmit(t *testing.T) {
	h := newHarness(t)
	target := task.Task{ID: "7", Name: "daily_sync", Schedule: "0 3 * * *", Execution: "/bin/sync.sh"}
	def := target.Definition()

	gomock.InOrder(
		h.store.EXPECT().Update(gomock.Any(), task.ID("7"), def).
			Return(nil, &task.RemoteError{Kind: task.ErrNotFound, Status: 404, Message: "Task not found"}),
		h.store.EXPECT().Update(gomock.Any(), task.ID("7"), def).Return(&target, nil),
		h.store.EXPECT().List(gomock.Any()).Return([]task.Task{target}, nil),
	)

	s := h.listing.NewEditSurface(target)
	_, err := s.SubmitEdit(context.Background(), def)
	assert.True(t, errors.Is(err, task.ErrNotFound))
	assert.Equal(t, StateFailed, s.State())

	notes := h.notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, events.LevelError, notes[0].Level)
	assert.Equal(t, "Task not found", notes[0].Message)

	got, err := s.SubmitEdit(context.Background(), def)
	require.NoError(t, err)
	assert.Equal(t, "daily_sync", got.Name)
	assert.Equal(t, StateSuccess, s.State())
	assert.Nil(t, s.Err())
}

func TestEditSurface_BusyWhileSubmitting(t *testing.T) {
	h := newHarness(t)
	target := task.Task{ID: "7", Name: "a", Schedule: "* * * * *", Execution: "/a"}
	s := h.listing.NewEditSurface(target)

	var inflight error
	h.store.EXPECT().Update(gomock.Any(), task.ID("7"), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ task.ID, def task.Definition) (*task.Task, error) {
			assert.Equal(t, StateSubmitting, s.State())
			_, inflight = s.SubmitEdit(ctx, def)
			return &target, nil
		})
	h.store.EXPECT().List(gomock.Any()).Return([]task.Task{target}, nil)

	_, err := s.SubmitEdit(context.Background(), target.Definition())
	require.NoError(t, err)
	assert.True(t, errors.Is(inflight, ErrBusy))
}

func TestDeleteSurface(t *testing.T) {
	h := newHarness(t)
	target := task.Task{ID: "42", Name: "old"}
	gomock.InOrder(
		h.store.EXPECT().Delete(gomock.Any(), task.ID("42")).
			Return(&task.Deletion{Success: true, DeletedTaskID: "42", DeletedAt: "2025-01-01T00:00:00Z"}, nil),
		h.store.EXPECT().List(gomock.Any()).Return([]task.Task{}, nil),
	)

	s := h.listing.NewDeleteSurface(target)
	del, err := s.ConfirmDelete(context.Background())
	require.NoError(t, err)
	assert.Equal(t, task.ID("42"), del.DeletedTaskID)
	assert.Equal(t, 0, h.listing.View("").Total)
	assert.True(t, h.listing.View("").Empty())

	_, err = s.SubmitEdit(context.Background(), task.Definition{})
	assert.True(t, errors.Is(err, ErrWrongKind))
}

func TestDeleteSurface_InvalidIDNeverReachesStore(t *testing.T) {
	h := newHarness(t)
	s := h.listing.NewDeleteSurface(task.Task{ID: "job-x"})
	_, err := s.ConfirmDelete(context.Background())
	assert.True(t, errors.Is(err, task.ErrInvalidPayload))
	assert.Equal(t, StateFailed, s.State())
	require.NoError(t, s.Close())
	assert.Equal(t, StateIdle, s.State())
}

func TestEditSurface_InvalidIDNeverReachesStore(t *testing.T) {
	h := newHarness(t)
	s := h.listing.NewEditSurface(task.Task{ID: "-9223372036854775808", Name: "x"})
	_, err := s.SubmitEdit(context.Background(), task.Definition{
		TaskName: "x", CronExpression: "* * * * *", TaskExecution: "x.sh",
	})
	assert.True(t, errors.Is(err, task.ErrInvalidPayload))
	assert.Equal(t, StateFailed, s.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "submitting", StateSubmitting.String())
	assert.Equal(t, "state(9)", State(9).String())
}
