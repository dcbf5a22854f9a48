package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/conduit/auth"
	"github.com/GoCodeAlone/conduit/backend"
	"github.com/GoCodeAlone/conduit/client"
	"github.com/GoCodeAlone/conduit/config"
	"github.com/GoCodeAlone/conduit/dashboard"
	"github.com/GoCodeAlone/conduit/server"
	"github.com/GoCodeAlone/conduit/task"
)

type harness struct {
	t       *testing.T
	server  string
	session string
}

// newHarness starts the task service emulator and a dashboard in front of it.
func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	store, err := backend.OpenStore(filepath.Join(dir, "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() }) //nolint:errcheck

	emu := backend.New(store, backend.Options{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go emu.Serve(ln) //nolint:errcheck
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		emu.Shutdown(ctx) //nolint:errcheck
	})

	cfg := config.DefaultConfig()
	cfg.Backend.URL = "http://" + ln.Addr().String()
	cfg.Auth.JWTSecret = "cli-test-secret-0123456789"
	cfg.Auth.AdminPass = "secret"
	cfg.Auth.LoginRate = 0
	cfg.Dashboard.DismissDelay = config.Duration(time.Hour)

	srv := server.New(cfg, "test", nil)
	srv.SetTaskStore(client.New(cfg.Backend.URL))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &harness{t: t, server: ts.URL, session: filepath.Join(dir, "session")}
}

func (h *harness) run(args ...string) (stdout, stderr string, err error) {
	h.t.Helper()
	var out, errOut bytes.Buffer
	argv := append([]string{"conduit", "--server", h.server, "--session", h.session}, args...)
	err = newApp(&out, &errOut).Run(argv)
	return out.String(), errOut.String(), err
}

func TestStatusAndVersion(t *testing.T) {
	h := newHarness(t)

	out, _, err := h.run("status")
	require.NoError(t, err)
	assert.Contains(t, out, "status:  ok")
	assert.Contains(t, out, "version: test")
	assert.Contains(t, out, "session: unauthenticated")

	out, _, err = h.run("version")
	require.NoError(t, err)
	assert.Contains(t, out, "conduit dev")
}

func TestTasks_FallsBackWithoutSession(t *testing.T) {
	h := newHarness(t)

	out, errOut, err := h.run("tasks")
	require.NoError(t, err)
	assert.Contains(t, errOut, dashboard.FallbackWarning)
	for _, p := range task.Placeholders() {
		assert.Contains(t, out, p.Name)
	}
	assert.Contains(t, out, "6 of 6 task(s)")
}

func TestLogin(t *testing.T) {
	h := newHarness(t)

	_, _, err := h.run("login", "-u", "admin", "-p", "wrong")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)
	_, statErr := os.Stat(h.session)
	assert.True(t, os.IsNotExist(statErr), "failed login must not store a session")

	out, _, err := h.run("login", "-u", "admin", "-p", "secret")
	require.NoError(t, err)
	assert.Contains(t, out, "logged in as admin")

	out, _, err = h.run("status")
	require.NoError(t, err)
	assert.Contains(t, out, "session: authenticated")

	out, _, err = h.run("logout")
	require.NoError(t, err)
	assert.Contains(t, out, "logged out")
	_, statErr = os.Stat(h.session)
	assert.True(t, os.IsNotExist(statErr))

	out, _, err = h.run("logout")
	require.NoError(t, err)
	assert.Contains(t, out, "not logged in")
}

func TestTaskLifecycle(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.run("login", "-u", "admin", "-p", "secret")
	require.NoError(t, err)

	out, _, err := h.run("tasks")
	require.NoError(t, err)
	assert.Contains(t, out, "No tasks found")

	script := filepath.Join(t.TempDir(), "nightly.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho hi\n"), 0o755))

	out, _, err = h.run("task", "create", "--name", " nightly ", "--schedule", "0 2 * * *", "--exec", "/bin/nightly", "--file", script)
	require.NoError(t, err)
	assert.Contains(t, out, "Successfully created 1 task(s)")

	out, _, err = h.run("tasks", "--filter", "NIGHT")
	require.NoError(t, err)
	assert.Contains(t, out, "nightly")
	assert.Contains(t, out, "Daily at 2:00 AM")
	assert.Contains(t, out, "Active")
	assert.Contains(t, out, "1 of 1 task(s)")

	out, _, err = h.run("tasks", "--filter", "zzz")
	require.NoError(t, err)
	assert.Contains(t, out, "No tasks found")

	out, _, err = h.run("task", "edit", "1", "--name", "renamed")
	require.NoError(t, err)
	assert.Contains(t, out, "task 1 updated: renamed (Daily at 2:00 AM) /bin/nightly")

	_, _, err = h.run("task", "run", "1")
	require.EqualError(t, err, "run is not implemented yet")
	_, _, err = h.run("task", "pause", "1")
	require.EqualError(t, err, "pause is not implemented yet")

	out, _, err = h.run("task", "delete", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Task 1 deleted successfully")

	_, _, err = h.run("task", "delete", "1")
	require.EqualError(t, err, "Task not found")
	_, _, err = h.run("task", "delete", "abc")
	require.EqualError(t, err, "Invalid task ID")
	_, _, err = h.run("task", "delete")
	require.EqualError(t, err, "Task ID is required")
}

func TestTaskCreate_BatchRejectedWhole(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.run("login", "-u", "admin", "-p", "secret")
	require.NoError(t, err)

	batch, err := json.Marshal([]task.Definition{
		{TaskName: "ok", CronExpression: "* * * * *", TaskExecution: "a.sh"},
		{TaskName: "bad", CronExpression: "* * * *", TaskExecution: "b.sh"},
	})
	require.NoError(t, err)
	from := filepath.Join(t.TempDir(), "batch.json")
	require.NoError(t, os.WriteFile(from, batch, 0o644))

	_, _, err = h.run("task", "create", "--from", from)
	require.EqualError(t, err, "Task 2: Invalid cron expression format. Expected 5 parts (minute hour day month weekday)")

	out, _, err := h.run("tasks")
	require.NoError(t, err)
	assert.Contains(t, out, "No tasks found")
}
