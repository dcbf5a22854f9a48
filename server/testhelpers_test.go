package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gavv/httpexpect/v2"
	"go.uber.org/mock/gomock"

	"github.com/GoCodeAlone/conduit/config"
	"github.com/GoCodeAlone/conduit/task"
)

// noopTaskStore satisfies task.Store for tests that never reach the service.
type noopTaskStore struct{}

func (noopTaskStore) List(context.Context) ([]task.Task, error) { return []task.Task{}, nil }
func (noopTaskStore) Create(context.Context, []task.Definition, map[int]task.Attachment) (*task.CreateResult, error) {
	return &task.CreateResult{}, nil
}
func (noopTaskStore) Update(_ context.Context, id task.ID, _ task.Definition) (*task.Task, error) {
	return &task.Task{ID: id}, nil
}
func (noopTaskStore) Delete(_ context.Context, id task.ID) (*task.Deletion, error) {
	return &task.Deletion{DeletedTaskID: id}, nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Auth.JWTSecret = "test-secret-key-1234567890"
	cfg.Auth.AdminPass = "secret"
	cfg.Auth.LoginRate = 0
	cfg.Dashboard.DismissDelay = config.Duration(time.Hour)
	cfg.Dashboard.NotificationTTL = config.Duration(time.Minute)
	return cfg
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s := New(testConfig(), "test", nil)
	s.SetTaskStore(noopTaskStore{})
	return s
}

// newMockedServer returns a server backed by a gomock store and an
// httpexpect client that keeps cookies and does not follow redirects.
func newMockedServer(t *testing.T) (*Server, *task.MockStore, *httpexpect.Expect) {
	t.Helper()
	ctrl := gomock.NewController(t)
	store := task.NewMockStore(ctrl)

	s := New(testConfig(), "test", nil)
	s.SetTaskStore(store)
	return s, store, expectFor(t, s)
}

func expectFor(t *testing.T, s *Server) *httpexpect.Expect {
	return httpexpect.WithConfig(httpexpect.Config{
		BaseURL:  "http://conduit.test",
		Reporter: httpexpect.NewAssertReporter(t),
		Client: &http.Client{
			Transport: httpexpect.NewBinder(s.Handler()),
			Jar:       httpexpect.NewCookieJar(),
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	})
}

// apiLogin signs in through the JSON API and returns the bearer token. The
// session cookie is kept in e's jar.
func apiLogin(e *httpexpect.Expect) string {
	return e.POST("/api/auth/login").
		WithJSON(map[string]string{"username": "admin", "password": "secret"}).
		Expect().
		Status(http.StatusOK).
		JSON().Object().Value("token").String().NotEmpty().Raw()
}
