// Package client implements task.Store against the remote task service's
// HTTP API. The same client talks to the backend directly or to a conduit
// dashboard, which exposes the identical contract behind a bearer token.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/GoCodeAlone/conduit/auth"
	"github.com/GoCodeAlone/conduit/internal/version"
	"github.com/GoCodeAlone/conduit/task"
)

// ErrUnauthorized is returned when the server rejects the bearer token.
var ErrUnauthorized = errors.New("unauthorized")

// HTTPDelegate executes HTTP requests. *http.Client satisfies it.
type HTTPDelegate interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is an HTTP task.Store.
type Client struct {
	baseURL string
	token   string
	http    HTTPDelegate
	logger  *zap.Logger
	metrics *Metrics
}

var (
	_ task.Store         = (*Client)(nil)
	_ auth.Authenticator = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(d HTTPDelegate) Option {
	return func(c *Client) { c.http = d }
}

// WithTimeout bounds every request. Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http = &http.Client{Timeout: d} }
}

// WithToken sends token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics records request counts and latencies.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New creates a Client for the service at baseURL, e.g.
// "http://localhost:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// BaseURL returns the service address the client was created with.
func (c *Client) BaseURL() string { return c.baseURL }

// List fetches the full task collection.
func (c *Client) List(ctx context.Context) ([]task.Task, error) {
	var out struct {
		Tasks []task.Task `json:"tasks"`
	}
	if err := c.do(ctx, "list", http.MethodGet, "/api/dag_data", nil, "", &out); err != nil {
		return nil, err
	}
	if out.Tasks == nil {
		out.Tasks = []task.Task{}
	}
	return out.Tasks, nil
}

// Create submits defs and files as a single multipart request. Files are
// sent as file_<n> parts in ascending index order.
func (c *Client) Create(ctx context.Context, defs []task.Definition, files map[int]task.Attachment) (*task.CreateResult, error) {
	body, contentType, err := encodeCreate(defs, files)
	if err != nil {
		return nil, err
	}
	var out task.CreateResult
	if err := c.do(ctx, "create", http.MethodPost, "/api/tasks", body, contentType, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type editRequest struct {
	ID task.ID `json:"id"`
	task.Definition
}

// Update replaces the name, schedule and execution target of task id.
func (c *Client) Update(ctx context.Context, id task.ID, def task.Definition) (*task.Task, error) {
	payload, err := json.Marshal(editRequest{ID: id, Definition: def})
	if err != nil {
		return nil, errors.Wrap(err, "encode edit request")
	}
	var out task.Task
	if err := c.do(ctx, "update", http.MethodPost, "/api/dag_edit", bytes.NewReader(payload), "application/json", &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		out.ID = id
	}
	if out.Name == "" {
		out.Name, out.Schedule, out.Execution = def.TaskName, def.CronExpression, def.TaskExecution
	}
	return &out, nil
}

// Delete removes task id.
func (c *Client) Delete(ctx context.Context, id task.ID) (*task.Deletion, error) {
	payload, err := json.Marshal(map[string]task.ID{"id": id})
	if err != nil {
		return nil, errors.Wrap(err, "encode delete request")
	}
	var out task.Deletion
	if err := c.do(ctx, "delete", http.MethodPost, "/api/dag_delete", bytes.NewReader(payload), "application/json", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Login exchanges creds for a dashboard session token. Together with Logout
// it makes a Client usable as an auth.Authenticator for CLI sessions.
func (c *Client) Login(ctx context.Context, creds auth.Credentials) (string, error) {
	payload, err := json.Marshal(creds)
	if err != nil {
		return "", errors.Wrap(err, "encode credentials")
	}
	var out struct {
		Token string `json:"token"`
	}
	err = c.do(ctx, "login", http.MethodPost, "/api/auth/login", bytes.NewReader(payload), "application/json", &out)
	if errors.Is(err, ErrUnauthorized) {
		return "", auth.ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", errors.New("login response carried no token")
	}
	return out.Token, nil
}

// Logout ends the dashboard session identified by token.
func (c *Client) Logout(ctx context.Context, token string) error {
	sc := *c
	sc.token = token
	return sc.do(ctx, "logout", http.MethodPost, "/api/auth/logout", nil, "", nil)
}

// Status is the dashboard health summary.
type Status struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Backend string `json:"backend"`
}

// Status fetches the dashboard status. It requires no token.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.do(ctx, "status", http.MethodGet, "/api/status", nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do performs one request and decodes a 2xx JSON body into v (may be nil).
func (c *Client) do(ctx context.Context, op, method, path string, body io.Reader, contentType string, v any) (err error) {
	start := time.Now()
	defer func() { c.metrics.observe(op, err, time.Since(start)) }()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrapf(err, "build %s request", op)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("task service request failed", zap.String("op", op), zap.String("url", req.URL.String()), zap.Error(err))
		return &task.RemoteError{Kind: task.ErrNetworkFailure, Message: err.Error()}
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &task.RemoteError{Kind: task.ErrNetworkFailure, Message: "read response: " + err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		rerr := remoteError(resp.StatusCode, data)
		c.logger.Debug("task service rejected request",
			zap.String("op", op), zap.Int("status", resp.StatusCode), zap.String("error", rerr.Message))
		return rerr
	}
	if v == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &task.RemoteError{Kind: task.ErrInternal, Status: resp.StatusCode, Message: "decode response: " + err.Error()}
	}
	return nil
}

// remoteError maps a non-2xx response onto the error taxonomy.
func remoteError(status int, body []byte) *task.RemoteError {
	var kind error
	switch {
	case status == http.StatusNotFound:
		kind = task.ErrNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = ErrUnauthorized
	case status == http.StatusNotImplemented:
		kind = task.ErrNotImplemented
	case status >= 500:
		kind = task.ErrInternal
	default:
		kind = task.ErrValidationFailed
	}

	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	msg := ""
	if json.Unmarshal(body, &e) == nil {
		msg = e.Error
		if msg == "" {
			msg = e.Message
		}
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &task.RemoteError{Kind: kind, Status: status, Message: msg}
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// encodeCreate builds the multipart body for a create request.
func encodeCreate(defs []task.Definition, files map[int]task.Attachment) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	payload, err := json.Marshal(defs)
	if err != nil {
		return nil, "", errors.Wrap(err, "encode tasks")
	}
	if err := mw.WriteField("tasks", string(payload)); err != nil {
		return nil, "", errors.Wrap(err, "write tasks field")
	}

	idx := make([]int, 0, len(files))
	for i := range files {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	for _, i := range idx {
		f := files[i]
		ct := f.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, task.FileField(i), quoteEscaper.Replace(f.Name)))
		h.Set("Content-Type", ct)
		part, err := mw.CreatePart(h)
		if err != nil {
			return nil, "", errors.Wrapf(err, "create part file_%d", i)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, "", errors.Wrapf(err, "write part file_%d", i)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", errors.Wrap(err, "close multipart writer")
	}
	return &buf, mw.FormDataContentType(), nil
}
