package server

import (
	"bytes"
	"embed"
	"html/template"
	"io/fs"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/GoCodeAlone/conduit/auth"
	"github.com/GoCodeAlone/conduit/dashboard"
	"github.com/GoCodeAlone/conduit/events"
	"github.com/GoCodeAlone/conduit/server/api"
	"github.com/GoCodeAlone/conduit/task"
)

//go:embed templates/*.html static/*
var assets embed.FS

const (
	flashCookie = "conduit_flash"
	maxFormRows = 20
)

// loginHint is shown when the login form is rejected.
const loginHint = "Invalid username or password. Try admin/password"

type pages struct {
	byName map[string]*template.Template
}

var pageFuncs = template.FuncMap{
	"describe":  task.Describe,
	"fileField": task.FileField,
	"inc":       func(i int) int { return i + 1 },
}

func mustLoadPages() *pages {
	p := &pages{byName: make(map[string]*template.Template)}
	for _, name := range []string{"login", "dashboard", "create", "edit", "delete", "result"} {
		t := template.New(name).Funcs(pageFuncs)
		p.byName[name] = template.Must(t.ParseFS(assets, "templates/base.html", "templates/"+name+".html"))
	}
	return p
}

// formRow is one definition row of the create form.
type formRow struct {
	Index int
	Def   task.Definition
}

// pageData is the model shared by every template.
type pageData struct {
	Title   string
	User    string
	Flash   string
	Error   string
	Message string
	Toasts  []*events.Event

	// RefreshAfter, when set, sends the browser to RefreshURL after that
	// many seconds.
	RefreshAfter string
	RefreshURL   string

	Username string
	View     dashboard.View
	Stats    dashboard.Stats
	Task     task.Task
	Form     task.Definition
	Rows     []formRow
	Presets  []task.Preset
	State    string
}

func (s *Server) registerPages() {
	static, _ := fs.Sub(assets, "static")
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(static)))

	s.mux.HandleFunc("GET /login", s.loginPage)
	s.mux.HandleFunc("POST /login", s.loginSubmit)
	s.mux.HandleFunc("POST /logout", s.logoutSubmit)

	s.mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
	})
	s.mux.HandleFunc("GET /dashboard", s.requirePage(s.dashboardPage))
	s.mux.HandleFunc("GET /tasks/new", s.requirePage(s.createPage))
	s.mux.HandleFunc("POST /tasks/new", s.requirePage(s.createSubmit))
	s.mux.HandleFunc("GET /tasks/{id}/edit", s.requirePage(s.editPage))
	s.mux.HandleFunc("POST /tasks/{id}/edit", s.requirePage(s.editSubmit))
	s.mux.HandleFunc("GET /tasks/{id}/delete", s.requirePage(s.deletePage))
	s.mux.HandleFunc("POST /tasks/{id}/delete", s.requirePage(s.deleteSubmit))
	s.mux.HandleFunc("POST /tasks/{id}/run", s.requirePage(s.actionSubmit(dashboard.ActionRun)))
	s.mux.HandleFunc("POST /tasks/{id}/pause", s.requirePage(s.actionSubmit(dashboard.ActionPause)))
}

// requirePage redirects unauthenticated visitors to the login page.
func (s *Server) requirePage(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subject, ok := s.authenticate(w, r)
		if !ok {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next(w, r.WithContext(contextWithSubject(r.Context(), subject)))
	}
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data *pageData) {
	data.User = subjectFrom(r.Context())
	if data.User != "" && s.bus != nil {
		data.Toasts = events.Recent(s.bus, s.cfg.Dashboard.NotificationTTL.D(), time.Now())
	}

	var buf bytes.Buffer
	if err := s.pages.byName[name].ExecuteTemplate(&buf, "base", data); err != nil {
		s.logger.Error("render page", zap.String("page", name), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// setFlash stores a one-shot message shown on the next dashboard render.
func setFlash(w http.ResponseWriter, msg string) {
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    url.QueryEscape(msg),
		Path:     "/",
		MaxAge:   30,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// takeFlash returns and clears the pending flash message.
func takeFlash(w http.ResponseWriter, r *http.Request) string {
	ck, err := r.Cookie(flashCookie)
	if err != nil {
		return ""
	}
	http.SetCookie(w, &http.Cookie{Name: flashCookie, Path: "/", MaxAge: -1})
	msg, err := url.QueryUnescape(ck.Value)
	if err != nil {
		return ""
	}
	return msg
}

// --- Session pages ---

func (s *Server) loginPage(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(w, r); ok {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	s.render(w, r, http.StatusOK, "login", &pageData{Title: "Sign in"})
}

func (s *Server) loginSubmit(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(clientIP(r)) {
		s.render(w, r, http.StatusTooManyRequests, "login", &pageData{
			Title: "Sign in",
			Error: "Too many login attempts, try again later",
		})
		return
	}
	creds := auth.Credentials{Username: r.PostFormValue("username"), Password: r.PostFormValue("password")}
	if _, err := s.gate(w, r).Login(r.Context(), creds); err != nil {
		status := http.StatusUnauthorized
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			s.logger.Error("login", zap.Error(err))
			status = http.StatusInternalServerError
		}
		s.render(w, r, status, "login", &pageData{Title: "Sign in", Error: loginHint, Username: creds.Username})
		return
	}
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (s *Server) logoutSubmit(w http.ResponseWriter, r *http.Request) {
	if err := s.gate(w, r).Logout(r.Context()); err != nil {
		s.logger.Warn("logout", zap.Error(err))
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// --- Listing ---

// dashboardPage renders the listing. Filtering (a request carrying q) reuses
// the loaded tasks; any other visit reloads them from the task service.
func (s *Server) dashboardPage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !s.listing.Loaded() || !q.Has("q") {
		_ = s.listing.Load(r.Context()) // failure installs placeholders and a warning
	}
	s.render(w, r, http.StatusOK, "dashboard", &pageData{
		Title: "Dashboard",
		Flash: takeFlash(w, r),
		View:  s.listing.View(q.Get("q")),
		Stats: s.listing.Stats(),
	})
}

// openSurface dispatches action on the task with the raw id, reloading the
// listing once when the task is not loaded.
func (s *Server) openSurface(r *http.Request, action dashboard.Action) (*dashboard.Surface, error) {
	id, err := task.ParseID(r.PathValue("id"))
	if err != nil {
		return nil, err
	}
	if !s.listing.Loaded() {
		_ = s.listing.Load(r.Context())
	}
	sf, err := s.listing.Dispatch(action, id)
	if errors.Is(err, task.ErrNotFound) {
		_ = s.listing.Load(r.Context())
		sf, err = s.listing.Dispatch(action, id)
	}
	return sf, err
}

func (s *Server) surfaceError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := api.StatusFor(err)
	s.render(w, r, status, "result", &pageData{Title: "Error", Error: msg, State: dashboard.StateFailed.String()})
}

// success renders the acknowledgment for a finished surface and sends the
// browser back to the dashboard after the dismiss delay.
func (s *Server) success(w http.ResponseWriter, r *http.Request, msg string) {
	delay := s.cfg.Dashboard.DismissDelay.D()
	if delay <= 0 {
		delay = dashboard.DefaultDismissDelay
	}
	s.render(w, r, http.StatusOK, "result", &pageData{
		Title:        "Done",
		Message:      msg,
		State:        dashboard.StateSuccess.String(),
		RefreshAfter: strconv.Itoa(int(math.Ceil(delay.Seconds()))),
		RefreshURL:   "/dashboard",
	})
}

// --- Create ---

func (s *Server) createPage(w http.ResponseWriter, r *http.Request) {
	n, _ := strconv.Atoi(r.URL.Query().Get("rows"))
	s.renderCreate(w, r, http.StatusOK, make([]task.Definition, clampRows(n)), "")
}

func (s *Server) renderCreate(w http.ResponseWriter, r *http.Request, status int, defs []task.Definition, errMsg string) {
	rows := make([]formRow, len(defs))
	for i, d := range defs {
		rows[i] = formRow{Index: i, Def: d}
	}
	s.render(w, r, status, "create", &pageData{
		Title:   "New tasks",
		Rows:    rows,
		Presets: task.Presets,
		Error:   errMsg,
		State:   dashboard.StateIdle.String(),
	})
}

func (s *Server) createSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.renderCreate(w, r, http.StatusBadRequest, make([]task.Definition, 1), "Invalid multipart payload")
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	n, _ := strconv.Atoi(r.FormValue("rows"))
	defs := make([]task.Definition, clampRows(n))
	for i := range defs {
		suffix := "_" + strconv.Itoa(i)
		defs[i] = task.Definition{
			TaskName:       r.FormValue("taskName" + suffix),
			CronExpression: r.FormValue("cronExpression" + suffix),
			TaskExecution:  r.FormValue("taskExecution" + suffix),
		}
	}
	if r.FormValue("add_row") != "" {
		if len(defs) < maxFormRows {
			defs = append(defs, task.Definition{})
		}
		s.renderCreate(w, r, http.StatusOK, defs, "")
		return
	}

	files, err := task.ReadAttachments(r.MultipartForm)
	if err != nil {
		s.renderCreate(w, r, http.StatusBadRequest, defs, "Invalid multipart payload")
		return
	}
	res, err := s.listing.NewCreateSurface().SubmitCreate(r.Context(), defs, files)
	if err != nil {
		status, msg := api.StatusFor(err)
		s.renderCreate(w, r, status, defs, msg)
		return
	}
	s.success(w, r, res.Message)
}

func clampRows(n int) int {
	switch {
	case n < 1:
		return 1
	case n > maxFormRows:
		return maxFormRows
	}
	return n
}

// --- Edit ---

func (s *Server) editPage(w http.ResponseWriter, r *http.Request) {
	sf, err := s.openSurface(r, dashboard.ActionEdit)
	if err != nil {
		s.surfaceError(w, r, err)
		return
	}
	s.renderEdit(w, r, http.StatusOK, sf, "")
}

func (s *Server) renderEdit(w http.ResponseWriter, r *http.Request, status int, sf *dashboard.Surface, errMsg string) {
	s.render(w, r, status, "edit", &pageData{
		Title:   "Edit " + sf.Target().Name,
		Task:    sf.Target(),
		Form:    sf.Form(),
		Presets: task.Presets,
		Error:   errMsg,
		State:   sf.State().String(),
	})
}

func (s *Server) editSubmit(w http.ResponseWriter, r *http.Request) {
	sf, err := s.openSurface(r, dashboard.ActionEdit)
	if err != nil {
		s.surfaceError(w, r, err)
		return
	}
	def := task.Definition{
		TaskName:       r.PostFormValue("taskName"),
		CronExpression: r.PostFormValue("cronExpression"),
		TaskExecution:  r.PostFormValue("taskExecution"),
	}
	if _, err := sf.SubmitEdit(r.Context(), def); err != nil {
		status, msg := api.StatusFor(err)
		s.renderEdit(w, r, status, sf, msg)
		return
	}
	s.success(w, r, "Task updated successfully")
}

// --- Delete ---

func (s *Server) deletePage(w http.ResponseWriter, r *http.Request) {
	sf, err := s.openSurface(r, dashboard.ActionDelete)
	if err != nil {
		s.surfaceError(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "delete", &pageData{
		Title: "Delete " + sf.Target().Name,
		Task:  sf.Target(),
		State: sf.State().String(),
	})
}

func (s *Server) deleteSubmit(w http.ResponseWriter, r *http.Request) {
	sf, err := s.openSurface(r, dashboard.ActionDelete)
	if err != nil {
		s.surfaceError(w, r, err)
		return
	}
	del, err := sf.ConfirmDelete(r.Context())
	if err != nil {
		status, msg := api.StatusFor(err)
		s.render(w, r, status, "delete", &pageData{
			Title: "Delete " + sf.Target().Name,
			Task:  sf.Target(),
			Error: msg,
			State: sf.State().String(),
		})
		return
	}
	msg := del.Message
	if msg == "" {
		msg = "Task deleted successfully"
	}
	s.success(w, r, msg)
}

// --- Run / pause ---

func (s *Server) actionSubmit(action dashboard.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, err := s.openSurface(r, action)
		if errors.Is(err, task.ErrNotImplemented) {
			setFlash(w, strings.ToUpper(string(action[:1]))+string(action[1:])+" is not implemented yet")
		} else if err != nil {
			setFlash(w, task.Message(err))
		}
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
	}
}
