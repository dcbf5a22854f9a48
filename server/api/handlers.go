// Package api implements the dashboard's JSON API. It validates requests
// locally and forwards them to the task service through the shared listing,
// so the browser UI and the CLI see the same contract as the backend.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/GoCodeAlone/conduit/dashboard"
	"github.com/GoCodeAlone/conduit/task"
)

// maxUploadMemory bounds the multipart form kept in memory; larger parts
// spill to temporary files.
const maxUploadMemory = 32 << 20

// Handlers bundles all REST API handler dependencies.
type Handlers struct {
	Tasks      task.Store
	Listing    *dashboard.Listing
	Logger     *zap.Logger
	Version    string
	BackendURL string
}

// RegisterRoutes registers the protected API routes on the given mux.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/dag_data", h.listTasks)
	mux.HandleFunc("POST /api/tasks", h.createTasks)
	mux.HandleFunc("POST /api/dag_edit", h.editTask)
	mux.HandleFunc("POST /api/dag_delete", h.deleteTask)
	mux.HandleFunc("POST /api/tasks/{id}/run", h.taskAction(dashboard.ActionRun))
	mux.HandleFunc("POST /api/tasks/{id}/pause", h.taskAction(dashboard.ActionPause))

	mux.HandleFunc("GET /api/version", h.version)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// StatusFor maps err onto an HTTP status and the message shown to the
// caller. Task service answers keep their status; an unreachable service
// becomes 502.
func StatusFor(err error) (int, string) {
	var (
		ve *task.ValidationError
		be *task.BatchError
		re *task.RemoteError
	)
	switch {
	case errors.As(err, &ve), errors.As(err, &be),
		errors.Is(err, task.ErrInvalidPayload),
		errors.Is(err, task.ErrMissingField),
		errors.Is(err, task.ErrMalformedSchedule):
		return http.StatusBadRequest, task.Message(err)
	case errors.Is(err, task.ErrNotFound):
		return http.StatusNotFound, "Task not found"
	case errors.Is(err, task.ErrNotImplemented):
		return http.StatusNotImplemented, task.Message(err)
	case errors.As(err, &re) && re.Status != 0:
		return re.Status, task.Message(err)
	case errors.As(err, &re):
		return http.StatusBadGateway, task.Message(err)
	}
	return http.StatusInternalServerError, "Internal server error"
}

// writeStoreError reports a failed mutation. Task service failures carry a
// per-operation summary with the service's own message as details.
func (h *Handlers) writeStoreError(w http.ResponseWriter, op string, err error) {
	status, msg := StatusFor(err)
	var re *task.RemoteError
	switch {
	case errors.As(err, &re) && status != http.StatusNotFound:
		h.Logger.Warn("task service request failed", zap.String("op", op), zap.Int("status", status), zap.Error(err))
		writeJSON(w, status, map[string]string{
			"error":   fmt.Sprintf("Failed to %s on backend server", op),
			"details": msg,
		})
	case status == http.StatusInternalServerError:
		h.Logger.Error("unexpected error", zap.String("op", op), zap.Error(err))
		writeError(w, status, msg)
	default:
		writeError(w, status, msg)
	}
}

// --- Task handlers ---

func (h *Handlers) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.Tasks.List(r.Context())
	if err != nil {
		h.Logger.Warn("list tasks", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":   "Failed to fetch tasks from backend server",
			"details": task.Message(err),
		})
		return
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (h *Handlers) createTasks(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart payload")
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	raw := r.MultipartForm.Value["tasks"]
	if len(raw) == 0 || strings.TrimSpace(raw[0]) == "" {
		writeError(w, http.StatusBadRequest, "No tasks provided")
		return
	}
	var defs []task.Definition
	if err := json.Unmarshal([]byte(raw[0]), &defs); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON in tasks field")
		return
	}

	files, err := task.ReadAttachments(r.MultipartForm)
	if err != nil {
		h.Logger.Warn("read attachments", zap.Error(err))
		writeError(w, http.StatusBadRequest, "Invalid multipart payload")
		return
	}

	res, err := h.Listing.NewCreateSurface().SubmitCreate(r.Context(), defs, files)
	if err != nil {
		h.writeStoreError(w, "create tasks", err)
		return
	}
	res.Success = true
	if res.Tasks == nil {
		res.Tasks = []task.Task{}
	}
	if res.Files == nil {
		res.Files = []task.FileInfo{}
	}
	writeJSON(w, http.StatusCreated, res)
}

type editRequest struct {
	ID any `json:"id"`
	task.Definition
}

func (h *Handlers) editTask(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := task.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	id, err := task.ParseID(req.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, task.Message(err))
		return
	}

	updated, err := h.Listing.NewEditSurface(task.Task{ID: id}).SubmitEdit(r.Context(), req.Definition)
	if err != nil {
		h.writeStoreError(w, "update task", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handlers) deleteTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID any `json:"id"`
	}
	if err := task.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	id, err := task.ParseID(req.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, task.Message(err))
		return
	}

	del, err := h.Listing.NewDeleteSurface(task.Task{ID: id}).ConfirmDelete(r.Context())
	if err != nil {
		h.writeStoreError(w, "delete task", err)
		return
	}
	del.Success = true
	if del.DeletedTaskID == "" {
		del.DeletedTaskID = id
	}
	writeJSON(w, http.StatusOK, del)
}

func (h *Handlers) taskAction(action dashboard.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := task.ParseID(r.PathValue("id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, task.Message(err))
			return
		}
		h.Logger.Info("task action not implemented", zap.String("action", string(action)), zap.String("task_id", id.String()))
		writeError(w, http.StatusNotImplemented, fmt.Sprintf("%s is not implemented", action))
	}
}

// --- Status / version ---

func (h *Handlers) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.Version,
		"backend": h.BackendURL,
	})
}

// StatusHandler returns the status handler function for external registration.
func (h *Handlers) StatusHandler() http.HandlerFunc {
	return h.status
}

func (h *Handlers) version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": h.Version,
	})
}
