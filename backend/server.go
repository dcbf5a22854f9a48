// Package backend emulates the external task-scheduling service the
// dashboard talks to. It keeps tasks in SQLite and serves the same HTTP
// contract: dag_data, tasks, dag_edit and dag_delete.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/GoCodeAlone/conduit/task"
)

// Options configures a Server.
type Options struct {
	Addr        string
	DeleteDelay time.Duration
	Logger      *zap.Logger
}

// Server is the emulated task service.
type Server struct {
	app         *fiber.App
	store       *Store
	log         *zap.Logger
	addr        string
	deleteDelay time.Duration
	now         func() time.Time
}

// New creates a Server over store and registers its routes.
func New(store *Store, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	addr := opts.Addr
	if addr == "" {
		addr = ":8080"
	}
	s := &Server{
		store:       store,
		log:         log.Named("backend"),
		addr:        addr,
		deleteDelay: opts.DeleteDelay,
		now:         time.Now,
	}
	s.app = fiber.New(fiber.Config{
		ErrorHandler:          s.errorHandler,
		BodyLimit:             50 * 1024 * 1024,
		DisableStartupMessage: true,
	})
	s.registerMiddleware()
	s.registerRoutes()
	return s
}

// App returns the underlying fiber application.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves on the configured address until Shutdown.
func (s *Server) Listen() error {
	s.log.Info("backend emulator listening", zap.String("addr", s.addr))
	return s.app.Listen(s.addr)
}

// Serve serves on an existing listener until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	return s.app.Listener(ln)
}

// Shutdown stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) registerMiddleware() {
	s.app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	s.app.Use(requestid.New())
	s.app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}
		s.log.Info("response",
			zap.Int("status", status),
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.String("request-id", fmt.Sprint(c.Locals(requestid.ConfigDefault.ContextKey))),
			zap.Float32("latency-ms", float32(time.Since(start).Milliseconds())),
			zap.Error(err),
		)
		return err
	})
}

func (s *Server) registerRoutes() {
	api := s.app.Group("/api")
	api.Get("/dag_data", s.listTasks)
	api.Post("/tasks", s.createTasks)
	api.Post("/dag_edit", s.editTask)
	api.Post("/dag_delete", s.deleteTask)
	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
}

// errorHandler writes errors as {"error": msg}. Unexpected errors are logged
// and reported without detail.
func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	rid := c.Locals(requestid.ConfigDefault.ContextKey)
	msg := err.Error()
	if code == fiber.StatusInternalServerError {
		s.log.Error("unexpected error", zap.Any("request-id", rid), zap.String("path", c.Path()), zap.Error(err))
		msg = fmt.Sprintf("unexpected error, request-id: %v", rid)
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}

func (s *Server) listTasks(c *fiber.Ctx) error {
	tasks, err := s.store.List(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"tasks": tasks})
}

func (s *Server) createTasks(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid multipart payload")
	}
	raw := form.Value["tasks"]
	if len(raw) == 0 || strings.TrimSpace(raw[0]) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "No tasks provided")
	}
	var defs []task.Definition
	if err := json.Unmarshal([]byte(raw[0]), &defs); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid JSON in tasks field")
	}
	if err := task.ValidateBatch(defs); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, task.Message(err))
	}

	files, err := task.ReadAttachments(form)
	if err != nil {
		return err
	}

	created, infos, err := s.store.CreateBatch(c.UserContext(), defs, files)
	if err != nil {
		return err
	}
	s.log.Info("tasks created", zap.Int("tasks", len(created)), zap.Int("files", len(infos)))
	return c.Status(fiber.StatusCreated).JSON(task.CreateResult{
		Success: true,
		Message: fmt.Sprintf("Successfully created %d task(s)", len(created)),
		Tasks:   created,
		Files:   infos,
	})
}

type editRequest struct {
	ID any `json:"id"`
	task.Definition
}

func (s *Server) editTask(c *fiber.Ctx) error {
	var req editRequest
	if err := task.DecodeJSON(bytes.NewReader(c.Body()), &req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid JSON payload")
	}
	id, err := task.ParseID(req.ID)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, task.Message(err))
	}
	if err := task.Validate(req.Definition); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, task.Message(err))
	}
	n, _ := id.Int64()
	updated, err := s.store.Update(c.UserContext(), n, req.Definition)
	if errors.Is(err, task.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "Task not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(updated)
}

func (s *Server) deleteTask(c *fiber.Ctx) error {
	var req struct {
		ID any `json:"id"`
	}
	if err := task.DecodeJSON(bytes.NewReader(c.Body()), &req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid JSON payload")
	}
	id, err := task.ParseID(req.ID)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, task.Message(err))
	}

	if err := sleep(c.UserContext(), s.deleteDelay); err != nil {
		return err
	}

	n, _ := id.Int64()
	err = s.store.Delete(c.UserContext(), n)
	if errors.Is(err, task.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "Task not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(task.Deletion{
		Success:       true,
		Message:       fmt.Sprintf("Task %s deleted successfully", id),
		DeletedTaskID: id,
		DeletedAt:     s.now().UTC().Format(time.RFC3339Nano),
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
