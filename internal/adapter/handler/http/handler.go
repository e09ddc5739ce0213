// Package http provides the Fiber submission and polling API.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/crabzie/workflow-scheduler/internal/core/domain"
	"github.com/crabzie/workflow-scheduler/internal/core/port"
	"github.com/crabzie/workflow-scheduler/internal/core/service"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
)

// Executor is the part of service.WorkflowExecutor the API drives
type Executor interface {
	Start(ctx context.Context, def domain.WorkflowDefinition) (*service.Run, error)
	SubmitTask(ctx context.Context, task domain.Task, retries int) (*service.Run, error)
	Status(runID string) (domain.RunResult, bool)
	Abort(runID string) error
	Runs() []domain.RunResult
}

// SchedulerInspector exposes scheduler pool sizes
type SchedulerInspector interface {
	Stats() service.SchedulerStats
}

// Options carries the optional collaborators of the API
type Options struct {
	Store   port.RunStatusStore // polled when the executor no longer knows a run
	History port.RunRepository  // backs GET /runs when set
	Metrics http.Handler        // served on /metrics when set
}

type Handler struct {
	ctx       context.Context
	executor  Executor
	scheduler SchedulerInspector
	opts      Options
	log       *zap.Logger
}

// New builds the handler. Runs it starts live as long as ctx.
func New(ctx context.Context, executor Executor, scheduler SchedulerInspector, opts Options, log *zap.Logger) *Handler {
	return &Handler{
		ctx:       ctx,
		executor:  executor,
		scheduler: scheduler,
		opts:      opts,
		log:       log,
	}
}

// App returns a configured Fiber application
func (h *Handler) App(readTimeout, writeTimeout time.Duration) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "workflow-scheduler",
		ReadTimeout:           readTimeout,
		WriteTimeout:          writeTimeout,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(h.requestLogger)
	h.Register(app)
	return app
}

// Register mounts every route on app
func (h *Handler) Register(app *fiber.App) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if h.opts.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(h.opts.Metrics))
	}

	api := app.Group("/api/v1")
	api.Post("/workflows", h.submitWorkflow)
	api.Post("/tasks", h.submitTask)
	api.Get("/runs", h.listRuns)
	api.Get("/runs/:id", h.getRun)
	api.Post("/runs/:id/abort", h.abortRun)
	api.Get("/scheduler", h.schedulerStats)
}

func (h *Handler) requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	h.log.Debug("Request",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Int("status", c.Response().StatusCode()),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err))
	return err
}

func errorJSON(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

func (h *Handler) submitWorkflow(c *fiber.Ctx) error {
	var req workflowRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid JSON body: "+err.Error())
	}
	def, err := req.definition()
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}
	run, err := h.executor.Start(h.ctx, def)
	return h.accepted(c, run, err)
}

func (h *Handler) submitTask(c *fiber.Ctx) error {
	var req taskRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid JSON body: "+err.Error())
	}
	task, err := req.task()
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}
	run, err := h.executor.SubmitTask(h.ctx, task, req.Retries)
	return h.accepted(c, run, err)
}

func (h *Handler) accepted(c *fiber.Ctx, run *service.Run, err error) error {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		body := fiber.Map{"error": verr.Reason}
		if verr.TaskID != "" {
			body["task_id"] = verr.TaskID
		}
		if run != nil {
			body["run_id"] = run.ID()
		}
		return c.Status(fiber.StatusUnprocessableEntity).JSON(body)
	case err != nil:
		h.log.Error("Failed to start run", zap.Error(err))
		return errorJSON(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"run_id": run.ID()})
}

func (h *Handler) getRun(c *fiber.Ctx) error {
	id := c.Params("id")
	if res, ok := h.executor.Status(id); ok {
		return c.JSON(res)
	}
	if h.opts.Store != nil {
		res, err := h.opts.Store.GetRun(c.UserContext(), id)
		switch {
		case err == nil:
			return c.JSON(res)
		case !errors.Is(err, domain.ErrRunNotFound):
			h.log.Warn("Run status store lookup failed", zap.String("run_id", id), zap.Error(err))
		}
	}
	return errorJSON(c, fiber.StatusNotFound, "run not found")
}

func (h *Handler) listRuns(c *fiber.Ctx) error {
	if h.opts.History == nil {
		return c.JSON(h.executor.Runs())
	}
	limit := c.QueryInt("limit", 50)
	if limit < 0 {
		return errorJSON(c, fiber.StatusBadRequest, "limit must not be negative")
	}
	runs, err := h.opts.History.ListRuns(c.UserContext(), c.Query("workflow"), uint64(limit))
	if err != nil {
		h.log.Error("Failed to list run history", zap.Error(err))
		return errorJSON(c, fiber.StatusInternalServerError, "run history unavailable")
	}
	if runs == nil {
		runs = []domain.RunResult{}
	}
	return c.JSON(runs)
}

func (h *Handler) abortRun(c *fiber.Ctx) error {
	id := c.Params("id")
	err := h.executor.Abort(id)
	switch {
	case errors.Is(err, domain.ErrRunNotFound):
		return errorJSON(c, fiber.StatusNotFound, "run not found")
	case errors.Is(err, domain.ErrRunFinished):
		return errorJSON(c, fiber.StatusConflict, "run already finished")
	case err != nil:
		return errorJSON(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"run_id": id, "status": domain.RunStatusFailed})
}

func (h *Handler) schedulerStats(c *fiber.Ctx) error {
	return c.JSON(h.scheduler.Stats())
}
