package handler

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/souffle-edu/souffle-api/internal/dto"
	"github.com/souffle-edu/souffle-api/internal/queue"
	"github.com/souffle-edu/souffle-api/internal/utils"
)

const defaultFailedJobLimit = 50

// QueueInspector is the admin view of a job queue.
type QueueInspector interface {
	Name() string
	Stats(ctx context.Context) (queue.Stats, error)
	Failed(ctx context.Context, limit int64) ([]queue.Job, error)
	Retry(ctx context.Context, id string) (queue.Job, error)
}

// AdminQueueHandler lets admins inspect failed jobs and retry them.
type AdminQueueHandler struct {
	queue  QueueInspector
	logger zerolog.Logger
}

// NewAdminQueueHandler creates the admin queue handler.
func NewAdminQueueHandler(inspector QueueInspector, logger zerolog.Logger) *AdminQueueHandler {
	return &AdminQueueHandler{
		queue:  inspector,
		logger: logger.With().Str("component", "admin_queue_handler").Logger(),
	}
}

// Register binds admin queue routes. Callers must guard the group with an admin check.
func (h *AdminQueueHandler) Register(router fiber.Router) {
	router.Get("/failed", h.failed)
	router.Post("/jobs/:id/retry", h.retry)
}

func (h *AdminQueueHandler) failed(c *fiber.Ctx) error {
	limit, err := parseQueryInt(c, "limit")
	if err != nil || limit < 0 {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}
	if limit == 0 {
		limit = defaultFailedJobLimit
	}

	ctx := requestContext(c)
	stats, err := h.queue.Stats(ctx)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	jobs, err := h.queue.Failed(ctx, int64(limit))
	if err != nil {
		return respondError(c, h.logger, err)
	}

	response := dto.QueueOverviewResponse{
		Queue:  h.queue.Name(),
		Stats:  stats,
		Failed: make([]dto.QueueJobResponse, 0, len(jobs)),
	}
	for _, job := range jobs {
		response.Failed = append(response.Failed, dto.NewQueueJobResponse(job))
	}
	return utils.SendSuccess(c, "failed jobs", response)
}

func (h *AdminQueueHandler) retry(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if id == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "job id is required")
	}

	job, err := h.queue.Retry(requestContext(c), id)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	logger := requestLogger(h.logger, c)
	logger.Info().Str("job_id", job.ID).Str("job_name", job.Name).Msg("failed job re-queued")
	return utils.SendSuccess(c, "job re-queued", dto.NewQueueJobResponse(job))
}
