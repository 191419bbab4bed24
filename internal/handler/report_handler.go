package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/souffle-edu/souffle-api/internal/dto"
	"github.com/souffle-edu/souffle-api/internal/service"
	"github.com/souffle-edu/souffle-api/internal/utils"
)

// ReportHandler serves weekly scores and learning reports.
type ReportHandler struct {
	service service.ReportService
	logger  zerolog.Logger
}

// NewReportHandler creates a report handler.
func NewReportHandler(svc service.ReportService, logger zerolog.Logger) *ReportHandler {
	return &ReportHandler{
		service: svc,
		logger:  logger.With().Str("component", "report_handler").Logger(),
	}
}

// Register binds the report read routes.
func (h *ReportHandler) Register(router fiber.Router) {
	router.Get("/latest", h.latest)
	router.Get("/scores", h.scores)
}

// RegisterData binds the report generation route under the data prefix.
func (h *ReportHandler) RegisterData(router fiber.Router) {
	router.Post("/report/latest", h.create)
}

func (h *ReportHandler) latest(c *fiber.Ctx) error {
	report, err := h.service.Latest(requestContext(c), userIDFromContext(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "latest report", report)
}

func (h *ReportHandler) scores(c *fiber.Ctx) error {
	scores, err := h.service.Scores(requestContext(c), userIDFromContext(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "weekly scores", scores)
}

func (h *ReportHandler) create(c *fiber.Ctx) error {
	var payload dto.ReportCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	created, err := h.service.Create(requestContext(c), userIDFromContext(c), payload)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "report created", created)
}
