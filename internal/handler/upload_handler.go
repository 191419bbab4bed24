package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/souffle-edu/souffle-api/internal/service"
	"github.com/souffle-edu/souffle-api/internal/utils"
)

// UploadHandler handles single file uploads to object storage.
type UploadHandler struct {
	service service.UploadService
	logger  zerolog.Logger
}

// NewUploadHandler constructs an upload handler.
func NewUploadHandler(svc service.UploadService, logger zerolog.Logger) *UploadHandler {
	return &UploadHandler{
		service: svc,
		logger:  logger.With().Str("component", "upload_handler").Logger(),
	}
}

// Register wires upload routes.
func (h *UploadHandler) Register(router fiber.Router) {
	router.Post("/upload", h.upload)
}

func (h *UploadHandler) upload(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, service.ErrUploadMissing.Error())
	}

	result, err := h.service.Upload(requestContext(c), file, userIDFromContext(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "upload successful", result)
}
