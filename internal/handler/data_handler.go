package handler

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/souffle-edu/souffle-api/internal/dto"
	"github.com/souffle-edu/souffle-api/internal/service"
	"github.com/souffle-edu/souffle-api/internal/utils"
)

// DataHandler proxies OCR transcription and queues analysis requests.
type DataHandler struct {
	converter service.AnswerConverter
	analysis  service.AnalysisService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewDataHandler creates a data proxy handler.
func NewDataHandler(converter service.AnswerConverter, analysis service.AnalysisService, validate *validator.Validate, logger zerolog.Logger) *DataHandler {
	return &DataHandler{
		converter: converter,
		analysis:  analysis,
		validator: validate,
		logger:    logger.With().Str("component", "data_handler").Logger(),
	}
}

// Register binds the OCR routes.
func (h *DataHandler) Register(router fiber.Router) {
	router.Post("/ocr/answer", h.answer)
	router.Post("/ocr/analysis", h.enqueueAnalysis)
}

func (h *DataHandler) answer(c *fiber.Ctx) error {
	var payload dto.OCRAnswerRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	payload.AnswerImageURL = strings.TrimSpace(payload.AnswerImageURL)
	if err := h.validator.Struct(payload); err != nil {
		return respondError(c, h.logger, err)
	}

	converted, err := h.converter.ConvertAnswer(requestContext(c), payload.AnswerImageURL)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "answer converted", dto.OCRAnswerResponse{AnswerConvert: converted})
}

func (h *DataHandler) enqueueAnalysis(c *fiber.Ctx) error {
	var payload dto.AnalysisJobPayload
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	queued, err := h.analysis.Enqueue(requestContext(c), payload)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "analysis queued", queued)
}
