package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/souffle-edu/souffle-api/internal/dto"
	"github.com/souffle-edu/souffle-api/internal/middleware"
	"github.com/souffle-edu/souffle-api/internal/service"
	"github.com/souffle-edu/souffle-api/internal/utils"
)

// ConceptHandler serves concept quizzes.
type ConceptHandler struct {
	service service.ConceptService
	logger  zerolog.Logger
}

// NewConceptHandler creates a concept handler.
func NewConceptHandler(svc service.ConceptService, logger zerolog.Logger) *ConceptHandler {
	return &ConceptHandler{
		service: svc,
		logger:  logger.With().Str("component", "concept_handler").Logger(),
	}
}

// Register binds concept routes. auth guards quiz submission.
func (h *ConceptHandler) Register(router fiber.Router, auth fiber.Handler) {
	router.Post("/quiz/:quiz_id/submission", auth, middleware.WithAuth(h.submitQuiz, middleware.AuthOptions{Role: middleware.AuthRoleStudent}))
	router.Get("/:category_id/quiz", h.quizzes)
}

func (h *ConceptHandler) quizzes(c *fiber.Ctx) error {
	categoryID, err := parseUintParam(c, "category_id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	concepts, err := h.service.CategoryQuizzes(requestContext(c), categoryID)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "concept quizzes", concepts)
}

func (h *ConceptHandler) submitQuiz(c *fiber.Ctx) error {
	quizID, err := parseUintParam(c, "quiz_id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.QuizSubmissionRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.service.SubmitQuiz(requestContext(c), userIDFromContext(c), quizID, payload)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "quiz graded", result)
}
