package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/souffle-edu/souffle-api/internal/middleware"
	"github.com/souffle-edu/souffle-api/internal/service"
	"github.com/souffle-edu/souffle-api/internal/utils"
)

// ProblemHandler serves problems. Only the submission id listing needs a user.
type ProblemHandler struct {
	service service.ProblemService
	logger  zerolog.Logger
}

// NewProblemHandler creates a problem handler.
func NewProblemHandler(svc service.ProblemService, logger zerolog.Logger) *ProblemHandler {
	return &ProblemHandler{
		service: svc,
		logger:  logger.With().Str("component", "problem_handler").Logger(),
	}
}

// Register binds problem routes. auth guards the per-user routes.
func (h *ProblemHandler) Register(router fiber.Router, auth fiber.Handler) {
	router.Get("/category/:category_id", h.byCategory)
	router.Get("/:problem_id/submissions", auth, middleware.WithAuth(h.submissionIDs, middleware.AuthOptions{RequireUser: true}))
	router.Get("/:problem_id", h.get)
}

func (h *ProblemHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "problem_id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	problem, err := h.service.Get(requestContext(c), id)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "problem retrieved", problem)
}

func (h *ProblemHandler) byCategory(c *fiber.Ctx) error {
	categoryID, err := parseUintParam(c, "category_id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	problems, err := h.service.ListByCategory(requestContext(c), categoryID)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.OK(c, problems, "problems retrieved", fiber.Map{"count": len(problems)})
}

func (h *ProblemHandler) submissionIDs(c *fiber.Ctx) error {
	problemID, err := parseUintParam(c, "problem_id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	ids, err := h.service.SubmissionIDs(requestContext(c), userIDFromContext(c), problemID)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "submissions retrieved", ids)
}
