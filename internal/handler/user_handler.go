package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/souffle-edu/souffle-api/internal/service"
	"github.com/souffle-edu/souffle-api/internal/utils"
)

// UserHandler serves the caller's profile and progress.
type UserHandler struct {
	service service.UserService
	logger  zerolog.Logger
}

// NewUserHandler creates a user handler.
func NewUserHandler(svc service.UserService, logger zerolog.Logger) *UserHandler {
	return &UserHandler{
		service: svc,
		logger:  logger.With().Str("component", "user_handler").Logger(),
	}
}

// Register binds user routes.
func (h *UserHandler) Register(router fiber.Router) {
	router.Get("/my-profile", h.profile)
	router.Get("/categories/:category_id/stats", h.categoryStats)
}

func (h *UserHandler) profile(c *fiber.Ctx) error {
	profile, err := h.service.Profile(requestContext(c), userIDFromContext(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "profile retrieved", profile)
}

func (h *UserHandler) categoryStats(c *fiber.Ctx) error {
	categoryID, err := parseUintParam(c, "category_id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	stats, err := h.service.CategoryStats(requestContext(c), userIDFromContext(c), categoryID)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "category stats", stats)
}
