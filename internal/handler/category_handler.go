package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/souffle-edu/souffle-api/internal/service"
	"github.com/souffle-edu/souffle-api/internal/utils"
)

// CategoryHandler serves the category tree.
type CategoryHandler struct {
	service service.CategoryService
	logger  zerolog.Logger
}

// NewCategoryHandler creates a category handler.
func NewCategoryHandler(svc service.CategoryService, logger zerolog.Logger) *CategoryHandler {
	return &CategoryHandler{
		service: svc,
		logger:  logger.With().Str("component", "category_handler").Logger(),
	}
}

// Register binds category routes.
func (h *CategoryHandler) Register(router fiber.Router) {
	router.Get("/tree", h.tree)
	router.Get("/:id/ancestors", h.ancestors)
}

func (h *CategoryHandler) tree(c *fiber.Ctx) error {
	tree, err := h.service.Tree(requestContext(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "category tree", tree)
}

func (h *CategoryHandler) ancestors(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	hierarchy, err := h.service.Ancestors(requestContext(c), id)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "category ancestors", hierarchy)
}
