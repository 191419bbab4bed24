package handler

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/souffle-edu/souffle-api/internal/dto"
	"github.com/souffle-edu/souffle-api/internal/service"
	"github.com/souffle-edu/souffle-api/internal/utils"
)

// NoteHandler wires the note folder and handwriting endpoints.
type NoteHandler struct {
	service service.NoteService
	logger  zerolog.Logger
}

// NewNoteHandler creates a note handler.
func NewNoteHandler(svc service.NoteService, logger zerolog.Logger) *NoteHandler {
	return &NoteHandler{
		service: svc,
		logger:  logger.With().Str("component", "note_handler").Logger(),
	}
}

// Register binds note routes. Every route expects an authenticated user.
func (h *NoteHandler) Register(router fiber.Router) {
	folders := router.Group("/folder")
	folders.Get("", h.folderTree)
	folders.Post("", h.createFolder)
	folders.Patch("/:id/order", h.reorderFolder)
	folders.Patch("/:id", h.renameFolder)
	folders.Delete("/:id", h.deleteFolder)
	folders.Get("/:id/problems", h.folderProblems)

	problems := router.Group("/problems")
	problems.Post("", h.addProblem)
	problems.Patch("/move", h.moveProblem)
	problems.Delete("", h.removeProblem)

	userProblems := router.Group("/user-problems")
	userProblems.Get("/:id", h.problemDetail)
	userProblems.Get("/:id/strokes", h.strokes)
	userProblems.Put("/:id/strokes", h.updateStrokes)
}

func (h *NoteHandler) folderTree(c *fiber.Ctx) error {
	var folderType *int
	if raw := strings.TrimSpace(c.Query("type")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid type")
		}
		folderType = &parsed
	}

	tree, err := h.service.FolderTree(requestContext(c), userIDFromContext(c), folderType)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "folders retrieved", tree)
}

func (h *NoteHandler) createFolder(c *fiber.Ctx) error {
	var payload dto.FolderCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	created, err := h.service.CreateFolder(requestContext(c), userIDFromContext(c), payload)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "folder created", created)
}

func (h *NoteHandler) renameFolder(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	var payload dto.FolderRenameRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.service.RenameFolder(requestContext(c), userIDFromContext(c), id, payload); err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "folder renamed", fiber.Map{"folder_id": id})
}

func (h *NoteHandler) reorderFolder(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	var payload dto.FolderReorderRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.service.ReorderFolder(requestContext(c), userIDFromContext(c), id, payload); err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "folder reordered", fiber.Map{"folder_id": id})
}

func (h *NoteHandler) deleteFolder(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.service.DeleteFolder(requestContext(c), userIDFromContext(c), id); err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "folder deleted", fiber.Map{"folder_id": id})
}

func (h *NoteHandler) folderProblems(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	folderType, err := parseQueryInt(c, "type")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid type")
	}

	problems, err := h.service.FolderProblems(requestContext(c), userIDFromContext(c), id, folderType)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "folder problems", problems)
}

func (h *NoteHandler) addProblem(c *fiber.Ctx) error {
	var payload dto.FolderProblemRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	record, err := h.service.AddProblem(requestContext(c), userIDFromContext(c), payload)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "problem added to folder", record)
}

func (h *NoteHandler) moveProblem(c *fiber.Ctx) error {
	var payload dto.FolderProblemRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	record, err := h.service.MoveProblem(requestContext(c), userIDFromContext(c), payload)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "problem moved", record)
}

func (h *NoteHandler) removeProblem(c *fiber.Ctx) error {
	var payload dto.FolderProblemRemoveRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	record, err := h.service.RemoveProblem(requestContext(c), userIDFromContext(c), payload)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "problem removed from folder", record)
}

func (h *NoteHandler) problemDetail(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	detail, err := h.service.ProblemDetail(requestContext(c), userIDFromContext(c), id)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "note problem", detail)
}

func (h *NoteHandler) strokes(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	strokes, err := h.service.Strokes(requestContext(c), userIDFromContext(c), id)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "note strokes", strokes)
}

func (h *NoteHandler) updateStrokes(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	var payload dto.NoteStrokes
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.service.UpdateStrokes(requestContext(c), userIDFromContext(c), id, payload); err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "note strokes saved", fiber.Map{"user_problem_id": id})
}
