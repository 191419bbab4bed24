package handler

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/souffle-edu/souffle-api/internal/middleware"
	"github.com/souffle-edu/souffle-api/internal/models"
	"github.com/souffle-edu/souffle-api/internal/queue"
	"github.com/souffle-edu/souffle-api/internal/service"
	"github.com/souffle-edu/souffle-api/internal/utils"
	"github.com/souffle-edu/souffle-api/pkg/dataservice"
)

var errStatuses = []struct {
	err    error
	status int
}{
	{service.ErrUserNotFound, fiber.StatusNotFound},
	{service.ErrProblemNotFound, fiber.StatusNotFound},
	{service.ErrCategoryNotFound, fiber.StatusNotFound},
	{service.ErrSubmissionNotFound, fiber.StatusNotFound},
	{service.ErrConceptsNotFound, fiber.StatusNotFound},
	{service.ErrQuizNotFound, fiber.StatusNotFound},
	{service.ErrFolderNotFound, fiber.StatusNotFound},
	{service.ErrUserProblemNotFound, fiber.StatusNotFound},
	{service.ErrNoteNotFound, fiber.StatusNotFound},
	{service.ErrReportNotFound, fiber.StatusNotFound},
	{queue.ErrJobNotFound, fiber.StatusNotFound},
	{service.ErrSubmissionFileMissing, fiber.StatusBadRequest},
	{service.ErrUploadMissing, fiber.StatusBadRequest},
	{service.ErrSystemFolder, fiber.StatusBadRequest},
	{service.ErrInvalidFolderType, fiber.StatusBadRequest},
	{service.ErrUploadTypeNotAllowed, fiber.StatusUnsupportedMediaType},
	{service.ErrUploadTooLarge, fiber.StatusRequestEntityTooLarge},
	{service.ErrFolderForbidden, fiber.StatusForbidden},
	{service.ErrFolderProtected, fiber.StatusForbidden},
	{service.ErrInvalidToken, fiber.StatusUnauthorized},
	{service.ErrOAuthExchange, fiber.StatusUnauthorized},
	{service.ErrOAuthDisabled, fiber.StatusServiceUnavailable},
	{queue.ErrQueueUnavailable, fiber.StatusServiceUnavailable},
	{dataservice.ErrUnavailable, fiber.StatusServiceUnavailable},
	{dataservice.ErrInvalidResponse, fiber.StatusBadGateway},
}

// respondError maps service errors onto HTTP statuses. Unknown errors are logged and hidden.
func respondError(c *fiber.Ctx, logger zerolog.Logger, err error) error {
	if isValidationError(err) {
		return utils.Fail(c, fiber.StatusBadRequest, "validation failed", validationDetails(err))
	}
	for _, candidate := range errStatuses {
		if errors.Is(err, candidate.err) {
			return utils.SendError(c, candidate.status, err.Error())
		}
	}

	reqLogger := requestLogger(logger, c)
	reqLogger.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
}

func parseUintParam(c *fiber.Ctx, key string) (uint, error) {
	raw := strings.TrimSpace(c.Params(key))
	parsed, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || parsed == 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid "+key)
	}
	return uint(parsed), nil
}

func parseQueryInt(c *fiber.Ctx, key string) (int, error) {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	return parsed, nil
}

func userIDFromContext(c *fiber.Ctx) uint {
	if v := c.Locals("user_id"); v != nil {
		if id, ok := v.(uint); ok {
			return id
		}
		if id, ok := v.(int); ok {
			if id < 0 {
				return 0
			}
			return uint(id)
		}
	}
	return 0
}

func userRoleFromContext(c *fiber.Ctx) string {
	if v := c.Locals("user_role"); v != nil {
		if role, ok := v.(string); ok {
			return role
		}
	}
	return ""
}

func viewerFromContext(c *fiber.Ctx) service.Viewer {
	return service.Viewer{
		UserID: userIDFromContext(c),
		Admin:  strings.EqualFold(userRoleFromContext(c), models.UserRoleAdmin),
	}
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) zerolog.Logger {
	if id := middleware.GetCorrelationID(c); id != "" {
		return base.With().Str("correlation_id", id).Logger()
	}
	return base
}

func isValidationError(err error) bool {
	var validationErrs validator.ValidationErrors
	return errors.As(err, &validationErrs)
}

func validationDetails(err error) map[string]string {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return nil
	}
	details := make(map[string]string, len(validationErrs))
	for _, fieldErr := range validationErrs {
		details[fieldErr.Field()] = fieldErr.Tag()
	}
	return details
}
