package handler

import (
	"crypto/subtle"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/souffle-edu/souffle-api/internal/dto"
	"github.com/souffle-edu/souffle-api/internal/service"
	"github.com/souffle-edu/souffle-api/internal/utils"
)

const oauthStateCookie = "souffle_oauth_state"

// AuthHandler exposes Google sign-in and token refresh.
type AuthHandler struct {
	service service.AuthService
	logger  zerolog.Logger
}

// NewAuthHandler creates an auth handler.
func NewAuthHandler(svc service.AuthService, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		service: svc,
		logger:  logger.With().Str("component", "auth_handler").Logger(),
	}
}

// Register binds auth routes.
func (h *AuthHandler) Register(router fiber.Router) {
	router.Get("/google", h.redirect)
	router.Get("/google/callback", h.callback)
	router.Post("/refresh", h.refresh)
}

func (h *AuthHandler) redirect(c *fiber.Ctx) error {
	state := uuid.NewString()
	target, err := h.service.AuthCodeURL(state)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	c.Cookie(&fiber.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		Expires:  time.Now().Add(10 * time.Minute),
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return c.Redirect(target, fiber.StatusTemporaryRedirect)
}

func (h *AuthHandler) callback(c *fiber.Ctx) error {
	state := c.Query("state")
	expected := c.Cookies(oauthStateCookie)
	if state == "" || subtle.ConstantTimeCompare([]byte(state), []byte(expected)) != 1 {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid oauth state")
	}
	code := c.Query("code")
	if code == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "code is required")
	}
	c.ClearCookie(oauthStateCookie)

	result, err := h.service.Callback(requestContext(c), code)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "signed in", result)
}

func (h *AuthHandler) refresh(c *fiber.Ctx) error {
	var payload dto.RefreshRequest
	if err := c.BodyParser(&payload); err != nil || payload.RefreshToken == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "refresh_token is required")
	}

	result, err := h.service.Refresh(requestContext(c), payload.RefreshToken)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "token refreshed", result)
}
