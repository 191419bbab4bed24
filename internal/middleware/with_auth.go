package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/souffle-edu/souffle-api/internal/utils"
)

// Auth role constants used by WithAuth.
const (
	AuthRoleAny     = "any"
	AuthRoleAdmin   = "admin"
	AuthRoleStudent = "student"
)

// AuthOptions configures WithAuth.
type AuthOptions struct {
	Role        string
	RequireUser bool
}

// WithAuth wraps a handler with authentication and role guards. A missing role claim counts as student.
func WithAuth(handler fiber.Handler, opts AuthOptions) fiber.Handler {
	role := strings.ToLower(strings.TrimSpace(opts.Role))
	if role == "" {
		role = AuthRoleAny
	}

	requireUser := opts.RequireUser || role != AuthRoleAny

	return func(c *fiber.Ctx) error {
		userID := c.Locals("user_id")
		if requireUser && userID == nil {
			return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
		}
		if role == AuthRoleAny {
			return handler(c)
		}

		currentRole := normalizeRoleValue(c.Locals("user_role"))
		if currentRole == "" {
			currentRole = AuthRoleStudent
		}
		if currentRole != role && currentRole != AuthRoleAdmin {
			return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
		}

		return handler(c)
	}
}
