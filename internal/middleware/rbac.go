package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/souffle-edu/souffle-api/internal/utils"
)

// RequireRole admits callers whose token role is one of roles. It must run after
// JWTProtected; a request without a verified user gets 401 rather than 403.
func RequireRole(roles ...string) fiber.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		if normalized := normalizeRoleValue(role); normalized != "" {
			allowed[normalized] = struct{}{}
		}
	}

	return func(c *fiber.Ctx) error {
		if c.Locals("user_id") == nil {
			return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
		}
		if _, ok := allowed[normalizeRoleValue(c.Locals("user_role"))]; !ok {
			return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
		}
		return c.Next()
	}
}

func normalizeRoleValue(value interface{}) string {
	var role string
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		role = v
	case fmt.Stringer:
		role = v.String()
	default:
		role = fmt.Sprint(v)
	}
	return strings.ToLower(strings.TrimSpace(role))
}
