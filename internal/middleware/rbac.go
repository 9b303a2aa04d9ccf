package middleware

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/coverletter-api/internal/utils"
	"github.com/noah-isme/coverletter-api/internal/workflow"
)

// RequireRole ensures that the authenticated user possesses one of the allowed workflow roles.
func RequireRole(roles ...workflow.Role) fiber.Handler {
	allowed := make(map[workflow.Role]struct{}, len(roles))
	for _, role := range roles {
		if role != "" {
			allowed[role] = struct{}{}
		}
	}

	return func(c *fiber.Ctx) error {
		if c.Locals("user_id") == nil {
			return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
		}

		role := workflow.ParseRole(roleValue(c.Locals("user_role")))
		if _, ok := allowed[role]; !ok {
			return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
		}
		return c.Next()
	}
}

func roleValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", value)
	}
}
