package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/pharmagest/license-server/internal/auth"
	"github.com/pharmagest/license-server/internal/database"
	"github.com/redis/go-redis/v9"
)

// AdminRequired protects lifecycle and listing routes. It accepts either the
// raw admin password in X-Admin-Password (desktop tooling, curl) or a Bearer
// session token minted by the login endpoint. Rejections carry no hint about
// whether any license or session exists.
func AdminRequired(gate *auth.Gate, rdb *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if password := c.Get("X-Admin-Password"); password != "" {
			if gate.Authorize(password) {
				c.Locals("adminUser", "admin")
				return c.Next()
			}
			return deny(c)
		}

		authHeader := c.Get("Authorization")
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				return deny(c)
			}
			token := parts[1]
			if database.IsTokenBlacklisted(rdb, token) {
				return deny(c)
			}
			if _, err := gate.VerifySession(token); err != nil {
				return deny(c)
			}
			c.Locals("adminUser", "admin")
			c.Locals("sessionToken", token)
			return c.Next()
		}

		return deny(c)
	}
}

func deny(c *fiber.Ctx) error {
	return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
		"success": false,
		"message": "Admin access denied",
	})
}

// GetAdminUser returns the authenticated admin identity from context.
func GetAdminUser(c *fiber.Ctx) string {
	user, ok := c.Locals("adminUser").(string)
	if !ok {
		return ""
	}
	return user
}
