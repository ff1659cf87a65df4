package sessionsync

import (
	"github.com/gofiber/fiber/v2"
)

// LocalsUserKey is where the middleware stores the resolved user on the
// fiber context.
const LocalsUserKey = "sessionsync:user"

// RequireUser rejects requests arriving before a session has been
// resolved. On success the user is stored in locals and in the request
// context for handlers further down.
func RequireUser(state *SessionState) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := state.CurrentUser()
		if user == nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": errorBody(ErrNotAuthenticated),
			})
		}

		c.Locals(LocalsUserKey, user)
		c.SetUserContext(WithUserContext(c.UserContext(), user))

		return c.Next()
	}
}

// RequireRole additionally enforces a minimum role.
func RequireRole(state *SessionState, role ProfileRole) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := state.CurrentUser()
		if user == nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": errorBody(ErrNotAuthenticated),
			})
		}

		if !user.Role.IsAtLeast(role) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": fiber.Map{
					"message":   "insufficient role",
					"text_code": "forbidden",
				},
			})
		}

		c.Locals(LocalsUserKey, user)
		c.SetUserContext(WithUserContext(c.UserContext(), user))

		return c.Next()
	}
}
