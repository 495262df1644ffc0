package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

// UserIDKey is the context key for the authenticated user id
const UserIDKey ContextKey = "user_id"

// ExtractUserID extracts the X-User-ID header into the request context.
// Handlers that need an identity use RequireUserID.
func ExtractUserID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if userID := c.Request().Header.Get("X-User-ID"); userID != "" {
				c.Set(string(UserIDKey), userID)
			}
			return next(c)
		}
	}
}

// GetUserID retrieves the user id from the request context, empty if unset
func GetUserID(c echo.Context) string {
	userID := c.Get(string(UserIDKey))
	if userID == nil {
		return ""
	}
	return userID.(string)
}

// RequireUserID ensures a user id exists in context. When missing it writes
// a 401 response and returns an error the handler should propagate as-is.
func RequireUserID(c echo.Context) (string, error) {
	userID := GetUserID(c)
	if userID == "" {
		return "", c.JSON(http.StatusUnauthorized, map[string]any{
			"error": "authentication required (X-User-ID header missing)",
		})
	}
	return userID, nil
}
