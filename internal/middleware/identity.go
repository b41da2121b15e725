package middleware

import "github.com/labstack/echo/v4"

// Context keys set by JWTAuth.
const (
	ctxUserID = "user_id"
	ctxRole   = "role"
)

// UserID returns the authenticated user id, or "" for anonymous requests.
func UserID(c echo.Context) string {
	if v, ok := c.Get(ctxUserID).(string); ok {
		return v
	}
	return ""
}

// Role returns the role claim of the access token, or "".
func Role(c echo.Context) string {
	if v, ok := c.Get(ctxRole).(string); ok {
		return v
	}
	return ""
}

// rateIdentity is the user part of a rate limit key.
func rateIdentity(c echo.Context) string {
	if id := UserID(c); id != "" {
		return id
	}
	return "guest"
}
