package middleware // middleware provides shared request processing for handlers

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/community-auth/internal/apperr"
	"github.com/iliyamo/community-auth/internal/model"
)

// RequireRole rejects requests whose access token role is not one of roles.
// It must run after JWTAuth.
func RequireRole(roles ...model.Role) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[string(r)] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !allowed[Role(c)] {
				return apperr.Forbidden(apperr.CodeInsufficientRole, "insufficient role")
			}
			return next(c)
		}
	}
}
