package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/community-auth/internal/apperr"
	"github.com/iliyamo/community-auth/internal/utils"
)

// AccessCookie is the cookie carrying the access token for browser clients.
const AccessCookie = "accessToken"

var errMissingToken = apperr.InvalidCredentials(apperr.CodeInvalidAccessToken, "missing access token")

// JWTAuth validates the access token from the Authorization header, falling
// back to the accessToken cookie, and stores the subject and role claims in
// the context for UserID and Role.  The secret must match the one used when
// issuing tokens.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := bearerToken(c)
			if raw == "" {
				return errMissingToken
			}
			claims, err := utils.ParseAccessToken(secret, raw)
			if err != nil {
				return apperr.InvalidCredentials(apperr.CodeInvalidAccessToken, "invalid or expired access token").Wrap(err)
			}
			c.Set(ctxUserID, claims.Subject)
			c.Set(ctxRole, claims.Role)
			return next(c)
		}
	}
}

func bearerToken(c echo.Context) string {
	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	if ck, err := c.Cookie(AccessCookie); err == nil {
		return strings.TrimSpace(ck.Value)
	}
	return ""
}
