package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/community-auth/internal/handler"
	"github.com/iliyamo/community-auth/internal/middleware"
	"github.com/iliyamo/community-auth/internal/model"
)

// New builds the echo instance with the shared error envelope, validator and
// request middleware.
func New() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = handler.ErrorHandler
	e.Validator = handler.NewValidator()
	e.Use(echomw.RequestID())
	e.Use(echomw.Logger())
	e.Use(echomw.Recover())
	e.Use(echomw.BodyLimit("64K"))
	return e
}

// RegisterRoutes registers routes that do not require authentication.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers the /v1/auth routes.  Every route sits behind the
// token bucket; the bearer-protected ones also run JWTAuth.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string, limit *middleware.TokenBucket) {
	g := e.Group("/v1/auth", middleware.RateLimit(limit))
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	g.POST("/logout", a.Logout)
	g.POST("/password/forgot", a.ForgotPassword)
	g.POST("/password/verify-code", a.VerifyResetCode)
	g.POST("/password/reset-with-code", a.ResetPasswordWithCode)
	g.POST("/email/code", a.SendEmailCode)
	g.POST("/email/verify", a.VerifyEmailCode)
	g.POST("/restore", a.Restore)

	jwt := middleware.JWTAuth(jwtSecret)
	g.GET("/me", a.Me, jwt)
	g.POST("/password/reset", a.ChangePassword, jwt)
	g.POST("/withdraw", a.Withdraw, jwt)
	g.POST("/logout-all", a.LogoutAll, jwt)
	g.PATCH("/account", a.UpdateAccount, jwt)
}

// RegisterAdmin registers instructor-only account administration.
func RegisterAdmin(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/admin", middleware.JWTAuth(jwtSecret), middleware.RequireRole(model.RoleInstructor))
	g.POST("/users/:id/approve", a.ApproveUser)
}
