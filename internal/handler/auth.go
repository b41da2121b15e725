package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/community-auth/internal/apperr"
	"github.com/iliyamo/community-auth/internal/config"
	"github.com/iliyamo/community-auth/internal/middleware"
	"github.com/iliyamo/community-auth/internal/model"
	"github.com/iliyamo/community-auth/internal/service"
)

// RefreshCookie carries the refresh token when cookie mode is on.
const RefreshCookie = "refreshToken"

const requestTimeout = 5 * time.Second

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Cfg  config.AuthConfig
	Auth *service.AuthService
}

func NewAuthHandler(cfg config.AuthConfig, auth *service.AuthService) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Auth: auth}
}

// ----- DTOs -----

type registerReq struct {
	Name           string  `json:"name" validate:"required,max=50"`
	Email          string  `json:"email" validate:"required,email,max=255"`
	Password       string  `json:"password" validate:"required,min=8,max=72"`
	Phone          string  `json:"phone" validate:"required,min=9,max=20"`
	Role           string  `json:"role" validate:"omitempty,oneof=trainee mentor instructor graduate"`
	Course         *string `json:"course" validate:"omitempty,max=100"`
	PrivacyConsent bool    `json:"privacy_consent" validate:"required"`
}
type loginReq struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,max=72"`
}
type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}
type emailReq struct {
	Email string `json:"email" validate:"required,email"`
}
type codeReq struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,max=32"`
}
type resetWithCodeReq struct {
	Email       string `json:"email" validate:"required,email"`
	Code        string `json:"code" validate:"required,max=32"`
	NewPassword string `json:"new_password" validate:"required,min=8,max=72"`
}
type emailCodeReq struct {
	Email   string `json:"email" validate:"required,email"`
	Purpose string `json:"purpose" validate:"required,oneof=register account-change withdraw-restore"`
}
type emailVerifyReq struct {
	Email   string `json:"email" validate:"required,email"`
	Purpose string `json:"purpose" validate:"required,oneof=register account-change withdraw-restore"`
	Code    string `json:"code" validate:"required,max=32"`
}
type changePasswordReq struct {
	CurrentPassword string `json:"current_password" validate:"required,max=72"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=72"`
}
type withdrawReq struct {
	CurrentPassword string `json:"current_password" validate:"required,max=72"`
}
type accountReq struct {
	Email *string `json:"email" validate:"omitempty,email,max=255"`
	Phone *string `json:"phone" validate:"omitempty,min=9,max=20"`
	Code  string  `json:"code" validate:"max=32"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}
type authResp struct {
	User    model.Profile `json:"user"`
	Access  tokenPart     `json:"access"`
	Refresh *tokenPart    `json:"refresh,omitempty"`
}
type registerResp struct {
	User    model.Profile `json:"user"`
	Message string        `json:"message"`
	Access  *tokenPart    `json:"access,omitempty"`
	Refresh *tokenPart    `json:"refresh,omitempty"`
}
type messageResp struct {
	Message string `json:"message"`
}

// bind decodes and validates the request body.
func bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return apperr.Validation(map[string]string{"body": "must be a valid JSON object"})
	}
	return c.Validate(req)
}

func requiredField(name string) error {
	return apperr.Validation(map[string]string{name: "is required"})
}

// timeout bounds the service call and tags it with the caller's user agent
// and address.
func timeout(c echo.Context) (context.Context, context.CancelFunc) {
	ctx := service.WithClient(c.Request().Context(), service.Client{
		UserAgent: c.Request().UserAgent(),
		IP:        c.RealIP(),
	})
	return context.WithTimeout(ctx, requestTimeout)
}

// session writes the pair to cookies when cookie mode is on and renders the
// body.  In cookie mode the refresh token never appears in JSON.
func (h *AuthHandler) session(c echo.Context, status int, res service.AuthResponse) error {
	body := authResp{
		User:   res.User,
		Access: tokenPart{Token: res.Tokens.AccessToken, Expires: res.Tokens.AccessExp},
	}
	if h.Cfg.RefreshCookie {
		h.setSessionCookies(c, res.Tokens)
	} else {
		body.Refresh = &tokenPart{Token: res.Tokens.RefreshToken, Expires: res.Tokens.RefreshExp}
	}
	return c.JSON(status, body)
}

func (h *AuthHandler) setSessionCookies(c echo.Context, p service.TokenPair) {
	c.SetCookie(&http.Cookie{
		Name:     middleware.AccessCookie,
		Value:    p.AccessToken,
		Path:     "/",
		Expires:  p.AccessExp,
		HttpOnly: true,
		Secure:   h.Cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	c.SetCookie(&http.Cookie{
		Name:     RefreshCookie,
		Value:    p.RefreshToken,
		Path:     "/v1/auth",
		Expires:  p.RefreshExp,
		HttpOnly: true,
		Secure:   h.Cfg.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) clearSessionCookies(c echo.Context) {
	for _, ck := range []struct{ name, path string }{
		{middleware.AccessCookie, "/"},
		{RefreshCookie, "/v1/auth"},
	} {
		c.SetCookie(&http.Cookie{
			Name:     ck.name,
			Value:    "",
			Path:     ck.path,
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   h.Cfg.SecureCookies,
		})
	}
}

// refreshToken reads the refresh token from the body, then the cookie.
func refreshToken(c echo.Context) string {
	var req refreshReq
	_ = c.Bind(&req)
	if raw := strings.TrimSpace(req.RefreshToken); raw != "" {
		return raw
	}
	if ck, err := c.Cookie(RefreshCookie); err == nil {
		return strings.TrimSpace(ck.Value)
	}
	return ""
}

// Register creates a pending account.  Tokens are only returned when the
// deployment approves registrations automatically.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}

	ctx, cancel := timeout(c)
	defer cancel()

	res, err := h.Auth.Register(ctx, service.RegisterInput{
		Name:          req.Name,
		Email:         req.Email,
		Password:      req.Password,
		Phone:         req.Phone,
		RequestedRole: model.Role(req.Role),
		Course:        req.Course,
	})
	if err != nil {
		return fail(c, err)
	}

	body := registerResp{User: res.User, Message: "registration received, waiting for approval"}
	if res.Tokens != nil {
		body.Message = "registration complete"
		body.Access = &tokenPart{Token: res.Tokens.AccessToken, Expires: res.Tokens.AccessExp}
		if h.Cfg.RefreshCookie {
			h.setSessionCookies(c, *res.Tokens)
		} else {
			body.Refresh = &tokenPart{Token: res.Tokens.RefreshToken, Expires: res.Tokens.RefreshExp}
		}
	}
	return c.JSON(http.StatusCreated, body)
}

// Login: verify credentials and account standing, return a new pair.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	ctx, cancel := timeout(c)
	defer cancel()

	res, err := h.Auth.Login(ctx, req.Email, req.Password)
	if err != nil {
		return fail(c, err)
	}
	return h.session(c, http.StatusOK, res)
}

// Refresh rotates the refresh token.
func (h *AuthHandler) Refresh(c echo.Context) error {
	raw := refreshToken(c)
	if raw == "" {
		return fail(c, requiredField("refresh_token"))
	}
	ctx, cancel := timeout(c)
	defer cancel()

	res, err := h.Auth.Refresh(ctx, raw)
	if err != nil {
		return fail(c, err)
	}
	return h.session(c, http.StatusOK, res)
}

// Logout revokes one refresh token.  Unknown or already revoked tokens still
// succeed.
func (h *AuthHandler) Logout(c echo.Context) error {
	raw := refreshToken(c)
	ctx, cancel := timeout(c)
	defer cancel()

	if raw != "" {
		if err := h.Auth.Logout(ctx, raw); err != nil {
			return fail(c, err)
		}
	}
	h.clearSessionCookies(c)
	return c.NoContent(http.StatusNoContent)
}

// LogoutAll revokes every session of the caller.
func (h *AuthHandler) LogoutAll(c echo.Context) error {
	ctx, cancel := timeout(c)
	defer cancel()

	if err := h.Auth.LogoutAll(ctx, middleware.UserID(c)); err != nil {
		return fail(c, err)
	}
	h.clearSessionCookies(c)
	return c.NoContent(http.StatusNoContent)
}

// Me returns the caller's profile.
func (h *AuthHandler) Me(c echo.Context) error {
	ctx, cancel := timeout(c)
	defer cancel()

	p, err := h.Auth.Me(ctx, middleware.UserID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"user": p})
}

// ChangePassword requires the current password and returns a fresh session.
func (h *AuthHandler) ChangePassword(c echo.Context) error {
	var req changePasswordReq
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	ctx, cancel := timeout(c)
	defer cancel()

	res, err := h.Auth.ChangePassword(ctx, middleware.UserID(c), req.CurrentPassword, req.NewPassword)
	if err != nil {
		return fail(c, err)
	}
	return h.session(c, http.StatusOK, res)
}

func (h *AuthHandler) ForgotPassword(c echo.Context) error {
	var req emailReq
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	ctx, cancel := timeout(c)
	defer cancel()

	if err := h.Auth.SendResetCode(ctx, req.Email); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, messageResp{Message: "reset code sent"})
}

func (h *AuthHandler) VerifyResetCode(c echo.Context) error {
	var req codeReq
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	ctx, cancel := timeout(c)
	defer cancel()

	if err := h.Auth.VerifyResetCode(ctx, req.Email, req.Code); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, messageResp{Message: "code is valid"})
}

func (h *AuthHandler) ResetPasswordWithCode(c echo.Context) error {
	var req resetWithCodeReq
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	ctx, cancel := timeout(c)
	defer cancel()

	if err := h.Auth.ResetPasswordWithCode(ctx, req.Email, req.Code, req.NewPassword); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, messageResp{Message: "password has been reset"})
}

func (h *AuthHandler) SendEmailCode(c echo.Context) error {
	var req emailCodeReq
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	ctx, cancel := timeout(c)
	defer cancel()

	if err := h.Auth.SendEmailCode(ctx, req.Email, model.CodePurpose(req.Purpose)); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, messageResp{Message: "verification code sent"})
}

func (h *AuthHandler) VerifyEmailCode(c echo.Context) error {
	var req emailVerifyReq
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	ctx, cancel := timeout(c)
	defer cancel()

	if err := h.Auth.VerifyEmailCode(ctx, req.Email, model.CodePurpose(req.Purpose), req.Code); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, messageResp{Message: "email verified"})
}

// Withdraw soft-deletes the caller's account and ends every session.
func (h *AuthHandler) Withdraw(c echo.Context) error {
	var req withdrawReq
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	ctx, cancel := timeout(c)
	defer cancel()

	if err := h.Auth.Withdraw(ctx, middleware.UserID(c), req.CurrentPassword); err != nil {
		return fail(c, err)
	}
	h.clearSessionCookies(c)
	return c.JSON(http.StatusOK, messageResp{Message: "account withdrawn"})
}

// Restore reactivates a withdrawn account with an emailed code and logs it
// in.
func (h *AuthHandler) Restore(c echo.Context) error {
	var req codeReq
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	ctx, cancel := timeout(c)
	defer cancel()

	res, err := h.Auth.Restore(ctx, req.Email, req.Code)
	if err != nil {
		return fail(c, err)
	}
	return h.session(c, http.StatusOK, res)
}

// UpdateAccount changes the caller's phone and/or email.
func (h *AuthHandler) UpdateAccount(c echo.Context) error {
	var req accountReq
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	if req.Email == nil && req.Phone == nil {
		return fail(c, requiredField("email"))
	}
	ctx, cancel := timeout(c)
	defer cancel()

	p, err := h.Auth.UpdateAccountInfo(ctx, middleware.UserID(c), service.AccountUpdate{
		Email: req.Email,
		Phone: req.Phone,
		Code:  req.Code,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"user": p})
}

// ApproveUser is the instructor action that lets a pending user log in.
func (h *AuthHandler) ApproveUser(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return fail(c, requiredField("id"))
	}
	ctx, cancel := timeout(c)
	defer cancel()

	p, err := h.Auth.Approve(ctx, id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"user": p})
}
