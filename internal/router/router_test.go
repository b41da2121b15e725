package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/community-auth/internal/config"
	"github.com/iliyamo/community-auth/internal/handler"
	"github.com/iliyamo/community-auth/internal/model"
	"github.com/iliyamo/community-auth/internal/service"
	"github.com/iliyamo/community-auth/internal/storetest"
	"github.com/iliyamo/community-auth/internal/utils"
)

type testServer struct {
	e     *echo.Echo
	cfg   config.AuthConfig
	svc   *service.AuthService
	users  *storetest.Users
	tokens *storetest.Tokens
	mail   *storetest.Outbox
}

func newTestServer(t *testing.T, mutate ...func(*config.AuthConfig)) *testServer {
	t.Helper()
	cfg := config.AuthConfig{
		JWTSecret:     "router-secret",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
		BcryptCost:    4,
		WithdrawGrace: 30 * 24 * time.Hour,
		CodeLength:    8,
		CodeCharset:   config.DefaultCodeCharset,
		CodeTTL:       10 * time.Minute,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	s := &testServer{cfg: cfg, users: storetest.NewUsers(), tokens: storetest.NewTokens(), mail: &storetest.Outbox{}}
	s.svc = service.NewAuthService(service.Deps{
		Users:  s.users,
		Tokens: s.tokens,
		Codes:  &storetest.Codes{},
		Mailer: s.mail,
		Config: cfg,
	})

	s.e = New()
	a := handler.NewAuthHandler(cfg, s.svc)
	RegisterRoutes(s.e)
	RegisterAuth(s.e, a, cfg.JWTSecret, nil)
	RegisterAdmin(s.e, a, cfg.JWTSecret)
	return s
}

func (s *testServer) do(method, path, body string, opts ...func(*http.Request)) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for _, o := range opts {
		o(req)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func bearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set(echo.HeaderAuthorization, "Bearer "+token) }
}

func withCookie(ck *http.Cookie) func(*http.Request) {
	return func(r *http.Request) { r.AddCookie(ck) }
}

// register signs a user up through the API and returns the new id.
func (s *testServer) register(t *testing.T, email, phone string) string {
	t.Helper()
	rec := s.do(http.MethodPost, "/v1/auth/register", `{"name":"Tester","email":"`+email+`","password":"pw-123456","phone":"`+phone+`","privacy_consent":true}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d body=%s", rec.Code, rec.Body)
	}
	var body struct {
		User model.Profile `json:"user"`
	}
	decode(t, rec, &body)
	return body.User.ID
}

func (s *testServer) approve(t *testing.T, id string) {
	t.Helper()
	if _, err := s.svc.Approve(context.Background(), id); err != nil {
		t.Fatalf("approve: %v", err)
	}
}

type sessionBody struct {
	User   model.Profile `json:"user"`
	Access struct {
		Token string `json:"token"`
	} `json:"access"`
	Refresh *struct {
		Token string `json:"token"`
	} `json:"refresh"`
}

type errorBody struct {
	Error struct {
		Code   string            `json:"code"`
		Fields map[string]string `json:"fields"`
	} `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	decode(t, rec, &body)
	return body.Error.Code
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body)
	}
}

func TestRegisterIsPendingUntilApproved(t *testing.T) {
	s := newTestServer(t)
	id := s.register(t, "pending@example.com", "010-1000-2000")

	login := `{"email":"pending@example.com","password":"pw-123456"}`
	rec := s.do(http.MethodPost, "/v1/auth/login", login)
	if rec.Code != http.StatusForbidden || errorCode(t, rec) != "PENDING_APPROVAL" {
		t.Fatalf("pending login = %d %s", rec.Code, rec.Body)
	}

	s.approve(t, id)
	rec = s.do(http.MethodPost, "/v1/auth/login", login)
	if rec.Code != http.StatusOK {
		t.Fatalf("login = %d %s", rec.Code, rec.Body)
	}
	var body sessionBody
	decode(t, rec, &body)
	if body.User.ID != id || body.Access.Token == "" || body.Refresh == nil || body.Refresh.Token == "" {
		t.Fatalf("session = %+v", body)
	}
}

func TestRegisterAutoApproveReturnsSession(t *testing.T) {
	s := newTestServer(t, func(c *config.AuthConfig) { c.RegisterAutoApprove = true })
	rec := s.do(http.MethodPost, "/v1/auth/register", `{"name":"Auto","email":"auto@example.com","password":"pw-123456","phone":"010-3000-4000","privacy_consent":true}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d %s", rec.Code, rec.Body)
	}
	var body sessionBody
	decode(t, rec, &body)
	if body.Access.Token == "" || body.Refresh == nil {
		t.Fatalf("no session in %s", rec.Body)
	}
}

func TestRegisterValidation(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/v1/auth/register", `{"name":"","email":"not-an-email","password":"short","phone":"010-1","privacy_consent":false}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var body errorBody
	decode(t, rec, &body)
	if body.Error.Code != "VALIDATION_FAILED" {
		t.Fatalf("code = %q", body.Error.Code)
	}
	for _, f := range []string{"name", "email", "password", "phone", "privacy_consent"} {
		if _, ok := body.Error.Fields[f]; !ok {
			t.Errorf("missing field error for %s in %v", f, body.Error.Fields)
		}
	}

	rec = s.do(http.MethodPost, "/v1/auth/login", `{"email":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d", rec.Code)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "dup@example.com", "010-5000-6000")
	rec := s.do(http.MethodPost, "/v1/auth/register", `{"name":"Again","email":"DUP@example.com","password":"pw-123456","phone":"010-5000-7000","privacy_consent":true}`)
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "EMAIL_ALREADY_EXISTS" {
		t.Fatalf("duplicate = %d %s", rec.Code, rec.Body)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	s := newTestServer(t)
	s.approve(t, s.register(t, "wrong@example.com", "010-7000-8000"))
	rec := s.do(http.MethodPost, "/v1/auth/login", `{"email":"wrong@example.com","password":"nope-nope"}`)
	if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != "INVALID_CREDENTIALS" {
		t.Fatalf("login = %d %s", rec.Code, rec.Body)
	}
}

func TestRefreshAndLogout(t *testing.T) {
	s := newTestServer(t)
	s.approve(t, s.register(t, "rot@example.com", "010-1100-2200"))

	rec := s.do(http.MethodPost, "/v1/auth/login", `{"email":"rot@example.com","password":"pw-123456"}`)
	var first sessionBody
	decode(t, rec, &first)

	rec = s.do(http.MethodPost, "/v1/auth/refresh", `{"refresh_token":"`+first.Refresh.Token+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh = %d %s", rec.Code, rec.Body)
	}
	var second sessionBody
	decode(t, rec, &second)

	rec = s.do(http.MethodPost, "/v1/auth/refresh", `{"refresh_token":"`+first.Refresh.Token+`"}`)
	if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != "INVALID_REFRESH_TOKEN" {
		t.Fatalf("reuse = %d %s", rec.Code, rec.Body)
	}

	rec = s.do(http.MethodPost, "/v1/auth/refresh", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing token = %d", rec.Code)
	}

	for i := 0; i < 2; i++ {
		rec = s.do(http.MethodPost, "/v1/auth/logout", `{"refresh_token":"`+second.Refresh.Token+`"}`)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("logout #%d = %d", i+1, rec.Code)
		}
	}
	rec = s.do(http.MethodPost, "/v1/auth/refresh", `{"refresh_token":"`+second.Refresh.Token+`"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout = %d", rec.Code)
	}
}

func TestCookieSession(t *testing.T) {
	s := newTestServer(t, func(c *config.AuthConfig) { c.RefreshCookie = true })
	s.approve(t, s.register(t, "cookie@example.com", "010-3300-4400"))

	rec := s.do(http.MethodPost, "/v1/auth/login", `{"email":"cookie@example.com","password":"pw-123456"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login = %d %s", rec.Code, rec.Body)
	}
	var body sessionBody
	decode(t, rec, &body)
	if body.Refresh != nil {
		t.Fatal("refresh token leaked into the body")
	}

	cookies := map[string]*http.Cookie{}
	for _, ck := range rec.Result().Cookies() {
		cookies[ck.Name] = ck
	}
	refresh, ok := cookies[handler.RefreshCookie]
	if !ok || !refresh.HttpOnly || refresh.Path != "/v1/auth" {
		t.Fatalf("refresh cookie = %+v", refresh)
	}
	access, ok := cookies["accessToken"]
	if !ok {
		t.Fatal("no access cookie")
	}

	rec = s.do(http.MethodGet, "/v1/auth/me", "", withCookie(access))
	if rec.Code != http.StatusOK {
		t.Fatalf("me via cookie = %d %s", rec.Code, rec.Body)
	}

	rec = s.do(http.MethodPost, "/v1/auth/refresh", "", withCookie(refresh))
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh via cookie = %d %s", rec.Code, rec.Body)
	}
}

func TestMeRequiresAccessToken(t *testing.T) {
	s := newTestServer(t)
	id := s.register(t, "me@example.com", "010-5500-6600")
	s.approve(t, id)

	rec := s.do(http.MethodGet, "/v1/auth/me", "")
	if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != "INVALID_ACCESS_TOKEN" {
		t.Fatalf("anonymous = %d %s", rec.Code, rec.Body)
	}
	rec = s.do(http.MethodGet, "/v1/auth/me", "", bearer("not.a.jwt"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token = %d", rec.Code)
	}

	tok, err := utils.NewAccessToken(s.cfg.JWTSecret, id, string(model.RoleMentor), time.Minute, time.Now())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	rec = s.do(http.MethodGet, "/v1/auth/me", "", bearer(tok.Token))
	if rec.Code != http.StatusOK {
		t.Fatalf("me = %d %s", rec.Code, rec.Body)
	}
	var body struct {
		User model.Profile `json:"user"`
	}
	decode(t, rec, &body)
	if body.User.Email != "me@example.com" || body.User.Phone != "010-5500-6600" {
		t.Fatalf("profile = %+v", body.User)
	}
}

func TestAdminApproveRequiresInstructor(t *testing.T) {
	s := newTestServer(t)
	id := s.register(t, "student@example.com", "010-7700-8800")

	mentor, _ := utils.NewAccessToken(s.cfg.JWTSecret, "someone", string(model.RoleMentor), time.Minute, time.Now())
	rec := s.do(http.MethodPost, "/v1/admin/users/"+id+"/approve", "", bearer(mentor.Token))
	if rec.Code != http.StatusForbidden || errorCode(t, rec) != "INSUFFICIENT_ROLE" {
		t.Fatalf("mentor approve = %d %s", rec.Code, rec.Body)
	}

	instructor, _ := utils.NewAccessToken(s.cfg.JWTSecret, "instr-1", string(model.RoleInstructor), time.Minute, time.Now())
	rec = s.do(http.MethodPost, "/v1/admin/users/"+id+"/approve", "", bearer(instructor.Token))
	if rec.Code != http.StatusOK {
		t.Fatalf("instructor approve = %d %s", rec.Code, rec.Body)
	}

	rec = s.do(http.MethodPost, "/v1/admin/users/missing/approve", "", bearer(instructor.Token))
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != "USER_NOT_FOUND" {
		t.Fatalf("missing user = %d %s", rec.Code, rec.Body)
	}
}

func TestForgotPasswordFlow(t *testing.T) {
	s := newTestServer(t)
	s.approve(t, s.register(t, "forgot@example.com", "010-9900-1100"))

	rec := s.do(http.MethodPost, "/v1/auth/password/forgot", `{"email":"forgot@example.com"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("forgot = %d %s", rec.Code, rec.Body)
	}
	code := s.mail.LastCode(t, "forgot@example.com")

	rec = s.do(http.MethodPost, "/v1/auth/password/verify-code", `{"email":"forgot@example.com","code":"`+code+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify = %d %s", rec.Code, rec.Body)
	}
	rec = s.do(http.MethodPost, "/v1/auth/password/reset-with-code", `{"email":"forgot@example.com","code":"`+code+`","new_password":"brand-new-pw"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset = %d %s", rec.Code, rec.Body)
	}
	rec = s.do(http.MethodPost, "/v1/auth/login", `{"email":"forgot@example.com","password":"brand-new-pw"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login with new password = %d", rec.Code)
	}

	rec = s.do(http.MethodPost, "/v1/auth/password/forgot", `{"email":"ghost@example.com"}`)
	if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != "USER_NOT_FOUND" {
		t.Fatalf("unknown email = %d %s", rec.Code, rec.Body)
	}
}

func TestUnknownRouteUsesEnvelope(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/v1/nothing-here", "")
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != "NOT_FOUND" {
		t.Fatalf("not found = %d %s", rec.Code, rec.Body)
	}
}

func TestRegisterRejectsPhoneWithoutDigits(t *testing.T) {
	s := newTestServer(t)
	for i, phone := range []string{"abcdefghi", "zzzzzzzzz"} {
		email := []string{"a@example.com", "b@example.com"}[i]
		rec := s.do(http.MethodPost, "/v1/auth/register", `{"name":"X","email":"`+email+`","password":"pw-123456","phone":"`+phone+`","privacy_consent":true}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("phone %q: status = %d %s", phone, rec.Code, rec.Body)
		}
		var body errorBody
		decode(t, rec, &body)
		if body.Error.Fields["phone"] == "" {
			t.Fatalf("phone %q: fields = %v", phone, body.Error.Fields)
		}
	}
	s.register(t, "c@example.com", "010-2468-1357")
}

func TestSessionRecordsClient(t *testing.T) {
	s := newTestServer(t)
	id := s.register(t, "ua@example.com", "010-3100-4200")
	s.approve(t, id)

	client := func(ua, ip string) func(*http.Request) {
		return func(r *http.Request) {
			r.Header.Set("User-Agent", ua)
			r.Header.Set(echo.HeaderXRealIP, ip)
		}
	}
	rec := s.do(http.MethodPost, "/v1/auth/login", `{"email":"ua@example.com","password":"pw-123456"}`, client("phone-app/1.0", "203.0.113.9"))
	if rec.Code != http.StatusOK {
		t.Fatalf("login = %d %s", rec.Code, rec.Body)
	}
	var first sessionBody
	decode(t, rec, &first)

	rec = s.do(http.MethodPost, "/v1/auth/refresh", `{"refresh_token":"`+first.Refresh.Token+`"}`, client("phone-app/1.1", "203.0.113.10"))
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh = %d %s", rec.Code, rec.Body)
	}

	seen := map[string]string{}
	for _, tok := range s.tokens.ForUser(id) {
		seen[tok.UserAgent] = tok.IPAddress
	}
	if seen["phone-app/1.0"] != "203.0.113.9" || seen["phone-app/1.1"] != "203.0.113.10" || len(seen) != 2 {
		t.Fatalf("recorded clients = %v", seen)
	}
}
