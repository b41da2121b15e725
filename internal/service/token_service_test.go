package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/iliyamo/community-auth/internal/apperr"
	"github.com/iliyamo/community-auth/internal/utils"
)

func TestLoginIssuesUsablePair(t *testing.T) {
	f := newFixture(t)
	u := f.registerApproved(t, "kim@example.com", "010-1111-2222", "pw-123456")

	res, err := f.svc.Login(context.Background(), "KIM@example.com ", "pw-123456")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.User.ID != u.ID || res.User.Email != "kim@example.com" {
		t.Fatalf("unexpected profile %+v", res.User)
	}

	claims, err := utils.ParseAccessToken(f.cfg.JWTSecret, res.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if claims.Subject != u.ID {
		t.Fatalf("subject = %q, want %q", claims.Subject, u.ID)
	}
	if claims.Role != string(u.Role) {
		t.Fatalf("role = %q, want %q", claims.Role, u.Role)
	}
	if !res.Tokens.AccessExp.Equal(f.clock.Now().Add(f.cfg.AccessTTL)) {
		t.Fatalf("access exp = %v", res.Tokens.AccessExp)
	}

	if _, err := f.svc.Tokens.ValidateRefreshToken(context.Background(), res.Tokens.RefreshToken); err != nil {
		t.Fatalf("validate refresh: %v", err)
	}
}

func TestRefreshTokenIsSingleUse(t *testing.T) {
	f := newFixture(t)
	f.registerApproved(t, "lee@example.com", "010-2222-3333", "pw-123456")
	ctx := context.Background()

	first, err := f.svc.Login(ctx, "lee@example.com", "pw-123456")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	second, err := f.svc.Refresh(ctx, first.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.Tokens.RefreshToken == first.Tokens.RefreshToken {
		t.Fatal("refresh returned the same token")
	}

	_, err = f.svc.Refresh(ctx, first.Tokens.RefreshToken)
	if !errors.Is(err, apperr.ErrInvalidRefreshToken) {
		t.Fatalf("reuse err = %v, want %v", err, apperr.ErrInvalidRefreshToken)
	}
	if _, err := f.svc.Refresh(ctx, second.Tokens.RefreshToken); err != nil {
		t.Fatalf("rotated token rejected: %v", err)
	}
}

func TestConcurrentRotationHasOneWinner(t *testing.T) {
	f := newFixture(t)
	f.registerApproved(t, "park@example.com", "010-3333-4444", "pw-123456")
	ctx := context.Background()

	res, err := f.svc.Login(ctx, "park@example.com", "pw-123456")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	const n = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Refresh(ctx, res.Tokens.RefreshToken); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("wins = %d, want 1", wins)
	}
}

func TestRefreshTokenExpiry(t *testing.T) {
	f := newFixture(t)
	f.registerApproved(t, "choi@example.com", "010-4444-5555", "pw-123456")
	ctx := context.Background()

	res, err := f.svc.Login(ctx, "choi@example.com", "pw-123456")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	f.clock.Advance(f.cfg.RefreshTTL)

	_, err = f.svc.Refresh(ctx, res.Tokens.RefreshToken)
	if !errors.Is(err, apperr.ErrExpiredRefreshToken) {
		t.Fatalf("err = %v, want %v", err, apperr.ErrExpiredRefreshToken)
	}
	if apperr.KindOf(err) != apperr.KindInvalidCredentials {
		t.Fatalf("kind = %v", apperr.KindOf(err))
	}
}

func TestValidateRefreshTokenRejectsMalformed(t *testing.T) {
	f := newFixture(t)
	u := f.registerApproved(t, "jung@example.com", "010-5555-6666", "pw-123456")
	ctx := context.Background()

	raw, _, err := f.svc.Tokens.IssueRefreshToken(ctx, u)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	id, _, _ := strings.Cut(raw, ".")

	cases := map[string]string{
		"empty":        "",
		"no separator": "abcdef",
		"non uuid id":  "nope.secret",
		"empty secret": id + ".",
		"wrong secret": id + ".deadbeef",
		"unknown id":   "0190b7a2-6a4e-7c3d-9c55-2f6f1d2a3b4c.secret",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Tokens.ValidateRefreshToken(ctx, in)
			if !errors.Is(err, apperr.ErrInvalidRefreshToken) {
				t.Fatalf("err = %v", err)
			}
		})
	}
}

func TestRefreshRejectedAfterWithdraw(t *testing.T) {
	f := newFixture(t)
	u := f.registerApproved(t, "kang@example.com", "010-6666-7777", "pw-123456")
	ctx := context.Background()

	res, err := f.svc.Login(ctx, "kang@example.com", "pw-123456")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := f.svc.Withdraw(ctx, u.ID, "pw-123456"); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if _, err := f.svc.Refresh(ctx, res.Tokens.RefreshToken); !errors.Is(err, apperr.ErrInvalidRefreshToken) {
		t.Fatalf("err = %v", err)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	f := newFixture(t)
	u := f.registerApproved(t, "yoon@example.com", "010-7777-8888", "pw-123456")
	ctx := context.Background()

	res, err := f.svc.Login(ctx, "yoon@example.com", "pw-123456")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := f.svc.Logout(ctx, res.Tokens.RefreshToken); err != nil {
			t.Fatalf("logout #%d: %v", i+1, err)
		}
	}
	if err := f.svc.Logout(ctx, "garbage"); err != nil {
		t.Fatalf("logout garbage: %v", err)
	}
	if got := f.tokens.Active(u.ID); got != 0 {
		t.Fatalf("active tokens = %d", got)
	}
}

func TestLogoutIgnoresWrongSecret(t *testing.T) {
	f := newFixture(t)
	u := f.registerApproved(t, "han@example.com", "010-8888-9999", "pw-123456")
	ctx := context.Background()

	res, err := f.svc.Login(ctx, "han@example.com", "pw-123456")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	id, _, _ := strings.Cut(res.Tokens.RefreshToken, ".")
	if err := f.svc.Logout(ctx, id+".forged"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if got := f.tokens.Active(u.ID); got != 1 {
		t.Fatalf("active tokens = %d, want 1", got)
	}
}

func TestLogoutAllRevokesEverySession(t *testing.T) {
	f := newFixture(t)
	u := f.registerApproved(t, "seo@example.com", "010-9999-0000", "pw-123456")
	ctx := context.Background()

	var tokens []string
	for i := 0; i < 3; i++ {
		res, err := f.svc.Login(ctx, "seo@example.com", "pw-123456")
		if err != nil {
			t.Fatalf("login: %v", err)
		}
		tokens = append(tokens, res.Tokens.RefreshToken)
		f.clock.Advance(time.Second)
	}
	if err := f.svc.LogoutAll(ctx, u.ID); err != nil {
		t.Fatalf("logout all: %v", err)
	}
	for _, raw := range tokens {
		if _, err := f.svc.Refresh(ctx, raw); !errors.Is(err, apperr.ErrInvalidRefreshToken) {
			t.Fatalf("err = %v", err)
		}
	}
}

func TestRefreshTokenRecordsClient(t *testing.T) {
	f := newFixture(t)
	u := f.registerApproved(t, "cl@example.com", "010-4444-5555", "pw-123456")
	ctx := WithClient(context.Background(), Client{UserAgent: "cli/2.0", IP: "198.51.100.7"})

	if _, err := f.svc.Login(ctx, "cl@example.com", "pw-123456"); err != nil {
		t.Fatalf("login: %v", err)
	}
	toks := f.tokens.ForUser(u.ID)
	if len(toks) != 1 {
		t.Fatalf("tokens = %d", len(toks))
	}
	if toks[0].UserAgent != "cli/2.0" || toks[0].IPAddress != "198.51.100.7" {
		t.Fatalf("client = %q/%q", toks[0].UserAgent, toks[0].IPAddress)
	}

	long := WithClient(context.Background(), Client{UserAgent: strings.Repeat("é", 200)})
	if _, err := f.svc.Login(long, "cl@example.com", "pw-123456"); err != nil {
		t.Fatalf("login: %v", err)
	}
	for _, tok := range f.tokens.ForUser(u.ID) {
		if len(tok.UserAgent) > maxUserAgent {
			t.Fatalf("user agent kept %d bytes", len(tok.UserAgent))
		}
	}
}
