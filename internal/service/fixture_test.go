package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iliyamo/community-auth/internal/config"
	"github.com/iliyamo/community-auth/internal/model"
	"github.com/iliyamo/community-auth/internal/storetest"
	"github.com/iliyamo/community-auth/internal/utils"
)

type fixture struct {
	svc    *AuthService
	users  *storetest.Users
	tokens *storetest.Tokens
	codes  *storetest.Codes
	mail   *storetest.Outbox
	clock  *storetest.Clock
	cfg    config.AuthConfig
}

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		JWTSecret:     "test-secret",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    14 * 24 * time.Hour,
		BcryptCost:    4,
		WithdrawGrace: 30 * 24 * time.Hour,
		CodeLength:    8,
		CodeCharset:   config.DefaultCodeCharset,
		CodeTTL:       10 * time.Minute,
	}
}

func newFixture(t *testing.T, mutate ...func(*config.AuthConfig)) *fixture {
	t.Helper()
	cfg := testAuthConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	f := &fixture{
		users:  storetest.NewUsers(),
		tokens: storetest.NewTokens(),
		codes:  &storetest.Codes{},
		mail:   &storetest.Outbox{},
		clock:  storetest.NewClock(),
		cfg:    cfg,
	}
	f.svc = NewAuthService(Deps{
		Users:  f.users,
		Tokens: f.tokens,
		Codes:  f.codes,
		Mailer: f.mail,
		Config: cfg,
		Now:    f.clock.Now,
	})
	return f
}

// registerApproved creates a user and approves it so it can log in.
func (f *fixture) registerApproved(t *testing.T, email, phone, password string) model.User {
	t.Helper()
	ctx := context.Background()
	res, err := f.svc.Register(ctx, RegisterInput{
		Name:          "Test User",
		Email:         email,
		Password:      password,
		Phone:         phone,
		RequestedRole: model.RoleMentor,
	})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	if _, err := f.svc.Approve(ctx, res.User.ID); err != nil {
		t.Fatalf("approve %s: %v", email, err)
	}
	return f.users.Get(t, res.User.ID)
}

// stubLimiter answers Allow with fixed values and records resets.
type stubLimiter struct {
	allow  bool
	retry  time.Duration
	err    error
	keys   []string
	resets []string
}

func (l *stubLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	l.keys = append(l.keys, key)
	return l.allow, l.retry, l.err
}

func (l *stubLimiter) Reset(_ context.Context, key string) error {
	l.resets = append(l.resets, key)
	return l.err
}

var errBoom = errors.New("boom")

func newTestHasher() utils.Hasher { return utils.NewHasher(4) }
