// Package service implements the auth subsystem: token issuing and rotation,
// verification codes, the account lifecycle and the façade the HTTP layer
// calls.  Storage, mail delivery and rate limiting are reached through the
// small interfaces below so the flows can be exercised without MySQL, SMTP
// or Redis.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/iliyamo/community-auth/internal/apperr"
	"github.com/iliyamo/community-auth/internal/model"
	"github.com/iliyamo/community-auth/internal/repository"
)

// UserStore is the credential store.  Implemented by repository.UserRepo.
type UserStore interface {
	Create(ctx context.Context, u model.User) error
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id string) (model.User, error)
	FindConflict(ctx context.Context, email string, phones ...string) (model.User, error)
	HandleExists(ctx context.Context, handle string) (bool, error)
	Save(ctx context.Context, u model.User) error
}

// TokenStore is the refresh token store.  Implemented by repository.TokenRepo.
type TokenStore interface {
	Create(ctx context.Context, t model.RefreshToken) error
	GetByID(ctx context.Context, id string) (model.RefreshToken, error)
	Revoke(ctx context.Context, id string, at time.Time) (bool, error)
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error)
}

// CodeStore persists verification codes.  Implemented by repository.CodeRepo.
type CodeStore interface {
	Create(ctx context.Context, c model.VerificationCode) error
	ListUnused(ctx context.Context, email string, purpose model.CodePurpose, limit int) ([]model.VerificationCode, error)
	MarkUsed(ctx context.Context, id string) (bool, error)
	SweepExpired(ctx context.Context, email string, purpose model.CodePurpose, now time.Time) (int64, error)
}

// Mailer delivers one message.  Implemented by mail.SMTPSender,
// mail.LogSender and queue.Publisher.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// RequestLimiter counts requests per key inside a window.  Implemented by
// ratelimit.Counter; a nil limiter disables limiting.
type RequestLimiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
	Reset(ctx context.Context, key string) error
}

// storeErr maps repository failures onto the public taxonomy.
func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrEmailExists):
		return apperr.ErrEmailExists
	case errors.Is(err, repository.ErrPhoneExists):
		return apperr.ErrPhoneExists
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	return apperr.Internal(err)
}
