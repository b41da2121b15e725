package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/community-auth/internal/apperr"
	"github.com/iliyamo/community-auth/internal/config"
	"github.com/iliyamo/community-auth/internal/model"
	"github.com/iliyamo/community-auth/internal/repository"
	"github.com/iliyamo/community-auth/internal/utils"
)

// refreshSecretBytes is the entropy of the secret half of a refresh token.
const refreshSecretBytes = 32

// TokenPair is what a successful login, refresh or restore hands back.
type TokenPair struct {
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time
}

// TokenService issues stateless access tokens and stateful, revocable
// refresh tokens of the form "<id>.<secret>".
type TokenService struct {
	tokens TokenStore
	users  UserStore
	hasher utils.Hasher
	cfg    config.AuthConfig
	now    func() time.Time
}

func NewTokenService(tokens TokenStore, users UserStore, hasher utils.Hasher, cfg config.AuthConfig, now func() time.Time) *TokenService {
	if now == nil {
		now = time.Now
	}
	return &TokenService{tokens: tokens, users: users, hasher: hasher, cfg: cfg, now: now}
}

// IssueAccessToken signs a short-lived JWT carrying the user id and role.
func (s *TokenService) IssueAccessToken(u model.User) (utils.AccessToken, error) {
	return utils.NewAccessToken(s.cfg.JWTSecret, u.ID, string(u.Role), s.cfg.AccessTTL, s.now())
}

// IssueRefreshToken persists a new refresh token for u and returns the raw
// bearer value.  The secret is not recoverable from storage.
func (s *TokenService) IssueRefreshToken(ctx context.Context, u model.User) (string, time.Time, error) {
	secret, err := utils.RandomHex(refreshSecretBytes)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("refresh secret: %w", err)
	}
	hash, err := s.hasher.Hash(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("hash refresh secret: %w", err)
	}
	rt := model.RefreshToken{
		ID:         uuid.NewString(),
		UserID:     u.ID,
		SecretHash: hash,
		ExpiresAt:  s.now().UTC().Add(s.cfg.RefreshTTL),
	}
	if cl, ok := ClientFrom(ctx); ok {
		rt.UserAgent = truncate(cl.UserAgent, maxUserAgent)
		rt.IPAddress = truncate(cl.IP, maxIPAddress)
	}
	if err := s.tokens.Create(ctx, rt); err != nil {
		return "", time.Time{}, fmt.Errorf("store refresh token: %w", err)
	}
	return rt.ID + "." + secret, rt.ExpiresAt, nil
}

// IssuePair issues an access token and a refresh token for u.
func (s *TokenService) IssuePair(ctx context.Context, u model.User) (TokenPair, error) {
	access, err := s.IssueAccessToken(u)
	if err != nil {
		return TokenPair{}, apperr.Internal(fmt.Errorf("issue access token: %w", err))
	}
	raw, exp, err := s.IssueRefreshToken(ctx, u)
	if err != nil {
		return TokenPair{}, apperr.Internal(err)
	}
	return TokenPair{AccessToken: access.Token, AccessExp: access.Exp, RefreshToken: raw, RefreshExp: exp}, nil
}

// splitRefreshToken separates "<id>.<secret>".  The id must be a UUID so
// junk never reaches the store.
func splitRefreshToken(raw string) (id, secret string, ok bool) {
	id, secret, found := strings.Cut(strings.TrimSpace(raw), ".")
	if !found || id == "" || secret == "" {
		return "", "", false
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", "", false
	}
	return id, secret, true
}

// ValidateRefreshToken returns the stored record for a usable token.
// Malformed, unknown, revoked, expired and mismatched tokens are all
// InvalidCredentials.
func (s *TokenService) ValidateRefreshToken(ctx context.Context, raw string) (model.RefreshToken, error) {
	id, secret, ok := splitRefreshToken(raw)
	if !ok {
		return model.RefreshToken{}, apperr.ErrInvalidRefreshToken
	}
	stored, err := s.tokens.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.RefreshToken{}, apperr.ErrInvalidRefreshToken
		}
		return model.RefreshToken{}, apperr.Internal(err)
	}
	if stored.Revoked() {
		return model.RefreshToken{}, apperr.ErrInvalidRefreshToken
	}
	if stored.Expired(s.now()) {
		return model.RefreshToken{}, apperr.ErrExpiredRefreshToken
	}
	if !s.hasher.Verify(stored.SecretHash, secret) {
		return model.RefreshToken{}, apperr.ErrInvalidRefreshToken
	}
	return stored, nil
}

// RotateRefreshToken exchanges a refresh token for a fresh pair.  The old
// token is revoked, not deleted; presenting it again fails, and of two
// concurrent rotations of the same token only one wins.
func (s *TokenService) RotateRefreshToken(ctx context.Context, raw string) (TokenPair, model.User, error) {
	stored, err := s.ValidateRefreshToken(ctx, raw)
	if err != nil {
		return TokenPair{}, model.User{}, err
	}
	won, err := s.tokens.Revoke(ctx, stored.ID, s.now())
	if err != nil {
		return TokenPair{}, model.User{}, apperr.Internal(err)
	}
	if !won {
		return TokenPair{}, model.User{}, apperr.ErrInvalidRefreshToken
	}

	u, err := s.users.GetByID(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return TokenPair{}, model.User{}, apperr.ErrInvalidRefreshToken
		}
		return TokenPair{}, model.User{}, apperr.Internal(err)
	}
	if u.Withdrawn || !u.Approved {
		return TokenPair{}, model.User{}, apperr.ErrInvalidRefreshToken
	}

	pair, err := s.IssuePair(ctx, u)
	if err != nil {
		return TokenPair{}, model.User{}, err
	}
	return pair, u, nil
}

// Revoke ends the session behind raw.  Unknown or already revoked tokens
// are not an error so logout stays idempotent; a token whose secret does
// not match is left alone.
func (s *TokenService) Revoke(ctx context.Context, raw string) error {
	id, secret, ok := splitRefreshToken(raw)
	if !ok {
		return nil
	}
	stored, err := s.tokens.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return apperr.Internal(err)
	}
	if stored.Revoked() || !s.hasher.Verify(stored.SecretHash, secret) {
		return nil
	}
	if _, err := s.tokens.Revoke(ctx, stored.ID, s.now()); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// RevokeAll revokes every outstanding refresh token of a user.
func (s *TokenService) RevokeAll(ctx context.Context, userID string) error {
	if _, err := s.tokens.RevokeAllForUser(ctx, userID, s.now()); err != nil {
		return apperr.Internal(fmt.Errorf("revoke tokens for %s: %w", userID, err))
	}
	return nil
}
