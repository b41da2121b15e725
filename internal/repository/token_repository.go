package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/community-auth/internal/model"
)

// TokenRepo persists refresh tokens keyed by their public id.
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

// Create inserts a refresh token row.
func (r *TokenRepo) Create(ctx context.Context, t model.RefreshToken) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO refresh_tokens (id, user_id, secret_hash, expires_at, created_at, user_agent, ip_address) VALUES (?,?,?,?,?,?,?)",
		t.ID, t.UserID, t.SecretHash, t.ExpiresAt.UTC(), time.Now().UTC(), t.UserAgent, t.IPAddress)
	return err
}

// GetByID loads a token regardless of its state; callers decide validity.
func (r *TokenRepo) GetByID(ctx context.Context, id string) (model.RefreshToken, error) {
	var (
		t       model.RefreshToken
		revoked sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx,
		"SELECT id, user_id, secret_hash, expires_at, revoked_at, created_at, user_agent, ip_address FROM refresh_tokens WHERE id=? LIMIT 1",
		id).Scan(&t.ID, &t.UserID, &t.SecretHash, &t.ExpiresAt, &revoked, &t.CreatedAt, &t.UserAgent, &t.IPAddress)
	if err != nil {
		return model.RefreshToken{}, notFound(err)
	}
	t.RevokedAt = nullTime(revoked)
	return t, nil
}

// Revoke marks one token revoked.  It reports false when the token was
// already revoked, which is how a concurrent rotation loses.
func (r *TokenRepo) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked_at=? WHERE id=? AND revoked_at IS NULL",
		at.UTC(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RevokeAllForUser revokes all of a user's active tokens.  Rows are kept for
// audit.
func (r *TokenRepo) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked_at=? WHERE user_id=? AND revoked_at IS NULL",
		at.UTC(), userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
