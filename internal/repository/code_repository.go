package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/community-auth/internal/model"
)

// CodeRepo persists hashed verification codes for every purpose.
type CodeRepo struct{ DB *sql.DB }

func NewCodeRepo(db *sql.DB) *CodeRepo { return &CodeRepo{DB: db} }

func (r *CodeRepo) Create(ctx context.Context, c model.VerificationCode) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO verification_codes (id, email, purpose, code_hash, expires_at, used, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		c.ID, c.Email, string(c.Purpose), c.CodeHash, c.ExpiresAt.UTC(), c.Used, c.CreatedAt.UTC())
	return err
}

// ListUnused returns unused codes for (email, purpose), newest first,
// expired ones included so callers can tell "expired" from "wrong".
func (r *CodeRepo) ListUnused(ctx context.Context, email string, purpose model.CodePurpose, limit int) ([]model.VerificationCode, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, email, purpose, code_hash, expires_at, used, created_at
		FROM verification_codes
		WHERE email=? AND purpose=? AND used=0
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		email, string(purpose), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.VerificationCode
	for rows.Next() {
		var (
			c       model.VerificationCode
			purpose string
		)
		if err := rows.Scan(&c.ID, &c.Email, &purpose, &c.CodeHash, &c.ExpiresAt, &c.Used, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Purpose = model.CodePurpose(purpose)
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkUsed consumes a code.  False means another request consumed it first.
func (r *CodeRepo) MarkUsed(ctx context.Context, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, "UPDATE verification_codes SET used=1 WHERE id=? AND used=0", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SweepExpired marks stale unused codes as used so the active set stays
// small without a background job.
func (r *CodeRepo) SweepExpired(ctx context.Context, email string, purpose model.CodePurpose, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE verification_codes SET used=1 WHERE email=? AND purpose=? AND used=0 AND expires_at < ?",
		email, string(purpose), now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
