package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/iliyamo/community-auth/internal/model"
)

type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

const userColumns = `id,email,password_hash,name,phone,role,requested_role,course,profile_handle,
	approved,withdrawn,withdrawn_at,withdraw_restore_deadline,withdraw_note,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (model.User, error) {
	var (
		u         model.User
		role      string
		requested string
		course    sql.NullString
		withdrawn sql.NullTime
		deadline  sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.Phone, &role, &requested, &course,
		&u.ProfileHandle, &u.Approved, &u.Withdrawn, &withdrawn, &deadline, &u.WithdrawNote,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return model.User{}, notFound(err)
	}
	u.Role = model.Role(role)
	u.RequestedRole = model.Role(requested)
	if course.Valid {
		c := course.String
		u.Course = &c
	}
	u.WithdrawnAt = nullTime(withdrawn)
	u.WithdrawRestoreDeadline = nullTime(deadline)
	return u, nil
}

// Create inserts u.  Unique violations come back as ErrEmailExists,
// ErrPhoneExists or ErrHandleExists.
func (r *UserRepo) Create(ctx context.Context, u model.User) error {
	now := time.Now().UTC()
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO users (id,email,password_hash,name,phone,role,requested_role,course,profile_handle,
			approved,withdrawn,withdrawn_at,withdraw_restore_deadline,withdraw_note,created_at,updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		u.ID, u.Email, u.PasswordHash, u.Name, u.Phone, string(u.Role), string(u.RequestedRole), u.Course,
		u.ProfileHandle, u.Approved, u.Withdrawn, toNullTime(u.WithdrawnAt), toNullTime(u.WithdrawRestoreDeadline),
		u.WithdrawNote, now, now)
	if err != nil {
		return translateDuplicate(err)
	}
	return nil
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	row := r.DB.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", email)
	return scanUser(row)
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id string) (model.User, error) {
	row := r.DB.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id)
	return scanUser(row)
}

// FindConflict returns any user already holding email or one of the phone
// spellings.  ErrNotFound means the pair is free.
func (r *UserRepo) FindConflict(ctx context.Context, email string, phones ...string) (model.User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE email=?"
	args := []any{email}
	for _, p := range phones {
		if p == "" {
			continue
		}
		query += " OR phone=?"
		args = append(args, p)
	}
	row := r.DB.QueryRowContext(ctx, query+" LIMIT 1", args...)
	return scanUser(row)
}

// HandleExists reports whether a profile handle is taken.
func (r *UserRepo) HandleExists(ctx context.Context, handle string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, "SELECT COUNT(1) FROM users WHERE profile_handle=?", handle).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Save writes every mutable column of u.
func (r *UserRepo) Save(ctx context.Context, u model.User) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE users SET email=?,password_hash=?,name=?,phone=?,role=?,requested_role=?,course=?,
			approved=?,withdrawn=?,withdrawn_at=?,withdraw_restore_deadline=?,withdraw_note=?,updated_at=?
		WHERE id=?`,
		u.Email, u.PasswordHash, u.Name, u.Phone, string(u.Role), string(u.RequestedRole), u.Course,
		u.Approved, u.Withdrawn, toNullTime(u.WithdrawnAt), toNullTime(u.WithdrawRestoreDeadline), u.WithdrawNote,
		time.Now().UTC(), u.ID)
	if err != nil {
		return translateDuplicate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("users rows affected: %w", err)
	}
	if n == 0 {
		// MySQL reports 0 for an update that changes nothing, so confirm the row.
		if _, err := r.GetByID(ctx, u.ID); err != nil {
			return err
		}
	}
	return nil
}
