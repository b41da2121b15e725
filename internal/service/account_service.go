package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/community-auth/internal/apperr"
	"github.com/iliyamo/community-auth/internal/config"
	"github.com/iliyamo/community-auth/internal/model"
	"github.com/iliyamo/community-auth/internal/repository"
	"github.com/iliyamo/community-auth/internal/utils"
)

const (
	maxHandleLength = 30
	maxHandleTries  = 1000
	// createAttempts covers a concurrent signup grabbing the same handle
	// between the lookup and the insert.
	createAttempts = 3

	minPhoneDigits = 9
	maxPhoneDigits = 11
)

// RegisterInput is the validated registration request.
type RegisterInput struct {
	Name          string
	Email         string
	Password      string
	Phone         string
	RequestedRole model.Role
	Course        *string
}

// AccountUpdate changes contact details.  A new email must be proven with an
// account-change code sent to that address.
type AccountUpdate struct {
	Email *string
	Phone *string
	Code  string
}

// AccountService owns the account standing: registration, approval,
// withdraw and restore.
type AccountService struct {
	users  UserStore
	tokens *TokenService
	codes  *CodeService
	hasher utils.Hasher
	cfg    config.AuthConfig
	now    func() time.Time
}

func NewAccountService(users UserStore, tokens *TokenService, codes *CodeService, hasher utils.Hasher, cfg config.AuthConfig, now func() time.Time) *AccountService {
	if now == nil {
		now = time.Now
	}
	return &AccountService{users: users, tokens: tokens, codes: codes, hasher: hasher, cfg: cfg, now: now}
}

// Register creates a pending trainee account.  The requested role is kept
// for the approving instructor.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (model.User, error) {
	email := utils.NormalizeEmail(in.Email)
	digits, formatted, err := phoneNumber(in.Phone)
	if err != nil {
		return model.User{}, err
	}

	if err := s.checkConflict(ctx, "", email, digits, formatted); err != nil {
		return model.User{}, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return model.User{}, apperr.Internal(fmt.Errorf("hash password: %w", err))
	}
	id, err := uuid.NewV7()
	if err != nil {
		return model.User{}, apperr.Internal(fmt.Errorf("user id: %w", err))
	}

	u := model.User{
		ID:            id.String(),
		Email:         email,
		PasswordHash:  hash,
		Name:          strings.TrimSpace(in.Name),
		Phone:         formatted,
		Role:          model.RoleTrainee,
		RequestedRole: in.RequestedRole,
		Course:        in.Course,
		Approved:      s.cfg.RegisterAutoApprove,
	}
	seed := handleSeed(email, u.ID)

	for attempt := 0; attempt < createAttempts; attempt++ {
		u.ProfileHandle, err = s.uniqueHandle(ctx, seed)
		if err != nil {
			return model.User{}, err
		}
		err = s.users.Create(ctx, u)
		if !errors.Is(err, repository.ErrHandleExists) {
			break
		}
	}
	if err != nil {
		return model.User{}, storeErr(err)
	}
	return u, nil
}

// phoneNumber returns the bare digits and the stored form of raw.  Input
// that does not carry a plausible number of digits is rejected.
func phoneNumber(raw string) (digits, formatted string, err error) {
	digits = utils.NormalizePhone(raw)
	if n := len(digits); n < minPhoneDigits || n > maxPhoneDigits {
		return "", "", apperr.Validation(map[string]string{
			"phone": fmt.Sprintf("must contain %d to %d digits", minPhoneDigits, maxPhoneDigits),
		})
	}
	return digits, utils.FormatPhone(digits), nil
}

// checkConflict fails when email or phone already belongs to a user other
// than selfID.
func (s *AccountService) checkConflict(ctx context.Context, selfID, email string, phones ...string) error {
	existing, err := s.users.FindConflict(ctx, email, phones...)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return apperr.Internal(err)
	}
	if existing.ID == selfID {
		return nil
	}
	if email != "" && existing.Email == email {
		return apperr.ErrEmailExists
	}
	return apperr.ErrPhoneExists
}

// handleSeed derives a profile handle from the email local part.
func handleSeed(email, id string) string {
	local, _, _ := strings.Cut(email, "@")
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(local)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	seed := b.String()
	if seed == "" {
		compact := strings.ReplaceAll(id, "-", "")
		if len(compact) > 6 {
			compact = compact[len(compact)-6:]
		}
		seed = "user" + compact
	}
	if len(seed) > maxHandleLength {
		seed = seed[:maxHandleLength]
	}
	return seed
}

// uniqueHandle tries seed, seed1, seed2, ... until one is free.
func (s *AccountService) uniqueHandle(ctx context.Context, seed string) (string, error) {
	candidate := seed
	for i := 1; i <= maxHandleTries; i++ {
		taken, err := s.users.HandleExists(ctx, candidate)
		if err != nil {
			return "", apperr.Internal(err)
		}
		if !taken {
			return candidate, nil
		}
		candidate = seed + strconv.Itoa(i)
	}
	return "", apperr.Internal(fmt.Errorf("no free profile handle for %q", seed))
}

// Authenticate checks a password login and the account standing.
func (s *AccountService) Authenticate(ctx context.Context, email, password string) (model.User, error) {
	u, err := s.users.GetByEmail(ctx, utils.NormalizeEmail(email))
	if errors.Is(err, repository.ErrNotFound) {
		return model.User{}, apperr.ErrInvalidCredentials
	}
	if err != nil {
		return model.User{}, apperr.Internal(err)
	}
	if !s.hasher.Verify(u.PasswordHash, password) {
		return model.User{}, apperr.ErrInvalidCredentials
	}

	if u.Withdrawn {
		if u.Restorable(s.now(), s.cfg.WithdrawGrace) {
			return model.User{}, apperr.ErrAccountWithdrawn
		}
		if marked, changed := u.MarkWithdrawExpired(); changed {
			if err := s.users.Save(ctx, marked); err != nil {
				log.Printf("accounts: mark withdraw expired for %s: %v", u.ID, err)
			}
		}
		return model.User{}, apperr.ErrInvalidCredentials
	}

	if !u.Approved {
		return model.User{}, apperr.ErrPendingApproval
	}
	return u, nil
}

// Withdraw soft-deletes the account after re-checking the password and
// revokes every refresh token.
func (s *AccountService) Withdraw(ctx context.Context, userID, currentPassword string) (model.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.User{}, apperr.ErrInvalidCredentials
	}
	if err != nil {
		return model.User{}, apperr.Internal(err)
	}
	if u.Withdrawn {
		return model.User{}, apperr.ErrAlreadyWithdrawn
	}
	if !s.hasher.Verify(u.PasswordHash, currentPassword) {
		return model.User{}, apperr.ErrCurrentPassword
	}

	u = u.Withdraw(s.now(), s.cfg.WithdrawGrace)
	if err := s.users.Save(ctx, u); err != nil {
		return model.User{}, storeErr(err)
	}
	if err := s.tokens.RevokeAll(ctx, u.ID); err != nil {
		return model.User{}, err
	}
	return u, nil
}

// Restore reactivates a withdrawn account inside its grace period.  Every
// unrestorable case answers like a failed login.
func (s *AccountService) Restore(ctx context.Context, email, code string) (model.User, TokenPair, error) {
	email = utils.NormalizeEmail(email)
	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return model.User{}, TokenPair{}, apperr.ErrInvalidCredentials
	}
	if err != nil {
		return model.User{}, TokenPair{}, apperr.Internal(err)
	}
	if !u.Restorable(s.now(), s.cfg.WithdrawGrace) {
		return model.User{}, TokenPair{}, apperr.ErrInvalidCredentials
	}

	if _, err := s.codes.Verify(ctx, email, model.PurposeWithdrawRestore, code); err != nil {
		return model.User{}, TokenPair{}, err
	}

	u = u.Restore()
	if err := s.users.Save(ctx, u); err != nil {
		return model.User{}, TokenPair{}, storeErr(err)
	}
	if err := s.tokens.RevokeAll(ctx, u.ID); err != nil {
		return model.User{}, TokenPair{}, err
	}
	pair, err := s.tokens.IssuePair(ctx, u)
	if err != nil {
		return model.User{}, TokenPair{}, err
	}
	return u, pair, nil
}

// CanRestore reports whether email belongs to a restorable account.
func (s *AccountService) CanRestore(ctx context.Context, email string) (bool, error) {
	u, err := s.users.GetByEmail(ctx, utils.NormalizeEmail(email))
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Internal(err)
	}
	return u.Restorable(s.now(), s.cfg.WithdrawGrace), nil
}

// Approve lets a pending user log in.
func (s *AccountService) Approve(ctx context.Context, userID string) (model.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.User{}, apperr.ErrUserNotFound
	}
	if err != nil {
		return model.User{}, apperr.Internal(err)
	}
	if u.Withdrawn {
		return model.User{}, apperr.ErrAccountWithdrawn
	}
	if u.Approved {
		return u, nil
	}
	u = u.Approve()
	if err := s.users.Save(ctx, u); err != nil {
		return model.User{}, storeErr(err)
	}
	return u, nil
}

// SetPassword stores a new password and ends every session.
func (s *AccountService) SetPassword(ctx context.Context, u model.User, password string) (model.User, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return model.User{}, apperr.Internal(fmt.Errorf("hash password: %w", err))
	}
	u.PasswordHash = hash
	if err := s.users.Save(ctx, u); err != nil {
		return model.User{}, storeErr(err)
	}
	if err := s.tokens.RevokeAll(ctx, u.ID); err != nil {
		return model.User{}, err
	}
	return u, nil
}

// UpdateAccountInfo changes phone and/or email.
func (s *AccountService) UpdateAccountInfo(ctx context.Context, userID string, in AccountUpdate) (model.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.User{}, apperr.ErrInvalidCredentials
	}
	if err != nil {
		return model.User{}, apperr.Internal(err)
	}

	changed := false
	if in.Phone != nil {
		digits, formatted, err := phoneNumber(*in.Phone)
		if err != nil {
			return model.User{}, err
		}
		if formatted != u.Phone {
			if err := s.checkConflict(ctx, u.ID, "", digits, formatted); err != nil {
				return model.User{}, err
			}
			u.Phone = formatted
			changed = true
		}
	}
	if in.Email != nil {
		email := utils.NormalizeEmail(*in.Email)
		if email != u.Email {
			if err := s.checkConflict(ctx, u.ID, email); err != nil {
				return model.User{}, err
			}
			if _, err := s.codes.Verify(ctx, email, model.PurposeAccountChange, in.Code); err != nil {
				return model.User{}, err
			}
			u.Email = email
			changed = true
		}
	}
	if !changed {
		return u, nil
	}
	if err := s.users.Save(ctx, u); err != nil {
		return model.User{}, storeErr(err)
	}
	return u, nil
}
