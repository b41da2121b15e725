package service

import (
	"context"
	"errors"
	"time"

	"github.com/iliyamo/community-auth/internal/apperr"
	"github.com/iliyamo/community-auth/internal/config"
	"github.com/iliyamo/community-auth/internal/model"
	"github.com/iliyamo/community-auth/internal/repository"
	"github.com/iliyamo/community-auth/internal/utils"
)

// Deps wires the auth services together.  Limiter may be nil.
type Deps struct {
	Users   UserStore
	Tokens  TokenStore
	Codes   CodeStore
	Mailer  Mailer
	Limiter RequestLimiter
	Config  config.AuthConfig
	Now     func() time.Time
}

// AuthResponse is returned by every operation that logs the user in.
type AuthResponse struct {
	User   model.Profile
	Tokens TokenPair
}

// RegisterResult carries the new profile; Tokens is nil unless the
// deployment approves registrations automatically.
type RegisterResult struct {
	User   model.Profile
	Tokens *TokenPair
}

// AuthService is the entry point used by the HTTP handlers.
type AuthService struct {
	Tokens   *TokenService
	Codes    *CodeService
	Accounts *AccountService

	users  UserStore
	hasher utils.Hasher
}

func NewAuthService(d Deps) *AuthService {
	if d.Now == nil {
		d.Now = time.Now
	}
	hasher := utils.NewHasher(d.Config.BcryptCost)
	tokens := NewTokenService(d.Tokens, d.Users, hasher, d.Config, d.Now)
	codes := NewCodeService(d.Codes, d.Mailer, d.Limiter, hasher, d.Config, d.Now)
	return &AuthService{
		Tokens:   tokens,
		Codes:    codes,
		Accounts: NewAccountService(d.Users, tokens, codes, hasher, d.Config, d.Now),
		users:    d.Users,
		hasher:   hasher,
	}
}

func (s *AuthService) respond(ctx context.Context, u model.User) (AuthResponse, error) {
	pair, err := s.Tokens.IssuePair(ctx, u)
	if err != nil {
		return AuthResponse{}, err
	}
	return AuthResponse{User: u.Profile(), Tokens: pair}, nil
}

// Login authenticates email and password and opens a session.
func (s *AuthService) Login(ctx context.Context, email, password string) (AuthResponse, error) {
	u, err := s.Accounts.Authenticate(ctx, email, password)
	if err != nil {
		return AuthResponse{}, err
	}
	return s.respond(ctx, u)
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (RegisterResult, error) {
	u, err := s.Accounts.Register(ctx, in)
	if err != nil {
		return RegisterResult{}, err
	}
	res := RegisterResult{User: u.Profile()}
	if u.Approved {
		pair, err := s.Tokens.IssuePair(ctx, u)
		if err != nil {
			return RegisterResult{}, err
		}
		res.Tokens = &pair
	}
	return res, nil
}

// Refresh rotates a refresh token.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (AuthResponse, error) {
	pair, u, err := s.Tokens.RotateRefreshToken(ctx, refreshToken)
	if err != nil {
		return AuthResponse{}, err
	}
	return AuthResponse{User: u.Profile(), Tokens: pair}, nil
}

func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	return s.Tokens.Revoke(ctx, refreshToken)
}

func (s *AuthService) LogoutAll(ctx context.Context, userID string) error {
	return s.Tokens.RevokeAll(ctx, userID)
}

// Me returns the profile behind an access token.
func (s *AuthService) Me(ctx context.Context, userID string) (model.Profile, error) {
	u, err := s.user(ctx, userID)
	if err != nil {
		return model.Profile{}, err
	}
	if u.Withdrawn {
		return model.Profile{}, apperr.ErrAccountWithdrawn
	}
	return u.Profile(), nil
}

// ChangePassword replaces the password of a signed-in user, ends every other
// session and logs the caller back in.
func (s *AuthService) ChangePassword(ctx context.Context, userID, current, next string) (AuthResponse, error) {
	u, err := s.user(ctx, userID)
	if err != nil {
		return AuthResponse{}, err
	}
	if u.Withdrawn {
		return AuthResponse{}, apperr.ErrAccountWithdrawn
	}
	if !s.hasher.Verify(u.PasswordHash, current) {
		return AuthResponse{}, apperr.ErrCurrentPassword
	}
	if u, err = s.Accounts.SetPassword(ctx, u, next); err != nil {
		return AuthResponse{}, err
	}
	return s.respond(ctx, u)
}

// SendResetCode mails a password reset code to a registered address.
func (s *AuthService) SendResetCode(ctx context.Context, email string) error {
	if _, err := s.users.GetByEmail(ctx, utils.NormalizeEmail(email)); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.ErrEmailNotRegistered
		}
		return apperr.Internal(err)
	}
	return s.Codes.Send(ctx, email, model.PurposePasswordReset)
}

// VerifyResetCode checks a reset code without spending it so the client can
// move on to the new-password form.
func (s *AuthService) VerifyResetCode(ctx context.Context, email, code string) error {
	_, err := s.Codes.Check(ctx, email, model.PurposePasswordReset, code)
	return err
}

// ResetPasswordWithCode spends a reset code and sets a new password.
func (s *AuthService) ResetPasswordWithCode(ctx context.Context, email, code, password string) error {
	u, err := s.users.GetByEmail(ctx, utils.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.ErrInvalidCode
		}
		return apperr.Internal(err)
	}
	if _, err := s.Codes.Verify(ctx, email, model.PurposePasswordReset, code); err != nil {
		return err
	}
	_, err = s.Accounts.SetPassword(ctx, u, password)
	return err
}

// SendEmailCode mails a verification code for one of the email-proof flows.
// Withdraw-restore codes go only to restorable accounts; anything else is
// answered like a failed login.
func (s *AuthService) SendEmailCode(ctx context.Context, email string, purpose model.CodePurpose) error {
	switch purpose {
	case model.PurposeRegister, model.PurposeAccountChange:
	case model.PurposeWithdrawRestore:
		ok, err := s.Accounts.CanRestore(ctx, email)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.ErrInvalidCredentials
		}
	default:
		return apperr.Validation(map[string]string{"purpose": "unsupported purpose"})
	}
	return s.Codes.Send(ctx, email, purpose)
}

// VerifyEmailCode spends an email verification code.
func (s *AuthService) VerifyEmailCode(ctx context.Context, email string, purpose model.CodePurpose, code string) error {
	if !purpose.Valid() || purpose == model.PurposePasswordReset {
		return apperr.Validation(map[string]string{"purpose": "unsupported purpose"})
	}
	_, err := s.Codes.Verify(ctx, email, purpose, code)
	return err
}

func (s *AuthService) Withdraw(ctx context.Context, userID, currentPassword string) error {
	_, err := s.Accounts.Withdraw(ctx, userID, currentPassword)
	return err
}

func (s *AuthService) Restore(ctx context.Context, email, code string) (AuthResponse, error) {
	u, pair, err := s.Accounts.Restore(ctx, email, code)
	if err != nil {
		return AuthResponse{}, err
	}
	return AuthResponse{User: u.Profile(), Tokens: pair}, nil
}

func (s *AuthService) Approve(ctx context.Context, userID string) (model.Profile, error) {
	u, err := s.Accounts.Approve(ctx, userID)
	if err != nil {
		return model.Profile{}, err
	}
	return u.Profile(), nil
}

func (s *AuthService) UpdateAccountInfo(ctx context.Context, userID string, in AccountUpdate) (model.Profile, error) {
	u, err := s.Accounts.UpdateAccountInfo(ctx, userID, in)
	if err != nil {
		return model.Profile{}, err
	}
	return u.Profile(), nil
}

// user loads the subject of an access token.  A token for a vanished user is
// treated as a bad credential.
func (s *AuthService) user(ctx context.Context, userID string) (model.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.User{}, apperr.ErrInvalidCredentials
	}
	if err != nil {
		return model.User{}, apperr.Internal(err)
	}
	return u, nil
}
