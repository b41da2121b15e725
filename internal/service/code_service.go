package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/iliyamo/community-auth/internal/apperr"
	"github.com/iliyamo/community-auth/internal/config"
	"github.com/iliyamo/community-auth/internal/mail"
	"github.com/iliyamo/community-auth/internal/model"
	"github.com/iliyamo/community-auth/internal/utils"
)

// maxActiveCodes bounds how many outstanding codes one check compares
// against; every comparison is a bcrypt verify.
const maxActiveCodes = 10

// CodeService issues and checks single-use, time-boxed email codes.
type CodeService struct {
	codes   CodeStore
	mailer  Mailer
	limiter RequestLimiter
	hasher  utils.Hasher
	cfg     config.AuthConfig
	now     func() time.Time
}

func NewCodeService(codes CodeStore, mailer Mailer, limiter RequestLimiter, hasher utils.Hasher, cfg config.AuthConfig, now func() time.Time) *CodeService {
	if now == nil {
		now = time.Now
	}
	if cfg.CodeCharset == "" {
		cfg.CodeCharset = config.DefaultCodeCharset
	}
	return &CodeService{codes: codes, mailer: mailer, limiter: limiter, hasher: hasher, cfg: cfg, now: now}
}

// Send generates a code for (email, purpose), stores its hash and mails the
// plaintext.  Earlier codes stay valid.
func (s *CodeService) Send(ctx context.Context, email string, purpose model.CodePurpose) error {
	email = utils.NormalizeEmail(email)
	if err := s.allow(ctx, string(purpose)+":"+email); err != nil {
		return err
	}

	code, err := utils.RandomCode(s.cfg.CodeCharset, s.cfg.CodeLength)
	if err != nil {
		return apperr.Internal(fmt.Errorf("generate code: %w", err))
	}
	hash, err := s.hasher.Hash(code)
	if err != nil {
		return apperr.Internal(fmt.Errorf("hash code: %w", err))
	}
	now := s.now().UTC()
	rec := model.VerificationCode{
		ID:        uuid.NewString(),
		Email:     email,
		Purpose:   purpose,
		CodeHash:  hash,
		ExpiresAt: now.Add(s.cfg.CodeTTL),
		CreatedAt: now,
	}
	if err := s.codes.Create(ctx, rec); err != nil {
		return apperr.Internal(fmt.Errorf("store code: %w", err))
	}

	subject, body := mail.VerificationMessage(purpose, code, s.cfg.CodeTTL)
	if err := s.mailer.Send(ctx, email, subject, body); err != nil {
		log.Printf("codes: send %s code to %s failed: %v", purpose, email, err)
		return apperr.EmailSendFailed(err)
	}
	return nil
}

func (s *CodeService) allow(ctx context.Context, key string) error {
	if s.limiter == nil {
		return nil
	}
	ok, retry, err := s.limiter.Allow(ctx, key)
	if err != nil {
		// Limiter outages must not block code delivery.
		log.Printf("codes: limiter error for %s: %v", key, err)
		return nil
	}
	if !ok {
		return apperr.TooManyRequests(fmt.Sprintf("too many code requests, retry in %d seconds", int(retry.Round(time.Second).Seconds())))
	}
	return nil
}

// resetLimit reopens the request window once a code has been spent.
func (s *CodeService) resetLimit(ctx context.Context, key string) {
	if s.limiter == nil {
		return
	}
	if err := s.limiter.Reset(ctx, key); err != nil {
		log.Printf("codes: limiter reset for %s: %v", key, err)
	}
}

// Verify consumes the newest unexpired code matching (email, purpose, code).
// A code verifies at most once.
func (s *CodeService) Verify(ctx context.Context, email string, purpose model.CodePurpose, code string) (model.VerificationCode, error) {
	rec, err := s.find(ctx, email, purpose, code)
	if err != nil {
		return model.VerificationCode{}, err
	}
	won, err := s.codes.MarkUsed(ctx, rec.ID)
	if err != nil {
		return model.VerificationCode{}, apperr.Internal(err)
	}
	if !won {
		return model.VerificationCode{}, apperr.ErrInvalidCode
	}
	rec.Used = true
	s.resetLimit(ctx, string(purpose)+":"+rec.Email)
	return rec, nil
}

// Check reports whether the code would verify, without consuming it.
func (s *CodeService) Check(ctx context.Context, email string, purpose model.CodePurpose, code string) (model.VerificationCode, error) {
	return s.find(ctx, email, purpose, code)
}

func (s *CodeService) find(ctx context.Context, email string, purpose model.CodePurpose, code string) (model.VerificationCode, error) {
	email = utils.NormalizeEmail(email)
	code = s.foldCode(code)
	if code == "" {
		return model.VerificationCode{}, apperr.ErrInvalidCode
	}
	now := s.now()
	defer s.sweep(ctx, email, purpose, now)

	candidates, err := s.codes.ListUnused(ctx, email, purpose, maxActiveCodes)
	if err != nil {
		return model.VerificationCode{}, apperr.Internal(err)
	}
	expiredMatch := false
	for _, c := range candidates {
		if !s.hasher.Verify(c.CodeHash, code) {
			continue
		}
		if c.Expired(now) {
			expiredMatch = true
			continue
		}
		return c, nil
	}
	if expiredMatch {
		return model.VerificationCode{}, apperr.ErrExpiredCode
	}
	return model.VerificationCode{}, apperr.ErrInvalidCode
}

// foldCode trims user input and folds it to the case of the code alphabet.
// Mixed-case alphabets are compared as typed.
func (s *CodeService) foldCode(code string) string {
	code = strings.TrimSpace(code)
	upper := strings.IndexFunc(s.cfg.CodeCharset, unicode.IsUpper) >= 0
	lower := strings.IndexFunc(s.cfg.CodeCharset, unicode.IsLower) >= 0
	switch {
	case upper && !lower:
		return strings.ToUpper(code)
	case lower && !upper:
		return strings.ToLower(code)
	}
	return code
}

// sweep retires expired unused codes after each check.  It runs after the
// search so an expired match can still be reported as CODE_EXPIRED.
func (s *CodeService) sweep(ctx context.Context, email string, purpose model.CodePurpose, now time.Time) {
	if _, err := s.codes.SweepExpired(ctx, email, purpose, now); err != nil {
		log.Printf("codes: sweep %s/%s failed: %v", purpose, email, err)
	}
}
