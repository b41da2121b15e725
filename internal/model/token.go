package model

import "time"

// RefreshToken models an entry in the `refresh_tokens` table.  The value a
// client holds is ID + "." + secret; only a bcrypt hash of the secret is
// stored, so a database read never yields a usable token.
type RefreshToken struct {
	ID         string     // refresh_tokens.id (public half of the bearer value)
	UserID     string     // refresh_tokens.user_id
	SecretHash string     // refresh_tokens.secret_hash
	ExpiresAt  time.Time  // refresh_tokens.expires_at
	RevokedAt  *time.Time // refresh_tokens.revoked_at (nullable)
	CreatedAt  time.Time  // refresh_tokens.created_at
	UserAgent  string     // refresh_tokens.user_agent
	IPAddress  string     // refresh_tokens.ip_address
}

func (t RefreshToken) Expired(now time.Time) bool { return !now.Before(t.ExpiresAt) }

func (t RefreshToken) Revoked() bool { return t.RevokedAt != nil }

// CodePurpose scopes a verification code to one flow.
type CodePurpose string

const (
	PurposePasswordReset   CodePurpose = "password-reset"
	PurposeRegister        CodePurpose = "register"
	PurposeAccountChange   CodePurpose = "account-change"
	PurposeWithdrawRestore CodePurpose = "withdraw-restore"
)

// Valid reports whether p is a known purpose.
func (p CodePurpose) Valid() bool {
	switch p {
	case PurposePasswordReset, PurposeRegister, PurposeAccountChange, PurposeWithdrawRestore:
		return true
	}
	return false
}

// VerificationCode is a row of `verification_codes`: a single-use, time-boxed
// proof of email ownership.  The code itself is stored as a bcrypt hash.
type VerificationCode struct {
	ID        string
	Email     string
	Purpose   CodePurpose
	CodeHash  string
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

func (c VerificationCode) Expired(now time.Time) bool { return !now.Before(c.ExpiresAt) }
