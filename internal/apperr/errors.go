// Package apperr defines the closed set of domain failures raised by the auth
// services.  Every failure carries a stable machine-readable code so clients
// can branch without parsing messages; only the HTTP layer turns a Kind into
// a status code.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindInvalidCredentials
	KindConflict
	KindForbidden
	KindNotFound
	KindEmailSendFailed
	KindTooManyRequests
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_failed"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindEmailSendFailed:
		return "email_send_failed"
	case KindTooManyRequests:
		return "too_many_requests"
	default:
		return "internal"
	}
}

// Stable error codes returned to clients.
const (
	CodeValidationFailed       = "VALIDATION_FAILED"
	CodeInvalidCredentials     = "INVALID_CREDENTIALS"
	CodeInvalidCurrentPassword = "INVALID_CURRENT_PASSWORD"
	CodeInvalidRefreshToken    = "INVALID_REFRESH_TOKEN"
	CodeExpiredRefreshToken    = "EXPIRED_REFRESH_TOKEN"
	CodeInvalidAccessToken     = "INVALID_ACCESS_TOKEN"
	CodeEmailAlreadyExists     = "EMAIL_ALREADY_EXISTS"
	CodePhoneAlreadyExists     = "PHONE_ALREADY_EXISTS"
	CodeAccountWithdrawn       = "ACCOUNT_WITHDRAWN"
	CodePendingApproval        = "PENDING_APPROVAL"
	CodeInsufficientRole       = "INSUFFICIENT_ROLE"
	CodeInvalidCode            = "INVALID_CODE"
	CodeExpiredCode            = "CODE_EXPIRED"
	CodeUserNotFound           = "USER_NOT_FOUND"
	CodeEmailSendFailed        = "EMAIL_SEND_FAILED"
	CodeTooManyRequests        = "TOO_MANY_REQUESTS"
	CodeInternal               = "INTERNAL_ERROR"
)

// Error is the typed failure returned by services.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	// Fields holds per-field messages for validation failures.
	Fields map[string]string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind and Code so sentinel comparisons work
// with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// Wrap attaches a cause without changing the public shape.
func (e *Error) Wrap(err error) *Error {
	cp := *e
	cp.Err = err
	return &cp
}

func newErr(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func Validation(fields map[string]string) *Error {
	e := newErr(KindValidation, CodeValidationFailed, "request validation failed")
	e.Fields = fields
	return e
}

func InvalidCredentials(code, msg string) *Error {
	return newErr(KindInvalidCredentials, code, msg)
}

func Conflict(code, msg string) *Error { return newErr(KindConflict, code, msg) }

func Forbidden(code, msg string) *Error { return newErr(KindForbidden, code, msg) }

func NotFound(code, msg string) *Error { return newErr(KindNotFound, code, msg) }

func EmailSendFailed(err error) *Error {
	return &Error{
		Kind:    KindEmailSendFailed,
		Code:    CodeEmailSendFailed,
		Message: "failed to send the verification email, please try again later",
		Err:     err,
	}
}

func TooManyRequests(msg string) *Error {
	return newErr(KindTooManyRequests, CodeTooManyRequests, msg)
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: "internal server error", Err: err}
}

// Commonly raised failures.
var (
	ErrInvalidCredentials  = InvalidCredentials(CodeInvalidCredentials, "invalid email or password")
	ErrInvalidRefreshToken = InvalidCredentials(CodeInvalidRefreshToken, "invalid refresh token")
	ErrExpiredRefreshToken = InvalidCredentials(CodeExpiredRefreshToken, "refresh token has expired")
	ErrInvalidCode         = InvalidCredentials(CodeInvalidCode, "invalid verification code")
	ErrExpiredCode         = InvalidCredentials(CodeExpiredCode, "verification code has expired")
	ErrPendingApproval     = Forbidden(CodePendingApproval, "account is waiting for approval")
	ErrAccountWithdrawn    = Forbidden(CodeAccountWithdrawn, "account has been withdrawn")
	ErrAlreadyWithdrawn    = Conflict(CodeAccountWithdrawn, "account has already been withdrawn")
	ErrEmailExists         = Conflict(CodeEmailAlreadyExists, "email is already registered")
	ErrPhoneExists         = Conflict(CodePhoneAlreadyExists, "phone number is already registered")
	ErrCurrentPassword     = InvalidCredentials(CodeInvalidCurrentPassword, "current password does not match")
	ErrUserNotFound        = NotFound(CodeUserNotFound, "user not found")
	ErrEmailNotRegistered  = InvalidCredentials(CodeUserNotFound, "email is not registered")
)

// As extracts an *Error from err.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf reports the Kind of err, KindInternal for foreign errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}
