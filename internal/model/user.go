package model

import "time"

// Role is the community role of a user.
type Role string

const (
	RoleTrainee    Role = "trainee"
	RoleMentor     Role = "mentor"
	RoleInstructor Role = "instructor"
	RoleGraduate   Role = "graduate"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleTrainee, RoleMentor, RoleInstructor, RoleGraduate:
		return true
	}
	return false
}

// Withdraw memo values stored in users.withdraw_note.
const (
	WithdrawNoteActive  = "active"
	WithdrawNoteExpired = "expired"
)

// User represents a row of the `users` table.  Handlers never serialize it
// directly; see Profile for the outward shape.
//
// Fields:
//
//	ID                      – UUIDv7, time ordered.
//	Email                   – unique, lower-cased.
//	PasswordHash            – bcrypt hash.
//	Phone                   – unique, stored formatted (010-1234-5678).
//	Role / RequestedRole    – granted role and the role asked for at signup.
//	Approved                – login gate flipped by an instructor.
//	Withdrawn…              – soft delete state.
type User struct {
	ID                      string
	Email                   string
	PasswordHash            string
	Name                    string
	Phone                   string
	Role                    Role
	RequestedRole           Role
	Course                  *string
	ProfileHandle           string
	Approved                bool
	Withdrawn               bool
	WithdrawnAt             *time.Time
	WithdrawRestoreDeadline *time.Time
	WithdrawNote            string
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// Withdraw returns u soft-deleted at now.  The restore deadline is stamped
// eagerly so later changes to the grace period do not move it.
func (u User) Withdraw(now time.Time, grace time.Duration) User {
	at := now.UTC()
	deadline := at.Add(grace)
	u.Withdrawn = true
	u.WithdrawnAt = &at
	u.WithdrawRestoreDeadline = &deadline
	u.WithdrawNote = WithdrawNoteActive
	u.Approved = false
	return u
}

// Restore returns u with every withdrawal field cleared and login re-enabled.
func (u User) Restore() User {
	u.Withdrawn = false
	u.WithdrawnAt = nil
	u.WithdrawRestoreDeadline = nil
	u.WithdrawNote = ""
	u.Approved = true
	return u
}

// RestoreDeadline returns the stored deadline, or withdrawnAt+grace for rows
// written before the deadline column existed.
func (u User) RestoreDeadline(grace time.Duration) (time.Time, bool) {
	if u.WithdrawRestoreDeadline != nil {
		return *u.WithdrawRestoreDeadline, true
	}
	if u.WithdrawnAt != nil {
		return u.WithdrawnAt.Add(grace), true
	}
	return time.Time{}, false
}

// Restorable reports whether a withdrawn account is still inside its grace
// period.
func (u User) Restorable(now time.Time, grace time.Duration) bool {
	if !u.Withdrawn {
		return false
	}
	deadline, ok := u.RestoreDeadline(grace)
	if !ok {
		return false
	}
	return now.Before(deadline)
}

// MarkWithdrawExpired sets the expired memo.  The bool is false when the memo
// was already set and nothing needs saving.
func (u User) MarkWithdrawExpired() (User, bool) {
	if u.WithdrawNote == WithdrawNoteExpired {
		return u, false
	}
	u.WithdrawNote = WithdrawNoteExpired
	return u, true
}

// Approve lets the user log in and grants the requested role if one was
// recorded.
func (u User) Approve() User {
	u.Approved = true
	if u.RequestedRole.Valid() {
		u.Role = u.RequestedRole
	}
	return u
}

// Profile is the public projection of a user returned by the API.
type Profile struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Email         string  `json:"email"`
	Role          Role    `json:"role"`
	Phone         string  `json:"phone"`
	Course        *string `json:"course"`
	ProfileHandle string  `json:"profile_handle"`
}

// Profile projects u onto the fields safe to send to clients.
func (u User) Profile() Profile {
	return Profile{
		ID:            u.ID,
		Name:          u.Name,
		Email:         u.Email,
		Role:          u.Role,
		Phone:         u.Phone,
		Course:        u.Course,
		ProfileHandle: u.ProfileHandle,
	}
}
