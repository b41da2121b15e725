// Package storetest provides in-memory stores, a recording mailer and a
// settable clock for exercising the auth services without MySQL or SMTP.
package storetest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/iliyamo/community-auth/internal/model"
	"github.com/iliyamo/community-auth/internal/repository"
)

// Users mirrors the unique keys of the users table.
type Users struct {
	mu   sync.Mutex
	byID map[string]model.User
}

func NewUsers() *Users { return &Users{byID: map[string]model.User{}} }

func (m *Users) Create(_ context.Context, u model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.byID {
		switch {
		case o.Email == u.Email:
			return repository.ErrEmailExists
		case o.Phone == u.Phone:
			return repository.ErrPhoneExists
		case o.ProfileHandle == u.ProfileHandle:
			return repository.ErrHandleExists
		}
	}
	m.byID[u.ID] = u
	return nil
}

func (m *Users) GetByEmail(_ context.Context, email string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return model.User{}, repository.ErrNotFound
}

func (m *Users) GetByID(_ context.Context, id string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return u, nil
}

func (m *Users) FindConflict(_ context.Context, email string, phones ...string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if email != "" && u.Email == email {
			return u, nil
		}
		for _, p := range phones {
			if p != "" && u.Phone == p {
				return u, nil
			}
		}
	}
	return model.User{}, repository.ErrNotFound
}

func (m *Users) HandleExists(_ context.Context, handle string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.ProfileHandle == handle {
			return true, nil
		}
	}
	return false, nil
}

func (m *Users) Save(_ context.Context, u model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[u.ID]; !ok {
		return repository.ErrNotFound
	}
	m.byID[u.ID] = u
	return nil
}

func (m *Users) Get(t testing.TB, id string) model.User {
	t.Helper()
	u, err := m.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("user %s: %v", id, err)
	}
	return u
}

type Tokens struct {
	mu   sync.Mutex
	byID map[string]model.RefreshToken
}

func NewTokens() *Tokens { return &Tokens{byID: map[string]model.RefreshToken{}} }

func (m *Tokens) Create(_ context.Context, t model.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[t.ID] = t
	return nil
}

func (m *Tokens) GetByID(_ context.Context, id string) (model.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	if !ok {
		return model.RefreshToken{}, repository.ErrNotFound
	}
	return t, nil
}

func (m *Tokens) Revoke(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	if !ok || t.RevokedAt != nil {
		return false, nil
	}
	t.RevokedAt = &at
	m.byID[id] = t
	return true, nil
}

func (m *Tokens) RevokeAllForUser(_ context.Context, userID string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.byID {
		if t.UserID == userID && t.RevokedAt == nil {
			t.RevokedAt = &at
			m.byID[id] = t
			n++
		}
	}
	return n, nil
}

// ForUser returns every token issued to userID, revoked ones included.
func (m *Tokens) ForUser(userID string) []model.RefreshToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.RefreshToken
	for _, t := range m.byID {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out
}

func (m *Tokens) Active(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.byID {
		if t.UserID == userID && t.RevokedAt == nil {
			n++
		}
	}
	return n
}

type Codes struct {
	mu   sync.Mutex
	Rows []model.VerificationCode
}

func (m *Codes) Create(_ context.Context, c model.VerificationCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Rows = append(m.Rows, c)
	return nil
}

func (m *Codes) ListUnused(_ context.Context, email string, purpose model.CodePurpose, limit int) ([]model.VerificationCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.VerificationCode
	for _, c := range m.Rows {
		if c.Email == email && c.Purpose == purpose && !c.Used {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Codes) MarkUsed(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.Rows {
		if c.ID == id {
			if c.Used {
				return false, nil
			}
			m.Rows[i].Used = true
			return true, nil
		}
	}
	return false, nil
}

func (m *Codes) SweepExpired(_ context.Context, email string, purpose model.CodePurpose, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for i, c := range m.Rows {
		if c.Email == email && c.Purpose == purpose && !c.Used && c.ExpiresAt.Before(now) {
			m.Rows[i].Used = true
			n++
		}
	}
	return n, nil
}

// Outbox records delivered mail and can be told to fail.
type Outbox struct {
	mu   sync.Mutex
	Sent []Mail
	Err  error
}

type Mail struct{ To, Subject, Body string }

func (o *Outbox) Send(_ context.Context, to, subject, body string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return o.Err
	}
	o.Sent = append(o.Sent, Mail{to, subject, body})
	return nil
}

const codeMarker = `letter-spacing: 8px;">`

// LastCode pulls the code out of the newest message to addr.
func (o *Outbox) LastCode(t testing.TB, addr string) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.Sent) - 1; i >= 0; i-- {
		if o.Sent[i].To != addr {
			continue
		}
		body := o.Sent[i].Body
		_, rest, ok := strings.Cut(body, codeMarker)
		code, _, ok2 := strings.Cut(rest, "</p>")
		if !ok || !ok2 {
			t.Fatalf("no code in mail body %q", body)
		}
		return code
	}
	t.Fatalf("no mail sent to %s", addr)
	return ""
}

// Clock is a settable time source.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock() *Clock {
	return &Clock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

