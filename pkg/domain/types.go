package domain

import (
	"errors"
	"time"
)

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

// ErrQuotaExhausted is returned by usage ledgers when a reservation would
// exceed the daily limit.
var ErrQuotaExhausted = errors.New("daily quota exhausted")

// User is an authenticated principal.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

// IsAdmin reports whether the principal holds the admin role.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// SignupKey is a single-use registration credential.
type SignupKey struct {
	Token     string     `json:"token"`
	Revoked   bool       `json:"revoked"`
	UsedBy    string     `json:"usedBy,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UsedAt    *time.Time `json:"usedAt,omitempty"`
}

// Used reports whether the key has already been consumed.
func (k SignupKey) Used() bool {
	return k.UsedBy != ""
}

// TokenUsage holds cumulative token counters for one model key.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Add returns the element-wise sum of two counters.
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
	}
}

// IsZero reports whether both counters are zero.
func (u TokenUsage) IsZero() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0
}

// Email is one item of the demo mailbox.
type Email struct {
	ID      int    `json:"id"`
	Sender  string `json:"sender"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Date    string `json:"date"`
}
