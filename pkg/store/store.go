package store

import (
	"time"

	"mailguard/pkg/domain"
)

// Store defines persistence for principals, signup keys, policies and usage.
type Store interface {
	// users
	SaveUser(domain.User) error
	GetUserByID(id string) (domain.User, bool, error)
	GetUserByUsername(username string) (domain.User, bool, error)
	ListUsers() ([]domain.User, error)
	// DeleteUser removes the user with its policy override and usage rows.
	DeleteUser(id string) (bool, error)
	// UpsertAdmin creates or resets the bootstrap admin identity.
	UpsertAdmin(id, username, passwordHash string) (domain.User, error)

	// signup keys
	CreateSignupKeys(keys []domain.SignupKey) error
	ListSignupKeys() ([]domain.SignupKey, error)
	RevokeSignupKey(token string) (bool, error)
	// RegisterWithSignupKey consumes the key and creates the user with its
	// seeded policy override in one step.
	RegisterWithSignupKey(token string, user domain.User, seed domain.Policy) error

	PolicyStore
	UsageStore
	TokenStore
}

// PolicyStore persists policy documents keyed by tenant.
type PolicyStore interface {
	GetPolicy(tenant string) (domain.StoredPolicy, bool, error)
	// CompareAndSwapPolicy writes policy when the stored version equals
	// expected (0 means the tenant must not exist yet) and returns the new
	// version. A mismatch returns ErrPolicyConflict.
	CompareAndSwapPolicy(tenant string, expected int64, policy domain.Policy) (int64, error)
}

// UsageStore keeps per-principal per-day summarization counters.
type UsageStore interface {
	// ReserveDailyUsage increments the counter unless it already reached
	// limit, returning the new count or domain.ErrQuotaExhausted.
	ReserveDailyUsage(principalID, day string, limit int) (int, error)
	// ReleaseDailyUsage undoes one reservation, never going below zero.
	ReleaseDailyUsage(principalID, day string) error
	DailyUsage(principalID, day string) (int, error)
	// ClearDailyUsage drops every day counter of a principal.
	ClearDailyUsage(principalID string) error
}

// TokenStore keeps cumulative per-model token counters.
type TokenStore interface {
	// AddTokenUsage adds each delta to the stored counters.
	AddTokenUsage(deltas map[string]domain.TokenUsage) error
	TokenUsage() (map[string]domain.TokenUsage, error)
}

// SessionStore persists session tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}

// UserSessionRevoker is an optional capability that revokes all sessions
// issued for a user since a cutoff time.
type UserSessionRevoker interface {
	RevokeUserSessions(userID string, since time.Time) error
}
