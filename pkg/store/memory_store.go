package store

import (
	"sort"
	"sync"
	"time"

	"mailguard/pkg/domain"
)

type usageKey struct {
	principalID string
	day         string
}

// MemoryStore keeps everything in-process. Single instance only.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]domain.User // key: user ID
	names    map[string]string      // username -> user ID
	keys     map[string]domain.SignupKey
	policies map[string]domain.StoredPolicy
	usage    map[usageKey]int
	tokens   map[string]domain.TokenUsage
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]domain.User),
		names:    make(map[string]string),
		keys:     make(map[string]domain.SignupKey),
		policies: make(map[string]domain.StoredPolicy),
		usage:    make(map[usageKey]int),
		tokens:   make(map[string]domain.TokenUsage),
	}
}

// SaveUser registers or replaces a user.
func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.names[u.Username]; ok && id != u.ID {
		return ErrUsernameTaken
	}
	if prev, ok := m.users[u.ID]; ok && prev.Username != u.Username {
		delete(m.names, prev.Username)
	}
	m.users[u.ID] = u
	m.names[u.Username] = u.ID
	return nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// GetUserByUsername looks up a user by username.
func (m *MemoryStore) GetUserByUsername(username string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.names[username]
	if !ok {
		return domain.User{}, false, nil
	}
	return m.users[id], true, nil
}

// ListUsers returns users ordered by creation time.
func (m *MemoryStore) ListUsers() ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// DeleteUser removes a user, its override and its usage rows.
func (m *MemoryStore) DeleteUser(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return false, nil
	}
	delete(m.users, id)
	delete(m.names, u.Username)
	delete(m.policies, id)
	for k := range m.usage {
		if k.principalID == id {
			delete(m.usage, k)
		}
	}
	return true, nil
}

// UpsertAdmin creates the admin or resets its password and role.
func (m *MemoryStore) UpsertAdmin(id, username, passwordHash string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.names[username]; ok {
		u := m.users[existing]
		u.PasswordHash = passwordHash
		u.Role = domain.RoleAdmin
		m.users[existing] = u
		return u, nil
	}
	u := domain.User{
		ID:           id,
		Username:     username,
		PasswordHash: passwordHash,
		Role:         domain.RoleAdmin,
		CreatedAt:    time.Now().UTC(),
	}
	m.users[id] = u
	m.names[username] = id
	return u, nil
}

// CreateSignupKeys stores new unused keys.
func (m *MemoryStore) CreateSignupKeys(keys []domain.SignupKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		m.keys[k.Token] = k
	}
	return nil
}

// ListSignupKeys returns keys newest first.
func (m *MemoryStore) ListSignupKeys() ([]domain.SignupKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.SignupKey, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Token < out[j].Token
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// RevokeSignupKey marks a key revoked. It reports false for unknown tokens.
func (m *MemoryStore) RevokeSignupKey(token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[token]
	if !ok {
		return false, nil
	}
	k.Revoked = true
	m.keys[token] = k
	return true, nil
}

// RegisterWithSignupKey consumes the key, creates the user and seeds its policy.
func (m *MemoryStore) RegisterWithSignupKey(token string, user domain.User, seed domain.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[token]
	if !ok || k.Revoked {
		return ErrSignupKeyInvalid
	}
	if k.Used() {
		return ErrSignupKeyUsed
	}
	if _, taken := m.names[user.Username]; taken {
		return ErrUsernameTaken
	}
	now := time.Now().UTC()
	k.UsedBy = user.ID
	k.UsedAt = &now
	m.keys[token] = k
	m.users[user.ID] = user
	m.names[user.Username] = user.ID
	m.policies[user.ID] = domain.StoredPolicy{Tenant: user.ID, Version: 1, Policy: seed.Clone()}
	return nil
}

// GetPolicy returns a copy of the stored policy for tenant.
func (m *MemoryStore) GetPolicy(tenant string) (domain.StoredPolicy, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sp, ok := m.policies[tenant]
	if !ok {
		return domain.StoredPolicy{}, false, nil
	}
	sp.Policy = sp.Policy.Clone()
	return sp, true, nil
}

// CompareAndSwapPolicy writes policy if the stored version matches expected.
func (m *MemoryStore) CompareAndSwapPolicy(tenant string, expected int64, policy domain.Policy) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.policies[tenant]
	if current.Version != expected {
		return 0, ErrPolicyConflict
	}
	next := expected + 1
	m.policies[tenant] = domain.StoredPolicy{Tenant: tenant, Version: next, Policy: policy.Clone()}
	return next, nil
}

// ReserveDailyUsage increments the counter unless it reached limit.
func (m *MemoryStore) ReserveDailyUsage(principalID, day string, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := usageKey{principalID: principalID, day: day}
	if m.usage[k] >= limit {
		return m.usage[k], domain.ErrQuotaExhausted
	}
	m.usage[k]++
	return m.usage[k], nil
}

// ReleaseDailyUsage undoes one reservation.
func (m *MemoryStore) ReleaseDailyUsage(principalID, day string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := usageKey{principalID: principalID, day: day}
	if m.usage[k] > 0 {
		m.usage[k]--
	}
	return nil
}

// DailyUsage returns the counter for one principal and day.
func (m *MemoryStore) DailyUsage(principalID, day string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.usage[usageKey{principalID: principalID, day: day}], nil
}

// ClearDailyUsage drops every counter of one principal.
func (m *MemoryStore) ClearDailyUsage(principalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.usage {
		if k.principalID == principalID {
			delete(m.usage, k)
		}
	}
	return nil
}

// AddTokenUsage adds deltas to the per-model counters.
func (m *MemoryStore) AddTokenUsage(deltas map[string]domain.TokenUsage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for model, d := range deltas {
		m.tokens[model] = m.tokens[model].Add(d)
	}
	return nil
}

// TokenUsage returns a copy of all counters.
func (m *MemoryStore) TokenUsage() (map[string]domain.TokenUsage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]domain.TokenUsage, len(m.tokens))
	for k, v := range m.tokens {
		out[k] = v
	}
	return out, nil
}
