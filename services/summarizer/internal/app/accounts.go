package app

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"mailguard/internal/util"
	"mailguard/pkg/auth"
	"mailguard/pkg/domain"
	"mailguard/pkg/store"
)

// EnsureAdmin upserts the bootstrap admin identity with the configured
// password. It runs once at startup.
func (a *App) EnsureAdmin(username, password string) (domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return domain.User{}, errors.New("admin username and password required")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash admin password: %w", err)
	}
	admin, err := a.store.UpsertAdmin(util.NewID(), username, hash)
	if err != nil {
		return domain.User{}, fmt.Errorf("upsert admin: %w", err)
	}
	slog.Info("admin identity ensured", "username", admin.Username, "user_id", admin.ID)
	return admin, nil
}

// Register consumes a signup key and creates a user whose policy override
// starts as a copy of the global policy. It returns a new session token.
func (a *App) Register(key, username, password string) (domain.User, string, error) {
	key = strings.TrimSpace(key)
	username = strings.TrimSpace(username)
	if key == "" || username == "" || password == "" {
		return domain.User{}, "", ErrBadRequest
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.User{}, "", fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if _, taken, err := a.store.GetUserByUsername(username); err != nil {
		return domain.User{}, "", fmt.Errorf("check username: %w", err)
	} else if taken {
		return domain.User{}, "", ErrUsernameTaken
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	global, err := a.policies.Global()
	if err != nil {
		return domain.User{}, "", err
	}
	user := domain.User{
		ID:           util.NewID(),
		Username:     username,
		PasswordHash: hash,
		Role:         domain.RoleUser,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.store.RegisterWithSignupKey(key, user, SeedPolicy(global.Policy)); err != nil {
		switch {
		case errors.Is(err, store.ErrSignupKeyInvalid):
			return domain.User{}, "", ErrInvalidKey
		case errors.Is(err, store.ErrSignupKeyUsed):
			return domain.User{}, "", ErrKeyUsed
		case errors.Is(err, store.ErrUsernameTaken):
			return domain.User{}, "", ErrUsernameTaken
		}
		return domain.User{}, "", fmt.Errorf("register user: %w", err)
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("create session: %w", err)
	}
	return user, token, nil
}

// Login validates credentials and issues a session token.
func (a *App) Login(username, password string) (domain.User, string, error) {
	user, ok, err := a.store.GetUserByUsername(strings.TrimSpace(username))
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("create session: %w", err)
	}
	return user, token, nil
}

// UserFromToken resolves the principal behind a session token.
func (a *App) UserFromToken(token string) (domain.User, bool) {
	if token == "" {
		return domain.User{}, false
	}
	uid, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.User{}, false
	}
	user, found, err := a.store.GetUserByID(uid)
	if err != nil || !found {
		return domain.User{}, false
	}
	return user, true
}

// Logout invalidates the session token.
func (a *App) Logout(token string) error {
	if token == "" {
		return nil
	}
	return a.sessions.DeleteSession(token)
}

// ListUsers returns all principals ordered by username.
func (a *App) ListUsers() ([]domain.User, error) {
	users, err := a.store.ListUsers()
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

// ResetPassword sets a new password for username and ends its sessions.
func (a *App) ResetPassword(username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return ErrBadRequest
	}
	if err := auth.ValidatePassword(password); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	user, ok, err := a.store.GetUserByUsername(username)
	if err != nil {
		return fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	user.PasswordHash = hash
	if err := a.store.SaveUser(user); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	a.revokeSessions(user.ID)
	return nil
}

// DeleteUser removes username with its override and usage counters. Admins
// cannot delete themselves.
func (a *App) DeleteUser(actor domain.User, username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return ErrBadRequest
	}
	user, ok, err := a.store.GetUserByUsername(username)
	if err != nil {
		return fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	if user.ID == actor.ID {
		return ErrCannotDeleteSelf
	}
	deleted, err := a.store.DeleteUser(user.ID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if !deleted {
		return ErrNotFound
	}
	if err := a.usage.ClearDailyUsage(user.ID); err != nil {
		slog.Warn("clear daily usage failed", "user_id", user.ID, "err", err)
	}
	a.revokeSessions(user.ID)
	return nil
}

func (a *App) revokeSessions(userID string) {
	revoker, ok := a.sessions.(store.UserSessionRevoker)
	if !ok {
		return
	}
	if err := revoker.RevokeUserSessions(userID, time.Now().UTC()); err != nil {
		slog.Warn("revoke user sessions failed", "user_id", userID, "err", err)
	}
}
