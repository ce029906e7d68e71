package app

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"mailguard/pkg/domain"
)

const maxSignupKeysPerRequest = 1000

var (
	keyAdjectives = []string{
		"autumn", "hidden", "bitter", "misty", "silent", "empty", "dry", "dark",
		"summer", "icy", "delicate", "quiet", "white", "cool", "spring", "winter",
		"patient", "twilight", "dawn", "crimson", "wispy", "weathered", "blue", "billowing",
		"broken", "cold", "damp", "falling", "frosty", "green", "long", "late",
		"lingering", "bold", "little", "morning", "muddy", "old", "red", "rough",
		"still", "small", "sparkling", "shy", "wandering", "withered", "wild", "black",
	}
	keyNouns = []string{
		"waterfall", "river", "breeze", "moon", "rain", "wind", "sea", "morning",
		"snow", "lake", "sunset", "pine", "shadow", "leaf", "dawn", "glitter",
		"forest", "hill", "cloud", "meadow", "sun", "glade", "bird", "brook",
		"butterfly", "bush", "dew", "dust", "field", "fire", "flower", "firefly",
		"feather", "grass", "haze", "mountain", "night", "pond", "darkness", "snowflake",
		"silence", "sound", "sky", "shape", "surf", "thunder", "violet", "water",
	}
)

// CreateSignupKeys generates count single-use keys (clamped to 1..1000).
func (a *App) CreateSignupKeys(count int) ([]string, error) {
	if count < 1 {
		count = 1
	}
	if count > maxSignupKeysPerRequest {
		count = maxSignupKeysPerRequest
	}
	now := time.Now().UTC()
	keys := make([]domain.SignupKey, 0, count)
	tokens := make([]string, 0, count)
	seen := make(map[string]struct{}, count)
	for len(keys) < count {
		token, err := newSignupToken()
		if err != nil {
			return nil, fmt.Errorf("generate signup key: %w", err)
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		keys = append(keys, domain.SignupKey{Token: token, CreatedAt: now})
		tokens = append(tokens, token)
	}
	if err := a.store.CreateSignupKeys(keys); err != nil {
		return nil, fmt.Errorf("store signup keys: %w", err)
	}
	return tokens, nil
}

// ListSignupKeys returns all keys, newest first.
func (a *App) ListSignupKeys() ([]domain.SignupKey, error) {
	keys, err := a.store.ListSignupKeys()
	if err != nil {
		return nil, fmt.Errorf("list signup keys: %w", err)
	}
	return keys, nil
}

// RevokeSignupKey marks token revoked. Unknown tokens are not an error.
func (a *App) RevokeSignupKey(token string) error {
	if token == "" {
		return ErrBadRequest
	}
	if _, err := a.store.RevokeSignupKey(token); err != nil {
		return fmt.Errorf("revoke signup key: %w", err)
	}
	return nil
}

// newSignupToken returns an "adjective-noun-NNNN" token.
func newSignupToken() (string, error) {
	adj, err := pick(len(keyAdjectives))
	if err != nil {
		return "", err
	}
	noun, err := pick(len(keyNouns))
	if err != nil {
		return "", err
	}
	num, err := pick(10000)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%04d", keyAdjectives[adj], keyNouns[noun], num), nil
}

func pick(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
