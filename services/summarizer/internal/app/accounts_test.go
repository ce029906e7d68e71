package app

import (
	"regexp"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"mailguard/internal/quota"
	"mailguard/pkg/domain"
)

func TestRegisterLoginLogout(t *testing.T) {
	ta := newTestApp(t, nil, guardOptions())
	keys, err := ta.CreateSignupKeys(2)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	require.Regexp(t, regexp.MustCompile(`^[a-z]+-[a-z]+-\d{4}$`), keys[0])

	user, token, err := ta.Register(keys[0], "alice", "user-password")
	require.NoError(t, err)
	require.Equal(t, domain.RoleUser, user.Role)
	got, ok := ta.UserFromToken(token)
	require.True(t, ok)
	require.Equal(t, user.ID, got.ID)

	override, found, err := ta.store.GetPolicy(user.ID)
	require.NoError(t, err)
	require.True(t, found, "registration seeds a policy override")
	require.Empty(t, override.Policy.LLM.Models)

	_, _, err = ta.Register(keys[0], "bob", "user-password")
	require.ErrorIs(t, err, ErrKeyUsed)
	_, _, err = ta.Register(keys[1], "alice", "user-password")
	require.ErrorIs(t, err, ErrUsernameTaken)
	_, _, err = ta.Register("made-up-key-0000", "carol", "user-password")
	require.ErrorIs(t, err, ErrInvalidKey)
	_, _, err = ta.Register(keys[1], "", "user-password")
	require.ErrorIs(t, err, ErrBadRequest)

	_, _, err = ta.Login("alice", "wrong-password")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = ta.Login("nobody", "user-password")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, token2, err := ta.Login("alice", "user-password")
	require.NoError(t, err)

	require.NoError(t, ta.Logout(token2))
	_, ok = ta.UserFromToken(token2)
	require.False(t, ok)
}

func TestRevokedKeyCannotRegister(t *testing.T) {
	ta := newTestApp(t, nil, guardOptions())
	keys, err := ta.CreateSignupKeys(1)
	require.NoError(t, err)
	require.NoError(t, ta.RevokeSignupKey(keys[0]))
	_, _, err = ta.Register(keys[0], "dave", "user-password")
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestCreateSignupKeysClampsCount(t *testing.T) {
	ta := newTestApp(t, nil, guardOptions())
	keys, err := ta.CreateSignupKeys(0)
	require.NoError(t, err)
	require.Len(t, keys, 1)
}

func TestEnsureAdminIsIdempotent(t *testing.T) {
	ta := newTestApp(t, nil, guardOptions())
	again, err := ta.EnsureAdmin("root", "rotated-password")
	require.NoError(t, err)
	require.Equal(t, ta.admin.ID, again.ID)
	_, _, err = ta.Login("root", "rotated-password")
	require.NoError(t, err)
}

func TestAdminUserManagement(t *testing.T) {
	ta := newTestApp(t, nil, guardOptions())
	user := ta.registerUser(t, "erin")
	_, err := ta.ReserveSummarize(user)
	require.NoError(t, err)

	users, err := ta.ListUsers()
	require.NoError(t, err)
	require.Equal(t, "erin", users[0].Username)
	require.Equal(t, "root", users[1].Username)

	require.NoError(t, ta.ResetPassword("erin", "fresh-password"))
	_, _, err = ta.Login("erin", "fresh-password")
	require.NoError(t, err)
	require.ErrorIs(t, ta.ResetPassword("ghost", "fresh-password"), ErrNotFound)

	require.ErrorIs(t, ta.DeleteUser(ta.admin, "root"), ErrCannotDeleteSelf)
	require.NoError(t, ta.DeleteUser(ta.admin, "erin"))
	_, found, err := ta.store.GetPolicy(user.ID)
	require.NoError(t, err)
	require.False(t, found)
	used, err := ta.store.DailyUsage(user.ID, "2026-10-17")
	require.NoError(t, err)
	require.Zero(t, used)
	require.ErrorIs(t, ta.DeleteUser(ta.admin, "erin"), ErrNotFound)
}

func TestDeleteUserClearsRedisUsage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ledger := quota.NewRedisLedger(client, "test:quota")
	ta := newTestAppWithUsage(t, nil, guardOptions(), ledger)

	user := ta.registerUser(t, "frank")
	_, err := ta.ReserveSummarize(user)
	require.NoError(t, err)
	require.True(t, mr.Exists("test:quota:"+user.ID+":2026-10-17"))

	require.NoError(t, ta.DeleteUser(ta.admin, "frank"))
	require.False(t, mr.Exists("test:quota:"+user.ID+":2026-10-17"))
}
