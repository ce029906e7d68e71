package app

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMailboxMaliciousToggle(t *testing.T) {
	m := NewMailbox()
	require.Len(t, m.List(false), 2)
	require.Len(t, m.List(true), 3)

	_, ok := m.Get(2)
	require.False(t, ok)

	email, added := m.AddMalicious()
	require.True(t, added)
	require.Equal(t, "mallory@friends.org", email.Sender)
	_, added = m.AddMalicious()
	require.False(t, added)
	require.Len(t, m.List(true), 3, "malicious email is never listed twice")

	got, ok := m.Get(2)
	require.True(t, ok)
	require.Contains(t, got.Body, "NEW IMPORTANT INSTRUCTIONS")

	require.True(t, m.RemoveMalicious())
	require.False(t, m.RemoveMalicious())
	require.Len(t, m.List(false), 2)
}
