package users

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharedSecret(t *testing.T) {
	secret := SharedSecret("123")
	assert.True(t, secret.Authenticate("bob", "123"))
	assert.True(t, secret.Authenticate("", "123"))
	assert.False(t, secret.Authenticate("bob", "1234"))
	assert.False(t, secret.Authenticate("bob", ""))
}

func TestLocalUsers(t *testing.T) {
	u := NewLocalUsers()
	u.Add("bob", "pw")
	u.Add("alice", "secret")

	assert.Equal(t, []string{"alice", "bob"}, u.List())
	assert.True(t, u.Authenticate("bob", "pw"))
	assert.False(t, u.Authenticate("bob", "secret"))
	assert.False(t, u.Authenticate("carol", "pw"))

	user, err := u.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, "secret", user.Password)

	removed := u.Remove("alice")
	require.NotNil(t, removed)
	_, err = u.Get("alice")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
