package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	svc := NewService("secret", time.Hour)

	token, err := svc.GenerateToken("citizen-7", RoleCitizen)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "citizen-7", claims.UserID)
	assert.True(t, claims.HasRole(RoleCitizen))
	assert.True(t, claims.HasPermission(PermChat))
	assert.False(t, claims.HasPermission(PermInspectStatus))
}

func TestWrongSecretRejected(t *testing.T) {
	token, err := NewService("one", time.Hour).GenerateToken("u", RoleAdmin)
	require.NoError(t, err)

	_, err = NewService("two", time.Hour).ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExpiredToken(t *testing.T) {
	svc := NewService("secret", -time.Minute)
	token, err := svc.GenerateToken("u", RoleCitizen)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}
