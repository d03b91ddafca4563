package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("12345678")
	require.NoError(t, err)
	assert.NotEqual(t, "12345678", hash)

	assert.True(t, CheckPassword(hash, "12345678"))
	assert.False(t, CheckPassword(hash, "wrong-password"))
}

func TestJWTRoundTrip(t *testing.T) {
	token, err := GenerateJWT(42, "supersecret")
	require.NoError(t, err)

	userID, err := parseToken(token, "supersecret")
	require.NoError(t, err)
	assert.Equal(t, 42, userID)
}

func TestJWTRejectsWrongSecret(t *testing.T) {
	token, err := GenerateJWT(42, "supersecret")
	require.NoError(t, err)

	_, err = parseToken(token, "othersecret")
	assert.Error(t, err)
}

func TestJWTRejectsGarbage(t *testing.T) {
	_, err := parseToken("not-a-token", "supersecret")
	assert.Error(t, err)
}
