package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokensRoundTrip(t *testing.T) {
	tokens := NewTokens("test-secret")
	userID := uuid.New()

	raw, err := tokens.Issue(userID, time.Hour)
	require.NoError(t, err)

	got, err := tokens.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, userID, got)
}

func TestTokensRejects(t *testing.T) {
	tokens := NewTokens("test-secret")
	userID := uuid.New()

	expired, err := tokens.Issue(userID, -time.Minute)
	require.NoError(t, err)

	otherSecret, err := NewTokens("other-secret").Issue(userID, time.Hour)
	require.NoError(t, err)

	badSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: userID.String(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	tests := map[string]string{
		"expired":      expired,
		"wrong secret": otherSecret,
		"non-uuid sub": badSubject,
		"no expiry":    noExpiry,
		"garbage":      "not.a.token",
		"empty":        "",
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := tokens.Parse(raw)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestServiceKey(t *testing.T) {
	hash, err := HashServiceKey("s3cret-key")
	require.NoError(t, err)

	key := NewServiceKey(hash)
	assert.NoError(t, key.Verify("s3cret-key"))
	assert.ErrorIs(t, key.Verify("wrong"), ErrInvalidServiceKey)
	assert.ErrorIs(t, key.Verify(""), ErrInvalidServiceKey)

	assert.ErrorIs(t, NewServiceKey("").Verify("s3cret-key"), ErrInvalidServiceKey)
}
