package httpapi

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTAuth(t *testing.T) {
	auth := NewJWTAuth("test-secret", 0)

	token, expiresAt, err := auth.GenerateToken("test-client", false)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(DefaultTokenTTL), expiresAt, time.Minute)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "test-client", claims.ClientID)
	assert.False(t, claims.IsAdmin)

	_, err = auth.ValidateToken("invalid-token")
	assert.Error(t, err)
}

func TestJWTAuth_AdminToken(t *testing.T) {
	auth := NewJWTAuth("test-secret", time.Hour)

	token, _, err := auth.GenerateToken(AdminClientID, true)
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, AdminClientID, claims.ClientID)
	assert.True(t, claims.IsAdmin)
}

func TestJWTAuth_BearerPrefix(t *testing.T) {
	auth := NewJWTAuth("test-secret", time.Hour)

	token, _, err := auth.GenerateToken("bearer-test", false)
	require.NoError(t, err)

	claims, err := auth.ValidateToken("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "bearer-test", claims.ClientID)
}

func TestJWTAuth_Rejects(t *testing.T) {
	auth := NewJWTAuth("test-secret", time.Hour)

	t.Run("empty client", func(t *testing.T) {
		_, _, err := auth.GenerateToken("", false)
		assert.Error(t, err)
	})

	t.Run("empty token", func(t *testing.T) {
		_, err := auth.ValidateToken("Bearer ")
		assert.Error(t, err)
	})

	t.Run("other secret", func(t *testing.T) {
		token, _, err := NewJWTAuth("other-secret", time.Hour).GenerateToken("c1", false)
		require.NoError(t, err)
		_, err = auth.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		claims := JWTClaims{
			ClientID: "c1",
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
		require.NoError(t, err)
		_, err = auth.ValidateToken(token)
		assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	})

	t.Run("no signature", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, JWTClaims{ClientID: "c1"}).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = auth.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("no client", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, JWTClaims{}).SignedString([]byte("test-secret"))
		require.NoError(t, err)
		_, err = auth.ValidateToken(token)
		assert.Error(t, err)
	})
}
