package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

func TestJWTAuthenticator(t *testing.T) {
	a := NewJWTAuthenticator(testSigningKey)

	t.Run("round trip", func(t *testing.T) {
		token, err := a.IssueToken(42, time.Hour)
		require.NoError(t, err)

		userId, err := a.Authenticate(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, 42, userId)
	})

	t.Run("empty credential", func(t *testing.T) {
		_, err := a.Authenticate(context.Background(), "")
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})

	t.Run("garbage credential", func(t *testing.T) {
		_, err := a.Authenticate(context.Background(), "not-a-jwt")
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})

	t.Run("wrong signing key", func(t *testing.T) {
		other := NewJWTAuthenticator([]byte("another-signing-key-entirely!!!!"))
		token, err := other.IssueToken(42, time.Hour)
		require.NoError(t, err)

		_, err = a.Authenticate(context.Background(), token)
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})

	t.Run("expired token", func(t *testing.T) {
		token, err := a.IssueToken(42, -time.Minute)
		require.NoError(t, err)

		_, err = a.Authenticate(context.Background(), token)
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})

	t.Run("unexpected signing method", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
			"user-id": 42,
			"exp":     time.Now().Add(time.Hour).Unix(),
		})
		signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = a.Authenticate(context.Background(), signed)
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})

	t.Run("missing user id claim", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		signed, err := token.SignedString(testSigningKey)
		require.NoError(t, err)

		_, err = a.Authenticate(context.Background(), signed)
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})
}
