package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
)

// ErrInvalidCredential indicates a missing, malformed, expired or
// badly-signed credential.
var ErrInvalidCredential = errors.New("invalid credential")

const (
	userIdClaim = "user-id"
	expClaim    = "exp"
)

// Authenticator verifies a bearer credential presented at connection
// handshake and returns the stable user id it belongs to. Account storage
// and credential issuance live outside this service.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (int, error)
}

// JWTAuthenticator verifies HS256 tokens issued by the platform's identity
// service with a shared signing key.
type JWTAuthenticator struct {
	signingKey []byte
}

func NewJWTAuthenticator(signingKey []byte) *JWTAuthenticator {
	return &JWTAuthenticator{signingKey: signingKey}
}

func (a *JWTAuthenticator) Authenticate(_ context.Context, credential string) (int, error) {
	if credential == "" {
		return 0, ErrInvalidCredential
	}

	token, err := jwt.Parse(credential, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return a.signingKey, nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	if !token.Valid {
		return 0, ErrInvalidCredential
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, fmt.Errorf("%w: invalid claims", ErrInvalidCredential)
	}

	userId, ok := claims[userIdClaim].(float64)
	if !ok {
		return 0, fmt.Errorf("%w: missing user id claim", ErrInvalidCredential)
	}

	return int(userId), nil
}

// IssueToken signs a credential for the given user. The server never calls
// this in production (tokens come from the identity service); it exists for
// tests and local tooling.
func (a *JWTAuthenticator) IssueToken(userId int, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim: userId,
		expClaim:    time.Now().Add(exp).Unix(),
	})

	return token.SignedString(a.signingKey)
}
