package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidToken      = errors.New("invalid token")
	ErrInvalidServiceKey = errors.New("invalid service key")
)

// Tokens verifies bearer tokens minted by the identity provider with a
// shared HMAC secret. The subject claim carries the user's uuid.
type Tokens struct {
	secret []byte
}

func NewTokens(secret string) *Tokens {
	return &Tokens{secret: []byte(secret)}
}

// Issue mints a token for userID. Production tokens come from the identity
// provider; this is used by tests and local tooling.
func (t *Tokens) Issue(userID uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

func (t *Tokens) Parse(raw string) (uuid.UUID, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: subject is not a user id", ErrInvalidToken)
	}
	return userID, nil
}

// ServiceKey checks the shared key internal services present. Only its
// bcrypt hash is configured.
type ServiceKey struct {
	hash []byte
}

func NewServiceKey(hash string) *ServiceKey {
	return &ServiceKey{hash: []byte(hash)}
}

func (k *ServiceKey) Verify(presented string) error {
	if presented == "" || len(k.hash) == 0 {
		return ErrInvalidServiceKey
	}
	if err := bcrypt.CompareHashAndPassword(k.hash, []byte(presented)); err != nil {
		return ErrInvalidServiceKey
	}
	return nil
}

// HashServiceKey produces the value to configure as SERVICE_KEY_HASH.
func HashServiceKey(key string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash service key: %w", err)
	}
	return string(hashed), nil
}
