// Package session implements the signed session token and its cookie
// transport. The serialized token is owned by the client as an opaque
// cookie value; the server never persists it.
package session

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Codec errors
var (
	ErrInvalidToken = errors.New("invalid session token")
)

// Claims is the session payload carried inside the signed token. Subject
// is mandatory; Email and Name are optional display attributes captured
// at login.
type Claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// SubjectID returns the subject id from the Subject claim
func (c *Claims) SubjectID() string {
	return c.Subject
}

// Codec signs and verifies session tokens with HMAC-SHA256
type Codec struct {
	secret string
	expiry time.Duration
	issuer string
}

// CodecConfig holds configuration for Codec
type CodecConfig struct {
	Secret string
	Expiry time.Duration
	Issuer string
}

// NewCodec creates a new Codec instance. Secret strength is enforced at
// startup by config validation, not here.
func NewCodec(cfg CodecConfig) *Codec {
	return &Codec{
		secret: cfg.Secret,
		expiry: cfg.Expiry,
		issuer: cfg.Issuer,
	}
}

// Sign produces a signed token embedding the subject, optional email and
// name, the issue time, and an expiry.
func (c *Codec) Sign(subjectID, email, name string) (string, error) {
	if subjectID == "" {
		return "", ErrInvalidToken
	}

	now := time.Now()
	claims := Claims{
		Email: email,
		Name:  name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.expiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(c.secret))
}

// Verify parses and validates a session token. It fails closed: a
// malformed token, a bad signature, a missing subject, or an expired
// token all yield an error and never a partial payload.
func (c *Codec) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(c.secret), nil
	})

	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Subject == "" || claims.ExpiresAt == nil {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// Expiry returns the configured session lifetime
func (c *Codec) Expiry() time.Duration {
	return c.expiry
}
