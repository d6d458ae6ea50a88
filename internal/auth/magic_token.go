package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Magic token errors
var (
	ErrInvalidMagicToken = errors.New("invalid or expired magic token")
)

// MagicClaims is the payload of a magic-link token. The nonce makes each
// issued token unique; single-use enforcement is the repository's job,
// keyed by the token's hash.
type MagicClaims struct {
	Email string `json:"email"`
	Nonce string `json:"nonce"`
	jwt.RegisteredClaims
}

// MagicTokenIssuer signs and verifies short-lived, nonce-bound tokens for
// passwordless login and verification flows. It is stateless: redemption
// bookkeeping lives with the caller.
type MagicTokenIssuer struct {
	secret string
	issuer string
}

// NewMagicTokenIssuer creates a new MagicTokenIssuer instance
func NewMagicTokenIssuer(secret, issuer string) *MagicTokenIssuer {
	return &MagicTokenIssuer{secret: secret, issuer: issuer}
}

// Issue signs a token for the given email with a fresh random nonce and
// the given time-to-live. Returns the token and its nonce.
func (m *MagicTokenIssuer) Issue(email string, ttl time.Duration) (token, nonce string, err error) {
	if email == "" {
		return "", "", ErrInvalidMagicToken
	}

	nonce = uuid.New().String()
	now := time.Now()

	claims := MagicClaims{
		Email: email,
		Nonce: nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(m.secret))
	if err != nil {
		return "", "", err
	}
	return signed, nonce, nil
}

// Verify parses and validates a magic token, returning its email and
// nonce. Fails closed on malformed, tampered, or expired tokens.
func (m *MagicTokenIssuer) Verify(tokenString string) (email, nonce string, err error) {
	token, err := jwt.ParseWithClaims(tokenString, &MagicClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(m.secret), nil
	})
	if err != nil {
		return "", "", ErrInvalidMagicToken
	}

	claims, ok := token.Claims.(*MagicClaims)
	if !ok || !token.Valid || claims.Email == "" || claims.Nonce == "" {
		return "", "", ErrInvalidMagicToken
	}

	return claims.Email, claims.Nonce, nil
}

// HashToken returns the SHA-256 hex digest of a token. Only this hash is
// ever persisted, so a compromised storage record cannot be replayed as
// a bearer token.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
