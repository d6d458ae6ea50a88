package auth

import (
	"golang.org/x/crypto/bcrypt"
)

// BcryptCost is the work factor for bcrypt hashing
const BcryptCost = 12

// CredentialVerifier handles password hashing and verification
type CredentialVerifier struct{}

// NewCredentialVerifier creates a new CredentialVerifier instance
func NewCredentialVerifier() *CredentialVerifier {
	return &CredentialVerifier{}
}

// HashPassword creates a bcrypt hash of the password
func (v *CredentialVerifier) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword reports whether the password matches the stored hash.
// An empty or absent hash means "cannot authenticate" and returns false;
// it is never an error to propagate.
func (v *CredentialVerifier) VerifyPassword(password, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
