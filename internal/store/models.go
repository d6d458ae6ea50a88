package store

import (
	"time"

	"github.com/google/uuid"
)

// Role is the coarse-grained privilege level attached to a subject via
// its profile record.
type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// ParseRole maps a stored role string to a Role. Anything unrecognized,
// including the empty string from a missing profile row, maps to RoleUser:
// absence must never imply privilege.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleModerator:
		return RoleModerator
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleUser
	}
}

// Account represents a user account in the database. PasswordHash is nil
// for accounts created through the magic-link flow that never set one.
type Account struct {
	ID           uuid.UUID  `db:"id"`
	Email        string     `db:"email"`
	Username     *string    `db:"username"`
	PasswordHash *string    `db:"password_hash"`
	CreatedAt    time.Time  `db:"created_at"`
	LastLoginAt  *time.Time `db:"last_login_at"`
}

// Profile represents the one-to-zero-or-one profile row holding the
// account's role and display attributes.
type Profile struct {
	UserID      uuid.UUID `db:"user_id"`
	Role        Role      `db:"role"`
	DisplayName *string   `db:"display_name"`
	AvatarURL   *string   `db:"avatar_url"`
	CreatedAt   time.Time `db:"created_at"`
}

// MagicToken is the persisted record for a single-use magic-link token.
// Only the SHA-256 hash of the token is stored, never the token itself,
// so a read of this table alone cannot produce a valid bearer token.
type MagicToken struct {
	ID         uuid.UUID  `db:"id"`
	Email      string     `db:"email"`
	TokenHash  string     `db:"token_hash"`
	Nonce      string     `db:"nonce"`
	ExpiresAt  time.Time  `db:"expires_at"`
	RedeemedAt *time.Time `db:"redeemed_at"`
	CreatedAt  time.Time  `db:"created_at"`
}
