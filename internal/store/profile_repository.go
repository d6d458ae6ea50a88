package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProfileRepository defines the interface for profile and role data access
type ProfileRepository interface {
	// RoleFor resolves the role for a subject. A subject with no profile
	// row resolves to RoleUser. The lookup is never cached: promotions
	// and demotions must take effect on the next request.
	RoleFor(ctx context.Context, subjectID uuid.UUID) (Role, error)
	GetBySubject(ctx context.Context, subjectID uuid.UUID) (*Profile, error)
}

// profileRepository implements ProfileRepository using PostgreSQL
type profileRepository struct {
	pool *pgxpool.Pool
}

// NewProfileRepository creates a new ProfileRepository instance
func NewProfileRepository(pool *pgxpool.Pool) ProfileRepository {
	return &profileRepository{pool: pool}
}

// RoleFor performs a left join from accounts to profiles so that an
// account without a profile still yields a row; the missing role scans
// as NULL and maps to RoleUser.
func (r *profileRepository) RoleFor(ctx context.Context, subjectID uuid.UUID) (Role, error) {
	query := `
		SELECT p.role
		FROM accounts a
		LEFT JOIN profiles p ON p.user_id = a.id
		WHERE a.id = $1
	`

	var role *string
	err := r.pool.QueryRow(ctx, query, subjectID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RoleUser, ErrAccountNotFound
		}
		return RoleUser, err
	}

	if role == nil {
		return RoleUser, nil
	}
	return ParseRole(*role), nil
}

// GetBySubject retrieves the profile row for a subject, if one exists
func (r *profileRepository) GetBySubject(ctx context.Context, subjectID uuid.UUID) (*Profile, error) {
	query := `
		SELECT user_id, role, display_name, avatar_url, created_at
		FROM profiles
		WHERE user_id = $1
	`

	profile := &Profile{}
	var role string
	err := r.pool.QueryRow(ctx, query, subjectID).Scan(
		&profile.UserID,
		&role,
		&profile.DisplayName,
		&profile.AvatarURL,
		&profile.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}

	profile.Role = ParseRole(role)
	return profile, nil
}

// ErrProfileNotFound is returned when a subject has no profile row
var ErrProfileNotFound = errors.New("profile not found")
