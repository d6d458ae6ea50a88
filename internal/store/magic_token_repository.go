package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Magic token repository errors
var (
	ErrMagicTokenNotFound = errors.New("magic token not found")
	ErrMagicTokenRedeemed = errors.New("magic token already redeemed")
)

// MagicTokenRepository persists magic-link token hashes and enforces
// single-use redemption. The signed token itself never touches storage.
type MagicTokenRepository interface {
	Create(ctx context.Context, token *MagicToken) error
	// Redeem marks the token identified by its hash as redeemed. It is
	// atomic: only the first call for a given hash succeeds, any later
	// call returns ErrMagicTokenRedeemed.
	Redeem(ctx context.Context, tokenHash string) (*MagicToken, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

// magicTokenRepository implements MagicTokenRepository using PostgreSQL
type magicTokenRepository struct {
	pool *pgxpool.Pool
}

// NewMagicTokenRepository creates a new MagicTokenRepository instance
func NewMagicTokenRepository(pool *pgxpool.Pool) MagicTokenRepository {
	return &magicTokenRepository{pool: pool}
}

// Create inserts a new magic token record
func (r *magicTokenRepository) Create(ctx context.Context, token *MagicToken) error {
	query := `
		INSERT INTO magic_tokens (email, token_hash, nonce, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	return r.pool.QueryRow(ctx, query,
		strings.ToLower(strings.TrimSpace(token.Email)),
		token.TokenHash,
		token.Nonce,
		token.ExpiresAt,
	).Scan(&token.ID, &token.CreatedAt)
}

// Redeem atomically marks an unredeemed token as redeemed and returns it.
// The UPDATE's WHERE clause is the single-use gate: a concurrent second
// redeem matches zero rows and falls through to the already-redeemed check.
func (r *magicTokenRepository) Redeem(ctx context.Context, tokenHash string) (*MagicToken, error) {
	query := `
		UPDATE magic_tokens
		SET redeemed_at = $1
		WHERE token_hash = $2 AND redeemed_at IS NULL AND expires_at > $1
		RETURNING id, email, token_hash, nonce, expires_at, redeemed_at, created_at
	`

	now := time.Now().UTC()
	token := &MagicToken{}
	err := r.pool.QueryRow(ctx, query, now, tokenHash).Scan(
		&token.ID,
		&token.Email,
		&token.TokenHash,
		&token.Nonce,
		&token.ExpiresAt,
		&token.RedeemedAt,
		&token.CreatedAt,
	)

	if err == nil {
		return token, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	// Distinguish "already redeemed" from "never existed / expired" so the
	// caller can log replay attempts distinctly. Both fail the redemption.
	var exists bool
	checkQuery := `
		SELECT EXISTS(
			SELECT 1 FROM magic_tokens
			WHERE token_hash = $1 AND redeemed_at IS NOT NULL
		)
	`
	if checkErr := r.pool.QueryRow(ctx, checkQuery, tokenHash).Scan(&exists); checkErr != nil {
		return nil, checkErr
	}
	if exists {
		return nil, ErrMagicTokenRedeemed
	}
	return nil, ErrMagicTokenNotFound
}

// DeleteExpired removes expired, unredeemed magic tokens
func (r *magicTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM magic_tokens WHERE expires_at < $1`

	result, err := r.pool.Exec(ctx, query, time.Now().UTC())
	if err != nil {
		return 0, err
	}

	return result.RowsAffected(), nil
}
