package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/satriadamar/komikvault/internal/metrics"
	"github.com/satriadamar/komikvault/internal/session"
	"github.com/satriadamar/komikvault/internal/store"
	"github.com/satriadamar/komikvault/internal/throttle"
)

// Auth service errors
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidEmail       = errors.New("invalid email format")
)

// ThrottledError signals that the caller must wait before the next
// attempt for this (ip, email) pair. It is distinct from a credential
// failure so clients can back off instead of retrying.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return "too many failed login attempts"
}

// Service handles the login, logout, and magic-link flows
type Service struct {
	accounts    store.AccountRepository
	magicTokens store.MagicTokenRepository
	credentials *CredentialVerifier
	codec       *session.Codec
	magic       *MagicTokenIssuer
	backoff     *throttle.LoginBackoff
	magicTTL    time.Duration
	logger      *slog.Logger
}

// NewService creates a new auth Service
func NewService(
	accounts store.AccountRepository,
	magicTokens store.MagicTokenRepository,
	credentials *CredentialVerifier,
	codec *session.Codec,
	magic *MagicTokenIssuer,
	backoff *throttle.LoginBackoff,
	magicTTL time.Duration,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		accounts:    accounts,
		magicTokens: magicTokens,
		credentials: credentials,
		codec:       codec,
		magic:       magic,
		backoff:     backoff,
		magicTTL:    magicTTL,
		logger:      logger,
	}
}

// Login verifies credentials and returns the account with a signed
// session token. Failures for a given (ip, email) pair are throttled
// with exponential backoff; "no such account" and "wrong password" are
// indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password, ipAddress string) (*store.Account, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	key := throttle.LoginKey(ipAddress, email)

	if wait := s.backoff.RetryAfter(key); wait > 0 {
		metrics.LoginAttemptsTotal.WithLabelValues("throttled").Inc()
		return nil, "", &ThrottledError{RetryAfter: wait}
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			// register the failure without revealing that the account
			// does not exist
			s.backoff.RegisterFail(key)
			metrics.LoginAttemptsTotal.WithLabelValues("invalid_credentials").Inc()
			return nil, "", ErrInvalidCredentials
		}
		// collaborator failure: deny, but log it as an outage rather
		// than a user mistake
		s.logger.Error("account lookup failed during login", "error", err)
		metrics.LoginAttemptsTotal.WithLabelValues("error").Inc()
		return nil, "", ErrInvalidCredentials
	}

	storedHash := ""
	if account.PasswordHash != nil {
		storedHash = *account.PasswordHash
	}
	if !s.credentials.VerifyPassword(password, storedHash) {
		delay := s.backoff.RegisterFail(key)
		s.logger.Info("failed login attempt",
			"ip", ipAddress,
			"recommended_delay_ms", delay.Milliseconds(),
		)
		metrics.LoginAttemptsTotal.WithLabelValues("invalid_credentials").Inc()
		return nil, "", ErrInvalidCredentials
	}

	s.backoff.Reset(key)

	if err := s.accounts.UpdateLastLogin(ctx, account.ID); err != nil {
		s.logger.Warn("failed to update last login", "subject_id", account.ID, "error", err)
	}

	name := ""
	if account.Username != nil {
		name = *account.Username
	}
	token, err := s.codec.Sign(account.ID.String(), account.Email, name)
	if err != nil {
		metrics.LoginAttemptsTotal.WithLabelValues("error").Inc()
		return nil, "", err
	}

	metrics.LoginAttemptsTotal.WithLabelValues("success").Inc()
	return account, token, nil
}

// RequestMagicLink issues a magic-link token for the email and persists
// its hash for single-use redemption. The token is returned to the
// caller for delivery; only its hash touches storage. When no account
// exists for the email the call succeeds without issuing anything, so
// the endpoint cannot be used to enumerate accounts.
func (s *Service) RequestMagicLink(ctx context.Context, email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !isValidEmail(email) {
		return "", ErrInvalidEmail
	}

	if _, err := s.accounts.GetByEmail(ctx, email); err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return "", nil
		}
		return "", err
	}

	token, nonce, err := s.magic.Issue(email, s.magicTTL)
	if err != nil {
		return "", err
	}

	record := &store.MagicToken{
		Email:     email,
		TokenHash: HashToken(token),
		Nonce:     nonce,
		ExpiresAt: time.Now().UTC().Add(s.magicTTL),
	}
	if err := s.magicTokens.Create(ctx, record); err != nil {
		return "", err
	}

	return token, nil
}

// RedeemMagicLink verifies a magic-link token, consumes its single-use
// record, and returns the account with a signed session token. Replayed
// tokens are denied and logged distinctly from unknown ones.
func (s *Service) RedeemMagicLink(ctx context.Context, token string) (*store.Account, string, error) {
	email, nonce, err := s.magic.Verify(token)
	if err != nil {
		return nil, "", ErrInvalidMagicToken
	}

	record, err := s.magicTokens.Redeem(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, store.ErrMagicTokenRedeemed) {
			s.logger.Warn("magic token replay attempt", "email", email)
			return nil, "", ErrInvalidMagicToken
		}
		if errors.Is(err, store.ErrMagicTokenNotFound) {
			return nil, "", ErrInvalidMagicToken
		}
		s.logger.Error("magic token redemption failed", "error", err)
		return nil, "", ErrInvalidMagicToken
	}

	if record.Nonce != nonce || !strings.EqualFold(record.Email, email) {
		return nil, "", ErrInvalidMagicToken
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, "", ErrInvalidMagicToken
	}

	name := ""
	if account.Username != nil {
		name = *account.Username
	}
	sessionToken, err := s.codec.Sign(account.ID.String(), account.Email, name)
	if err != nil {
		return nil, "", err
	}

	return account, sessionToken, nil
}

// ResetBackoff clears the failed-attempt counter for an (ip, email)
// pair, used after an out-of-band successful authentication.
func (s *Service) ResetBackoff(ipAddress, email string) {
	s.backoff.Reset(throttle.LoginKey(ipAddress, email))
}

// isValidEmail checks if the email format is valid
func isValidEmail(email string) bool {
	if email == "" {
		return false
	}
	_, err := mail.ParseAddress(email)
	return err == nil
}
