package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/satriadamar/komikvault/internal/session"
	"github.com/satriadamar/komikvault/internal/store"
	"github.com/satriadamar/komikvault/internal/throttle"
)

// mockAccountRepository implements store.AccountRepository for testing
type mockAccountRepository struct {
	accounts map[string]*store.Account // keyed by lowercase email
	err      error
}

func newMockAccountRepository() *mockAccountRepository {
	return &mockAccountRepository{accounts: make(map[string]*store.Account)}
}

func (m *mockAccountRepository) add(email, password string) *store.Account {
	v := NewCredentialVerifier()
	hash, err := v.HashPassword(password)
	if err != nil {
		panic(err)
	}
	account := &store.Account{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: &hash,
		CreatedAt:    time.Now().UTC(),
	}
	m.accounts[strings.ToLower(email)] = account
	return account
}

func (m *mockAccountRepository) GetByEmail(_ context.Context, email string) (*store.Account, error) {
	if m.err != nil {
		return nil, m.err
	}
	if account, ok := m.accounts[strings.ToLower(email)]; ok {
		return account, nil
	}
	return nil, store.ErrAccountNotFound
}

func (m *mockAccountRepository) GetByID(_ context.Context, id uuid.UUID) (*store.Account, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, account := range m.accounts {
		if account.ID == id {
			return account, nil
		}
	}
	return nil, store.ErrAccountNotFound
}

func (m *mockAccountRepository) UpdateLastLogin(_ context.Context, id uuid.UUID) error {
	for _, account := range m.accounts {
		if account.ID == id {
			now := time.Now().UTC()
			account.LastLoginAt = &now
			return nil
		}
	}
	return store.ErrAccountNotFound
}

// mockMagicTokenRepository implements store.MagicTokenRepository for testing
type mockMagicTokenRepository struct {
	byHash map[string]*store.MagicToken
}

func newMockMagicTokenRepository() *mockMagicTokenRepository {
	return &mockMagicTokenRepository{byHash: make(map[string]*store.MagicToken)}
}

func (m *mockMagicTokenRepository) Create(_ context.Context, token *store.MagicToken) error {
	token.ID = uuid.New()
	token.CreatedAt = time.Now().UTC()
	m.byHash[token.TokenHash] = token
	return nil
}

func (m *mockMagicTokenRepository) Redeem(_ context.Context, tokenHash string) (*store.MagicToken, error) {
	token, ok := m.byHash[tokenHash]
	if !ok {
		return nil, store.ErrMagicTokenNotFound
	}
	if token.RedeemedAt != nil {
		return nil, store.ErrMagicTokenRedeemed
	}
	if time.Now().UTC().After(token.ExpiresAt) {
		return nil, store.ErrMagicTokenNotFound
	}
	now := time.Now().UTC()
	token.RedeemedAt = &now
	return token, nil
}

func (m *mockMagicTokenRepository) DeleteExpired(_ context.Context) (int64, error) {
	return 0, nil
}

type serviceFixture struct {
	service  *Service
	accounts *mockAccountRepository
	tokens   *mockMagicTokenRepository
	codec    *session.Codec
	backoff  *throttle.LoginBackoff
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	accounts := newMockAccountRepository()
	tokens := newMockMagicTokenRepository()
	codec := session.NewCodec(session.CodecConfig{
		Secret: "test-session-secret-key-32-chars",
		Expiry: time.Hour,
		Issuer: "komikvault-test",
	})
	backoff := throttle.NewLoginBackoff()
	t.Cleanup(backoff.Close)

	service := NewService(
		accounts,
		tokens,
		NewCredentialVerifier(),
		codec,
		NewMagicTokenIssuer("test-magic-secret-key-32-chars!!", "komikvault-test"),
		backoff,
		15*time.Minute,
		nil,
	)

	return &serviceFixture{
		service:  service,
		accounts: accounts,
		tokens:   tokens,
		codec:    codec,
		backoff:  backoff,
	}
}

func TestLogin_Success(t *testing.T) {
	f := newServiceFixture(t)
	created := f.accounts.add("reader@example.com", "Str0ng-password!")

	account, token, err := f.service.Login(context.Background(), "reader@example.com", "Str0ng-password!", "1.2.3.4")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if account.ID != created.ID {
		t.Error("returned account does not match")
	}

	claims, err := f.codec.Verify(token)
	if err != nil {
		t.Fatalf("session token does not verify: %v", err)
	}
	if claims.SubjectID() != created.ID.String() {
		t.Errorf("session subject: want %s, got %s", created.ID, claims.SubjectID())
	}
	if account.LastLoginAt == nil {
		t.Error("last login not updated")
	}
}

func TestLogin_CaseInsensitiveEmail(t *testing.T) {
	f := newServiceFixture(t)
	f.accounts.add("reader@example.com", "Str0ng-password!")

	if _, _, err := f.service.Login(context.Background(), " Reader@Example.COM ", "Str0ng-password!", "1.2.3.4"); err != nil {
		t.Fatalf("login with unnormalized email failed: %v", err)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	f := newServiceFixture(t)
	f.accounts.add("reader@example.com", "Str0ng-password!")

	_, _, err := f.service.Login(context.Background(), "reader@example.com", "wrong", "1.2.3.4")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("want ErrInvalidCredentials, got %v", err)
	}
}

func TestLogin_UnknownEmailIndistinguishable(t *testing.T) {
	f := newServiceFixture(t)
	f.accounts.add("reader@example.com", "Str0ng-password!")

	_, _, errUnknown := f.service.Login(context.Background(), "nobody@example.com", "whatever", "1.2.3.4")
	_, _, errWrong := f.service.Login(context.Background(), "reader@example.com", "wrong", "1.2.3.4")

	if !errors.Is(errUnknown, ErrInvalidCredentials) || !errors.Is(errWrong, ErrInvalidCredentials) {
		t.Fatal("unknown account and wrong password must return the same error")
	}
}

func TestLogin_StoreErrorFailsClosed(t *testing.T) {
	f := newServiceFixture(t)
	f.accounts.err = errors.New("connection refused")

	_, _, err := f.service.Login(context.Background(), "reader@example.com", "whatever", "1.2.3.4")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("store failure must deny, got %v", err)
	}
}

func TestLogin_ThrottledAfterRepeatedFailures(t *testing.T) {
	f := newServiceFixture(t)
	f.accounts.add("reader@example.com", "Str0ng-password!")

	// first failure registers a counter; the recommended delay has not
	// elapsed, so the immediate retry is throttled
	if _, _, err := f.service.Login(context.Background(), "reader@example.com", "wrong", "1.2.3.4"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("want ErrInvalidCredentials, got %v", err)
	}

	_, _, err := f.service.Login(context.Background(), "reader@example.com", "wrong", "1.2.3.4")
	var throttled *ThrottledError
	if !errors.As(err, &throttled) {
		t.Fatalf("want ThrottledError, got %v", err)
	}
	if throttled.RetryAfter <= 0 || throttled.RetryAfter > 5*time.Second {
		t.Errorf("retry after out of range: %v", throttled.RetryAfter)
	}

	// a different (ip, email) pair is unaffected
	if _, _, err := f.service.Login(context.Background(), "reader@example.com", "Str0ng-password!", "5.6.7.8"); err != nil {
		t.Fatalf("different ip throttled: %v", err)
	}
}

func TestLogin_SuccessResetsBackoff(t *testing.T) {
	f := newServiceFixture(t)
	f.accounts.add("reader@example.com", "Str0ng-password!")

	f.service.Login(context.Background(), "reader@example.com", "wrong", "1.2.3.4")
	time.Sleep(250 * time.Millisecond)

	if _, _, err := f.service.Login(context.Background(), "reader@example.com", "Str0ng-password!", "1.2.3.4"); err != nil {
		t.Fatalf("login after waiting out the delay failed: %v", err)
	}

	key := throttle.LoginKey("1.2.3.4", "reader@example.com")
	if got := f.backoff.FailCount(key); got != 0 {
		t.Errorf("fail count after successful login: want 0, got %d", got)
	}
}

func TestLogin_AccountWithoutPasswordHash(t *testing.T) {
	f := newServiceFixture(t)
	account := f.accounts.add("magic-only@example.com", "placeholder")
	account.PasswordHash = nil

	_, _, err := f.service.Login(context.Background(), "magic-only@example.com", "anything", "1.2.3.4")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("account without hash must not authenticate by password, got %v", err)
	}
}

func TestMagicLink_RequestAndRedeem(t *testing.T) {
	f := newServiceFixture(t)
	created := f.accounts.add("reader@example.com", "Str0ng-password!")

	token, err := f.service.RequestMagicLink(context.Background(), "reader@example.com")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if token == "" {
		t.Fatal("no token issued for an existing account")
	}

	// only the hash was persisted
	record := f.tokens.byHash[HashToken(token)]
	if record == nil {
		t.Fatal("token hash not persisted")
	}
	if record.TokenHash == token {
		t.Error("token persisted verbatim")
	}

	account, sessionToken, err := f.service.RedeemMagicLink(context.Background(), token)
	if err != nil {
		t.Fatalf("redeem failed: %v", err)
	}
	if account.ID != created.ID {
		t.Error("redeemed account does not match")
	}
	if _, err := f.codec.Verify(sessionToken); err != nil {
		t.Errorf("session token from redemption does not verify: %v", err)
	}
}

func TestMagicLink_SingleUse(t *testing.T) {
	f := newServiceFixture(t)
	f.accounts.add("reader@example.com", "Str0ng-password!")

	token, err := f.service.RequestMagicLink(context.Background(), "reader@example.com")
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := f.service.RedeemMagicLink(context.Background(), token); err != nil {
		t.Fatalf("first redemption failed: %v", err)
	}
	if _, _, err := f.service.RedeemMagicLink(context.Background(), token); !errors.Is(err, ErrInvalidMagicToken) {
		t.Fatalf("replayed token must be rejected, got %v", err)
	}
}

func TestMagicLink_UnknownEmailIssuesNothing(t *testing.T) {
	f := newServiceFixture(t)

	token, err := f.service.RequestMagicLink(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("unknown email must not surface an error: %v", err)
	}
	if token != "" {
		t.Error("token issued for an unknown email")
	}
	if len(f.tokens.byHash) != 0 {
		t.Error("record persisted for an unknown email")
	}
}

func TestMagicLink_ForgedTokenRejected(t *testing.T) {
	f := newServiceFixture(t)
	f.accounts.add("reader@example.com", "Str0ng-password!")

	forged, _, err := NewMagicTokenIssuer("another-magic-secret-32-chars!!!", "komikvault-test").
		Issue("reader@example.com", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := f.service.RedeemMagicLink(context.Background(), forged); !errors.Is(err, ErrInvalidMagicToken) {
		t.Fatalf("forged token must be rejected, got %v", err)
	}
}
