package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/satriadamar/komikvault/internal/guard"
	"github.com/satriadamar/komikvault/internal/session"
	"github.com/satriadamar/komikvault/internal/store"
	"github.com/satriadamar/komikvault/internal/throttle"
)

// stubProfileRepository implements store.ProfileRepository for testing
type stubProfileRepository struct {
	roles map[uuid.UUID]store.Role
}

func (s *stubProfileRepository) RoleFor(_ context.Context, subjectID uuid.UUID) (store.Role, error) {
	if role, ok := s.roles[subjectID]; ok {
		return role, nil
	}
	return store.RoleUser, nil
}

func (s *stubProfileRepository) GetBySubject(_ context.Context, subjectID uuid.UUID) (*store.Profile, error) {
	if role, ok := s.roles[subjectID]; ok {
		return &store.Profile{UserID: subjectID, Role: role}, nil
	}
	return nil, store.ErrProfileNotFound
}

// Login with correct credentials sets the session cookie; a subsequent
// guarded request bearing that cookie resolves to the same subject.
func TestEndToEnd_LoginThenGuardedRequest(t *testing.T) {
	accounts := newMockAccountRepository()
	created := accounts.add("reader@example.com", "Str0ng-password!")

	codec := session.NewCodec(session.CodecConfig{
		Secret: "test-session-secret-key-32-chars",
		Expiry: time.Hour,
		Issuer: "komikvault-test",
	})
	cookies := session.NewCookieTransport("kv_session", time.Hour, false)
	backoff := throttle.NewLoginBackoff()
	defer backoff.Close()

	service := NewService(
		accounts,
		newMockMagicTokenRepository(),
		NewCredentialVerifier(),
		codec,
		NewMagicTokenIssuer("test-magic-secret-key-32-chars!!", "komikvault-test"),
		backoff,
		15*time.Minute,
		nil,
	)

	profiles := &stubProfileRepository{roles: map[uuid.UUID]store.Role{}}
	handler := NewHandler(service, cookies, profiles, nil)
	g := guard.New(cookies, codec, profiles, nil)

	r := chi.NewRouter()
	RegisterRoutes(r, handler, g.RequireAuthAPI, func(next http.Handler) http.Handler { return next })

	// login
	body, _ := json.Marshal(LoginRequest{Email: "reader@example.com", Password: "Str0ng-password!"})
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
	req.RemoteAddr = "1.2.3.4:5678"
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login: want 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	var sessionCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "kv_session" && c.Value != "" {
			sessionCookie = c
		}
	}
	if sessionCookie == nil {
		t.Fatal("login did not set the session cookie")
	}
	if !sessionCookie.HttpOnly {
		t.Error("session cookie must be HttpOnly")
	}

	// guarded request with the cookie
	req = httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(sessionCookie)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("guarded request: want 200, got %d", rec.Code)
	}

	var me struct {
		OK   bool         `json:"ok"`
		User UserResponse `json:"user"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&me); err != nil {
		t.Fatalf("decoding /me: %v", err)
	}
	if me.User.ID != created.ID.String() {
		t.Errorf("subject drift: login issued %s, guard resolved %s", created.ID, me.User.ID)
	}

	// guarded request without the cookie stays denied
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/me", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated /me: want 401, got %d", rec.Code)
	}
}

// Five consecutive failures produce increasing capped delays; a later
// successful login resets the counter to the first-attempt delay.
func TestEndToEnd_BackoffAcrossLogins(t *testing.T) {
	accounts := newMockAccountRepository()
	accounts.add("reader@example.com", "Str0ng-password!")

	backoff := throttle.NewLoginBackoff()
	defer backoff.Close()

	codec := session.NewCodec(session.CodecConfig{
		Secret: "test-session-secret-key-32-chars",
		Expiry: time.Hour,
		Issuer: "komikvault-test",
	})

	service := NewService(
		accounts,
		newMockMagicTokenRepository(),
		NewCredentialVerifier(),
		codec,
		NewMagicTokenIssuer("test-magic-secret-key-32-chars!!", "komikvault-test"),
		backoff,
		15*time.Minute,
		nil,
	)

	key := throttle.LoginKey("1.2.3.4", "reader@example.com")

	// drive the counter directly to observe the delay sequence without
	// waiting out each recommended delay in real time
	firstDelay := backoff.RegisterFail(key)
	prev := firstDelay
	for i := 0; i < 4; i++ {
		delay := backoff.RegisterFail(key)
		if delay < prev {
			t.Fatalf("delay decreased: %v after %v", delay, prev)
		}
		if delay > 5*time.Second {
			t.Fatalf("delay %v exceeds cap", delay)
		}
		prev = delay
	}
	if prev <= firstDelay {
		t.Fatalf("delays did not grow: first %v, fifth %v", firstDelay, prev)
	}

	// the service refuses the next attempt while the delay is pending
	_, _, err := service.Login(context.Background(), "reader@example.com", "Str0ng-password!", "1.2.3.4")
	var throttled *ThrottledError
	if !errors.As(err, &throttled) {
		t.Fatalf("want ThrottledError while delay pending, got %v", err)
	}

	// successful login after the delay clears the counter
	backoff.Reset(key)
	if _, _, err := service.Login(context.Background(), "reader@example.com", "Str0ng-password!", "1.2.3.4"); err != nil {
		t.Fatalf("login after reset failed: %v", err)
	}

	if got := backoff.RegisterFail(key); got != firstDelay {
		t.Fatalf("delay after reset: want first-attempt delay %v, got %v", firstDelay, got)
	}
}
