package csrf

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware_RejectsUntrustedOrigin(t *testing.T) {
	v := New([]string{"https://app.example"}, nil)
	handler := v.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "https://app.example/api/v1/comments", nil)
	req.Host = "app.example"
	req.Header.Set("Origin", "https://evil.example")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("want 403, got %d", rec.Code)
	}

	var body rejectionResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.OK || body.Error != "invalid_origin" {
		t.Errorf("unexpected body: %+v", body)
	}
	if body.Origin != "https://evil.example" {
		t.Errorf("body should echo the rejected origin, got %q", body.Origin)
	}
	if len(body.Allowed) == 0 {
		t.Error("body should echo the allowed set")
	}
}

func TestMiddleware_AcceptsConfiguredOrigin(t *testing.T) {
	v := New([]string{"https://app.example"}, nil)
	handler := v.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "https://other.example/api/v1/comments", nil)
	req.Header.Set("Origin", "https://app.example")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
}

func TestMiddleware_AcceptsForwardedSelfOrigin(t *testing.T) {
	// No configured origins at all: the deployment must still trust the
	// origin its own edge reports via forwarded headers.
	v := New(nil, nil)
	handler := v.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "http://internal:8080/api/v1/comments", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "komikvault.id")
	req.Header.Set("Origin", "https://komikvault.id")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
}

// Requests with neither Origin nor Referer are accepted. This is the
// documented relaxation for same-site form posts and API-key clients,
// not a general bypass: any declared origin is still validated.
func TestMiddleware_AcceptsAbsentOriginAndReferer(t *testing.T) {
	v := New([]string{"https://app.example"}, nil)
	handler := v.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "https://app.example/api/v1/comments", nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
}

func TestMiddleware_RefererFallback(t *testing.T) {
	v := New([]string{"https://app.example"}, nil)
	handler := v.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "https://other.example/api/v1/comments", nil)
	req.Header.Set("Referer", "https://app.example/titles/123")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("trusted referer rejected: %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "https://other.example/api/v1/comments", nil)
	req.Host = "other.example"
	req.Header.Set("Referer", "https://evil.example/titles/123")

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("untrusted referer accepted: %d", rec.Code)
	}
}

func TestMiddleware_SafeMethodsSkipValidation(t *testing.T) {
	v := New(nil, nil)
	handler := v.Middleware(okHandler())

	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		req := httptest.NewRequest(method, "https://app.example/titles", nil)
		req.Header.Set("Origin", "https://evil.example")

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s request was origin-validated: %d", method, rec.Code)
		}
	}
}

func TestMiddleware_AcceptsLocalDevelopmentOrigin(t *testing.T) {
	v := New(nil, nil)
	handler := v.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "http://localhost:8080/api/v1/comments", nil)
	req.Header.Set("Origin", "http://localhost:3000")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("local development origin rejected: %d", rec.Code)
	}
}

func TestTrustedOrigins_RebuiltPerRequest(t *testing.T) {
	v := New(nil, nil)

	reqA := httptest.NewRequest(http.MethodPost, "http://edge/api", nil)
	reqA.Header.Set("X-Forwarded-Proto", "https")
	reqA.Header.Set("X-Forwarded-Host", "id.komikvault.example")

	reqB := httptest.NewRequest(http.MethodPost, "http://edge/api", nil)
	reqB.Header.Set("X-Forwarded-Proto", "https")
	reqB.Header.Set("X-Forwarded-Host", "sg.komikvault.example")

	containsOrigin := func(origins []string, want string) bool {
		for _, o := range origins {
			if o == want {
				return true
			}
		}
		return false
	}

	if !containsOrigin(v.TrustedOrigins(reqA), "https://id.komikvault.example") {
		t.Error("request A's own forwarded origin not trusted")
	}
	if !containsOrigin(v.TrustedOrigins(reqB), "https://sg.komikvault.example") {
		t.Error("request B's own forwarded origin not trusted")
	}
}
