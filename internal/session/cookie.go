package session

import (
	"net/http"
	"time"
)

// legacyCookieNames are cookie names used by earlier releases. Clear
// expires them too so a logout from the current version also ends
// sessions issued before the rename.
var legacyCookieNames = []string{"komikvault_session", "kv_auth"}

// CookieTransport reads and writes the session token as an HTTP cookie
type CookieTransport struct {
	name   string
	maxAge time.Duration
	secure bool
}

// NewCookieTransport creates a new CookieTransport. The secure attribute
// is dropped only for local development deployments.
func NewCookieTransport(name string, maxAge time.Duration, secure bool) *CookieTransport {
	return &CookieTransport{
		name:   name,
		maxAge: maxAge,
		secure: secure,
	}
}

// Set writes the session token cookie on the response
func (t *CookieTransport) Set(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     t.name,
		Value:    token,
		Path:     "/",
		MaxAge:   int(t.maxAge.Seconds()),
		HttpOnly: true,
		Secure:   t.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Read returns the session token from the request cookie, if present.
// A missing cookie is not an error.
func (t *CookieTransport) Read(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(t.name)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

// Clear expires the session cookie and any legacy cookie names
func (t *CookieTransport) Clear(w http.ResponseWriter) {
	t.expire(w, t.name)
	for _, name := range legacyCookieNames {
		if name == t.name {
			continue
		}
		t.expire(w, name)
	}
}

func (t *CookieTransport) expire(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   t.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Name returns the canonical cookie name
func (t *CookieTransport) Name() string {
	return t.name
}
