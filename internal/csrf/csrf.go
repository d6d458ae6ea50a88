// Package csrf validates the declared origin of state-changing requests
// against the set of origins this deployment trusts.
package csrf

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/satriadamar/komikvault/internal/metrics"
)

// localOrigins is the fixed allowlist for local development
var localOrigins = []string{
	"http://localhost:3000",
	"http://localhost:8080",
	"http://127.0.0.1:3000",
	"http://127.0.0.1:8080",
}

// rejectionResponse echoes the allowed set so a misconfigured deployment
// is debuggable from the client side. It leaks no secret, only
// configuration the deployment's own headers already imply.
type rejectionResponse struct {
	OK      bool     `json:"ok"`
	Error   string   `json:"error"`
	Origin  string   `json:"origin"`
	Referer string   `json:"referer"`
	Allowed []string `json:"allowed"`
}

// Validator rejects state-changing requests whose declared origin is
// not trusted.
type Validator struct {
	configured []string
	logger     *slog.Logger
}

// New creates a Validator from the configured trusted-origin list
func New(configured []string, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{configured: configured, logger: logger}
}

// TrustedOrigins assembles the trusted set for this request: the local
// development allowlist, the configured origins, and the origin implied
// by the request's own forwarded-proto/forwarded-host headers. The set
// is rebuilt per request because forwarded host and proto legitimately
// vary across deployment edges; a static set computed at startup would
// reject the deployment's own traffic.
func (v *Validator) TrustedOrigins(r *http.Request) []string {
	origins := make([]string, 0, len(localOrigins)+len(v.configured)+1)
	origins = append(origins, localOrigins...)
	origins = append(origins, v.configured...)

	if self := selfOrigin(r); self != "" {
		origins = append(origins, self)
	}
	return origins
}

// selfOrigin derives the origin this request was addressed to, preferring
// the reverse proxy's forwarded headers over the direct connection.
func selfOrigin(r *http.Request) string {
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	if host == "" {
		return ""
	}
	if i := strings.IndexByte(host, ','); i >= 0 {
		host = strings.TrimSpace(host[:i])
	}

	proto := r.Header.Get("X-Forwarded-Proto")
	if proto == "" {
		if r.TLS != nil {
			proto = "https"
		} else {
			proto = "http"
		}
	}

	return proto + "://" + host
}

// Validate reports whether the request's declared origin is trusted.
// Requests with neither Origin nor Referer pass: same-site form posts
// and non-browser automation clients legitimately omit both. This is a
// deliberate, narrow relaxation, not a general bypass.
func (v *Validator) Validate(r *http.Request) (ok bool, origin, referer string, allowed []string) {
	origin = r.Header.Get("Origin")
	referer = r.Header.Get("Referer")
	allowed = v.TrustedOrigins(r)

	declared := origin
	if declared == "" {
		declared = refererOrigin(referer)
	}
	if declared == "" {
		return true, origin, referer, allowed
	}

	declared = strings.TrimSuffix(declared, "/")
	for _, a := range allowed {
		if strings.EqualFold(declared, a) {
			return true, origin, referer, allowed
		}
	}
	return false, origin, referer, allowed
}

// refererOrigin reduces a full referer URL to its origin
func refererOrigin(referer string) string {
	if referer == "" {
		return ""
	}
	u, err := url.Parse(referer)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// Middleware rejects state-changing requests that fail origin
// validation with a structured 403. Safe methods pass through.
func (v *Validator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			next.ServeHTTP(w, r)
			return
		}

		ok, origin, referer, allowed := v.Validate(r)
		if !ok {
			metrics.CSRFRejectionsTotal.Inc()
			v.logger.Warn("rejected request from untrusted origin",
				"origin", origin,
				"referer", referer,
				"path", r.URL.Path,
			)

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(rejectionResponse{
				OK:      false,
				Error:   "invalid_origin",
				Origin:  origin,
				Referer: referer,
				Allowed: allowed,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
