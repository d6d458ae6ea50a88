package guard

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	appctx "github.com/satriadamar/komikvault/internal/context"
	"github.com/satriadamar/komikvault/internal/metrics"
	"github.com/satriadamar/komikvault/internal/store"
)

// APIKeyHeader is the request header carrying the pre-shared automation key
const APIKeyHeader = "x-api-key"

// errorResponse is the structured body for API-flavored guard failures
type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// RequireAuthAPI rejects unauthenticated requests with 401 JSON
func (g *Guard) RequireAuthAPI(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision := g.Check(r)
		if !decision.Authorized() {
			metrics.GuardDenialsTotal.WithLabelValues("unauthenticated").Inc()
			writeUnauthorized(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(appctx.WithSubject(r.Context(), decision.SubjectID, decision.Email)))
	})
}

// RequireAuthPage redirects unauthenticated requests to the login page
func (g *Guard) RequireAuthPage(loginURL string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := g.Check(r)
			if !decision.Authorized() {
				metrics.GuardDenialsTotal.WithLabelValues("unauthenticated").Inc()
				http.Redirect(w, r, loginURL, http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r.WithContext(appctx.WithSubject(r.Context(), decision.SubjectID, decision.Email)))
		})
	}
}

// RequireUserAPI is RequireAuthAPI with a guaranteed usable identity:
// handlers behind it can parse the context subject id as a UUID without
// a second check.
func (g *Guard) RequireUserAPI(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision := g.CheckUser(r)
		if !decision.Authorized() {
			metrics.GuardDenialsTotal.WithLabelValues("unauthenticated").Inc()
			writeUnauthorized(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(appctx.WithSubject(r.Context(), decision.SubjectID, decision.Email)))
	})
}

// RequireUserPage is the page-flavored counterpart of RequireUserAPI
func (g *Guard) RequireUserPage(loginURL string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := g.CheckUser(r)
			if !decision.Authorized() {
				metrics.GuardDenialsTotal.WithLabelValues("unauthenticated").Inc()
				http.Redirect(w, r, loginURL, http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r.WithContext(appctx.WithSubject(r.Context(), decision.SubjectID, decision.Email)))
		})
	}
}

// RequireRoleAPI rejects requests whose role is not in allowed:
// 401 when unauthenticated, 403 when the role is insufficient.
func (g *Guard) RequireRoleAPI(allowed ...store.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := g.CheckRole(r, allowed...)
			switch decision.Status {
			case StatusUnauthenticated:
				metrics.GuardDenialsTotal.WithLabelValues("unauthenticated").Inc()
				writeUnauthorized(w)
				return
			case StatusForbidden:
				if !decision.DependencyError {
					metrics.GuardDenialsTotal.WithLabelValues("forbidden").Inc()
				}
				writeForbidden(w)
				return
			}
			ctx := appctx.WithSubject(r.Context(), decision.SubjectID, decision.Email)
			ctx = appctx.WithRole(ctx, string(decision.Role))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRolePage is the page-flavored counterpart of RequireRoleAPI:
// redirect when unauthenticated, a plain 403 page when forbidden.
func (g *Guard) RequireRolePage(loginURL string, allowed ...store.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := g.CheckRole(r, allowed...)
			switch decision.Status {
			case StatusUnauthenticated:
				metrics.GuardDenialsTotal.WithLabelValues("unauthenticated").Inc()
				http.Redirect(w, r, loginURL, http.StatusSeeOther)
				return
			case StatusForbidden:
				if !decision.DependencyError {
					metrics.GuardDenialsTotal.WithLabelValues("forbidden").Inc()
				}
				http.Error(w, "not allowed", http.StatusForbidden)
				return
			}
			ctx := appctx.WithSubject(r.Context(), decision.SubjectID, decision.Email)
			ctx = appctx.WithRole(ctx, string(decision.Role))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdminAPI is RequireRoleAPI restricted to the admin role
func (g *Guard) RequireAdminAPI() func(http.Handler) http.Handler {
	return g.RequireRoleAPI(store.RoleAdmin)
}

// RequireAdminPage is RequireRolePage restricted to the admin role
func (g *Guard) RequireAdminPage(loginURL string) func(http.Handler) http.Handler {
	return g.RequireRolePage(loginURL, store.RoleAdmin)
}

// AllowAPIKey lets automation requests bypass the wrapped session guard
// when the x-api-key header exactly matches the configured key. The
// request context is marked as automation and carries no subject id, so
// the action is attributed to no human moderator. An empty configured
// key disables the bypass.
func AllowAPIKey(apiKey string, sessionGuard func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		guarded := sessionGuard(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get(APIKeyHeader)
			if apiKey != "" && presented != "" &&
				subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) == 1 {
				next.ServeHTTP(w, r.WithContext(appctx.WithAutomation(r.Context())))
				return
			}
			guarded.ServeHTTP(w, r)
		})
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(errorResponse{OK: false, Error: "unauthorized"})
}

func writeForbidden(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(errorResponse{OK: false, Error: "forbidden"})
}
