// Package guard implements the layered authorization checks every
// protected page and API route runs through. One pure policy produces a
// tagged decision; thin page and API adapters translate it into a
// redirect or a structured response, so the two surfaces can never
// drift apart on the underlying decision.
package guard

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/satriadamar/komikvault/internal/metrics"
	"github.com/satriadamar/komikvault/internal/session"
	"github.com/satriadamar/komikvault/internal/store"
)

// Status is the outcome tag of an authorization decision
type Status int

const (
	// StatusAuthorized means the request carries a valid session and,
	// when a role was required, an allowed role.
	StatusAuthorized Status = iota
	// StatusUnauthenticated means no usable session was presented
	StatusUnauthenticated
	// StatusForbidden means the session is valid but the role is not allowed
	StatusForbidden
)

// Decision is the ephemeral, per-request authorization result. It is
// recomputed from the cookie on every request and never persisted.
type Decision struct {
	Status    Status
	SubjectID string
	Email     string
	Name      string
	Role      store.Role
	// DependencyError marks a denial caused by a collaborator failure
	// (role lookup error) rather than by the caller's credentials. The
	// caller is denied either way, but operators can tell the two apart.
	DependencyError bool
}

// Authorized reports whether the decision allows the request
func (d Decision) Authorized() bool {
	return d.Status == StatusAuthorized
}

// RoleResolver loads the role for a subject
type RoleResolver interface {
	RoleFor(ctx context.Context, subjectID uuid.UUID) (store.Role, error)
}

// Guard evaluates authorization decisions from the session cookie
type Guard struct {
	cookies *session.CookieTransport
	codec   *session.Codec
	roles   RoleResolver
	logger  *slog.Logger
}

// New creates a Guard
func New(cookies *session.CookieTransport, codec *session.Codec, roles RoleResolver, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		cookies: cookies,
		codec:   codec,
		roles:   roles,
		logger:  logger,
	}
}

// Check resolves the session from the request cookie. It does not load
// the role; use CheckRole when the route needs one. Any ambiguity
// (missing cookie, unverifiable token) resolves to Unauthenticated.
func (g *Guard) Check(r *http.Request) Decision {
	token, ok := g.cookies.Read(r)
	if !ok {
		return Decision{Status: StatusUnauthenticated}
	}

	claims, err := g.codec.Verify(token)
	if err != nil {
		return Decision{Status: StatusUnauthenticated}
	}

	return Decision{
		Status:    StatusAuthorized,
		SubjectID: claims.SubjectID(),
		Email:     claims.Email,
		Name:      claims.Name,
	}
}

// CheckUser is Check with the extra guarantee that the decision carries
// a usable identity: an Authorized decision always has a subject id that
// parses as a UUID. Personalized read paths use this instead of Check so
// they never have to re-validate the id themselves.
func (g *Guard) CheckUser(r *http.Request) Decision {
	decision := g.Check(r)
	if decision.Status != StatusAuthorized {
		return decision
	}
	if _, err := uuid.Parse(decision.SubjectID); err != nil {
		return Decision{Status: StatusUnauthenticated}
	}
	return decision
}

// CheckRole resolves the session and then the subject's role, requiring
// it to be one of allowed. A role-store failure fails closed: the
// request is Forbidden, with DependencyError set so the denial is logged
// as a dependency problem, not a user one.
func (g *Guard) CheckRole(r *http.Request, allowed ...store.Role) Decision {
	decision := g.Check(r)
	if decision.Status != StatusAuthorized {
		return decision
	}

	subjectID, err := uuid.Parse(decision.SubjectID)
	if err != nil {
		return Decision{Status: StatusUnauthenticated}
	}

	role, err := g.roles.RoleFor(r.Context(), subjectID)
	if err != nil {
		g.logger.Error("role resolution failed, denying request",
			"subject_id", decision.SubjectID,
			"error", err,
		)
		decision.Status = StatusForbidden
		decision.DependencyError = true
		metrics.GuardDenialsTotal.WithLabelValues("dependency_error").Inc()
		return decision
	}

	decision.Role = role
	for _, a := range allowed {
		if role == a {
			return decision
		}
	}

	decision.Status = StatusForbidden
	return decision
}

// CheckAdmin requires the role to be exactly admin. It is defined in
// terms of CheckRole so the page gate and the API gate can never apply
// a different role check.
func (g *Guard) CheckAdmin(r *http.Request) Decision {
	return g.CheckRole(r, store.RoleAdmin)
}
