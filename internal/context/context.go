package context

import (
	"context"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// SubjectIDKey is the context key for the authenticated subject id
	SubjectIDKey ContextKey = "subject_id"
	// EmailKey is the context key for the subject email
	EmailKey ContextKey = "email"
	// RoleKey is the context key for the resolved role
	RoleKey ContextKey = "role"
	// AutomationKey marks a request authorized via the pre-shared API key.
	// Such requests carry no subject id: the action is performed by "no
	// human moderator" and must not be attributed to a user.
	AutomationKey ContextKey = "automation"
)

// WithSubject returns a context carrying the authenticated subject id and email
func WithSubject(ctx context.Context, subjectID, email string) context.Context {
	ctx = context.WithValue(ctx, SubjectIDKey, subjectID)
	if email != "" {
		ctx = context.WithValue(ctx, EmailKey, email)
	}
	return ctx
}

// WithRole returns a context carrying the resolved role
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, RoleKey, role)
}

// WithAutomation marks the context as API-key authorized
func WithAutomation(ctx context.Context) context.Context {
	return context.WithValue(ctx, AutomationKey, true)
}

// SubjectID extracts the subject id from the request context
func SubjectID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(SubjectIDKey).(string)
	return id, ok
}

// Email extracts the subject email from the request context
func Email(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(EmailKey).(string)
	return email, ok
}

// Role extracts the resolved role from the request context
func Role(ctx context.Context) (string, bool) {
	role, ok := ctx.Value(RoleKey).(string)
	return role, ok
}

// IsAutomation reports whether the request was authorized via the API key
func IsAutomation(ctx context.Context) bool {
	v, ok := ctx.Value(AutomationKey).(bool)
	return ok && v
}
