package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Middleware is an interface for HTTP middleware
type Middleware func(http.Handler) http.Handler

// RegisterRoutes registers the auth routes with the Chi router.
// Public routes: /login, /logout, /magic-link, /magic-link/redeem.
// Protected routes: /me.
func RegisterRoutes(r chi.Router, handler *Handler, requireAuth Middleware, loginLimit Middleware) {
	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(loginLimit)
			r.Post("/login", handler.Login)
			r.Post("/magic-link", handler.MagicLink)
			r.Post("/magic-link/redeem", handler.MagicRedeem)
		})

		r.Post("/logout", handler.Logout)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/me", handler.Me)
		})
	})
}
