package moderation

import (
	"github.com/go-chi/chi/v5"

	"github.com/satriadamar/komikvault/internal/guard"
	"github.com/satriadamar/komikvault/internal/store"
)

// RegisterRoutes registers the moderation routes. Comment hiding is
// admin-gated with the API-key fallback for automation; the queue view
// accepts moderators as well.
func RegisterRoutes(r chi.Router, handler *Handler, g *guard.Guard, apiKey string) {
	r.Route("/moderation", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(guard.AllowAPIKey(apiKey, g.RequireAdminAPI()))
			r.Post("/comments/{id}/hide", handler.HideComment)
		})

		r.Group(func(r chi.Router) {
			r.Use(g.RequireRoleAPI(store.RoleModerator, store.RoleAdmin))
			r.Get("/queue", handler.QueueStatus)
		})
	})
}
