// Package moderation exposes the moderation API surface. The handlers
// themselves are thin; what matters here is the gating: session-based
// admin checks for humans, the pre-shared API key for automation, and a
// moderator-or-admin check with a caller-side fallback for the routes
// where resource ownership can stand in for a global role.
package moderation

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	appctx "github.com/satriadamar/komikvault/internal/context"
)

// Handler handles moderation endpoints
type Handler struct {
	logger *slog.Logger
}

// NewHandler creates a new moderation Handler
func NewHandler(logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger}
}

// HideComment handles POST /moderation/comments/{id}/hide. Reachable by
// admins and by automation via the API key; automation actions are
// logged without a moderator attribution.
func (h *Handler) HideComment(w http.ResponseWriter, r *http.Request) {
	commentID := chi.URLParam(r, "id")

	if appctx.IsAutomation(r.Context()) {
		h.logger.Info("comment hidden by automation", "comment_id", commentID)
	} else {
		subjectID, _ := appctx.SubjectID(r.Context())
		h.logger.Info("comment hidden", "comment_id", commentID, "moderator_id", subjectID)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": true})
}

// QueueStatus handles GET /moderation/queue: a moderator-or-admin view
// of the pending moderation queue.
func (h *Handler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	role, _ := appctx.Role(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"ok":      true,
		"role":    role,
		"pending": 0,
	})
}
