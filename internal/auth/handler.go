package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	appctx "github.com/satriadamar/komikvault/internal/context"
	"github.com/satriadamar/komikvault/internal/session"
	"github.com/satriadamar/komikvault/internal/store"
)

// LoginRequest is the login request payload
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// MagicLinkRequest is the magic-link issuance request payload
type MagicLinkRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// MagicRedeemRequest is the magic-link redemption request payload
type MagicRedeemRequest struct {
	Token string `json:"token" validate:"required"`
}

// UserResponse is the account data returned on login and /me
type UserResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username,omitempty"`
	Role     string `json:"role,omitempty"`
}

// Handler handles HTTP requests for the auth endpoints
type Handler struct {
	service  *Service
	cookies  *session.CookieTransport
	profiles store.ProfileRepository
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler creates a new auth Handler
func NewHandler(service *Service, cookies *session.CookieTransport, profiles store.ProfileRepository, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service:  service,
		cookies:  cookies,
		profiles: profiles,
		validate: validator.New(),
		logger:   logger,
	}
}

// Login handles POST /auth/login: verifies credentials and sets the
// session cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	account, token, err := h.service.Login(r.Context(), req.Email, req.Password, clientIP(r))
	if err != nil {
		var throttled *ThrottledError
		if errors.As(err, &throttled) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"ok":          false,
				"error":       "too_many_attempts",
				"retry_after": int64(throttled.RetryAfter.Seconds()) + 1,
			})
			return
		}
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	h.cookies.Set(w, token)
	writeUser(w, http.StatusOK, account, "")
}

// Logout handles POST /auth/logout: clears the session cookie,
// including legacy cookie names.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.cookies.Clear(w)
	writeOK(w, http.StatusOK)
}

// MagicLink handles POST /auth/magic-link: issues a single-use login
// token for delivery by the mail collaborator. The response does not
// reveal whether the email has an account.
func (h *Handler) MagicLink(w http.ResponseWriter, r *http.Request) {
	var req MagicLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	if _, err := h.service.RequestMagicLink(r.Context(), req.Email); err != nil && !errors.Is(err, ErrInvalidEmail) {
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	writeOK(w, http.StatusAccepted)
}

// MagicRedeem handles POST /auth/magic-link/redeem: consumes the token
// and sets the session cookie.
func (h *Handler) MagicRedeem(w http.ResponseWriter, r *http.Request) {
	var req MagicRedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	account, token, err := h.service.RedeemMagicLink(r.Context(), req.Token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token")
		return
	}

	h.cookies.Set(w, token)
	writeUser(w, http.StatusOK, account, "")
}

// Me handles GET /auth/me: returns the authenticated subject with its
// current role. Runs behind the session guard.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := appctx.SubjectID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := uuid.Parse(subjectID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	role, err := h.profiles.RoleFor(r.Context(), id)
	if err != nil {
		h.logger.Error("role lookup failed, denying request",
			"subject_id", subjectID,
			"error", err,
		)
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	email, _ := appctx.Email(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"ok": true,
		"user": UserResponse{
			ID:    subjectID,
			Email: email,
			Role:  string(role),
		},
	})
}

// clientIP returns the request's client address without the port. chi's
// RealIP middleware has already applied forwarded headers.
func clientIP(r *http.Request) string {
	addr := r.RemoteAddr
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i]
		}
	}
	return addr
}

func writeUser(w http.ResponseWriter, status int, account *store.Account, role string) {
	username := ""
	if account.Username != nil {
		username = *account.Username
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"ok": true,
		"user": UserResponse{
			ID:       account.ID.String(),
			Email:    account.Email,
			Username: username,
			Role:     role,
		},
	})
}

func writeOK(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": true})
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": false, "error": code})
}
