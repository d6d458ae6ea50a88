// Package health provides the health, readiness, and liveness endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// ServiceStatus represents the status of a single dependency
type ServiceStatus struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Response is the structured health check response
type Response struct {
	Status    string                   `json:"status"`
	Timestamp string                   `json:"timestamp"`
	Services  map[string]ServiceStatus `json:"services"`
	Version   string                   `json:"version,omitempty"`
}

// Handler handles health check requests
type Handler struct {
	dbPool      *pgxpool.Pool
	redisClient *redis.Client
	version     string
	timeout     time.Duration
}

// NewHandler creates a health Handler. redisClient may be nil when the
// distributed throttle store is not configured.
func NewHandler(dbPool *pgxpool.Pool, redisClient *redis.Client, version string) *Handler {
	return &Handler{
		dbPool:      dbPool,
		redisClient: redisClient,
		version:     version,
		timeout:     5 * time.Second,
	}
}

// RegisterRoutes mounts the health endpoints on the router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	r.Get("/live", h.Live)
}

// Health handles GET /health: pings every dependency and reports status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	services := map[string]ServiceStatus{
		"database": h.checkDatabase(ctx),
	}
	if h.redisClient != nil {
		services["redis"] = h.checkRedis(ctx)
	}

	overall := "healthy"
	status := http.StatusOK
	for _, s := range services {
		if s.Status != "up" {
			overall = "degraded"
			status = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{
		Status:    overall,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  services,
		Version:   h.version,
	})
}

// Ready handles GET /ready: the process is ready when the database answers
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	ready := h.checkDatabase(ctx).Status == "up"
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"ready":     ready,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Live handles GET /live: always succeeds while the process runs
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"alive":     true,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) checkDatabase(ctx context.Context) ServiceStatus {
	if h.dbPool == nil {
		return ServiceStatus{Status: "down", Error: "not configured"}
	}

	start := time.Now()
	if err := h.dbPool.Ping(ctx); err != nil {
		return ServiceStatus{Status: "down", Error: err.Error()}
	}
	return ServiceStatus{Status: "up", Latency: time.Since(start).String()}
}

func (h *Handler) checkRedis(ctx context.Context) ServiceStatus {
	start := time.Now()
	if err := h.redisClient.Ping(ctx).Err(); err != nil {
		return ServiceStatus{Status: "down", Error: err.Error()}
	}
	return ServiceStatus{Status: "up", Latency: time.Since(start).String()}
}
