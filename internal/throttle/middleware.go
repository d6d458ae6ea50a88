package throttle

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/satriadamar/komikvault/internal/metrics"
)

// rateLimitedResponse is the body returned when a limiter rejects a
// request. The distinct error code lets clients back off instead of
// retrying as if the credentials were wrong.
type rateLimitedResponse struct {
	OK         bool   `json:"ok"`
	Error      string `json:"error"`
	RetryAfter int64  `json:"retry_after"`
}

// KeyFunc derives the limiter key from a request, e.g. endpoint + client IP
type KeyFunc func(r *http.Request) string

// ByClientIP keys the limiter on the remote address, which chi's RealIP
// middleware has already rewritten to the forwarded client address.
func ByClientIP(endpoint string) KeyFunc {
	return func(r *http.Request) string {
		return endpoint + "|" + clientIP(r)
	}
}

// limiterName reduces a limiter key to its endpoint label: everything
// before the first separator, so metric cardinality stays bounded.
func limiterName(key string) string {
	if i := strings.IndexByte(key, '|'); i >= 0 {
		return key[:i]
	}
	return key
}

// clientIP strips the port from RemoteAddr
func clientIP(r *http.Request) string {
	addr := r.RemoteAddr
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i]
		}
	}
	return addr
}

// Middleware wraps a handler with a sliding-window rate limit. Rejected
// requests get 429 with Retry-After and X-RateLimit headers. One store
// call per request: the admission decision carries the remaining budget
// and the window reset with it.
func Middleware(limiter *Limiter, keyFn KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			res := limiter.Allow(r.Context(), key)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))

			if !res.Allowed {
				metrics.ThrottleHitsTotal.WithLabelValues(limiterName(key)).Inc()
				retryAfter := res.Reset.Unix() - time.Now().Unix()
				if retryAfter < 0 {
					retryAfter = 0
				}

				w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(rateLimitedResponse{
					OK:         false,
					Error:      "rate_limited",
					RetryAfter: retryAfter,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
