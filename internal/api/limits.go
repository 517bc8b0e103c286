package api

import (
	"math"
	"net/http"
	"strconv"

	"sitehost/backend/internal/config"

	"github.com/go-chi/httprate"
)

// rateLimit limits requests per client IP. A zero budget disables the limiter.
func (s *Server) rateLimit(limit config.RateLimit) func(http.Handler) http.Handler {
	if limit.Requests <= 0 || limit.Window <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	retryAfter := strconv.Itoa(int(math.Ceil(limit.Window.Seconds())))
	return httprate.Limit(
		limit.Requests,
		limit.Window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", retryAfter)
			writeError(w, http.StatusTooManyRequests, "too many requests, try again later")
		}),
	)
}
