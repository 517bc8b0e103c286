package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	csrfHeaderName  = "X-CSRF-Token"
	csrfDefaultTTL  = time.Hour
	csrfJanitorTick = 5 * time.Minute
)

// CSRFStore issues one-time tokens. A token is valid once, until it expires.
type CSRFStore struct {
	mu     sync.Mutex
	tokens map[string]time.Time
	ttl    time.Duration
	now    func() time.Time
}

// NewCSRFStore returns a store whose tokens live for ttl, one hour when ttl is zero.
func NewCSRFStore(ttl time.Duration) *CSRFStore {
	if ttl <= 0 {
		ttl = csrfDefaultTTL
	}
	return &CSRFStore{tokens: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

// Issue creates a fresh token.
func (c *CSRFStore) Issue() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)
	c.mu.Lock()
	c.tokens[token] = c.now().Add(c.ttl)
	c.mu.Unlock()
	return token, nil
}

// Consume reports whether token is live and removes it.
func (c *CSRFStore) Consume(token string) bool {
	if token == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	expires, ok := c.tokens[token]
	if !ok {
		return false
	}
	delete(c.tokens, token)
	return c.now().Before(expires)
}

// Sweep drops expired tokens.
func (c *CSRFStore) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for token, expires := range c.tokens {
		if !now.Before(expires) {
			delete(c.tokens, token)
			removed++
		}
	}
	return removed
}

// Start runs the janitor until ctx is cancelled.
func (c *CSRFStore) Start(ctx context.Context) {
	ticker := time.NewTicker(csrfJanitorTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// requireCSRF enforces a one-time token on state-changing requests when CSRF_ENABLED is set.
func (s *Server) requireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.Config.CSRFEnabled || isSafeMethod(r.Method) {
			next.ServeHTTP(w, r)
			return
		}
		if !s.CSRF.Consume(r.Header.Get(csrfHeaderName)) {
			slog.Warn("CSRF validation failed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)
			writeError(w, http.StatusForbidden, "invalid or expired csrf token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	token, err := s.CSRF.Issue()
	if err != nil {
		s.Logger.Error("failed to generate CSRF token", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "operation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"csrfToken": token})
}
