package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"sitehost/backend/internal/auth"
	"sitehost/backend/internal/backup"
	"sitehost/backend/internal/config"
	"sitehost/backend/internal/dnsprov"
	"sitehost/backend/internal/domains"
	"sitehost/backend/internal/health"
	"sitehost/backend/internal/metrics"
	"sitehost/backend/internal/models"
	"sitehost/backend/internal/routing"
	"sitehost/backend/internal/sites"
	"sitehost/backend/internal/ssl"
	"sitehost/backend/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/jwtauth/v5"
	"github.com/prometheus/client_golang/prometheus"
)

// Server holds routing dependencies. Verifier, TLS, Backups, DNS and Gatherer are optional.
type Server struct {
	Config   *config.Config
	Store    *store.Store
	Domains  *domains.Registry
	Router   *routing.Router
	Sites    *sites.Service
	Auth     *auth.Service
	Verifier *health.Verifier
	TLS      *ssl.Service
	Backups  *backup.Service
	DNS      dnsprov.Provider
	CSRF     *CSRFStore
	Metrics  metrics.Recorder
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Routes constructs the HTTP router.
func (s *Server) Routes() http.Handler {
	if s.Metrics == nil {
		s.Metrics = metrics.Nop{}
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	if s.CSRF == nil {
		s.CSRF = NewCSRFStore(s.Config.CSRFTokenTTL)
	}
	static := s.staticHandler()

	r := chi.NewRouter()
	r.Use(s.recoverer)
	r.Use(s.requestLogger)
	r.Use(securityHeaders)
	r.Use(logSuspiciousPaths)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.corsOrigins(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(s.tenant)

	r.Get("/health", s.handleHealth)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if s.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(s.Gatherer))
	}
	r.Get("/.well-known/acme-challenge/{token}", s.handleACMEChallenge)
	r.Get("/.well-known/sitehost/{token}", s.handleVerificationToken)

	tokenAuth := s.Auth.TokenAuth()

	r.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimit(s.Config.GeneralRateLimit))

		r.Get("/csrf-token", s.handleCSRFToken)
		r.Get("/check-availability", s.handleCheckAvailability)
		r.Get("/domains/extensions", s.handleExtensions)
		r.Get("/templates", s.handleTemplates)

		r.Group(func(r chi.Router) {
			r.Use(s.rateLimit(s.Config.AuthRateLimit))
			r.Use(s.requireCSRF)
			r.Post("/register", s.handleRegister)
			r.Post("/login", s.handleLogin)
		})

		r.Group(func(r chi.Router) {
			r.Use(jwtauth.Verifier(tokenAuth))
			r.Use(jwtauth.Authenticator)
			r.Use(s.requireCSRF)

			r.With(s.rateLimit(s.Config.UploadRateLimit)).Post("/upload", s.authorizeUser(s.handleUpload))
			r.Get("/user/sites", s.authorizeUser(s.handleUserSites))
			r.Put("/user/extension", s.authorizeUser(s.handleChangeExtension))
			r.Get("/sites/{id}", s.authorizeUser(s.handleGetSite))
			r.With(s.rateLimit(s.Config.UploadRateLimit)).Put("/sites/{id}", s.authorizeUser(s.handleUpdateSite))
			r.Delete("/sites/{id}", s.authorizeUser(s.handleDeleteSite))
			r.Post("/sites/{id}/domain/verify", s.authorizeUser(s.handleVerifyDomain))

			r.Route("/admin", func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Get("/users", s.handleListUsers)
				r.Put("/users/{id}", s.handleUpdateUser)
				r.Get("/stats", s.handleStats)
				r.Get("/dns/zone", s.handleDNSZone)
				r.Get("/backups", s.handleListBackups)
				r.Post("/backups", s.handleTriggerBackup)
				r.Post("/backups/{name}/restore", s.handleRestoreBackup)
			})
		})
	})

	r.Get("/{slug}/*", s.handleSlugPath(static))
	r.NotFound(static.ServeHTTP)

	return r
}

func (s *Server) corsOrigins() []string {
	if len(s.Config.CORSOrigins) > 0 {
		return s.Config.CORSOrigins
	}
	return []string{"http://*", "https://*"}
}

// staticHandler serves PUBLIC_DIR, the marketing site and dashboard.
func (s *Server) staticHandler() http.Handler {
	if s.Config.PublicDir == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusNotFound, "not found")
		})
	}
	return http.FileServer(http.Dir(s.Config.PublicDir))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, err := s.Store.Snapshot(ctx); err != nil {
		s.Logger.Error("readiness check failed", slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, "registry unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) authorizeUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := auth.FromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := withUserContext(r.Context(), claims.UserID, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := auth.FromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !claims.IsAdmin() {
			writeError(w, http.StatusForbidden, "admin required")
			return
		}
		ctx := withUserContext(r.Context(), claims.UserID, models.RoleAdmin)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// optionalUser reads a bearer token when one is sent. Public endpoints use it to scope
// answers to the caller.
func (s *Server) optionalUser(r *http.Request) string {
	token := jwtauth.TokenFromHeader(r)
	if token == "" {
		return ""
	}
	claims, err := s.Auth.Parse(token)
	if err != nil {
		return ""
	}
	return claims.UserID
}

type userContextKey struct{}

type userContext struct {
	ID   string
	Role models.UserRole
}

func withUserContext(ctx context.Context, id string, role models.UserRole) context.Context {
	if info := requestInfoFrom(ctx); info != nil {
		info.userID = id
	}
	return context.WithValue(ctx, userContextKey{}, userContext{ID: id, Role: role})
}

func userFromContext(ctx context.Context) userContext {
	val := ctx.Value(userContextKey{})
	if val == nil {
		return userContext{}
	}
	if u, ok := val.(userContext); ok {
		return u
	}
	return userContext{}
}

// decodeJSON reads at most limit bytes of JSON into out.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, out interface{}) error {
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	return json.NewDecoder(r.Body).Decode(out)
}

func writeDecodeError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}
	writeError(w, http.StatusBadRequest, "invalid payload")
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
