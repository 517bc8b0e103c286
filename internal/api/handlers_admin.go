package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"sitehost/backend/internal/backup"
	"sitehost/backend/internal/dnsprov"
	"sitehost/backend/internal/models"

	"github.com/araddon/dateparse"
	"github.com/go-chi/chi/v5"
)

// handleListUsers supports q (substring of username, email or subdomain) and since
// (registration date in any format dateparse understands).
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
	var since time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		t, err := dateparse.ParseAny(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since: "+raw)
			return
		}
		since = t
	}
	users, err := s.Store.GetUsers(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]models.User, 0, len(users))
	for _, u := range users {
		if !since.IsZero() && u.CreatedAt.Before(since) {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(u.Username), q) &&
			!strings.Contains(strings.ToLower(u.Email), q) && !strings.Contains(u.Subdomain, q) {
			continue
		}
		out = append(out, u.Sanitize())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": out, "total": len(out)})
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Role      *string `json:"role"`
		IsPremium *bool   `json:"isPremium"`
	}
	if err := decodeJSON(w, r, s.Config.MaxRequestBodyBytes, &payload); err != nil {
		writeDecodeError(w, err)
		return
	}
	var role *models.UserRole
	if payload.Role != nil {
		v := models.UserRole(*payload.Role)
		role = &v
	}
	user, err := s.Sites.UpdateAccount(r.Context(), chi.URLParam(r, "id"), role, payload.IsPremium)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type platformStats struct {
	Users              int   `json:"users"`
	PremiumUsers       int   `json:"premiumUsers"`
	Sites              int   `json:"sites"`
	PublishedSites     int   `json:"publishedSites"`
	TotalVisits        int64 `json:"totalVisits"`
	CustomDomains      int   `json:"customDomains"`
	VerifiedDomains    int   `json:"verifiedDomains"`
	ActiveCertificates int   `json:"activeCertificates"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	users, err := s.Store.GetUsers(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	var stats platformStats
	stats.Users = len(users)
	for _, u := range users {
		if u.IsPremium {
			stats.PremiumUsers++
		}
		stats.TotalVisits += u.TotalVisits()
		for _, site := range u.Sites {
			stats.Sites++
			if site.Published {
				stats.PublishedSites++
			}
			if site.CustomDomain != "" {
				stats.CustomDomains++
			}
			if site.HasVerifiedDomain() {
				stats.VerifiedDomains++
			}
			if site.TLS.Status == models.CertificateStatusActive {
				stats.ActiveCertificates++
			}
		}
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleDNSZone exports provisioned records under origin (the primary domain by default).
func (s *Server) handleDNSZone(w http.ResponseWriter, r *http.Request) {
	if s.DNS == nil {
		writeError(w, http.StatusServiceUnavailable, "dns provisioning unavailable")
		return
	}
	origin := r.URL.Query().Get("origin")
	if origin == "" {
		origin = s.Domains.Primary()
	}
	records, err := s.DNS.Records(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	zone, err := dnsprov.Zone(records, origin, time.Now())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/dns; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(zone)
}

func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	if s.Backups == nil {
		writeServiceError(w, backup.ErrBackupsDisabled)
		return
	}
	status, err := s.Backups.Status()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := map[string]interface{}{"status": status, "backups": []backup.Descriptor{}}
	list, err := s.Backups.List(r.Context())
	switch {
	case errors.Is(err, backup.ErrCredentialsMissing):
	case err != nil:
		resp["error"] = "list remote backups failed"
		s.Logger.Warn("list backups failed", "error", err.Error())
	default:
		resp["backups"] = list
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTriggerBackup(w http.ResponseWriter, r *http.Request) {
	if s.Backups == nil {
		writeServiceError(w, backup.ErrBackupsDisabled)
		return
	}
	res, err := s.Backups.Trigger(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleRestoreBackup(w http.ResponseWriter, r *http.Request) {
	if s.Backups == nil {
		writeServiceError(w, backup.ErrBackupsDisabled)
		return
	}
	res, err := s.Backups.Restore(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
