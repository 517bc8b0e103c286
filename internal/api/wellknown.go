package api

import (
	"net/http"

	"sitehost/backend/internal/domains"

	"github.com/go-chi/chi/v5"
)

// handleACMEChallenge answers http-01 challenges for certificates being issued.
func (s *Server) handleACMEChallenge(w http.ResponseWriter, r *http.Request) {
	if s.TLS == nil {
		http.NotFound(w, r)
		return
	}
	keyAuth, ok := s.TLS.Challenges().Lookup(chi.URLParam(r, "token"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte(keyAuth))
}

// handleVerificationToken echoes a site's verification token when the request arrives on that
// site's custom domain, which is what the HTTP ownership probe looks for.
func (s *Server) handleVerificationToken(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	host := domains.NormalizeRequestHost(r.Host)
	reg, err := s.Store.Snapshot(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	for _, m := range reg.Sites() {
		if m.Site.CustomDomain == host && m.Site.Domain.Token != "" && m.Site.Domain.Token == token {
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte(token))
			return
		}
	}
	http.NotFound(w, r)
}
