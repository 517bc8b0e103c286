package api

import (
	"errors"
	"net/http"

	"sitehost/backend/internal/health"
	"sitehost/backend/internal/models"
	"sitehost/backend/internal/sites"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req sites.PublishInput
	if err := decodeJSON(w, r, s.Config.MaxUploadBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	user := userFromContext(r.Context())
	published, err := s.Sites.Publish(r.Context(), user.ID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, published)
}

func (s *Server) handleUserSites(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	overview, err := s.Sites.ListForUser(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (s *Server) handleGetSite(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	site, err := s.Sites.Get(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, site)
}

func (s *Server) handleUpdateSite(w http.ResponseWriter, r *http.Request) {
	var req sites.PublishInput
	if err := decodeJSON(w, r, s.Config.MaxUploadBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	user := userFromContext(r.Context())
	published, err := s.Sites.Update(r.Context(), user.ID, chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, published)
}

func (s *Server) handleDeleteSite(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	site, err := s.Sites.Delete(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": site.ID})
}

type verificationInstructions struct {
	TXTName     string `json:"txtName"`
	TXTValue    string `json:"txtValue"`
	CNAMETarget string `json:"cnameTarget"`
	HTTPPath    string `json:"httpPath"`
}

type verifyResponse struct {
	Domain       string                   `json:"domain"`
	Verified     bool                     `json:"verified"`
	State        models.DomainState       `json:"state"`
	Instructions verificationInstructions `json:"instructions"`
}

// handleVerifyDomain runs ownership verification now. A failed check is a normal answer,
// reported with verified=false and the records the owner still has to create.
func (s *Server) handleVerifyDomain(w http.ResponseWriter, r *http.Request) {
	if s.Verifier == nil {
		writeError(w, http.StatusServiceUnavailable, "domain verification unavailable")
		return
	}
	user := userFromContext(r.Context())
	content, err := s.Sites.Get(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	state, err := s.Verifier.VerifySite(r.Context(), content.Site.ID)
	if err != nil && !errors.Is(err, health.ErrUnverified) {
		writeServiceError(w, err)
		return
	}
	owner, err := s.Store.GetUserByID(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	domain := content.Site.CustomDomain
	writeJSON(w, http.StatusOK, verifyResponse{
		Domain:   domain,
		Verified: state.Verified,
		State:    state,
		Instructions: verificationInstructions{
			TXTName:     health.TXTPrefix + "." + domain,
			TXTValue:    content.Site.Domain.Token,
			CNAMETarget: s.Sites.UserHosts(*owner)[0],
			HTTPPath:    health.WellKnownPath + content.Site.Domain.Token,
		},
	})
}
