package api

import (
	"net/http"
	"strings"

	"sitehost/backend/internal/namegen"
	"sitehost/backend/internal/sites"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req sites.RegisterInput
	if err := decodeJSON(w, r, s.Config.MaxRequestBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	session, err := s.Sites.Register(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, s.Config.MaxRequestBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	login := req.Username
	if strings.TrimSpace(login) == "" {
		login = req.Email
	}
	session, err := s.Sites.Login(r.Context(), login, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleChangeExtension(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DomainExtension string `json:"domainExtension"`
	}
	if err := decodeJSON(w, r, s.Config.MaxRequestBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	user := userFromContext(r.Context())
	session, err := s.Sites.ChangeExtension(r.Context(), user.ID, req.DomainExtension)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

type availabilityResponse struct {
	Name      string `json:"name"`
	Scope     string `json:"scope"`
	Available bool   `json:"available"`
	Valid     bool   `json:"valid"`
	Message   string `json:"message"`
}

// handleCheckAvailability is advisory only; the claim happens when the name is registered or
// published.
func (s *Server) handleCheckAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scope, err := namegen.ParseScope(q.Get("scope"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	name := strings.TrimSpace(q.Get("name"))
	if scope != namegen.ScopeUsername {
		name = strings.ToLower(name)
	}
	resp := availabilityResponse{Name: name, Scope: string(scope)}
	if err := namegen.Validate(name, scope); err != nil {
		resp.Message = err.Error()
		writeJSON(w, http.StatusOK, resp)
		return
	}
	resp.Valid = true
	available, err := s.Store.IsAvailable(r.Context(), name, scope, s.optionalUser(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp.Available = available
	if available {
		resp.Message = "available"
	} else {
		resp.Message = "already taken"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExtensions(w http.ResponseWriter, r *http.Request) {
	type extension struct {
		Extension string `json:"extension"`
		Domain    string `json:"domain"`
		Premium   bool   `json:"premium"`
	}
	exts := s.Domains.Extensions()
	out := make([]extension, 0, len(exts))
	for _, ext := range exts {
		out = append(out, extension{
			Extension: ext,
			Domain:    s.Domains.BaseDomain(ext),
			Premium:   s.Domains.IsPremiumExtension(ext),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"extensions":       out,
		"customSubdomains": s.Domains.CustomSubdomains(),
		"primary":          s.Domains.Primary(),
		"aliases":          s.Domains.Aliases(),
		"default":          s.Domains.DefaultExtension(),
	})
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"templates": sites.Templates()})
}
