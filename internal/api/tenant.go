package api

import (
	"errors"
	"html/template"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"sitehost/backend/internal/models"
	"sitehost/backend/internal/routing"

	"github.com/go-chi/chi/v5"
)

// Paths under these prefixes always belong to the platform, whatever the Host header says.
var nonTenantPrefixes = []string{
	"/api/",
	"/dashboard",
	"/health",
	"/readyz",
	"/metrics",
	"/.well-known/acme-challenge/",
	"/.well-known/sitehost/",
}

func isTenantPath(path string) bool {
	for _, prefix := range nonTenantPrefixes {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	return true
}

var notFoundPage = template.Must(template.New("not-found").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Site not found</title>
</head>
<body>
<h1>Site not found</h1>
<p>No site is published at <strong>{{.Host}}</strong>.</p>
{{- if .Aliases}}
<p>This address answers on:</p>
<ul>
{{- range .Aliases}}
<li>{{.}}</li>
{{- end}}
</ul>
{{- end}}
{{- if .MainSite}}
<p><a href="{{.MainSite}}">Create your own site</a></p>
{{- end}}
</body>
</html>
`))

// tenant routes requests on tenant hosts to the located site before the platform router
// sees them.
func (s *Server) tenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isTenantPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		d, err := s.Router.Decide(r.Context(), r.Host)
		if err != nil {
			log.Printf("api: route %s failed: %v", r.Host, err)
			writeError(w, http.StatusInternalServerError, "operation failed")
			return
		}
		switch d.Action {
		case routing.ActionServe:
			s.serveDecision(w, r, d)
		case routing.ActionRedirect:
			if d.RedirectURL == "" {
				next.ServeHTTP(w, r)
				return
			}
			http.Redirect(w, r, redirectTarget(d.RedirectURL, r), http.StatusFound)
		case routing.ActionNotFound:
			s.renderSiteNotFound(w, r, d.Host.FullSubdomain, d.Aliases)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// redirectTarget sends a root request to the main site URL as is. Any other path is kept and
// resolved against the main site's origin, so /{slug}/ links survive the hop.
func redirectTarget(mainSite string, r *http.Request) string {
	uri := r.URL.RequestURI()
	if uri == "/" {
		return mainSite
	}
	u, err := url.Parse(mainSite)
	if err != nil || u.Host == "" {
		return mainSite
	}
	return u.Scheme + "://" + u.Host + uri
}

func (s *Server) serveDecision(w http.ResponseWriter, r *http.Request, d routing.Decision) {
	site, rest := routing.SiteForPath(d, r.URL.Path)
	label := d.Host.Subdomain
	if label == "" {
		label = site.Slug
	}
	h := w.Header()
	h.Set("X-Site-Subdomain", label)
	if len(d.Aliases) > 0 {
		h.Set("X-Canonical-Domain", d.Aliases[0])
		h.Set("X-Alias-Domains", strings.Join(d.Aliases, ","))
	}
	s.serveSiteFiles(w, r, d.Match.User, site, rest)
}

// serveSiteFiles streams one site. Only the entry document counts as a visit.
func (s *Server) serveSiteFiles(w http.ResponseWriter, r *http.Request, owner models.User, site models.Site, path string) {
	dir := s.Sites.Content().Dir(owner.Subdomain, site.Slug)
	if !routing.IsEntryDocument(path) {
		req := r.Clone(r.Context())
		req.URL.Path = path
		req.URL.RawPath = ""
		http.FileServer(http.Dir(dir)).ServeHTTP(w, req)
		return
	}

	f, err := os.Open(filepath.Join(dir, "index.html"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.renderSiteNotFound(w, r, r.Host, nil)
			return
		}
		log.Printf("api: open %s/%s failed: %v", owner.Subdomain, site.Slug, err)
		writeError(w, http.StatusInternalServerError, "operation failed")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "operation failed")
		return
	}
	if r.Method == http.MethodGet {
		s.Router.RecordVisit(r.Context(), site.ID)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	http.ServeContent(w, r, "index.html", info.ModTime(), f)
}

func (s *Server) renderSiteNotFound(w http.ResponseWriter, r *http.Request, host string, aliases []string) {
	if host == "" {
		host = r.Host
	}
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"error":   "site not found",
			"host":    host,
			"domains": aliases,
		})
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	err := notFoundPage.Execute(w, struct {
		Host     string
		Aliases  []string
		MainSite string
	}{Host: host, Aliases: aliases, MainSite: s.Config.MainSiteURL})
	if err != nil {
		log.Printf("api: render not-found page failed: %v", err)
	}
}

// handleSlugPath serves /{slug}/ on any host. Paths that name no site fall back to the static
// platform files.
func (s *Server) handleSlugPath(fallback http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slug := chi.URLParam(r, "slug")
		m, ok, err := s.Router.LocateSlug(r.Context(), slug)
		if err != nil {
			log.Printf("api: locate slug %s failed: %v", slug, err)
			writeError(w, http.StatusInternalServerError, "operation failed")
			return
		}
		if !ok {
			fallback.ServeHTTP(w, r)
			return
		}
		w.Header().Set("X-Site-Subdomain", m.Site.Slug)
		s.serveSiteFiles(w, r, m.User, m.Site, "/"+chi.URLParam(r, "*"))
	}
}
