package domains

import (
	"net"
	"strings"

	"sitehost/backend/internal/models"
)

// ResolvedHost is a Host header split into a tenant label and a known base domain.
type ResolvedHost struct {
	Subdomain     string `json:"subdomain"`
	Domain        string `json:"domain"`
	PrimaryDomain string `json:"primaryDomain"`
	IsAlias       bool   `json:"isAlias"`
	FullSubdomain string `json:"fullSubdomain"`
}

// IsApex reports whether the request targets the platform itself rather than a tenant.
func (h ResolvedHost) IsApex() bool {
	return h.Subdomain == "" || h.Subdomain == "www"
}

// Canonical is a resolved host rewritten onto the primary domain.
type Canonical struct {
	Subdomain       string   `json:"subdomain"`
	CanonicalDomain string   `json:"canonicalDomain"`
	OriginalRequest string   `json:"originalRequest"`
	AllDomains      []string `json:"allDomains"`
}

// Resolve splits host into subdomain and domain. It reports false for hosts with fewer than
// two labels and for hosts whose domain is not configured.
func (r *Registry) Resolve(host string) (ResolvedHost, bool) {
	host = NormalizeRequestHost(host)
	if host == "" {
		return ResolvedHost{}, false
	}
	parts := strings.Split(host, ".")
	if len(parts) < 2 {
		return ResolvedHost{}, false
	}
	sub := parts[0]
	domain := strings.Join(parts[1:], ".")
	if !r.IsKnownDomain(domain) {
		return ResolvedHost{}, false
	}
	return ResolvedHost{
		Subdomain:     sub,
		Domain:        domain,
		PrimaryDomain: r.cfg.Primary,
		IsAlias:       domain != r.cfg.Primary,
		FullSubdomain: host,
	}, true
}

// Canonicalize expands the resolved subdomain under the primary domain.
func (r *Registry) Canonicalize(h ResolvedHost) Canonical {
	return Canonical{
		Subdomain:       h.Subdomain,
		CanonicalDomain: r.cfg.Primary,
		OriginalRequest: h.FullSubdomain,
		AllDomains:      r.ExpandSubdomain(h.Subdomain, r.cfg.Primary),
	}
}

// NormalizeRequestHost strips any port, lower-cases and converts IDNs to their ASCII form.
// Hosts that fail IDNA conversion are returned lower-cased as-is so they simply miss lookups.
func NormalizeRequestHost(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = models.NormalizeHost(host)
	if host == "" {
		return ""
	}
	if ascii, err := idnaLookup.ToASCII(host); err == nil {
		return ascii
	}
	return host
}
