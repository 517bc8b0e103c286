package domains

import (
	"strings"
)

// Registry answers questions about the configured domain layout.
type Registry struct {
	cfg     Config
	aliases map[string]struct{}
}

// NewRegistry builds a registry from a config. The config is copied.
func NewRegistry(cfg Config) (*Registry, error) {
	cp := cfg.clone()
	if err := cp.normalize(); err != nil {
		return nil, err
	}
	aliases := make(map[string]struct{}, len(cp.Aliases))
	for _, a := range cp.Aliases {
		aliases[a] = struct{}{}
	}
	for _, cs := range cp.CustomSubdomains {
		if cs.Target != "" {
			aliases[cs.Target] = struct{}{}
		}
	}
	return &Registry{cfg: cp, aliases: aliases}, nil
}

// Config returns a copy of the loaded layout.
func (r *Registry) Config() Config {
	return r.cfg.clone()
}

// Primary returns the primary domain.
func (r *Registry) Primary() string {
	return r.cfg.Primary
}

// Aliases returns every accepted base domain, primary first.
func (r *Registry) Aliases() []string {
	return append([]string(nil), r.cfg.Aliases...)
}

// Extensions returns the allowed extensions in configured order.
func (r *Registry) Extensions() []string {
	return append([]string(nil), r.cfg.Extensions...)
}

// CustomSubdomains returns the extension to target mapping.
func (r *Registry) CustomSubdomains() map[string]CustomSubdomain {
	out := make(map[string]CustomSubdomain, len(r.cfg.CustomSubdomains))
	for k, v := range r.cfg.CustomSubdomains {
		out[k] = v
	}
	return out
}

// IsKnownDomain reports whether domain is one of the accepted base domains or a custom
// subdomain target.
func (r *Registry) IsKnownDomain(domain string) bool {
	_, ok := r.aliases[strings.ToLower(domain)]
	return ok
}

// IsPremiumExtension reports whether the extension requires a premium account.
func (r *Registry) IsPremiumExtension(ext string) bool {
	cs, ok := r.cfg.CustomSubdomains[normalizeExtension(ext)]
	return ok && cs.Premium
}

// IsAllowedExtension reports whether ext is one of the configured extensions.
func (r *Registry) IsAllowedExtension(ext string) bool {
	return containsString(r.cfg.Extensions, normalizeExtension(ext))
}

// NormalizeExtension canonicalises user input; an empty value selects the default extension.
func (r *Registry) NormalizeExtension(ext string) string {
	ext = normalizeExtension(ext)
	if ext == "" {
		return r.DefaultExtension()
	}
	return ext
}

// DefaultExtension is the first configured extension.
func (r *Registry) DefaultExtension() string {
	if len(r.cfg.Extensions) == 0 {
		return ""
	}
	return r.cfg.Extensions[0]
}

// BaseDomain is the domain a subdomain registered with ext lives under: the extension's
// custom target when one is configured, the primary otherwise.
func (r *Registry) BaseDomain(ext string) string {
	if cs, ok := r.cfg.CustomSubdomains[normalizeExtension(ext)]; ok && cs.Target != "" {
		return cs.Target
	}
	return r.cfg.Primary
}

// ExpandSubdomain lists every hostname for subdomain under baseDomain, canonical first.
// A base domain without a mapping yields subdomain.baseDomain only.
func (r *Registry) ExpandSubdomain(subdomain, baseDomain string) []string {
	base := strings.ToLower(baseDomain)
	p, ok := r.cfg.SubdomainMapping[base]
	if !ok {
		return []string{subdomain + "." + base}
	}
	return p.Expand(subdomain)
}

// CanonicalHost is the first hostname ExpandSubdomain yields under the primary domain.
func (r *Registry) CanonicalHost(subdomain string) string {
	return r.ExpandSubdomain(subdomain, r.cfg.Primary)[0]
}

// IsPlatformHost reports whether host sits on one of the platform's own domains.
func (r *Registry) IsPlatformHost(host string) bool {
	host = strings.ToLower(host)
	for _, alias := range r.cfg.Aliases {
		if host == alias || strings.HasSuffix(host, "."+alias) {
			return true
		}
	}
	for _, cs := range r.cfg.CustomSubdomains {
		if cs.Target != "" && (host == cs.Target || strings.HasSuffix(host, "."+cs.Target)) {
			return true
		}
	}
	return false
}
