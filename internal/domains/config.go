package domains

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"sitehost/backend/internal/models"

	"golang.org/x/net/idna"
	"gopkg.in/yaml.v3"
)

// CustomSubdomain describes an extension that maps onto its own target domain.
type CustomSubdomain struct {
	Premium bool   `yaml:"premium" json:"premium"`
	Target  string `yaml:"target" json:"target"`
}

// Config is the domain layout for the platform. It is immutable once loaded.
type Config struct {
	Primary          string                     `yaml:"primary" json:"primary"`
	Aliases          []string                   `yaml:"aliases" json:"aliases"`
	Extensions       []string                   `yaml:"extensions" json:"extensions"`
	CustomSubdomains map[string]CustomSubdomain `yaml:"custom_subdomains" json:"customSubdomains"`
	SubdomainMapping map[string]Pattern         `yaml:"subdomain_mapping" json:"subdomainMapping"`
}

// DefaultConfig returns the layout used when no domains file is configured.
func DefaultConfig() Config {
	return Config{
		Primary:    "sitehost.app",
		Aliases:    []string{"sitehost.app", "sitehost.dev", "sitehost.site"},
		Extensions: []string{".app", ".dev", ".site", ".pro"},
		CustomSubdomains: map[string]CustomSubdomain{
			".pro": {Premium: true, Target: "sitehost.pro"},
		},
		SubdomainMapping: map[string]Pattern{
			"sitehost.app": {
				Canonical: "{subdomain}.sitehost.app",
				Aliases:   []string{"{subdomain}.sitehost.dev", "{subdomain}.sitehost.site"},
			},
		},
	}
}

// LoadConfig reads a YAML domain layout. An empty path or a missing file yields the defaults.
func LoadConfig(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		return defaults()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaults()
		}
		return Config{}, fmt.Errorf("read domains file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse domains file: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaults() (Config, error) {
	cfg := DefaultConfig()
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports layout problems without modifying the config.
func (c Config) Validate() error {
	cp := c.clone()
	return cp.normalize()
}

func (c *Config) normalize() error {
	c.Primary = models.NormalizeHost(c.Primary)
	if c.Primary == "" {
		return models.ErrValidation("primary domain must be provided")
	}
	if !isHostname(c.Primary) {
		return models.ErrValidation(fmt.Sprintf("primary domain %q is not a valid hostname", c.Primary))
	}
	aliases := make([]string, 0, len(c.Aliases)+1)
	seen := map[string]struct{}{}
	for _, alias := range append([]string{c.Primary}, c.Aliases...) {
		alias = models.NormalizeHost(alias)
		if alias == "" {
			continue
		}
		if !isHostname(alias) {
			return models.ErrValidation(fmt.Sprintf("alias %q is not a valid hostname", alias))
		}
		if _, ok := seen[alias]; ok {
			continue
		}
		seen[alias] = struct{}{}
		aliases = append(aliases, alias)
	}
	c.Aliases = aliases

	exts := make([]string, 0, len(c.Extensions))
	for _, ext := range c.Extensions {
		ext = normalizeExtension(ext)
		if ext != "" && !containsString(exts, ext) {
			exts = append(exts, ext)
		}
	}
	c.Extensions = exts

	custom := make(map[string]CustomSubdomain, len(c.CustomSubdomains))
	for ext, cs := range c.CustomSubdomains {
		cs.Target = models.NormalizeHost(cs.Target)
		custom[normalizeExtension(ext)] = cs
	}
	c.CustomSubdomains = custom

	mapping := make(map[string]Pattern, len(c.SubdomainMapping))
	for base, p := range c.SubdomainMapping {
		if err := p.Validate(); err != nil {
			return models.ErrValidation(fmt.Sprintf("subdomain mapping for %s: %v", base, err))
		}
		p.Canonical = strings.ToLower(strings.TrimSpace(p.Canonical))
		for i := range p.Aliases {
			p.Aliases[i] = strings.ToLower(strings.TrimSpace(p.Aliases[i]))
		}
		mapping[models.NormalizeHost(base)] = p
	}
	c.SubdomainMapping = mapping
	return nil
}

func (c Config) clone() Config {
	out := c
	out.Aliases = append([]string(nil), c.Aliases...)
	out.Extensions = append([]string(nil), c.Extensions...)
	out.CustomSubdomains = make(map[string]CustomSubdomain, len(c.CustomSubdomains))
	for k, v := range c.CustomSubdomains {
		out.CustomSubdomains[k] = v
	}
	out.SubdomainMapping = make(map[string]Pattern, len(c.SubdomainMapping))
	for k, v := range c.SubdomainMapping {
		v.Aliases = append([]string(nil), v.Aliases...)
		out.SubdomainMapping[k] = v
	}
	return out
}

func normalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

var (
	hostProfile = idna.New(idna.MapForLookup(), idna.BidiRule(), idna.StrictDomainName(true))
	idnaLookup  = idna.Lookup
)

func isHostname(host string) bool {
	if _, err := hostProfile.ToASCII(host); err != nil {
		return false
	}
	return strings.Contains(host, ".")
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
