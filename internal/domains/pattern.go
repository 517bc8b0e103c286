package domains

import (
	"fmt"
	"strings"
)

// Token is the placeholder substituted with a user subdomain in hostname patterns.
const Token = "{subdomain}"

// Pattern maps a subdomain onto the canonical hostname and its aliases for one base domain.
type Pattern struct {
	Canonical string   `yaml:"pattern" json:"pattern"`
	Aliases   []string `yaml:"aliases" json:"aliases"`
}

// Expand substitutes subdomain into the canonical pattern and then each alias, in order.
// Duplicate hostnames are dropped.
func (p Pattern) Expand(subdomain string) []string {
	out := make([]string, 0, len(p.Aliases)+1)
	seen := make(map[string]struct{}, len(p.Aliases)+1)
	for _, tmpl := range append([]string{p.Canonical}, p.Aliases...) {
		host := substitute(tmpl, subdomain)
		if _, ok := seen[host]; ok {
			continue
		}
		seen[host] = struct{}{}
		out = append(out, host)
	}
	return out
}

// Validate checks each template carries exactly one substitution token.
func (p Pattern) Validate() error {
	for _, tmpl := range append([]string{p.Canonical}, p.Aliases...) {
		if n := strings.Count(tmpl, Token); n != 1 {
			return fmt.Errorf("pattern %q must contain %s exactly once", tmpl, Token)
		}
	}
	return nil
}

func substitute(tmpl, subdomain string) string {
	return strings.Replace(tmpl, Token, subdomain, 1)
}
