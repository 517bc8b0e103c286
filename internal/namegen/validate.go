package namegen

import (
	"fmt"
	"regexp"
	"strings"

	"sitehost/backend/internal/models"
)

// Scope selects which namespace and format rules a name belongs to.
type Scope string

const (
	// ScopeSubdomain is the platform-wide user subdomain namespace.
	ScopeSubdomain Scope = "subdomain"
	// ScopeSlug is the site slug namespace.
	ScopeSlug Scope = "slug"
	// ScopeUsername is the login name namespace.
	ScopeUsername Scope = "username"
)

// ParseScope maps user input onto a scope, defaulting to subdomain.
func ParseScope(v string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(v))) {
	case "", ScopeSubdomain:
		return ScopeSubdomain, nil
	case ScopeSlug:
		return ScopeSlug, nil
	case ScopeUsername:
		return ScopeUsername, nil
	default:
		return "", fmt.Errorf("%w: unknown scope %q", models.ErrInvalidFormat, v)
	}
}

var (
	labelPattern    = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{1,61}[a-z0-9])$`)
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,30}$`)
)

// Validate checks name against the format rules of scope.
func Validate(name string, scope Scope) error {
	switch scope {
	case ScopeUsername:
		if !usernamePattern.MatchString(name) {
			return models.ErrValidation("username must be 3-30 characters of letters, numbers, underscores or hyphens")
		}
		return nil
	case ScopeSubdomain, ScopeSlug:
		if len(name) < 3 || len(name) > 63 {
			return models.ErrValidation(fmt.Sprintf("%s must be between 3 and 63 characters", scope))
		}
		if !labelPattern.MatchString(name) {
			return models.ErrValidation(fmt.Sprintf("%s may only contain lowercase letters, numbers and hyphens, and must not start or end with a hyphen", scope))
		}
		if IsReserved(name) {
			return models.ErrValidation(fmt.Sprintf("%s %q is reserved", scope, name))
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown scope %q", models.ErrInvalidFormat, scope)
	}
}

// IsReserved reports whether name is on the reserved list.
func IsReserved(name string) bool {
	name = strings.ToLower(name)
	for _, r := range Reserved {
		if name == r {
			return true
		}
	}
	return false
}

// Slugify turns free text such as a site name into a slug candidate.
// The result may still fail Validate, for example when it is too short.
func Slugify(s string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			b.WriteByte('-')
			lastHyphen = true
		}
		if b.Len() >= 63 {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}
