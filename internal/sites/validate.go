package sites

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"sitehost/backend/internal/domains"
	"sitehost/backend/internal/models"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
)

const (
	maxSiteName       = 100
	minPasswordLength = 8
)

var (
	emailPattern  = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	scriptPattern = regexp.MustCompile(`(?i)<script`)
	strictPolicy  = bluemonday.StrictPolicy()
)

// CleanSiteName trims a display name, rejects embedded scripts and strips any markup.
func CleanSiteName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if scriptPattern.MatchString(name) {
		return "", models.ErrValidation("site name must not contain scripts")
	}
	name = strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(name)))
	n := utf8.RuneCountInString(name)
	if n < 1 || n > maxSiteName {
		return "", models.ErrValidation(fmt.Sprintf("site name must be 1-%d characters", maxSiteName))
	}
	return name, nil
}

// ValidateEmail applies the loose address shape check used at registration.
func ValidateEmail(email string) error {
	if !emailPattern.MatchString(strings.TrimSpace(email)) {
		return models.ErrValidation("invalid email address")
	}
	return nil
}

// ValidatePassword enforces the minimum password length.
func ValidatePassword(password string) error {
	if len(password) < minPasswordLength {
		return models.ErrValidation(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	return nil
}

// NormalizeCustomDomain checks that domain is a registrable public hostname outside the
// platform's own domains and returns it in ASCII form.
func NormalizeCustomDomain(reg *domains.Registry, domain string) (string, error) {
	domain = models.NormalizeHost(domain)
	if domain == "" {
		return "", nil
	}
	ascii, err := idna.Registration.ToASCII(domain)
	if err != nil {
		return "", models.ErrValidation(fmt.Sprintf("invalid custom domain: %v", err))
	}
	if !strings.Contains(ascii, ".") {
		return "", models.ErrValidation("custom domain must be fully qualified")
	}
	suffix, icann := publicsuffix.PublicSuffix(ascii)
	if !icann || suffix == ascii {
		return "", models.ErrValidation("custom domain must be under a public suffix")
	}
	if _, err := publicsuffix.EffectiveTLDPlusOne(ascii); err != nil {
		return "", models.ErrValidation(fmt.Sprintf("invalid custom domain: %v", err))
	}
	if reg.IsPlatformHost(ascii) {
		return "", models.ErrValidation("custom domain cannot be a platform domain")
	}
	return ascii, nil
}
