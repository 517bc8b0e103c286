package models

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrInvalidFormat indicates a name or field failed format rules.
	ErrInvalidFormat = errors.New("invalid format")
	// ErrCollision indicates a subdomain or slug is already taken.
	ErrCollision = errors.New("already taken")
	// ErrNotFound indicates resource missing.
	ErrNotFound = errors.New("not found")
	// ErrGenerationExhausted indicates the name generator ran out of attempts.
	ErrGenerationExhausted = errors.New("name generation exhausted")
	// ErrForbidden indicates the caller may not perform the operation.
	ErrForbidden = errors.New("forbidden")
)

// UserRole describes supported account roles.
type UserRole string

const (
	// RoleAdmin is for platform operators.
	RoleAdmin UserRole = "admin"
	// RoleUser is for regular site owners.
	RoleUser UserRole = "user"
)

// User represents a registered account and the sites it owns.
type User struct {
	ID              string    `json:"id"`
	Username        string    `json:"username"`
	Email           string    `json:"email"`
	Role            UserRole  `json:"role"`
	Password        string    `json:"password"` // hashed
	DomainExtension string    `json:"domain_extension"`
	Subdomain       string    `json:"subdomain"`
	IsPremium       bool      `json:"is_premium"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	LastLogin       time.Time `json:"last_login,omitempty"`
	Sites           []Site    `json:"sites"`
}

// Sanitize clears sensitive fields before returning API payloads.
func (u User) Sanitize() User {
	u.Password = ""
	if len(u.Sites) > 0 {
		sites := make([]Site, len(u.Sites))
		for i, site := range u.Sites {
			sites[i] = site.Sanitize()
		}
		u.Sites = sites
	}
	return u
}

// SiteBySlug returns the index of the user's site with the given slug, or -1.
func (u *User) SiteBySlug(slug string) int {
	for i := range u.Sites {
		if u.Sites[i].Slug == slug {
			return i
		}
	}
	return -1
}

// SiteByID returns the index of the user's site with the given id, or -1.
func (u *User) SiteByID(id string) int {
	for i := range u.Sites {
		if u.Sites[i].ID == id {
			return i
		}
	}
	return -1
}

// DefaultSite returns the first published site, if any.
func (u *User) DefaultSite() (int, bool) {
	for i := range u.Sites {
		if u.Sites[i].Published {
			return i, true
		}
	}
	return -1, false
}

// TotalVisits sums visits across all sites.
func (u User) TotalVisits() int64 {
	var total int64
	for _, s := range u.Sites {
		total += s.Visits
	}
	return total
}

// Site is a published static bundle owned by a user.
type Site struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Slug         string      `json:"slug"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	Visits       int64       `json:"visits"`
	Published    bool        `json:"published"`
	EnableDNS    bool        `json:"enable_dns"`
	DNSRecordID  string      `json:"dns_record_id,omitempty"`
	CustomDomain string      `json:"custom_domain,omitempty"`
	Domain       DomainState `json:"domain_state,omitempty"`
	TLS          SiteTLS     `json:"tls,omitempty"`
}

// Sanitize clears internal lock metadata.
func (s Site) Sanitize() Site {
	s.TLS.LockID = ""
	s.TLS.LockExpiresAt = time.Time{}
	return s
}

// HasVerifiedDomain reports whether the site may be served on its custom domain.
func (s Site) HasVerifiedDomain() bool {
	return s.CustomDomain != "" && s.Domain.Verified
}

// DomainState tracks custom domain ownership verification.
type DomainState struct {
	Token         string    `json:"token,omitempty"`
	Verified      bool      `json:"verified"`
	Method        string    `json:"method,omitempty"`
	VerifiedAt    time.Time `json:"verified_at,omitempty"`
	LastCheckedAt time.Time `json:"last_checked_at,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	Failures      int       `json:"failures,omitempty"`
}

// CertificateStatus captures lifecycle state for custom domain certificates.
type CertificateStatus string

const (
	// CertificateStatusNone indicates no certificate is provisioned.
	CertificateStatusNone CertificateStatus = "none"
	// CertificateStatusPending indicates an issuance or renewal is in-flight.
	CertificateStatusPending CertificateStatus = "pending"
	// CertificateStatusActive indicates a valid certificate is present.
	CertificateStatusActive CertificateStatus = "active"
	// CertificateStatusErrored indicates issuance failed and is backing off.
	CertificateStatusErrored CertificateStatus = "errored"
)

// SiteTLS holds certificate state for a site's custom domain. Key material lives on disk.
type SiteTLS struct {
	Status        CertificateStatus `json:"status,omitempty"`
	NotAfter      time.Time         `json:"not_after,omitempty"`
	Issuer        string            `json:"issuer,omitempty"`
	LastError     string            `json:"last_error,omitempty"`
	LastAttemptAt time.Time         `json:"last_attempt_at,omitempty"`
	RetryAfter    time.Time         `json:"retry_after,omitempty"`
	Failures      int               `json:"failures,omitempty"`
	LockID        string            `json:"lock_id,omitempty"`
	LockExpiresAt time.Time         `json:"lock_expires_at,omitempty"`
}

// EnsureDefaults normalises TLS state for records written before TLS existed.
func (t *SiteTLS) EnsureDefaults() {
	if t.Status == "" {
		t.Status = CertificateStatusNone
	}
}

// ErrValidation indicates input validation failure.
type ErrValidation string

func (e ErrValidation) Error() string {
	return string(e)
}

// Is lets validation errors match ErrInvalidFormat.
func (e ErrValidation) Is(target error) bool {
	return target == ErrInvalidFormat
}

// NormalizeHost lower-cases a hostname and strips a trailing dot.
func NormalizeHost(host string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
}

// LoginAttempt tracks failed logins for one account or client key.
type LoginAttempt struct {
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure"`
	LockedUntil time.Time `json:"locked_until,omitempty"`
}

// Locked reports whether the key is locked at now.
func (a LoginAttempt) Locked(now time.Time) bool {
	return a.LockedUntil.After(now)
}
