package models

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestEnsureTLSDefaults(t *testing.T) {
	var tls SiteTLS
	tls.EnsureDefaults()
	if tls.Status != CertificateStatusNone {
		t.Fatalf("expected status none, got %s", tls.Status)
	}
	tls.Status = CertificateStatusActive
	tls.EnsureDefaults()
	if tls.Status != CertificateStatusActive {
		t.Fatalf("existing status overwritten: %s", tls.Status)
	}
}

func TestSanitizeRedactsSecrets(t *testing.T) {
	user := User{
		Username: "ann",
		Password: "$2a$10$hash",
		Sites: []Site{{
			ID:   "s1",
			Slug: "portfolio",
			TLS: SiteTLS{
				Status:        CertificateStatusPending,
				LockID:        "node-a",
				LockExpiresAt: time.Now().Add(time.Minute),
			},
		}},
	}
	clean := user.Sanitize()
	if clean.Password != "" {
		t.Fatalf("password not cleared")
	}
	if clean.Sites[0].TLS.LockID != "" || !clean.Sites[0].TLS.LockExpiresAt.IsZero() {
		t.Fatalf("lock metadata leaked: %+v", clean.Sites[0].TLS)
	}
	if user.Sites[0].TLS.LockID != "node-a" {
		t.Fatalf("sanitize mutated the original user")
	}
}

func TestUserSiteLookups(t *testing.T) {
	u := User{Sites: []Site{
		{ID: "a", Slug: "draft", Visits: 2},
		{ID: "b", Slug: "live", Published: true, Visits: 5},
	}}
	if got := u.SiteBySlug("live"); got != 1 {
		t.Fatalf("SiteBySlug = %d", got)
	}
	if got := u.SiteByID("missing"); got != -1 {
		t.Fatalf("SiteByID = %d", got)
	}
	if i, ok := u.DefaultSite(); !ok || i != 1 {
		t.Fatalf("DefaultSite = %d, %v", i, ok)
	}
	if total := u.TotalVisits(); total != 7 {
		t.Fatalf("TotalVisits = %d", total)
	}
	if _, ok := (&User{}).DefaultSite(); ok {
		t.Fatalf("user without sites has a default site")
	}
}

func TestHasVerifiedDomain(t *testing.T) {
	cases := []struct {
		site Site
		want bool
	}{
		{Site{}, false},
		{Site{CustomDomain: "shop.example.com"}, false},
		{Site{CustomDomain: "shop.example.com", Domain: DomainState{Verified: true}}, true},
		{Site{Domain: DomainState{Verified: true}}, false},
	}
	for _, tc := range cases {
		if got := tc.site.HasVerifiedDomain(); got != tc.want {
			t.Fatalf("HasVerifiedDomain(%+v) = %v", tc.site, got)
		}
	}
}

func TestValidationMatchesInvalidFormat(t *testing.T) {
	err := fmt.Errorf("register: %w", ErrValidation("email is invalid"))
	if !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("validation error should match ErrInvalidFormat")
	}
	if errors.Is(err, ErrCollision) {
		t.Fatalf("validation error should not match ErrCollision")
	}
}

func TestNormalizeHostAndLocked(t *testing.T) {
	if got := NormalizeHost(" Shop.Example.COM. "); got != "shop.example.com" {
		t.Fatalf("NormalizeHost = %q", got)
	}
	now := time.Now()
	if !(LoginAttempt{LockedUntil: now.Add(time.Minute)}).Locked(now) {
		t.Fatalf("expected locked")
	}
	if (LoginAttempt{LockedUntil: now}).Locked(now) {
		t.Fatalf("lock should be released at its deadline")
	}
}
