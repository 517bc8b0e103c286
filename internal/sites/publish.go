package sites

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"sitehost/backend/internal/models"
	"sitehost/backend/internal/namegen"
	"sitehost/backend/internal/store"

	"github.com/google/uuid"
)

// PublishInput is the upload payload.
type PublishInput struct {
	SiteName     string `json:"siteName"`
	SiteSlug     string `json:"siteSlug,omitempty"`
	HTML         string `json:"html"`
	CSS          string `json:"css"`
	JS           string `json:"js"`
	CustomDomain string `json:"customDomain,omitempty"`
	EnableDNS    bool   `json:"enableDNS"`
}

// Published describes a site after a publish or republish.
type Published struct {
	Site    models.Site `json:"site"`
	URL     string      `json:"url"`
	Domains []string    `json:"domains"`
}

// SiteContent is a site with its stored files.
type SiteContent struct {
	Site models.Site `json:"site"`
	Bundle
}

// Overview is a user's dashboard summary.
type Overview struct {
	User        models.User   `json:"user"`
	Sites       []SiteSummary `json:"sites"`
	TotalVisits int64         `json:"totalVisits"`
}

// SiteSummary is a site with its public address.
type SiteSummary struct {
	models.Site
	URL     string   `json:"url"`
	Domains []string `json:"domains"`
}

type publishPlan struct {
	name         string
	slug         string
	userSlug     bool
	customDomain string
	bundle       Bundle
}

func (s *Service) plan(in PublishInput) (publishPlan, error) {
	name, err := CleanSiteName(in.SiteName)
	if err != nil {
		return publishPlan{}, err
	}
	if strings.TrimSpace(in.HTML) == "" {
		return publishPlan{}, models.ErrValidation("html content is required")
	}
	p := publishPlan{name: name, bundle: Bundle{HTML: in.HTML, CSS: in.CSS, JS: in.JS}}
	if slug := strings.ToLower(strings.TrimSpace(in.SiteSlug)); slug != "" {
		if err := namegen.Validate(slug, namegen.ScopeSlug); err != nil {
			return publishPlan{}, err
		}
		p.slug = slug
		p.userSlug = true
	}
	domain, err := NormalizeCustomDomain(s.domains, in.CustomDomain)
	if err != nil {
		return publishPlan{}, err
	}
	p.customDomain = domain
	return p, nil
}

// pickSlug claims a slug for a new site of user inside the critical section. Names derived
// from the site name fall back to a random name when the slugified name is unusable.
func (s *Service) pickSlug(reg *store.Registry, user models.User, p publishPlan, exceptSiteID string) (string, int, error) {
	available := func(candidate string) bool {
		return reg.SlugAvailableFor(user.ID, candidate, exceptSiteID)
	}
	if p.userSlug {
		if !available(p.slug) {
			return "", 1, fmt.Errorf("slug %s: %w", p.slug, models.ErrCollision)
		}
		return p.slug, 1, nil
	}
	if base := namegen.Slugify(p.name); base != "" {
		slug, n, err := s.names.PickFrom(base, namegen.ScopeSlug, "", available)
		if err == nil || !errors.Is(err, models.ErrInvalidFormat) {
			return slug, n, err
		}
	}
	return s.names.Pick(user.Username, namegen.ScopeSlug, "", available)
}

// Publish creates a new site for userID and writes its files.
func (s *Service) Publish(ctx context.Context, userID string, in PublishInput) (*Published, error) {
	p, err := s.plan(in)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var (
		site     models.Site
		owner    models.User
		attempts int
		written  string
	)
	err = s.store.Modify(ctx, func(reg *store.Registry) (bool, error) {
		user, ok := reg.UserByID(userID)
		if !ok {
			return false, fmt.Errorf("user %s: %w", userID, models.ErrNotFound)
		}
		owner = user
		if written != "" {
			// A conflict retry reloads the registry and may settle on another slug.
			if user.SiteBySlug(written) < 0 {
				s.removeContent(user.Subdomain, written)
			}
			written = ""
		}
		slug, n, err := s.pickSlug(reg, user, p, "")
		attempts = n
		if err != nil {
			return false, err
		}
		site = models.Site{
			ID:           uuid.NewString(),
			Name:         p.name,
			Slug:         slug,
			CreatedAt:    now,
			UpdatedAt:    now,
			Published:    true,
			EnableDNS:    in.EnableDNS,
			CustomDomain: p.customDomain,
			TLS:          models.SiteTLS{Status: models.CertificateStatusNone},
		}
		if p.customDomain != "" {
			site.Domain.Token = uuid.NewString()
		}
		if err := reg.PutSite(userID, site); err != nil {
			return false, err
		}
		if err := s.content.Write(user.Subdomain, slug, p.bundle); err != nil {
			return false, err
		}
		written = slug
		return true, nil
	})
	if !p.userSlug && attempts > 0 {
		s.metrics.RecordNameAttempts(string(namegen.ScopeSlug), attempts)
	}
	if err != nil {
		if written != "" {
			s.removeContent(owner.Subdomain, written)
		}
		return nil, err
	}
	if site.EnableDNS {
		site = s.provisionDNS(ctx, site)
	}
	s.metrics.RecordPublish()
	log.Printf("sites: published %s for %s", site.Slug, owner.Username)
	return &Published{Site: site.Sanitize(), URL: s.SiteURL(owner, site), Domains: s.SiteHosts(site)}, nil
}

// Update republishes an existing site. Empty slug keeps the current one.
func (s *Service) Update(ctx context.Context, userID, siteID string, in PublishInput) (*Published, error) {
	p, err := s.plan(in)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var (
		site    models.Site
		prev    models.Site
		owner   models.User
		dropDNS string
		moved   bool
	)
	err = s.store.Modify(ctx, func(reg *store.Registry) (bool, error) {
		if moved {
			s.restoreContent(owner.Subdomain, site.Slug, prev.Slug)
			moved = false
		}
		dropDNS = ""
		m, ok := reg.SiteByID(siteID)
		if !ok || m.User.ID != userID {
			return false, fmt.Errorf("site %s: %w", siteID, models.ErrNotFound)
		}
		prev = m.Site
		site = m.Site
		if p.userSlug && p.slug != site.Slug {
			if !reg.SlugAvailableFor(userID, p.slug, siteID) {
				return false, fmt.Errorf("slug %s: %w", p.slug, models.ErrCollision)
			}
			site.Slug = p.slug
		}
		site.Name = p.name
		site.UpdatedAt = now
		site.Published = true
		if site.CustomDomain != p.customDomain {
			site.CustomDomain = p.customDomain
			site.Domain = models.DomainState{}
			site.TLS = models.SiteTLS{Status: models.CertificateStatusNone}
			if p.customDomain != "" {
				site.Domain.Token = uuid.NewString()
			}
		}
		if site.Slug != prev.Slug || !in.EnableDNS {
			dropDNS = site.DNSRecordID
			site.DNSRecordID = ""
		}
		site.EnableDNS = in.EnableDNS
		if err := reg.PutSite(userID, site); err != nil {
			return false, err
		}
		owner = m.User
		if err := s.content.Move(owner.Subdomain, prev.Slug, site.Slug); err == nil {
			moved = prev.Slug != site.Slug
		} else if !errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("move site content: %w", err)
		}
		if err := s.content.Write(owner.Subdomain, site.Slug, p.bundle); err != nil {
			return false, fmt.Errorf("write site content: %w", err)
		}
		return true, nil
	})
	if err != nil {
		if moved {
			s.restoreContent(owner.Subdomain, site.Slug, prev.Slug)
		}
		return nil, err
	}
	if dropDNS != "" {
		s.removeDNS(ctx, dropDNS)
	}
	if site.EnableDNS && site.DNSRecordID == "" {
		site = s.provisionDNS(ctx, site)
	}
	s.metrics.RecordPublish()
	return &Published{Site: site.Sanitize(), URL: s.SiteURL(owner, site), Domains: s.SiteHosts(site)}, nil
}

func (s *Service) removeContent(subdomain, slug string) {
	if err := s.content.Remove(subdomain, slug); err != nil {
		log.Printf("sites: cleanup of unsaved site %s failed: %v", slug, err)
	}
}

// restoreContent moves renamed files back after the registry change was abandoned.
func (s *Service) restoreContent(subdomain, from, to string) {
	if err := s.content.Move(subdomain, from, to); err != nil {
		log.Printf("sites: restore content %s -> %s failed: %v", from, to, err)
	}
}

// Get returns a site of userID with its stored content.
func (s *Service) Get(ctx context.Context, userID, siteID string) (*SiteContent, error) {
	reg, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	m, ok := reg.SiteByID(siteID)
	if !ok || m.User.ID != userID {
		return nil, fmt.Errorf("site %s: %w", siteID, models.ErrNotFound)
	}
	b, err := s.content.Read(m.User.Subdomain, m.Site.Slug)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read site content: %w", err)
	}
	return &SiteContent{Site: m.Site.Sanitize(), Bundle: b}, nil
}

// Delete removes a site, its files and its DNS record.
func (s *Service) Delete(ctx context.Context, userID, siteID string) (models.Site, error) {
	var (
		removed models.Site
		owner   models.User
	)
	err := s.store.Modify(ctx, func(reg *store.Registry) (bool, error) {
		u, ok := reg.UserByID(userID)
		if !ok {
			return false, fmt.Errorf("user %s: %w", userID, models.ErrNotFound)
		}
		site, err := reg.RemoveSite(userID, siteID)
		if err != nil {
			return false, err
		}
		removed, owner = site, u
		return true, nil
	})
	if err != nil {
		return models.Site{}, err
	}
	if err := s.content.Remove(owner.Subdomain, removed.Slug); err != nil {
		log.Printf("sites: remove files of %s failed: %v", removed.Slug, err)
	}
	if removed.DNSRecordID != "" {
		s.removeDNS(ctx, removed.DNSRecordID)
	}
	log.Printf("sites: deleted %s of %s", removed.Slug, owner.Username)
	return removed.Sanitize(), nil
}

// ListForUser returns the user's sites and visit total.
func (s *Service) ListForUser(ctx context.Context, userID string) (*Overview, error) {
	reg, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	u, ok := reg.UserByID(userID)
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, models.ErrNotFound)
	}
	out := &Overview{User: u.Sanitize(), Sites: make([]SiteSummary, 0, len(u.Sites)), TotalVisits: u.TotalVisits()}
	for _, site := range u.Sites {
		out.Sites = append(out.Sites, SiteSummary{Site: site.Sanitize(), URL: s.SiteURL(u, site), Domains: s.SiteHosts(site)})
	}
	return out, nil
}

// ChangeExtension moves a user onto another extension. A fresh subdomain is generated for the
// new extension and every site directory moves with it.
func (s *Service) ChangeExtension(ctx context.Context, userID, extension string) (*Session, error) {
	ext := s.domains.NormalizeExtension(extension)
	if !s.domains.IsAllowedExtension(ext) {
		return nil, models.ErrValidation(fmt.Sprintf("domain extension %s is not offered", ext))
	}
	var before, after models.User
	err := s.store.Modify(ctx, func(reg *store.Registry) (bool, error) {
		u, ok := reg.UserByID(userID)
		if !ok {
			return false, fmt.Errorf("user %s: %w", userID, models.ErrNotFound)
		}
		if u.DomainExtension == ext {
			before, after = u, u
			return false, nil
		}
		if s.domains.IsPremiumExtension(ext) && !u.IsPremium {
			return false, fmt.Errorf("extension %s requires a premium account: %w", ext, models.ErrForbidden)
		}
		sub, n, err := s.names.Pick(u.Username, namegen.ScopeSubdomain, ext, reg.IsSubdomainAvailable)
		s.metrics.RecordNameAttempts(string(namegen.ScopeSubdomain), n)
		if err != nil {
			return false, err
		}
		if err := reg.UpdateUser(userID, func(m *models.User) {
			m.DomainExtension = ext
			m.Subdomain = sub
		}); err != nil {
			return false, err
		}
		before = u
		after, _ = reg.UserByID(userID)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if before.Subdomain != after.Subdomain {
		if err := os.Rename(s.content.Dir(before.Subdomain, ""), s.content.Dir(after.Subdomain, "")); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Printf("sites: move content of %s failed: %v", after.Username, err)
		}
	}
	token, err := s.auth.IssueToken(after)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &Session{Token: token, User: after.Sanitize(), Subdomain: after.Subdomain, Domains: s.UserHosts(after)}, nil
}

func (s *Service) provisionDNS(ctx context.Context, site models.Site) models.Site {
	if s.dns == nil {
		return site
	}
	rec, err := s.dns.CreateRecord(ctx, site.ID, s.domains.CanonicalHost(site.Slug), s.dnsTarget)
	if err != nil {
		log.Printf("sites: create dns record for %s failed: %v", site.Slug, err)
		return site
	}
	err = s.store.Modify(ctx, func(reg *store.Registry) (bool, error) {
		return true, reg.UpdateSite(site.ID, func(m *models.Site) {
			m.DNSRecordID = rec.ID
		})
	})
	if err != nil {
		log.Printf("sites: store dns record id for %s failed: %v", site.Slug, err)
		s.removeDNS(ctx, rec.ID)
		return site
	}
	site.DNSRecordID = rec.ID
	return site
}

func (s *Service) removeDNS(ctx context.Context, id string) {
	if s.dns == nil {
		return
	}
	if err := s.dns.DeleteRecord(ctx, id); err != nil {
		log.Printf("sites: delete dns record %s failed: %v", id, err)
	}
}
