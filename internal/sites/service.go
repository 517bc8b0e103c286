// Package sites implements accounts and site publishing on top of the registry store.
package sites

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"sitehost/backend/internal/auth"
	"sitehost/backend/internal/dnsprov"
	"sitehost/backend/internal/domains"
	"sitehost/backend/internal/metrics"
	"sitehost/backend/internal/models"
	"sitehost/backend/internal/namegen"
	"sitehost/backend/internal/store"

	"github.com/google/uuid"
)

var (
	// ErrInvalidCredentials is returned for unknown logins and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrLocked is returned while a login key is locked after repeated failures.
	ErrLocked = errors.New("too many failed login attempts")
)

// Options wires a Service.
type Options struct {
	Store          *store.Store
	Domains        *domains.Registry
	Names          *namegen.Generator
	Auth           *auth.Service
	Content        *ContentStore
	DNS            dnsprov.Provider
	Metrics        metrics.Recorder
	LockPolicy     store.LockPolicy
	DNSTarget      string
	AdminUsernames []string
}

// Service registers users and publishes their sites.
type Service struct {
	store      *store.Store
	domains    *domains.Registry
	names      *namegen.Generator
	auth       *auth.Service
	content    *ContentStore
	dns        dnsprov.Provider
	metrics    metrics.Recorder
	lockPolicy store.LockPolicy
	dnsTarget  string
	admins     map[string]struct{}
	now        func() time.Time
}

// New creates a Service. Store, Domains, Auth and Content are required.
func New(opts Options) *Service {
	s := &Service{
		store:      opts.Store,
		domains:    opts.Domains,
		names:      opts.Names,
		auth:       opts.Auth,
		content:    opts.Content,
		dns:        opts.DNS,
		metrics:    opts.Metrics,
		lockPolicy: opts.LockPolicy,
		dnsTarget:  opts.DNSTarget,
		admins:     make(map[string]struct{}, len(opts.AdminUsernames)),
		now:        func() time.Time { return time.Now().UTC() },
	}
	if s.names == nil {
		s.names = namegen.New()
	}
	if s.metrics == nil {
		s.metrics = metrics.Nop{}
	}
	if s.dnsTarget == "" {
		s.dnsTarget = opts.Domains.Primary()
	}
	for _, name := range opts.AdminUsernames {
		s.admins[strings.ToLower(name)] = struct{}{}
	}
	return s
}

// Content exposes the content store for the serving layer.
func (s *Service) Content() *ContentStore {
	return s.content
}

// RegisterInput is the registration payload.
type RegisterInput struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	DomainExtension string `json:"domainExtension"`
}

// Session is a signed-in user.
type Session struct {
	Token     string      `json:"token"`
	User      models.User `json:"user"`
	Subdomain string      `json:"subdomain,omitempty"`
	Domains   []string    `json:"domains,omitempty"`
}

// Register creates an account. The subdomain is generated and claimed inside the store's
// critical section, so concurrent registrations never share one.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if err := namegen.Validate(username, namegen.ScopeUsername); err != nil {
		return nil, err
	}
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := ValidatePassword(in.Password); err != nil {
		return nil, err
	}
	ext := s.domains.NormalizeExtension(in.DomainExtension)
	if !s.domains.IsAllowedExtension(ext) {
		return nil, models.ErrValidation(fmt.Sprintf("domain extension %s is not offered", ext))
	}
	if s.domains.IsPremiumExtension(ext) {
		return nil, fmt.Errorf("extension %s requires a premium account: %w", ext, models.ErrForbidden)
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	role := models.RoleUser
	if _, ok := s.admins[strings.ToLower(username)]; ok {
		role = models.RoleAdmin
	}
	now := s.now()
	base := s.names.Base(username)
	var (
		user     models.User
		attempts int
	)
	err = s.store.Modify(ctx, func(reg *store.Registry) (bool, error) {
		if _, taken := reg.UserByLogin(username); taken {
			return false, fmt.Errorf("username %s: %w", username, models.ErrCollision)
		}
		if _, taken := reg.UserByLogin(email); taken {
			return false, fmt.Errorf("email %s: %w", email, models.ErrCollision)
		}
		sub, n, err := s.names.PickFrom(base, namegen.ScopeSubdomain, ext, reg.IsSubdomainAvailable)
		attempts = n
		if err != nil {
			return false, err
		}
		user = models.User{
			ID:              uuid.NewString(),
			Username:        username,
			Email:           email,
			Role:            role,
			Password:        hash,
			DomainExtension: ext,
			Subdomain:       sub,
			CreatedAt:       now,
			UpdatedAt:       now,
			Sites:           []models.Site{},
		}
		if err := reg.AddUser(user); err != nil {
			return false, err
		}
		return true, nil
	})
	if attempts > 0 {
		s.metrics.RecordNameAttempts(string(namegen.ScopeSubdomain), attempts)
	}
	if err != nil {
		return nil, err
	}
	s.metrics.RecordRegistration()
	log.Printf("sites: registered %s with subdomain %s", user.Username, user.Subdomain)

	token, err := s.auth.IssueToken(user)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &Session{
		Token:     token,
		User:      user.Sanitize(),
		Subdomain: user.Subdomain,
		Domains:   s.UserHosts(user),
	}, nil
}

// Login authenticates by username or email.
func (s *Service) Login(ctx context.Context, login, password string) (*Session, error) {
	key := strings.ToLower(strings.TrimSpace(login))
	if key == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	now := s.now()
	attempt, _, err := s.store.GetLoginAttempt(key)
	if err != nil {
		return nil, fmt.Errorf("load login attempts: %w", err)
	}
	if attempt.Locked(now) {
		return nil, fmt.Errorf("%w until %s", ErrLocked, attempt.LockedUntil.Format(time.RFC3339))
	}

	reg, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	user, ok := reg.UserByLogin(key)
	if !ok || auth.CheckPassword(user.Password, password) != nil {
		if _, err := s.store.RecordLoginFailure(key, now, s.lockPolicy); err != nil {
			log.Printf("sites: record login failure for %s failed: %v", key, err)
		}
		return nil, ErrInvalidCredentials
	}
	if err := s.store.ResetLoginAttempts(key); err != nil {
		log.Printf("sites: reset login attempts for %s failed: %v", key, err)
	}
	err = s.store.Modify(ctx, func(reg *store.Registry) (bool, error) {
		return true, reg.UpdateUser(user.ID, func(u *models.User) {
			u.LastLogin = now
		})
	})
	if err != nil {
		log.Printf("sites: update last login for %s failed: %v", user.Username, err)
	} else {
		user.LastLogin = now
	}
	token, err := s.auth.IssueToken(user)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &Session{Token: token, User: user.Sanitize(), Subdomain: user.Subdomain, Domains: s.UserHosts(user)}, nil
}

// UserHosts lists every hostname of the user's subdomain, canonical first.
func (s *Service) UserHosts(u models.User) []string {
	return s.domains.ExpandSubdomain(u.Subdomain, s.domains.BaseDomain(u.DomainExtension))
}

// SiteHosts lists the hostnames a site answers on by slug.
func (s *Service) SiteHosts(site models.Site) []string {
	return s.domains.ExpandSubdomain(site.Slug, s.domains.Primary())
}

// SiteURL is the public address of a site. Under the per-user slug policy slugs are not
// globally unique, so the site is addressed by path under the owner's subdomain.
func (s *Service) SiteURL(u models.User, site models.Site) string {
	if s.store.Policy() == store.SlugPerUser {
		return "https://" + s.UserHosts(u)[0] + "/" + site.Slug + "/"
	}
	return "https://" + s.SiteHosts(site)[0] + "/"
}

// UpdateAccount applies operator changes to a user's role or premium flag.
func (s *Service) UpdateAccount(ctx context.Context, userID string, role *models.UserRole, premium *bool) (models.User, error) {
	if role != nil && *role != models.RoleAdmin && *role != models.RoleUser {
		return models.User{}, models.ErrValidation("role must be admin or user")
	}
	var out models.User
	err := s.store.Modify(ctx, func(reg *store.Registry) (bool, error) {
		if err := reg.UpdateUser(userID, func(u *models.User) {
			if role != nil {
				u.Role = *role
			}
			if premium != nil {
				u.IsPremium = *premium
			}
		}); err != nil {
			return false, err
		}
		out, _ = reg.UserByID(userID)
		return true, nil
	})
	if err != nil {
		return models.User{}, err
	}
	return out.Sanitize(), nil
}
