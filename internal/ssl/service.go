package ssl

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"sitehost/backend/internal/config"
	"sitehost/backend/internal/models"
	"sitehost/backend/internal/store"

	"github.com/go-acme/lego/v4/certificate"
	"github.com/google/uuid"
)

const maxRetryBackoff = 24 * time.Hour

var (
	errLockHeld = errors.New("certificate issuance already in progress")
	errBackoff  = errors.New("waiting for retry window")
	errNotReady = errors.New("site has no verified custom domain")
)

// Service issues and renews certificates for verified custom domains.
type Service struct {
	cfg        *config.Config
	store      *store.Store
	challenges *ChallengeStore
	certs      *CertStore
	ledger     *issuanceLedger
	limits     issuanceLimits
	issuer     Issuer
	now        func() time.Time
}

// New constructs a TLS service bound to registry state.
func New(cfg *config.Config, st *store.Store) *Service {
	s := &Service{
		cfg:        cfg,
		store:      st,
		challenges: NewChallengeStore(),
		certs:      NewCertStore(cfg.DataDir),
		ledger:     newIssuanceLedger(cfg.DataDir),
		limits:     defaultLimits,
		now:        func() time.Time { return time.Now().UTC() },
	}
	s.issuer = &acmeIssuer{
		directory: cfg.ACMEDirectory,
		email:     cfg.ACMEEmail,
		account:   newAccountStore(cfg.DataDir),
		provider:  s.challenges,
	}
	return s
}

// Challenges exposes the http-01 responder state.
func (s *Service) Challenges() *ChallengeStore { return s.challenges }

// GetCertificate serves stored certificates to a TLS listener.
func (s *Service) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	return s.certs.GetCertificate(hello)
}

// Start runs the reconciliation loop until context cancellation.
func (s *Service) Start(ctx context.Context) {
	if !s.cfg.ACMEEnabled {
		log.Println("tls: ACME disabled via configuration")
		return
	}
	interval := s.cfg.ACMEInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.reconcile(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reconcile(ctx)
		}
	}
}

func (s *Service) reconcile(ctx context.Context) {
	reg, err := s.store.Snapshot(ctx)
	if err != nil {
		log.Printf("tls: snapshot failed: %v", err)
		return
	}
	wanted := make(map[string]bool)
	issued := 0
	for _, m := range reg.Sites() {
		if ctx.Err() != nil {
			return
		}
		site := m.Site
		if !site.Published || !site.HasVerifiedDomain() {
			continue
		}
		wanted[site.CustomDomain] = true
		if s.cfg.ACMEMaxPerCycle > 0 && issued >= s.cfg.ACMEMaxPerCycle {
			continue
		}
		if !s.needsCertificate(site) {
			continue
		}
		if err := s.ensureCertificate(ctx, site.ID); err != nil {
			if !errors.Is(err, errLockHeld) && !errors.Is(err, errBackoff) {
				log.Printf("tls: %s: %v", site.CustomDomain, err)
			}
			continue
		}
		issued++
	}
	s.pruneOrphans(wanted)
}

// ensureCertificate runs one locked issuance attempt for the site.
func (s *Service) ensureCertificate(ctx context.Context, siteID string) error {
	lockID, site, err := s.acquireLock(ctx, siteID)
	if err != nil {
		return err
	}
	allowed, next, err := s.ledger.reserve(site.CustomDomain, s.limits, s.now())
	if err != nil {
		s.releaseLock(ctx, siteID, lockID)
		return err
	}
	if !allowed {
		err := fmt.Errorf("issuance limit reached until %s", next.Format(time.RFC3339))
		s.markError(ctx, siteID, lockID, err, next)
		return err
	}
	if err := s.issueCertificate(ctx, site, lockID); err != nil {
		s.markError(ctx, siteID, lockID, err, time.Time{})
		return err
	}
	return nil
}

func (s *Service) needsCertificate(site models.Site) bool {
	now := s.now()
	if site.TLS.RetryAfter.After(now) {
		return false
	}
	if site.TLS.Status == models.CertificateStatusPending && site.TLS.LockExpiresAt.After(now) {
		return false
	}
	if site.TLS.Status != models.CertificateStatusActive || site.TLS.NotAfter.IsZero() {
		return true
	}
	if !s.certs.Has(site.CustomDomain) {
		return true
	}
	renewBefore := s.cfg.ACMERenewBefore
	if renewBefore <= 0 {
		renewBefore = 30 * 24 * time.Hour
	}
	return site.TLS.NotAfter.Sub(now) <= renewBefore
}

func (s *Service) acquireLock(ctx context.Context, siteID string) (string, models.Site, error) {
	now := s.now()
	lockID := uuid.NewString()
	var locked models.Site
	err := s.store.Modify(ctx, func(reg *store.Registry) (bool, error) {
		m, ok := reg.SiteByID(siteID)
		if !ok {
			return false, fmt.Errorf("site %s: %w", siteID, models.ErrNotFound)
		}
		if !m.Site.HasVerifiedDomain() {
			return false, errNotReady
		}
		if m.Site.TLS.RetryAfter.After(now) {
			return false, errBackoff
		}
		if m.Site.TLS.LockID != "" && m.Site.TLS.LockExpiresAt.After(now) {
			return false, errLockHeld
		}
		return true, reg.UpdateSite(siteID, func(site *models.Site) {
			site.TLS.EnsureDefaults()
			site.TLS.LockID = lockID
			site.TLS.LockExpiresAt = now.Add(s.cfg.ACMELockTTL)
			site.TLS.Status = models.CertificateStatusPending
			site.TLS.LastAttemptAt = now
			site.TLS.LastError = ""
			locked = *site
		})
	})
	if err != nil {
		return "", models.Site{}, err
	}
	return lockID, locked, nil
}

func (s *Service) issueCertificate(ctx context.Context, site models.Site, lockID string) error {
	var existing *certificate.Resource
	if res, err := s.certs.Resource(site.CustomDomain); err == nil {
		existing = res
	} else if !os.IsNotExist(err) {
		log.Printf("tls: unable to load stored certificate for %s: %v", site.CustomDomain, err)
	}
	res, err := s.issuer.Obtain(ctx, []string{site.CustomDomain}, existing)
	if err != nil {
		return err
	}
	leaf, err := s.certs.Save(site.CustomDomain, res)
	if err != nil {
		return err
	}
	return s.store.Modify(ctx, func(reg *store.Registry) (bool, error) {
		return true, reg.UpdateSite(site.ID, func(st *models.Site) {
			if st.TLS.LockID == lockID {
				st.TLS.LockID = ""
				st.TLS.LockExpiresAt = time.Time{}
			}
			st.TLS.Status = models.CertificateStatusActive
			st.TLS.NotAfter = leaf.NotAfter.UTC()
			st.TLS.Issuer = leaf.Issuer.CommonName
			st.TLS.LastError = ""
			st.TLS.RetryAfter = time.Time{}
			st.TLS.Failures = 0
		})
	})
}

// markError records a failed attempt. Without an explicit retry time the wait doubles per
// consecutive failure, starting at ACMERetryAfter and capped at a day.
func (s *Service) markError(ctx context.Context, siteID, lockID string, cause error, retryAt time.Time) {
	now := s.now()
	err := s.store.Modify(ctx, func(reg *store.Registry) (bool, error) {
		m, ok := reg.SiteByID(siteID)
		if !ok || m.Site.TLS.LockID != lockID {
			return false, nil
		}
		return true, reg.UpdateSite(siteID, func(site *models.Site) {
			site.TLS.LockID = ""
			site.TLS.LockExpiresAt = time.Time{}
			site.TLS.Status = models.CertificateStatusErrored
			site.TLS.LastError = cause.Error()
			site.TLS.Failures++
			if retryAt.IsZero() {
				retryAt = now.Add(s.retryDelay(site.TLS.Failures))
			}
			site.TLS.RetryAfter = retryAt
		})
	})
	if err != nil {
		log.Printf("tls: unable to record failure for site %s: %v", siteID, err)
	}
}

func (s *Service) retryDelay(failures int) time.Duration {
	delay := s.cfg.ACMERetryAfter
	if delay < 5*time.Minute {
		delay = 5 * time.Minute
	}
	for i := 1; i < failures && delay < maxRetryBackoff; i++ {
		delay *= 2
	}
	if delay > maxRetryBackoff {
		delay = maxRetryBackoff
	}
	return delay
}

func (s *Service) releaseLock(ctx context.Context, siteID, lockID string) {
	err := s.store.Modify(ctx, func(reg *store.Registry) (bool, error) {
		m, ok := reg.SiteByID(siteID)
		if !ok || m.Site.TLS.LockID != lockID {
			return false, nil
		}
		return true, reg.UpdateSite(siteID, func(site *models.Site) {
			site.TLS.LockID = ""
			site.TLS.LockExpiresAt = time.Time{}
			if site.TLS.Status == models.CertificateStatusPending {
				site.TLS.Status = models.CertificateStatusNone
				if !site.TLS.NotAfter.IsZero() {
					site.TLS.Status = models.CertificateStatusActive
				}
			}
		})
	})
	if err != nil {
		log.Printf("tls: unable to release lock for site %s: %v", siteID, err)
	}
}

// pruneOrphans removes stored certificates for domains no longer verified on any site.
func (s *Service) pruneOrphans(wanted map[string]bool) {
	entries, err := os.ReadDir(s.certs.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() || wanted[e.Name()] {
			continue
		}
		if err := s.certs.Remove(e.Name()); err != nil {
			log.Printf("tls: unable to remove certificate for %s: %v", e.Name(), err)
			continue
		}
		log.Printf("tls: removed certificate for %s", e.Name())
	}
}
