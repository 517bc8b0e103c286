package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"sitehost/backend/internal/config"
	"sitehost/backend/internal/domains"
	"sitehost/backend/internal/metrics"
	"sitehost/backend/internal/models"
	"sitehost/backend/internal/store"

	"github.com/doyensec/safeurl"
	"github.com/miekg/dns"
	"golang.org/x/time/rate"
)

// TXTPrefix is the label under which owners publish their verification token.
const TXTPrefix = "_sitehost-verify"

// WellKnownPath is the HTTP probe path; the token follows it.
const WellKnownPath = "/.well-known/sitehost/"

// Verification methods recorded on DomainState.Method.
const (
	MethodTXT   = "dns-txt"
	MethodCNAME = "dns-cname"
	MethodHTTP  = "http"
)

// sweepRate caps resolver queries during a periodic sweep.
const sweepRate = rate.Limit(5)

// ErrUnverified reports that no check proved ownership of the domain.
var ErrUnverified = errors.New("no verification record found")

// Lookup answers the DNS questions verification needs.
type Lookup interface {
	TXT(ctx context.Context, name string) ([]string, error)
	CNAME(ctx context.Context, name string) (string, error)
}

// Prober fetches the well-known token from a domain over HTTP.
type Prober interface {
	Probe(ctx context.Context, domain, token string) error
}

// Verifier confirms custom domain ownership and keeps DomainState current.
type Verifier struct {
	store     *store.Store
	domains   *domains.Registry
	lookup    Lookup
	prober    Prober
	metrics   metrics.Recorder
	target    string
	interval  time.Duration
	pace      *rate.Limiter
	threshold int
	enabled   bool
	now       func() time.Time
}

// New builds a verifier from configuration. The HTTP probe is only wired when enabled.
func New(cfg *config.Config, st *store.Store, reg *domains.Registry, rec metrics.Recorder) *Verifier {
	timeout := cfg.VerifyTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	v := &Verifier{
		store:     st,
		domains:   reg,
		lookup:    &dnsLookup{client: &dns.Client{Timeout: timeout}, server: cfg.VerifyResolver},
		metrics:   rec,
		target:    models.NormalizeHost(cfg.DNSRecordTarget),
		interval:  cfg.VerifyInterval,
		pace:      rate.NewLimiter(sweepRate, 1),
		threshold: cfg.VerifyFailureThreshold,
		enabled:   cfg.VerifyEnabled,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if cfg.VerifyHTTPProbe {
		v.prober = newHTTPProber(timeout)
	}
	if v.metrics == nil {
		v.metrics = metrics.Nop{}
	}
	if v.interval <= 0 {
		v.interval = 10 * time.Minute
	}
	if v.threshold <= 0 {
		v.threshold = 3
	}
	return v
}

// Start re-checks every custom domain on each tick until ctx is cancelled.
func (v *Verifier) Start(ctx context.Context) {
	if !v.enabled {
		log.Println("verify: periodic domain verification disabled")
		return
	}
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.sweep(ctx)
		}
	}
}

func (v *Verifier) sweep(ctx context.Context) {
	reg, err := v.store.Snapshot(ctx)
	if err != nil {
		log.Printf("verify: snapshot failed: %v", err)
		return
	}
	for _, m := range reg.Sites() {
		if ctx.Err() != nil {
			return
		}
		if m.Site.CustomDomain == "" {
			continue
		}
		if err := v.pace.Wait(ctx); err != nil {
			return
		}
		if _, err := v.VerifySite(ctx, m.Site.ID); err != nil && !errors.Is(err, ErrUnverified) {
			log.Printf("verify: %s: %v", m.Site.CustomDomain, err)
		}
	}
}

// VerifySite checks the site's custom domain now and persists the outcome.
// A failed check keeps an already verified domain until the failure threshold is reached.
func (v *Verifier) VerifySite(ctx context.Context, siteID string) (models.DomainState, error) {
	reg, err := v.store.Snapshot(ctx)
	if err != nil {
		return models.DomainState{}, err
	}
	m, ok := reg.SiteByID(siteID)
	if !ok {
		return models.DomainState{}, fmt.Errorf("site %s: %w", siteID, models.ErrNotFound)
	}
	site := m.Site
	if site.CustomDomain == "" {
		return models.DomainState{}, models.ErrValidation("site has no custom domain")
	}
	method, checkErr := v.check(ctx, site)
	now := v.now()

	var state models.DomainState
	err = v.store.Modify(ctx, func(reg *store.Registry) (bool, error) {
		cur, ok := reg.SiteByID(siteID)
		if !ok || cur.Site.CustomDomain != site.CustomDomain {
			return false, fmt.Errorf("site %s changed during verification: %w", siteID, models.ErrNotFound)
		}
		return true, reg.UpdateSite(siteID, func(s *models.Site) {
			d := &s.Domain
			d.LastCheckedAt = now
			if checkErr == nil {
				if !d.Verified {
					d.VerifiedAt = now
				}
				d.Verified = true
				d.Method = method
				d.LastError = ""
				d.Failures = 0
			} else {
				d.LastError = checkErr.Error()
				d.Failures++
				if d.Verified && d.Failures >= v.threshold {
					log.Printf("verify: %s unverified after %d failed checks", s.CustomDomain, d.Failures)
					d.Verified = false
					d.Method = ""
				}
			}
			state = *d
		})
	})
	if err != nil {
		return models.DomainState{}, err
	}
	result := "verified"
	if checkErr != nil {
		result = "failed"
	}
	v.metrics.RecordDomainCheck(result)
	return state, checkErr
}

// check tries the TXT token, then a CNAME onto the platform, then the HTTP probe.
func (v *Verifier) check(ctx context.Context, site models.Site) (string, error) {
	domain := site.CustomDomain
	token := site.Domain.Token
	var errs []string

	if token != "" {
		values, err := v.lookup.TXT(ctx, TXTPrefix+"."+domain)
		if err != nil {
			errs = append(errs, "txt: "+err.Error())
		}
		for _, value := range values {
			if strings.TrimSpace(value) == token {
				return MethodTXT, nil
			}
		}
	}

	target, err := v.lookup.CNAME(ctx, domain)
	if err != nil {
		errs = append(errs, "cname: "+err.Error())
	} else if target != "" {
		target = models.NormalizeHost(target)
		if v.domains.IsPlatformHost(target) || (v.target != "" && target == v.target) {
			return MethodCNAME, nil
		}
	}

	if v.prober != nil && token != "" {
		err := v.prober.Probe(ctx, domain, token)
		if err == nil {
			return MethodHTTP, nil
		}
		errs = append(errs, "http: "+err.Error())
	}

	if len(errs) == 0 {
		return "", ErrUnverified
	}
	return "", fmt.Errorf("%w (%s)", ErrUnverified, strings.Join(errs, "; "))
}

type dnsLookup struct {
	client *dns.Client
	server string
}

func (l *dnsLookup) exchange(ctx context.Context, name string, qtype uint16) ([]dns.RR, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.RecursionDesired = true
	resp, _, err := l.client.ExchangeContext(ctx, msg, l.server)
	if err != nil {
		return nil, err
	}
	if resp.Rcode == dns.RcodeNameError {
		return nil, nil
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("resolver returned %s", dns.RcodeToString[resp.Rcode])
	}
	return resp.Answer, nil
}

func (l *dnsLookup) TXT(ctx context.Context, name string) ([]string, error) {
	answers, err := l.exchange(ctx, name, dns.TypeTXT)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, rr := range answers {
		if txt, ok := rr.(*dns.TXT); ok {
			out = append(out, strings.Join(txt.Txt, ""))
		}
	}
	return out, nil
}

func (l *dnsLookup) CNAME(ctx context.Context, name string) (string, error) {
	answers, err := l.exchange(ctx, name, dns.TypeCNAME)
	if err != nil {
		return "", err
	}
	for _, rr := range answers {
		if c, ok := rr.(*dns.CNAME); ok {
			return c.Target, nil
		}
	}
	return "", nil
}

// httpProber fetches the token through an SSRF-guarded client so owners cannot point
// the probe at internal addresses.
type httpProber struct {
	client *http.Client
}

func newHTTPProber(timeout time.Duration) *httpProber {
	cfg := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(80, 443).
		Build()
	return &httpProber{client: safeurl.Client(cfg).Client}
}

func (p *httpProber) Probe(ctx context.Context, domain, token string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+domain+WellKnownPath+token, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 512))
	if err != nil {
		return err
	}
	if strings.TrimSpace(string(body)) != token {
		return errors.New("token mismatch")
	}
	return nil
}
