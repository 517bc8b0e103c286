// Package routing turns a request Host header into a serving decision for tenant sites.
package routing

import (
	"context"
	"log"
	"strings"

	"sitehost/backend/internal/domains"
	"sitehost/backend/internal/metrics"
	"sitehost/backend/internal/models"
	"sitehost/backend/internal/store"
)

// Action is what the HTTP layer should do with a request.
type Action int

const (
	// ActionPassThrough hands the request to the platform's own routes.
	ActionPassThrough Action = iota
	// ActionServe streams the located site.
	ActionServe
	// ActionRedirect sends the visitor to the marketing site.
	ActionRedirect
	// ActionNotFound renders the missing-site page.
	ActionNotFound
)

func (a Action) String() string {
	switch a {
	case ActionServe:
		return "serve"
	case ActionRedirect:
		return "redirect"
	case ActionNotFound:
		return "not_found"
	default:
		return "pass_through"
	}
}

// Decision is the outcome of routing one Host header.
type Decision struct {
	Action       Action
	Host         domains.ResolvedHost
	Canonical    domains.Canonical
	Match        store.Match
	CustomDomain bool
	RedirectURL  string
	// Aliases lists every hostname the subdomain answers on, canonical first.
	Aliases []string
}

// BySubdomain reports whether the site was found through its owner's subdomain rather than
// its own slug or custom domain.
func (d Decision) BySubdomain() bool {
	return d.Action == ActionServe && !d.CustomDomain && d.Match.User.Subdomain == d.Host.Subdomain &&
		d.Match.Site.Slug != d.Host.Subdomain
}

// Snapshotter loads the current registry.
type Snapshotter interface {
	Snapshot(ctx context.Context) (*store.Registry, error)
}

// VisitRecorder persists a visit.
type VisitRecorder interface {
	RecordVisit(ctx context.Context, siteID string) (int64, error)
}

// Router resolves hosts against the domain layout and the registry.
type Router struct {
	domains     *domains.Registry
	store       Snapshotter
	visits      VisitRecorder
	mainSiteURL string
	metrics     metrics.Recorder
}

// New returns a Router. rec may be nil.
func New(reg *domains.Registry, st *store.Store, mainSiteURL string, rec metrics.Recorder) *Router {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Router{domains: reg, store: st, visits: st, mainSiteURL: mainSiteURL, metrics: rec}
}

// Decide applies the routing table to host. The registry is read fresh on every call.
func (r *Router) Decide(ctx context.Context, host string) (Decision, error) {
	d, err := r.decide(ctx, host)
	if err != nil {
		return Decision{}, err
	}
	r.metrics.RecordResolution(d.Action.String())
	return d, nil
}

func (r *Router) decide(ctx context.Context, host string) (Decision, error) {
	normalized := domains.NormalizeRequestHost(host)
	resolved, ok := r.domains.Resolve(normalized)
	if !ok {
		if normalized == "" || r.domains.IsPlatformHost(normalized) {
			return Decision{Action: ActionPassThrough}, nil
		}
		reg, err := r.store.Snapshot(ctx)
		if err != nil {
			return Decision{}, err
		}
		if m, found := reg.LocateDomain(normalized); found {
			return Decision{
				Action:       ActionServe,
				Match:        m,
				CustomDomain: true,
				Aliases:      append([]string{normalized}, r.domains.ExpandSubdomain(m.Site.Slug, r.domains.Primary())...),
			}, nil
		}
		return Decision{Action: ActionPassThrough}, nil
	}

	canonical := r.domains.Canonicalize(resolved)
	d := Decision{Host: resolved, Canonical: canonical, Aliases: canonical.AllDomains}
	reg, err := r.store.Snapshot(ctx)
	if err != nil {
		return Decision{}, err
	}
	if m, found := reg.Locate(resolved.Subdomain); found {
		d.Action = ActionServe
		d.Match = m
		return d, nil
	}
	if resolved.IsApex() {
		d.Action = ActionRedirect
		d.RedirectURL = r.mainSiteURL
		return d, nil
	}
	d.Action = ActionNotFound
	return d, nil
}

// LocateSlug is the host-independent lookup behind the /{slug}/ route.
func (r *Router) LocateSlug(ctx context.Context, slug string) (store.Match, bool, error) {
	reg, err := r.store.Snapshot(ctx)
	if err != nil {
		return store.Match{}, false, err
	}
	m, ok := reg.LocateSlug(strings.ToLower(slug))
	return m, ok, nil
}

// SiteForPath picks which of the owner's sites a subdomain request addresses. A leading path
// segment naming another published site of the owner selects it, and the remaining path is
// returned; otherwise the decision's site and the full path are returned.
func SiteForPath(d Decision, path string) (models.Site, string) {
	if !d.BySubdomain() {
		return d.Match.Site, path
	}
	trimmed := strings.TrimPrefix(path, "/")
	first, rest, _ := strings.Cut(trimmed, "/")
	if first == "" {
		return d.Match.Site, path
	}
	for _, site := range d.Match.User.Sites {
		if site.Published && site.Slug == first {
			return site, "/" + rest
		}
	}
	return d.Match.Site, path
}

// IsEntryDocument reports whether path requests a site's index document.
func IsEntryDocument(path string) bool {
	return path == "" || path == "/" || path == "/index.html"
}

// RecordVisit bumps the site's counter. Failures are logged, never returned, so a visit write
// can not fail the page.
func (r *Router) RecordVisit(ctx context.Context, siteID string) {
	if _, err := r.visits.RecordVisit(ctx, siteID); err != nil {
		log.Printf("routing: record visit for %s failed: %v", siteID, err)
		return
	}
	r.metrics.RecordVisit()
}
