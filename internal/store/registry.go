package store

import (
	"fmt"
	"strings"
	"time"

	"sitehost/backend/internal/models"
)

// SlugPolicy selects how widely site slugs must be unique.
type SlugPolicy string

const (
	// SlugGlobal makes slugs and user subdomains share one namespace across all users.
	SlugGlobal SlugPolicy = "global"
	// SlugPerUser only requires slugs to be unique within one user's sites.
	SlugPerUser SlugPolicy = "user"
)

// ParseSlugPolicy maps configuration input onto a policy.
func ParseSlugPolicy(v string) (SlugPolicy, error) {
	switch SlugPolicy(strings.ToLower(strings.TrimSpace(v))) {
	case "", SlugGlobal:
		return SlugGlobal, nil
	case SlugPerUser:
		return SlugPerUser, nil
	default:
		return "", fmt.Errorf("unknown slug policy %q", v)
	}
}

type siteRef struct {
	user int
	site int
}

// Registry is the full tenant document: every user with their nested sites.
// Lookups go through indexes rebuilt after every load and mutation.
type Registry struct {
	Version int64         `json:"version"`
	Users   []models.User `json:"users"`

	policy      SlugPolicy
	byID        map[string]int
	byUsername  map[string]int
	byEmail     map[string]int
	bySubdomain map[string]int
	bySlug      map[string][]siteRef
	byDomain    map[string]siteRef
	bySiteID    map[string]siteRef
}

// Match is a located site together with its owner. Both are copies.
type Match struct {
	User models.User
	Site models.Site
}

// NewRegistry returns an indexed registry over users.
func NewRegistry(users []models.User, policy SlugPolicy) *Registry {
	if users == nil {
		users = []models.User{}
	}
	r := &Registry{Users: users, policy: policy}
	r.reindex()
	return r
}

// Policy reports the slug policy in force.
func (r *Registry) Policy() SlugPolicy {
	return r.policy
}

func (r *Registry) setPolicy(policy SlugPolicy) {
	if policy == "" {
		policy = SlugGlobal
	}
	r.policy = policy
}

func (r *Registry) reindex() {
	if r.policy == "" {
		r.policy = SlugGlobal
	}
	r.byID = make(map[string]int, len(r.Users))
	r.byUsername = make(map[string]int, len(r.Users))
	r.byEmail = make(map[string]int, len(r.Users))
	r.bySubdomain = make(map[string]int, len(r.Users))
	r.bySlug = make(map[string][]siteRef)
	r.byDomain = make(map[string]siteRef)
	r.bySiteID = make(map[string]siteRef)
	for ui := range r.Users {
		u := &r.Users[ui]
		r.byID[u.ID] = ui
		r.byUsername[strings.ToLower(u.Username)] = ui
		if u.Email != "" {
			r.byEmail[strings.ToLower(u.Email)] = ui
		}
		if u.Subdomain != "" {
			r.bySubdomain[u.Subdomain] = ui
		}
		for si := range u.Sites {
			s := &u.Sites[si]
			ref := siteRef{user: ui, site: si}
			r.bySlug[s.Slug] = append(r.bySlug[s.Slug], ref)
			r.bySiteID[s.ID] = ref
			if s.CustomDomain != "" {
				r.byDomain[s.CustomDomain] = ref
			}
		}
	}
}

// Clone returns a deep copy that can be mutated independently.
func (r *Registry) Clone() *Registry {
	users := make([]models.User, len(r.Users))
	for i, u := range r.Users {
		u.Sites = append([]models.Site(nil), u.Sites...)
		users[i] = u
	}
	out := &Registry{Version: r.Version, Users: users, policy: r.policy}
	out.reindex()
	return out
}

func (r *Registry) match(ref siteRef) Match {
	u := r.Users[ref.user]
	return Match{User: u, Site: u.Sites[ref.site]}
}

// Locate finds the site served for a tenant label. A site slug wins; failing that a user
// subdomain selects that user's default site. The first match in registry order wins.
func (r *Registry) Locate(label string) (Match, bool) {
	if m, ok := r.LocateSlug(label); ok {
		return m, true
	}
	ui, ok := r.bySubdomain[label]
	if !ok {
		return Match{}, false
	}
	u := r.Users[ui]
	si, ok := u.DefaultSite()
	if !ok {
		return Match{}, false
	}
	return Match{User: u, Site: u.Sites[si]}, true
}

// LocateSlug finds the first published site with the given slug.
func (r *Registry) LocateSlug(slug string) (Match, bool) {
	for _, ref := range r.bySlug[slug] {
		if r.Users[ref.user].Sites[ref.site].Published {
			return r.match(ref), true
		}
	}
	return Match{}, false
}

// LocateDomain finds the site bound to a verified custom domain.
func (r *Registry) LocateDomain(host string) (Match, bool) {
	ref, ok := r.byDomain[models.NormalizeHost(host)]
	if !ok {
		return Match{}, false
	}
	m := r.match(ref)
	if !m.Site.Published || !m.Site.HasVerifiedDomain() {
		return Match{}, false
	}
	return m, true
}

// SiteByID returns the site with id and its owner.
func (r *Registry) SiteByID(id string) (Match, bool) {
	ref, ok := r.bySiteID[id]
	if !ok {
		return Match{}, false
	}
	return r.match(ref), true
}

// UserByID returns a copy of the user with id.
func (r *Registry) UserByID(id string) (models.User, bool) {
	ui, ok := r.byID[id]
	if !ok {
		return models.User{}, false
	}
	return r.Users[ui], true
}

// UserByLogin matches a username (case-insensitive) or an email address.
func (r *Registry) UserByLogin(login string) (models.User, bool) {
	key := strings.ToLower(strings.TrimSpace(login))
	if ui, ok := r.byUsername[key]; ok {
		return r.Users[ui], true
	}
	if ui, ok := r.byEmail[key]; ok {
		return r.Users[ui], true
	}
	return models.User{}, false
}

// UserBySubdomain returns the user holding subdomain.
func (r *Registry) UserBySubdomain(subdomain string) (models.User, bool) {
	ui, ok := r.bySubdomain[subdomain]
	if !ok {
		return models.User{}, false
	}
	return r.Users[ui], true
}

// Sites lists every site with its owner in registry order.
func (r *Registry) Sites() []Match {
	var out []Match
	for _, u := range r.Users {
		for _, s := range u.Sites {
			out = append(out, Match{User: u, Site: s})
		}
	}
	return out
}

// IsSubdomainAvailable reports whether no user holds candidate and no site uses it as a slug.
// Slugs win over subdomains in Locate, so the two share one namespace under either policy.
func (r *Registry) IsSubdomainAvailable(candidate string) bool {
	if _, taken := r.bySubdomain[candidate]; taken {
		return false
	}
	return len(r.bySlug[candidate]) == 0
}

// IsSlugAvailable reports whether userID may use slug for a new site.
func (r *Registry) IsSlugAvailable(userID, slug string) bool {
	return r.SlugAvailableFor(userID, slug, "")
}

// SlugAvailableFor is IsSlugAvailable ignoring the site exceptSiteID, so a site can keep or
// take back its own slug when republished.
func (r *Registry) SlugAvailableFor(userID, slug, exceptSiteID string) bool {
	for _, ref := range r.bySlug[slug] {
		s := r.Users[ref.user].Sites[ref.site]
		if s.ID == exceptSiteID {
			continue
		}
		if r.policy == SlugGlobal || r.Users[ref.user].ID == userID {
			return false
		}
	}
	// Another user's subdomain is never a usable slug.
	if ui, ok := r.bySubdomain[slug]; ok && r.Users[ui].ID != userID {
		return false
	}
	return true
}

// IsDomainAvailable reports whether no other site claims the custom domain.
func (r *Registry) IsDomainAvailable(domain, exceptSiteID string) bool {
	ref, ok := r.byDomain[models.NormalizeHost(domain)]
	if !ok {
		return true
	}
	return r.Users[ref.user].Sites[ref.site].ID == exceptSiteID
}

// AddUser appends a new user after checking identity and subdomain uniqueness.
func (r *Registry) AddUser(u models.User) error {
	if _, ok := r.byID[u.ID]; ok {
		return fmt.Errorf("user id %s: %w", u.ID, models.ErrCollision)
	}
	if _, ok := r.byUsername[strings.ToLower(u.Username)]; ok {
		return fmt.Errorf("username %s: %w", u.Username, models.ErrCollision)
	}
	if _, ok := r.byEmail[strings.ToLower(u.Email)]; ok && u.Email != "" {
		return fmt.Errorf("email %s: %w", u.Email, models.ErrCollision)
	}
	if !r.IsSubdomainAvailable(u.Subdomain) {
		return fmt.Errorf("subdomain %s: %w", u.Subdomain, models.ErrCollision)
	}
	if u.Sites == nil {
		u.Sites = []models.Site{}
	}
	r.Users = append(r.Users, u)
	r.reindex()
	return nil
}

// UpdateUser applies fn to the stored user with id.
func (r *Registry) UpdateUser(id string, fn func(*models.User)) error {
	ui, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("user %s: %w", id, models.ErrNotFound)
	}
	fn(&r.Users[ui])
	r.Users[ui].UpdatedAt = time.Now().UTC()
	r.reindex()
	return nil
}

// PutSite inserts or replaces (by id) a site of userID, enforcing slug and domain uniqueness.
func (r *Registry) PutSite(userID string, site models.Site) error {
	ui, ok := r.byID[userID]
	if !ok {
		return fmt.Errorf("user %s: %w", userID, models.ErrNotFound)
	}
	if !r.SlugAvailableFor(userID, site.Slug, site.ID) {
		return fmt.Errorf("slug %s: %w", site.Slug, models.ErrCollision)
	}
	site.CustomDomain = models.NormalizeHost(site.CustomDomain)
	if site.CustomDomain != "" && !r.IsDomainAvailable(site.CustomDomain, site.ID) {
		return fmt.Errorf("domain %s: %w", site.CustomDomain, models.ErrCollision)
	}
	u := &r.Users[ui]
	if si := u.SiteByID(site.ID); si >= 0 {
		u.Sites[si] = site
	} else {
		u.Sites = append(u.Sites, site)
	}
	r.reindex()
	return nil
}

// UpdateSite applies fn to the site with id.
func (r *Registry) UpdateSite(siteID string, fn func(*models.Site)) error {
	ref, ok := r.bySiteID[siteID]
	if !ok {
		return fmt.Errorf("site %s: %w", siteID, models.ErrNotFound)
	}
	fn(&r.Users[ref.user].Sites[ref.site])
	r.reindex()
	return nil
}

// RemoveSite deletes the site with id owned by userID and returns it.
func (r *Registry) RemoveSite(userID, siteID string) (models.Site, error) {
	ref, ok := r.bySiteID[siteID]
	if !ok || r.Users[ref.user].ID != userID {
		return models.Site{}, fmt.Errorf("site %s: %w", siteID, models.ErrNotFound)
	}
	u := &r.Users[ref.user]
	removed := u.Sites[ref.site]
	u.Sites = append(u.Sites[:ref.site], u.Sites[ref.site+1:]...)
	r.reindex()
	return removed, nil
}

// IncrementVisits adds one visit to the site and returns the new count.
func (r *Registry) IncrementVisits(siteID string) (int64, error) {
	ref, ok := r.bySiteID[siteID]
	if !ok {
		return 0, fmt.Errorf("site %s: %w", siteID, models.ErrNotFound)
	}
	s := &r.Users[ref.user].Sites[ref.site]
	s.Visits++
	return s.Visits, nil
}

// ReplaceUsers swaps in a complete user list, as when restoring a backup. The list is
// checked with the same uniqueness rules as incremental writes and r is left untouched
// on error.
func (r *Registry) ReplaceUsers(users []models.User) error {
	fresh := NewRegistry(nil, r.policy)
	for _, u := range users {
		sites := u.Sites
		u.Sites = nil
		if err := fresh.AddUser(u); err != nil {
			return err
		}
		for _, s := range sites {
			if err := fresh.PutSite(u.ID, s); err != nil {
				return err
			}
		}
	}
	r.Users = fresh.Users
	r.reindex()
	return nil
}
