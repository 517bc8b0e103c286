package sites

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"sitehost/backend/internal/auth"
	"sitehost/backend/internal/dnsprov"
	"sitehost/backend/internal/domains"
	"sitehost/backend/internal/models"
	"sitehost/backend/internal/namegen"
	"sitehost/backend/internal/store"
)

type zeroSource struct{}

func (zeroSource) Intn(int) int { return 0 }

type fixture struct {
	svc     *Service
	store   *store.Store
	backend *store.MemoryBackend
	dns     *dnsprov.LedgerProvider
	dir     string
}

func newFixture(t *testing.T, opts ...store.Option) *fixture {
	t.Helper()
	dir := t.TempDir()
	backend := store.NewMemoryBackend()
	st, err := store.New(dir, append([]store.Option{store.WithBackend(backend)}, opts...)...)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	reg, err := domains.NewRegistry(domains.DefaultConfig())
	if err != nil {
		t.Fatalf("domains: %v", err)
	}
	ledger := dnsprov.NewLedgerProvider(dir, 300)
	svc := New(Options{
		Store:   st,
		Domains: reg,
		Names:   namegen.New(namegen.WithSource(zeroSource{})),
		Auth:    auth.New([]byte("test-secret")),
		Content: NewContentStore(dir, false),
		DNS:     ledger,
		LockPolicy: func(failures int) time.Duration {
			if failures >= 2 {
				return time.Minute
			}
			return 0
		},
		AdminUsernames: []string{"root"},
	})
	return &fixture{svc: svc, store: st, backend: backend, dns: ledger, dir: dir}
}

func (f *fixture) register(t *testing.T, username string) *Session {
	t.Helper()
	sess, err := f.svc.Register(context.Background(), RegisterInput{
		Username: username,
		Email:    username + "@example.com",
		Password: "correct-horse",
	})
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return sess
}

func TestRegisterAssignsSubdomain(t *testing.T) {
	f := newFixture(t)
	sess := f.register(t, "Alice")
	if sess.Subdomain != "alice-happytiger1-app" {
		t.Fatalf("subdomain = %q", sess.Subdomain)
	}
	if sess.Token == "" || sess.User.Password != "" {
		t.Fatalf("unexpected session %+v", sess)
	}
	want := []string{"alice-happytiger1-app.sitehost.app", "alice-happytiger1-app.sitehost.dev", "alice-happytiger1-app.sitehost.site"}
	if strings.Join(sess.Domains, ",") != strings.Join(want, ",") {
		t.Fatalf("domains = %v", sess.Domains)
	}
	if sess.User.Role != models.RoleUser {
		t.Fatalf("role = %s", sess.User.Role)
	}
	if admin := f.register(t, "root"); admin.User.Role != models.RoleAdmin {
		t.Fatalf("configured admin got role %s", admin.User.Role)
	}
}

func TestRegisterRejections(t *testing.T) {
	f := newFixture(t)
	f.register(t, "bob")
	cases := []struct {
		name string
		in   RegisterInput
		want error
	}{
		{"duplicate username", RegisterInput{Username: "BOB", Email: "other@example.com", Password: "correct-horse"}, models.ErrCollision},
		{"duplicate email", RegisterInput{Username: "bobby", Email: "bob@example.com", Password: "correct-horse"}, models.ErrCollision},
		{"bad username", RegisterInput{Username: "b!", Email: "b@example.com", Password: "correct-horse"}, models.ErrInvalidFormat},
		{"bad email", RegisterInput{Username: "carol", Email: "carol", Password: "correct-horse"}, models.ErrInvalidFormat},
		{"short password", RegisterInput{Username: "carol", Email: "carol@example.com", Password: "short"}, models.ErrInvalidFormat},
		{"unknown extension", RegisterInput{Username: "carol", Email: "carol@example.com", Password: "correct-horse", DomainExtension: ".xyz"}, models.ErrInvalidFormat},
		{"premium extension", RegisterInput{Username: "carol", Email: "carol@example.com", Password: "correct-horse", DomainExtension: "pro"}, models.ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.Register(context.Background(), tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestConcurrentRegistrationsGetDistinctSubdomains(t *testing.T) {
	f := newFixture(t)
	// Every name strips to the prefix "abcdef" and the source always draws the same word,
	// so each registration collides with the previous ones.
	var names []string
	for i := 1; i < 6; i++ {
		names = append(names, "abcdef"[:i]+"_"+"abcdef"[i:], "abcdef"[:i]+"-"+"abcdef"[i:])
	}
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		subs = map[string]string{}
		errs []error
	)
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			sess, err := f.svc.Register(context.Background(), RegisterInput{Username: name, Email: name + "@example.com", Password: "correct-horse"})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if prev, dup := subs[sess.Subdomain]; dup {
				errs = append(errs, errors.New(name+" and "+prev+" share "+sess.Subdomain))
			}
			subs[sess.Subdomain] = name
		}(name)
	}
	wg.Wait()
	if len(errs) > 0 {
		t.Fatalf("registration errors: %v", errs)
	}
	if len(subs) != len(names) {
		t.Fatalf("expected %d distinct subdomains, got %d", len(names), len(subs))
	}
}

func TestLoginAndLockout(t *testing.T) {
	f := newFixture(t)
	f.register(t, "dave")
	ctx := context.Background()

	sess, err := f.svc.Login(ctx, "dave@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("login by email: %v", err)
	}
	if sess.User.LastLogin.IsZero() {
		t.Fatalf("expected last login to be set")
	}
	u, err := f.store.GetUserByID(ctx, sess.User.ID)
	if err != nil || u.LastLogin.IsZero() {
		t.Fatalf("last login not persisted: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := f.svc.Login(ctx, "dave", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: got %v", i, err)
		}
	}
	if _, err := f.svc.Login(ctx, "dave", "correct-horse"); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected lockout, got %v", err)
	}
	if _, err := f.svc.Login(ctx, "nobody", "whatever"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user: %v", err)
	}
}

func TestPublishGeneratesSlugAndWritesFiles(t *testing.T) {
	f := newFixture(t)
	sess := f.register(t, "erin")
	ctx := context.Background()
	pub, err := f.svc.Publish(ctx, sess.User.ID, PublishInput{
		SiteName: "My <b>Portfolio</b>",
		HTML:     "<html><head><title>x</title></head><body><p>hi</p></body></html>",
		CSS:      "p{color:red}",
		JS:       "console.log(1)",
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if pub.Site.Slug != "my-portfolio" || pub.Site.Name != "My Portfolio" {
		t.Fatalf("unexpected site %+v", pub.Site)
	}
	if pub.URL != "https://my-portfolio.sitehost.app/" {
		t.Fatalf("url = %q", pub.URL)
	}
	index, err := os.ReadFile(filepath.Join(f.dir, "users", sess.Subdomain, "my-portfolio", "index.html"))
	if err != nil {
		t.Fatalf("read index: %v", err)
	}
	if !strings.Contains(string(index), styleRef+"\n</head>") || !strings.Contains(string(index), scriptRef+"\n</body>") {
		t.Fatalf("asset references not injected:\n%s", index)
	}

	again, err := f.svc.Publish(ctx, sess.User.ID, PublishInput{SiteName: "My Portfolio", HTML: "<p>two</p>"})
	if err != nil {
		t.Fatalf("second publish: %v", err)
	}
	if again.Site.Slug != "my-portfolio-1" {
		t.Fatalf("expected suffixed slug, got %q", again.Site.Slug)
	}

	short, err := f.svc.Publish(ctx, sess.User.ID, PublishInput{SiteName: "X", HTML: "<p>x</p>"})
	if err != nil {
		t.Fatalf("short name publish: %v", err)
	}
	if short.Site.Slug != "erin-happytiger1" {
		t.Fatalf("expected random fallback slug, got %q", short.Site.Slug)
	}
}

func TestPublishUserSlugCollisions(t *testing.T) {
	f := newFixture(t)
	frank := f.register(t, "frank")
	gina := f.register(t, "gina")
	ctx := context.Background()
	if _, err := f.svc.Publish(ctx, frank.User.ID, PublishInput{SiteName: "Blog", SiteSlug: "blog", HTML: "<p>f</p>"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	cases := map[string]string{
		"taken slug":           "blog",
		"other user subdomain": frank.Subdomain,
	}
	for name, slug := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Publish(ctx, gina.User.ID, PublishInput{SiteName: "Mine", SiteSlug: slug, HTML: "<p>g</p>"})
			if !errors.Is(err, models.ErrCollision) {
				t.Fatalf("got %v, want collision", err)
			}
		})
	}
	if _, err := f.svc.Publish(ctx, gina.User.ID, PublishInput{SiteName: "Admin", SiteSlug: "admin", HTML: "<p>g</p>"}); !errors.Is(err, models.ErrInvalidFormat) {
		t.Fatalf("reserved slug: %v", err)
	}
}

func TestPublishPerUserPolicyAllowsSharedSlugs(t *testing.T) {
	f := newFixture(t, store.WithSlugPolicy(store.SlugPerUser))
	a := f.register(t, "hana")
	b := f.register(t, "ivan")
	ctx := context.Background()
	for _, id := range []string{a.User.ID, b.User.ID} {
		if _, err := f.svc.Publish(ctx, id, PublishInput{SiteName: "Blog", SiteSlug: "blog", HTML: "<p>x</p>"}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	pub, err := f.svc.Publish(ctx, a.User.ID, PublishInput{SiteName: "Blog", SiteSlug: "blog", HTML: "<p>x</p>"})
	if !errors.Is(err, models.ErrCollision) {
		t.Fatalf("same user reused slug: %+v %v", pub, err)
	}
	list, err := f.svc.ListForUser(ctx, b.User.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := list.Sites[0].URL; got != "https://"+b.Subdomain+".sitehost.app/blog/" {
		t.Fatalf("per-user url = %q", got)
	}
}

func TestPublishFailedSaveLeavesNothing(t *testing.T) {
	f := newFixture(t)
	sess := f.register(t, "jack")
	f.backend.SetFailSave(errors.New("disk full"))
	_, err := f.svc.Publish(context.Background(), sess.User.ID, PublishInput{SiteName: "Lost", SiteSlug: "lost-site", HTML: "<p>x</p>"})
	if err == nil {
		t.Fatalf("expected publish to fail")
	}
	f.backend.SetFailSave(nil)
	if _, err := os.Stat(filepath.Join(f.dir, "users", sess.Subdomain, "lost-site")); !os.IsNotExist(err) {
		t.Fatalf("site files left behind: %v", err)
	}
	ok, err := f.store.IsAvailable(context.Background(), "lost-site", namegen.ScopeSlug, sess.User.ID)
	if err != nil || !ok {
		t.Fatalf("slug should still be free: %v %v", ok, err)
	}
}

func TestPublishLongNameTwice(t *testing.T) {
	f := newFixture(t)
	sess := f.register(t, "nora")
	ctx := context.Background()
	in := PublishInput{SiteName: strings.Repeat("a", 70), HTML: "<p>a</p>"}
	first, err := f.svc.Publish(ctx, sess.User.ID, in)
	if err != nil {
		t.Fatalf("first publish: %v", err)
	}
	second, err := f.svc.Publish(ctx, sess.User.ID, in)
	if err != nil {
		t.Fatalf("second publish: %v", err)
	}
	if first.Site.Slug == second.Site.Slug {
		t.Fatalf("slugs collide: %q", first.Site.Slug)
	}
	for _, slug := range []string{first.Site.Slug, second.Site.Slug} {
		if err := namegen.Validate(slug, namegen.ScopeSlug); err != nil {
			t.Fatalf("slug %q (len %d): %v", slug, len(slug), err)
		}
	}
}

func TestPublishConflictRetryDropsStaleFiles(t *testing.T) {
	f := newFixture(t)
	owen := f.register(t, "owen")
	pia := f.register(t, "pia")
	ctx := context.Background()
	f.backend.InjectConflict(func(reg *store.Registry) {
		if err := reg.PutSite(pia.User.ID, models.Site{ID: "pia-garden", Name: "Garden", Slug: "garden", Published: true}); err != nil {
			t.Errorf("concurrent claim: %v", err)
		}
	})
	pub, err := f.svc.Publish(ctx, owen.User.ID, PublishInput{SiteName: "Garden", HTML: "<p>o</p>"})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if pub.Site.Slug != "garden-1" {
		t.Fatalf("slug = %q", pub.Site.Slug)
	}
	if _, err := os.Stat(f.svc.Content().Dir(owen.Subdomain, "garden")); !os.IsNotExist(err) {
		t.Fatalf("files of the abandoned slug left behind: %v", err)
	}
	if _, err := os.Stat(f.svc.Content().Dir(owen.Subdomain, "garden-1")); err != nil {
		t.Fatalf("published files missing: %v", err)
	}
}

func TestUpdateFailedWriteKeepsSlug(t *testing.T) {
	f := newFixture(t)
	sess := f.register(t, "quinn")
	ctx := context.Background()
	pub, err := f.svc.Publish(ctx, sess.User.ID, PublishInput{SiteName: "Notes", SiteSlug: "quinn-notes", HTML: "<p>v1</p>"})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	dir := f.svc.Content().Dir(sess.Subdomain, "quinn-notes")
	// A non-empty directory in place of index.html makes the rewrite fail.
	if err := os.Remove(filepath.Join(dir, "index.html")); err != nil {
		t.Fatalf("remove index: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "index.html", "blocked"), 0o755); err != nil {
		t.Fatalf("block index: %v", err)
	}
	if _, err := f.svc.Update(ctx, sess.User.ID, pub.Site.ID, PublishInput{SiteName: "Notes", SiteSlug: "quinn-journal", HTML: "<p>v2</p>"}); err == nil {
		t.Fatalf("expected update to fail")
	}
	reg, err := f.store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if m, ok := reg.SiteByID(pub.Site.ID); !ok || m.Site.Slug != "quinn-notes" {
		t.Fatalf("registry slug changed: %+v", m.Site)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("content not restored: %v", err)
	}
	if _, err := os.Stat(f.svc.Content().Dir(sess.Subdomain, "quinn-journal")); !os.IsNotExist(err) {
		t.Fatalf("renamed directory left behind: %v", err)
	}
}

func TestUpdateGetDelete(t *testing.T) {
	f := newFixture(t)
	sess := f.register(t, "kate")
	ctx := context.Background()
	pub, err := f.svc.Publish(ctx, sess.User.ID, PublishInput{SiteName: "Shop", SiteSlug: "kate-shop", HTML: "<p>v1</p>", EnableDNS: true})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if pub.Site.DNSRecordID == "" {
		t.Fatalf("expected dns record id")
	}
	records, _ := f.dns.Records(ctx)
	if len(records) != 1 || records[0].Name != "kate-shop.sitehost.app" {
		t.Fatalf("records = %+v", records)
	}

	upd, err := f.svc.Update(ctx, sess.User.ID, pub.Site.ID, PublishInput{SiteName: "Shop", SiteSlug: "kate-store", HTML: "<p>v2</p>", EnableDNS: true})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if upd.Site.Slug != "kate-store" {
		t.Fatalf("slug = %q", upd.Site.Slug)
	}
	records, _ = f.dns.Records(ctx)
	if len(records) != 1 || records[0].Name != "kate-store.sitehost.app" {
		t.Fatalf("records after rename = %+v", records)
	}

	got, err := f.svc.Get(ctx, sess.User.ID, pub.Site.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.HTML != "<p>v2</p>" {
		t.Fatalf("html = %q", got.HTML)
	}
	if _, err := os.Stat(f.svc.Content().Dir(sess.Subdomain, "kate-shop")); !os.IsNotExist(err) {
		t.Fatalf("old directory still present: %v", err)
	}

	other := f.register(t, "liam")
	if _, err := f.svc.Get(ctx, other.User.ID, pub.Site.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("foreign get: %v", err)
	}
	if _, err := f.svc.Delete(ctx, other.User.ID, pub.Site.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("foreign delete: %v", err)
	}
	if _, err := f.svc.Delete(ctx, sess.User.ID, pub.Site.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(f.svc.Content().Dir(sess.Subdomain, "kate-store")); !os.IsNotExist(err) {
		t.Fatalf("files not removed: %v", err)
	}
	records, _ = f.dns.Records(ctx)
	if len(records) != 0 {
		t.Fatalf("dns record not removed: %+v", records)
	}
}

func TestCustomDomain(t *testing.T) {
	f := newFixture(t)
	sess := f.register(t, "mona")
	ctx := context.Background()
	if _, err := f.svc.Publish(ctx, sess.User.ID, PublishInput{SiteName: "A", SiteSlug: "mona-a", HTML: "<p>a</p>", CustomDomain: "blog.sitehost.dev"}); !errors.Is(err, models.ErrInvalidFormat) {
		t.Fatalf("platform domain accepted: %v", err)
	}
	pub, err := f.svc.Publish(ctx, sess.User.ID, PublishInput{SiteName: "A", SiteSlug: "mona-a", HTML: "<p>a</p>", CustomDomain: "WWW.Example.com."})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if pub.Site.CustomDomain != "www.example.com" || pub.Site.Domain.Token == "" || pub.Site.Domain.Verified {
		t.Fatalf("unexpected domain state %+v", pub.Site)
	}
	if _, err := f.svc.Publish(ctx, sess.User.ID, PublishInput{SiteName: "B", SiteSlug: "mona-b", HTML: "<p>b</p>", CustomDomain: "www.example.com"}); !errors.Is(err, models.ErrCollision) {
		t.Fatalf("duplicate custom domain: %v", err)
	}
}

func TestChangeExtensionRequiresPremium(t *testing.T) {
	f := newFixture(t)
	sess := f.register(t, "nina")
	ctx := context.Background()
	if _, err := f.svc.Publish(ctx, sess.User.ID, PublishInput{SiteName: "Home", SiteSlug: "nina-home", HTML: "<p>n</p>"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := f.svc.ChangeExtension(ctx, sess.User.ID, ".pro"); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	premium := true
	if _, err := f.svc.UpdateAccount(ctx, sess.User.ID, nil, &premium); err != nil {
		t.Fatalf("update account: %v", err)
	}
	moved, err := f.svc.ChangeExtension(ctx, sess.User.ID, ".pro")
	if err != nil {
		t.Fatalf("change extension: %v", err)
	}
	if !strings.HasSuffix(moved.Subdomain, "-pro") || moved.Domains[0] != moved.Subdomain+".sitehost.pro" {
		t.Fatalf("unexpected session %+v", moved)
	}
	if _, err := os.Stat(f.svc.Content().Dir(moved.Subdomain, "nina-home")); err != nil {
		t.Fatalf("site files did not move: %v", err)
	}
}

func TestCleanSiteName(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"  Hello  ", "Hello", true},
		{"Tom & Jerry", "Tom & Jerry", true},
		{"<em>Fancy</em>", "Fancy", true},
		{"<SCRIPT>alert(1)</SCRIPT>", "", false},
		{"", "", false},
		{strings.Repeat("a", 101), "", false},
	}
	for _, tc := range cases {
		got, err := CleanSiteName(tc.in)
		if (err == nil) != tc.ok || got != tc.want {
			t.Fatalf("CleanSiteName(%q) = %q, %v", tc.in, got, err)
		}
	}
}
