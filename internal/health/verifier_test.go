package health

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sitehost/backend/internal/config"
	"sitehost/backend/internal/domains"
	"sitehost/backend/internal/models"
	"sitehost/backend/internal/store"

	"github.com/miekg/dns"
)

type fakeLookup struct {
	txt   map[string][]string
	cname map[string]string
	err   error
}

func (f *fakeLookup) TXT(ctx context.Context, name string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.txt[name], nil
}

func (f *fakeLookup) CNAME(ctx context.Context, name string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.cname[name], nil
}

type fakeProber struct{ ok bool }

func (p fakeProber) Probe(ctx context.Context, domain, token string) error {
	if p.ok {
		return nil
	}
	return errors.New("connection refused")
}

func newVerifier(t *testing.T, site models.Site) (*Verifier, *store.Store, *fakeLookup) {
	t.Helper()
	st, err := store.New(t.TempDir(), store.WithBackend(store.NewMemoryBackend()))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	user := models.User{ID: "u1", Username: "ben", Email: "ben@example.com", Subdomain: "ben-app", Sites: []models.Site{site}}
	if err := st.Modify(context.Background(), func(reg *store.Registry) (bool, error) {
		return true, reg.AddUser(user)
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	reg, err := domains.NewRegistry(domains.DefaultConfig())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	cfg := &config.Config{VerifyFailureThreshold: 2, DNSRecordTarget: "edge.sitehost.net"}
	v := New(cfg, st, reg, nil)
	lookup := &fakeLookup{txt: map[string][]string{}, cname: map[string]string{}}
	v.lookup = lookup
	return v, st, lookup
}

func shopSite() models.Site {
	return models.Site{
		ID:           "s1",
		Slug:         "shop",
		Published:    true,
		CustomDomain: "shop.example.com",
		Domain:       models.DomainState{Token: "tok-123"},
	}
}

func TestVerifySiteByTXT(t *testing.T) {
	v, st, lookup := newVerifier(t, shopSite())
	lookup.txt["_sitehost-verify.shop.example.com"] = []string{"unrelated", "tok-123"}

	state, err := v.VerifySite(context.Background(), "s1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !state.Verified || state.Method != MethodTXT || state.VerifiedAt.IsZero() {
		t.Fatalf("unexpected state %+v", state)
	}
	reg, _ := st.Snapshot(context.Background())
	if _, ok := reg.LocateDomain("shop.example.com"); !ok {
		t.Fatalf("verified domain should now locate its site")
	}
}

func TestVerifySiteByCNAME(t *testing.T) {
	cases := map[string]bool{
		"ben-app.sitehost.app.": true,
		"edge.sitehost.net":     true,
		"elsewhere.example.net": false,
	}
	for target, want := range cases {
		t.Run(target, func(t *testing.T) {
			v, _, lookup := newVerifier(t, shopSite())
			lookup.cname["shop.example.com"] = target
			state, err := v.VerifySite(context.Background(), "s1")
			if want {
				if err != nil || state.Method != MethodCNAME {
					t.Fatalf("expected CNAME verification, got %+v %v", state, err)
				}
				return
			}
			if !errors.Is(err, ErrUnverified) || state.Verified {
				t.Fatalf("expected ErrUnverified, got %+v %v", state, err)
			}
		})
	}
}

func TestVerifySiteHTTPProbe(t *testing.T) {
	v, _, _ := newVerifier(t, shopSite())
	v.prober = fakeProber{ok: true}
	state, err := v.VerifySite(context.Background(), "s1")
	if err != nil || state.Method != MethodHTTP {
		t.Fatalf("expected http verification, got %+v %v", state, err)
	}
}

func TestVerifiedDomainSurvivesUntilThreshold(t *testing.T) {
	site := shopSite()
	site.Domain.Verified = true
	site.Domain.Method = MethodTXT
	v, _, lookup := newVerifier(t, site)
	lookup.err = errors.New("i/o timeout")
	ctx := context.Background()

	state, err := v.VerifySite(ctx, "s1")
	if !errors.Is(err, ErrUnverified) {
		t.Fatalf("expected ErrUnverified, got %v", err)
	}
	if !state.Verified || state.Failures != 1 || !strings.Contains(state.LastError, "i/o timeout") {
		t.Fatalf("one failure should keep verification, got %+v", state)
	}
	state, _ = v.VerifySite(ctx, "s1")
	if state.Verified || state.Failures != 2 {
		t.Fatalf("threshold reached, expected unverified, got %+v", state)
	}

	lookup.err = nil
	lookup.txt["_sitehost-verify.shop.example.com"] = []string{"tok-123"}
	state, err = v.VerifySite(ctx, "s1")
	if err != nil || !state.Verified || state.Failures != 0 || state.LastError != "" {
		t.Fatalf("expected recovery, got %+v %v", state, err)
	}
}

func TestVerifySiteErrors(t *testing.T) {
	site := shopSite()
	site.CustomDomain = ""
	v, _, _ := newVerifier(t, site)
	if _, err := v.VerifySite(context.Background(), "s1"); !errors.Is(err, models.ErrInvalidFormat) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := v.VerifySite(context.Background(), "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDNSLookupAgainstServer(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	started := make(chan struct{})
	srv := &dns.Server{
		PacketConn:        pc,
		NotifyStartedFunc: func() { close(started) },
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
			m := new(dns.Msg)
			m.SetReply(r)
			q := r.Question[0]
			switch {
			case q.Qtype == dns.TypeTXT && q.Name == "_sitehost-verify.shop.example.com.":
				rr, _ := dns.NewRR(`_sitehost-verify.shop.example.com. 60 IN TXT "tok-" "123"`)
				m.Answer = append(m.Answer, rr)
			case q.Qtype == dns.TypeCNAME && q.Name == "shop.example.com.":
				rr, _ := dns.NewRR("shop.example.com. 60 IN CNAME ben-app.sitehost.app.")
				m.Answer = append(m.Answer, rr)
			default:
				m.SetRcode(r, dns.RcodeNameError)
			}
			_ = w.WriteMsg(m)
		}),
	}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	defer srv.Shutdown()

	lookup := &dnsLookup{client: &dns.Client{Timeout: 2 * time.Second}, server: pc.LocalAddr().String()}
	ctx := context.Background()
	txt, err := lookup.TXT(ctx, "_sitehost-verify.shop.example.com")
	if err != nil || len(txt) != 1 || txt[0] != "tok-123" {
		t.Fatalf("txt = %v %v", txt, err)
	}
	target, err := lookup.CNAME(ctx, "shop.example.com")
	if err != nil || target != "ben-app.sitehost.app." {
		t.Fatalf("cname = %q %v", target, err)
	}
	missing, err := lookup.TXT(ctx, "_sitehost-verify.nothing.example.com")
	if err != nil || len(missing) != 0 {
		t.Fatalf("nxdomain should yield no records, got %v %v", missing, err)
	}
}

func TestHTTPProberChecksBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != WellKnownPath+"tok-123" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("tok-123\n"))
	}))
	defer srv.Close()

	p := &httpProber{client: srv.Client()}
	host := strings.TrimPrefix(srv.URL, "http://")
	if err := p.Probe(context.Background(), host, "tok-123"); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if err := p.Probe(context.Background(), host, "other"); err == nil {
		t.Fatalf("expected failure for unknown token")
	}
}

func TestSweepChecksCustomDomains(t *testing.T) {
	v, st, lookup := newVerifier(t, shopSite())
	lookup.cname["shop.example.com"] = "ben-app.sitehost.dev"
	v.sweep(context.Background())
	reg, _ := st.Snapshot(context.Background())
	m, ok := reg.SiteByID("s1")
	if !ok || !m.Site.Domain.Verified || m.Site.Domain.LastCheckedAt.IsZero() {
		t.Fatalf("sweep should verify the domain, got %+v", m.Site.Domain)
	}
}
