package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCollectorExposesCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordResolution("serve")
	c.RecordResolution("serve")
	c.RecordVisit()
	c.RecordNameAttempts("subdomain", 3)
	c.RecordHTTPStatus(404)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)
	for _, want := range []string{
		`sitehost_host_resolutions_total{outcome="serve"} 2`,
		`sitehost_site_visits_total 1`,
		`sitehost_http_status_total{status_code="404"} 1`,
		`sitehost_name_generation_attempts_count{scope="subdomain"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in metrics output:\n%s", want, text)
		}
	}
}

func TestNopSatisfiesRecorder(t *testing.T) {
	var r Recorder = Nop{}
	r.RecordVisit()
	r.RecordDomainCheck("verified")
}
