// Package metrics exposes Prometheus counters for tenant routing and publishing.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the routing, sites and api layers report into.
type Recorder interface {
	RecordResolution(outcome string)
	RecordVisit()
	RecordRegistration()
	RecordPublish()
	RecordNameAttempts(scope string, attempts int)
	RecordHTTPStatus(statusCode int)
	RecordDomainCheck(result string)
}

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	resolutions   *prometheus.CounterVec
	visits        prometheus.Counter
	registrations prometheus.Counter
	publishes     prometheus.Counter
	nameAttempts  *prometheus.HistogramVec
	httpStatus    *prometheus.CounterVec
	domainChecks  *prometheus.CounterVec
}

// NewCollector builds a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitehost_host_resolutions_total",
			Help: "Host header routing decisions by outcome.",
		}, []string{"outcome"}),
		visits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sitehost_site_visits_total",
			Help: "Entry document fetches of published sites.",
		}),
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sitehost_registrations_total",
			Help: "Accounts registered.",
		}),
		publishes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sitehost_site_publishes_total",
			Help: "Sites published or republished.",
		}),
		nameAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sitehost_name_generation_attempts",
			Help:    "Candidates tried before a free generated name was found.",
			Buckets: []float64{1, 2, 3, 5, 10, 50, 100, 1000},
		}, []string{"scope"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitehost_http_status_total",
			Help: "HTTP responses by status code.",
		}, []string{"status_code"}),
		domainChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitehost_domain_checks_total",
			Help: "Custom domain verification checks by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.resolutions,
		c.visits,
		c.registrations,
		c.publishes,
		c.nameAttempts,
		c.httpStatus,
		c.domainChecks,
	)
	return c
}

func (c *Collector) RecordResolution(outcome string) {
	c.resolutions.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordVisit() {
	c.visits.Inc()
}

func (c *Collector) RecordRegistration() {
	c.registrations.Inc()
}

func (c *Collector) RecordPublish() {
	c.publishes.Inc()
}

func (c *Collector) RecordNameAttempts(scope string, attempts int) {
	c.nameAttempts.WithLabelValues(scope).Observe(float64(attempts))
}

func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

func (c *Collector) RecordDomainCheck(result string) {
	c.domainChecks.WithLabelValues(result).Inc()
}

// Nop discards everything. It is the default when metrics are not wired.
type Nop struct{}

func (Nop) RecordResolution(string)       {}
func (Nop) RecordVisit()                  {}
func (Nop) RecordRegistration()           {}
func (Nop) RecordPublish()                {}
func (Nop) RecordNameAttempts(string, int) {}
func (Nop) RecordHTTPStatus(int)          {}
func (Nop) RecordDomainCheck(string)      {}

// Handler serves the registry in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
