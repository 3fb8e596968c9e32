package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all sync engine metrics on a private prometheus registry,
// so independent engines (tests) never collide on registration.
type Registry struct {
	prom *prometheus.Registry

	// Hardware programming
	HWCalls         *prometheus.CounterVec
	Commits         prometheus.Counter
	GroupsPublished prometheus.Gauge
	CountersActive  *prometheus.GaugeVec

	// Configuration events
	RuleEvents   *prometheus.CounterVec
	ConfigReload *prometheus.CounterVec

	// ACL counter values, refreshed by the Collector
	CounterPackets *prometheus.GaugeVec
	CounterBytes   *prometheus.GaugeVec

	// System metrics
	Uptime      prometheus.Gauge
	APIRequests *prometheus.CounterVec
	APILatency  *prometheus.HistogramVec
}

// Get returns the process-wide metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = New()
	})
	return registry
}

// New creates a registry with every engine metric registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)

	r := &Registry{prom: reg}

	r.HWCalls = f.NewCounterVec(prometheus.CounterOpts{
		Name: "aclsync_hw_calls_total",
		Help: "Hardware abstraction calls by operation and result",
	}, []string{"op", "result"})

	r.Commits = f.NewCounter(prometheus.CounterOpts{
		Name: "aclsync_commits_total",
		Help: "Commit barriers issued to the backend",
	})

	r.GroupsPublished = f.NewGauge(prometheus.GaugeOpts{
		Name: "aclsync_groups_published",
		Help: "ACL groups currently published to hardware",
	})

	r.CountersActive = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "aclsync_counters_active",
		Help: "Counters currently allocated, by counter group type",
	}, []string{"type"})

	r.RuleEvents = f.NewCounterVec(prometheus.CounterOpts{
		Name: "aclsync_rule_events_total",
		Help: "Rule add/change/delete events handled",
	}, []string{"op", "result"})

	r.ConfigReload = f.NewCounterVec(prometheus.CounterOpts{
		Name: "aclsync_config_reloads_total",
		Help: "Configuration transactions applied",
	}, []string{"status"})

	r.CounterPackets = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "aclsync_counter_packets",
		Help: "Packet count of an ACL counter as read from hardware",
	}, []string{"interface", "direction", "group", "counter"})

	r.CounterBytes = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "aclsync_counter_bytes",
		Help: "Byte count of an ACL counter as read from hardware",
	}, []string{"interface", "direction", "group", "counter"})

	r.Uptime = f.NewGauge(prometheus.GaugeOpts{
		Name: "aclsync_uptime_seconds",
		Help: "Daemon uptime in seconds",
	})

	r.APIRequests = f.NewCounterVec(prometheus.CounterOpts{
		Name: "aclsync_api_requests_total",
		Help: "Total API requests",
	}, []string{"method", "path", "status"})

	r.APILatency = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aclsync_api_request_duration_seconds",
		Help:    "API request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	return r
}

// Gatherer exposes the underlying registry for scraping and tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.prom
}

// Handler serves the registry in the prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prom, promhttp.HandlerOpts{Registry: r.prom})
}

// RecordHWCall records one backend call.
func (r *Registry) RecordHWCall(op string, err error) {
	r.HWCalls.WithLabelValues(op, result(err == nil)).Inc()
}

// RecordRuleEvent records a rule synchronizer operation.
func (r *Registry) RecordRuleEvent(op string, ok bool) {
	r.RuleEvents.WithLabelValues(op, result(ok)).Inc()
}

// RecordCommit records a commit barrier.
func (r *Registry) RecordCommit() {
	r.Commits.Inc()
}

// IncrementConfigReload records the outcome of a configuration transaction.
func (r *Registry) IncrementConfigReload(success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	r.ConfigReload.WithLabelValues(status).Inc()
}

// RecordAPIRequest records an API request.
func (r *Registry) RecordAPIRequest(method, path string, status int, duration float64) {
	r.APIRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	r.APILatency.WithLabelValues(method, path).Observe(duration)
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
