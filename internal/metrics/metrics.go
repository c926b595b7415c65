//nolint:gochecknoglobals // prometheus metrics and global state
package metrics

import (
	"errors"
	"strconv"
	"sync/atomic"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueriesTotal = promauto.NewCounterVec(
		prom.CounterOpts{
			Name: "dns_client_queries_total",
			Help: "Total DNS queries handled by the query handler (Counter).",
		},
		[]string{"service"},
	)

	ResolveDuration = promauto.NewHistogramVec(prom.HistogramOpts{
		Name:    "dns_resolve_duration_seconds",
		Help:    "End-to-end query resolution duration in seconds (Histogram).",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0},
	}, []string{"service"})

	ResolveErrorsTotal = promauto.NewCounterVec(prom.CounterOpts{
		Name: "dns_resolve_errors_total",
		Help: "Total resolve errors, labeled by the response RCODE (Counter).",
	}, []string{"service", "rcode"})

	CatalogSize = promauto.NewGaugeVec(
		prom.GaugeOpts{
			Name: "dns_catalog_size",
			Help: "Number of zones currently installed in the routing catalog (Gauge).",
		},
		[]string{"service"},
	)

	ConfigReloadTotal = promauto.NewCounterVec(
		prom.CounterOpts{
			Name: "dns_config_reload_total",
			Help: "Total config-directory reconciler operations applied (Counter).",
		},
		[]string{"service"},
	)

	AdminRequestsTotal = promauto.NewCounterVec(
		prom.CounterOpts{
			Name: "http_server_requests_total",
			Help: "Admin HTTP requests handled (Counter). Labels: service, method, route, status.",
		},
		[]string{"service", "method", "route", "status"},
	)

	ReadyGauge = promauto.NewGaugeVec(
		prom.GaugeOpts{
			Name: "service_ready",
			Help: "Service readiness: 1=ready, 0=not ready (Gauge).",
		},
		[]string{"service"},
	)
)

var readyFlag int32 //nolint:gochecknoglobals // service ready flag

var serviceName atomic.Value //nolint:gochecknoglobals // service name // string

// SetService sets the service label value (default: polyresolver).
func SetService(name string) { serviceName.Store(name) }

func Service() string {
	if v := serviceName.Load(); v != nil {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}

	return "polyresolver"
}

// RegisterCollectors registers default Go and process collectors. Should be
// called once during program startup (cmd/run.go).
func RegisterCollectors() {
	registerDefault(collectors.NewGoCollector())
	registerDefault(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

func registerDefault(c prom.Collector) {
	if err := prom.Register(c); err != nil {
		var are prom.AlreadyRegisteredError
		if errors.As(err, &are) {
			return
		}
	}
}

// M is the set of metrics bound to the current service label, populated by
// BindService.
var M struct { //nolint:gochecknoglobals // metrics cache
	Queries         prom.Counter
	ResolveDuration prom.Observer
	ResolveErrors   *prom.CounterVec
	CatalogSize     prom.Gauge
	ConfigReloads   prom.Counter
}

func BindService() {
	s := Service()
	M.Queries = QueriesTotal.WithLabelValues(s)
	M.ResolveDuration = ResolveDuration.WithLabelValues(s)
	M.ResolveErrors = ResolveErrorsTotal
	M.CatalogSize = CatalogSize.WithLabelValues(s)
	M.ConfigReloads = ConfigReloadTotal.WithLabelValues(s)
}

// IncResolveError increments the resolve-error counter for the given RCODE.
func IncResolveError(rcode string) {
	if rcode == "" {
		rcode = "unknown"
	}

	ResolveErrorsTotal.WithLabelValues(Service(), rcode).Inc()
}

// RecordHTTP increments admin HTTP requests with method/route/status labels.
func RecordHTTP(method, route string, status int) {
	AdminRequestsTotal.WithLabelValues(Service(), method, route, strconv.Itoa(status)).Inc()
}

// SetReady sets readiness and updates the gauge.
func SetReady(v bool) {
	if v {
		atomic.StoreInt32(&readyFlag, 1)
		ReadyGauge.WithLabelValues(Service()).Set(1)
	} else {
		atomic.StoreInt32(&readyFlag, 0)
		ReadyGauge.WithLabelValues(Service()).Set(0)
	}
}

// IsReady returns the current readiness flag.
func IsReady() bool { return atomic.LoadInt32(&readyFlag) == 1 }
