package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes application metrics that are safe to scrape via Prometheus.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	activeSessions      prometheus.Gauge
	selectionsTotal     prometheus.Counter
	recentersTotal      prometheus.Counter
	fitFallbacksTotal   *prometheus.CounterVec
	layoutPassesTotal   prometheus.Counter
	catalogRefreshes    *prometheus.CounterVec
}

// New creates a fresh Metrics registry with HTTP and map session metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aedmap",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed by aed-map",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "aedmap",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests served by aed-map",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "aedmap",
		Name:      "sessions_active",
		Help:      "Number of mounted map sessions",
	})

	selectionsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "aedmap",
		Name:      "selections_total",
		Help:      "Total number of device selections",
	})

	recentersTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "aedmap",
		Name:      "recenters_total",
		Help:      "Total number of recenter commands handled",
	})

	fitFallbacksTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aedmap",
		Name:      "fit_fallbacks_total",
		Help:      "Fit-to-devices calls that fell back to the containment region",
	}, []string{"reason"})

	layoutPassesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "aedmap",
		Name:      "layout_passes_total",
		Help:      "Deferred layout recalculation passes that ran",
	})

	catalogRefreshes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aedmap",
		Name:      "catalog_refreshes_total",
		Help:      "Catalog refresh attempts by result",
	}, []string{"result"})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		activeSessions,
		selectionsTotal,
		recentersTotal,
		fitFallbacksTotal,
		layoutPassesTotal,
		catalogRefreshes,
	)

	return &Metrics{
		registry:            registry,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
		activeSessions:      activeSessions,
		selectionsTotal:     selectionsTotal,
		recentersTotal:      recentersTotal,
		fitFallbacksTotal:   fitFallbacksTotal,
		layoutPassesTotal:   layoutPassesTotal,
		catalogRefreshes:    catalogRefreshes,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// SetActiveSessions sets the mounted session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

func (m *Metrics) IncSelection() {
	if m == nil {
		return
	}
	m.selectionsTotal.Inc()
}

func (m *Metrics) IncRecenter() {
	if m == nil {
		return
	}
	m.recentersTotal.Inc()
}

// IncFitFallback counts a fit that showed the containment region instead of the data.
func (m *Metrics) IncFitFallback(reason string) {
	if m == nil {
		return
	}
	m.fitFallbacksTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncLayoutPass() {
	if m == nil {
		return
	}
	m.layoutPassesTotal.Inc()
}

// IncCatalogRefresh counts a refresh attempt; result is "changed", "unchanged" or "error".
func (m *Metrics) IncCatalogRefresh(result string) {
	if m == nil {
		return
	}
	m.catalogRefreshes.WithLabelValues(result).Inc()
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
