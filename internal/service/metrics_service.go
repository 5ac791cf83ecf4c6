package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/k12share/paperclip-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP surface
// and the points economy.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	ledgerEntries   *prometheus.CounterVec
	ledgerPoints    *prometheus.CounterVec
	bountyEvents    *prometheus.CounterVec
	gradeUpgrades   prometheus.Counter
	quotaRejections prometheus.Counter

	requestCount         uint64
	requestDurationTotal uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	ledgerEntries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "point_ledger_entries_total",
		Help: "Committed ledger entries by kind",
	}, []string{"kind"})

	ledgerPoints := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "point_ledger_points_total",
		Help: "Absolute point volume by kind",
	}, []string{"kind"})

	bountyEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bounty_events_total",
		Help: "Bounty lifecycle events",
	}, []string{"event"})

	gradeUpgrades := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grade_upgrades_total",
		Help: "Completed child grade upgrades",
	})

	quotaRejections := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "download_quota_rejections_total",
		Help: "Downloads rejected by the daily quota",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, ledgerEntries, ledgerPoints, bountyEvents, gradeUpgrades, quotaRejections, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		ledgerEntries:   ledgerEntries,
		ledgerPoints:    ledgerPoints,
		bountyEvents:    bountyEvents,
		gradeUpgrades:   gradeUpgrades,
		quotaRejections: quotaRejections,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// ObserveLedgerEntry records a committed ledger entry.
func (m *MetricsService) ObserveLedgerEntry(kind models.TxKind, amount int64) {
	if m == nil {
		return
	}
	if amount < 0 {
		amount = -amount
	}
	m.ledgerEntries.WithLabelValues(string(kind)).Inc()
	m.ledgerPoints.WithLabelValues(string(kind)).Add(float64(amount))
}

// ObserveBountyEvent records a bounty lifecycle event (created, responded,
// completed, expired).
func (m *MetricsService) ObserveBountyEvent(event string) {
	if m == nil {
		return
	}
	m.bountyEvents.WithLabelValues(event).Inc()
}

// ObserveGradeUpgrade records one completed grade transition.
func (m *MetricsService) ObserveGradeUpgrade() {
	if m == nil {
		return
	}
	m.gradeUpgrades.Inc()
}

// ObserveQuotaRejection records a download blocked by the daily quota.
func (m *MetricsService) ObserveQuotaRejection() {
	if m == nil {
		return
	}
	m.quotaRejections.Inc()
}

// Snapshot returns lightweight aggregate request counters.
func (m *MetricsService) Snapshot() (requests uint64, avgDuration time.Duration) {
	if m == nil {
		return 0, 0
	}
	requests = atomic.LoadUint64(&m.requestCount)
	if requests == 0 {
		return 0, 0
	}
	total := atomic.LoadUint64(&m.requestDurationTotal)
	return requests, time.Duration(total / requests)
}
