// Package metrics bundles the Prometheus collectors of the server. Every
// method is safe to call on a nil *Metrics so components can run without
// instrumentation in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dearie"

// Metrics bundles Prometheus collectors for the server.
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	rateLimited     prometheus.Counter
	sseClients      prometheus.Gauge
	wsClients       prometheus.Gauge
	liveComponents  *prometheus.GaugeVec
	broadcastDrops  *prometheus.CounterVec
	certifications  *prometheus.CounterVec
	chatMessages    *prometheus.CounterVec
	quotaExhausted  prometheus.Counter
	storageErrors   prometheus.Counter
	catalogReloads  *prometheus.CounterVec
}

// New creates and registers all collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests received",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_rate_limited_total",
			Help:      "Number of HTTP requests rejected due to rate limiting",
		}),
		sseClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sse_clients",
			Help:      "Current connected SSE clients",
		}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients",
			Help:      "Current connected storage-change WebSocket clients",
		}),
		liveComponents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_components",
			Help:      "Mounted calendars and chat sessions",
		}, []string{"kind"}),
		broadcastDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_drops_total",
			Help:      "Number of events dropped due to slow clients",
		}, []string{"transport"}),
		certifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "challenge_stamps_total",
			Help:      "Stamps recorded by outcome",
		}, []string{"outcome"}),
		chatMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_messages_total",
			Help:      "Chat messages appended by kind",
		}, []string{"kind"}),
		quotaExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_quota_exhausted_total",
			Help:      "Sends rejected because the daily quota was used up",
		}),
		storageErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_errors_total",
			Help:      "Storage reads or writes that failed",
		}),
		catalogReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_catalog_reloads_total",
			Help:      "Chat content reloads by result",
		}, []string{"result"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestsTotal,
		m.requestDuration,
		m.rateLimited,
		m.sseClients,
		m.wsClients,
		m.liveComponents,
		m.broadcastDrops,
		m.certifications,
		m.chatMessages,
		m.quotaExhausted,
		m.storageErrors,
		m.catalogReloads,
	)

	return m
}

// Handler returns an HTTP handler exposing the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRequest records timing and status information.
func (m *Metrics) ObserveRequest(route, method string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(dur.Seconds())
}

// IncRateLimited increments the rate limit counter.
func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// IncSSEClients adjusts the SSE client gauge by delta.
func (m *Metrics) IncSSEClients(delta float64) {
	if m == nil {
		return
	}
	m.sseClients.Add(delta)
}

// IncWSClients adjusts the WebSocket client gauge by delta.
func (m *Metrics) IncWSClients(delta float64) {
	if m == nil {
		return
	}
	m.wsClients.Add(delta)
}

// IncLiveComponents adjusts the mounted component gauge for kind.
func (m *Metrics) IncLiveComponents(kind string, delta float64) {
	if m == nil {
		return
	}
	m.liveComponents.WithLabelValues(kind).Add(delta)
}

// IncBroadcastDrops increments the drop counter.
func (m *Metrics) IncBroadcastDrops(transport string) {
	if m == nil {
		return
	}
	m.broadcastDrops.WithLabelValues(transport).Inc()
}

// IncStamps counts a recorded stamp outcome.
func (m *Metrics) IncStamps(outcome string) {
	if m == nil {
		return
	}
	m.certifications.WithLabelValues(outcome).Inc()
}

// IncChatMessages counts an appended chat message.
func (m *Metrics) IncChatMessages(kind string) {
	if m == nil {
		return
	}
	m.chatMessages.WithLabelValues(kind).Inc()
}

// IncQuotaExhausted counts a send rejected for quota.
func (m *Metrics) IncQuotaExhausted() {
	if m == nil {
		return
	}
	m.quotaExhausted.Inc()
}

// IncStorageErrors counts a failed storage operation.
func (m *Metrics) IncStorageErrors() {
	if m == nil {
		return
	}
	m.storageErrors.Inc()
}

// IncCatalogReloads counts a content reload attempt.
func (m *Metrics) IncCatalogReloads(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.catalogReloads.WithLabelValues(result).Inc()
}
