package social

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the subsystem's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	publishTotal    *prometheus.CounterVec
	oauthTotal      *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		publishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "social_publish_total",
			Help: "Publish attempts by provider, post kind and outcome",
		}, []string{"provider", "kind", "outcome"}),
		oauthTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "social_oauth_total",
			Help: "OAuth callbacks by provider and outcome",
		}, []string{"provider", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "social_provider_request_duration_seconds",
			Help:    "Outbound provider API latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "status"}),
	}
	m.registry.MustRegister(m.publishTotal, m.oauthTotal, m.requestDuration)
	return m
}

// Registry exposes the private registry so it can be merged elsewhere.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObservePublish counts one publish outcome. Failures are labeled by kind.
func (m *Metrics) ObservePublish(provider Provider, kind PublishKind, result *PublishResult) {
	if m == nil {
		return
	}
	outcome := "success"
	switch {
	case result == nil:
		outcome = string(KindProviderUnavailable)
	case !result.Success && result.Error != nil:
		outcome = string(result.Error.Kind)
	case result.Degraded:
		outcome = "degraded"
	}
	m.publishTotal.WithLabelValues(string(provider), string(kind), outcome).Inc()
}

// ObserveOAuth counts one callback outcome.
func (m *Metrics) ObserveOAuth(provider Provider, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = string(KindOf(err))
	}
	m.oauthTotal.WithLabelValues(string(provider), outcome).Inc()
}

// ObserveRequest records one outbound provider call. Status 0 means the
// request never got a response.
func (m *Metrics) ObserveRequest(provider Provider, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.requestDuration.WithLabelValues(string(provider), label).Observe(elapsed.Seconds())
}
