package social

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultRequestTimeout = 20 * time.Second
	MinRequestTimeout     = 10 * time.Second
	MaxRequestTimeout     = 30 * time.Second
)

// ClampTimeout keeps outbound timeouts within the supported window.
func ClampTimeout(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultRequestTimeout
	case d < MinRequestTimeout:
		return MinRequestTimeout
	case d > MaxRequestTimeout:
		return MaxRequestTimeout
	default:
		return d
	}
}

// TransportOption configures a provider HTTP client.
type TransportOption func(*transportConfig)

type transportConfig struct {
	timeout time.Duration
	limiter *rate.Limiter
	metrics *Metrics
	base    http.RoundTripper
}

// WithTimeout sets the per call timeout.
func WithTimeout(d time.Duration) TransportOption {
	return func(c *transportConfig) {
		c.timeout = d
	}
}

// WithRateLimit throttles outbound calls to perSecond with burst.
func WithRateLimit(perSecond float64, burst int) TransportOption {
	return func(c *transportConfig) {
		if perSecond <= 0 {
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithTransportMetrics records outbound latency.
func WithTransportMetrics(m *Metrics) TransportOption {
	return func(c *transportConfig) {
		c.metrics = m
	}
}

// WithBaseTransport replaces the underlying round tripper.
func WithBaseTransport(rt http.RoundTripper) TransportOption {
	return func(c *transportConfig) {
		c.base = rt
	}
}

// NewHTTPClient builds the client adapters use to reach provider.
func NewHTTPClient(provider Provider, opts ...TransportOption) *http.Client {
	cfg := transportConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	base := cfg.base
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{
		Timeout: ClampTimeout(cfg.timeout),
		Transport: &providerTransport{
			provider: provider,
			base:     base,
			limiter:  cfg.limiter,
			metrics:  cfg.metrics,
		},
	}
}

type providerTransport struct {
	provider Provider
	base     http.RoundTripper
	limiter  *rate.Limiter
	metrics  *Metrics
}

func (t *providerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	t.metrics.ObserveRequest(t.provider, status, time.Since(start))
	return resp, err
}
