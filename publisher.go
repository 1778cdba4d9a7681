package social

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Publisher drives a PublishRequest through the right adapter. It never
// mutates the stored Connection during the publish call.
type Publisher struct {
	adapters *AdapterRegistry
	store    CredentialStore
	activity ActivitySink
	metrics  *Metrics
	logger   Logger
	now      Clock
	timeout  time.Duration
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithPublisherLogger sets the logger.
func WithPublisherLogger(l Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = l
	}
}

// WithPublisherActivity sets the activity sink.
func WithPublisherActivity(sink ActivitySink) PublisherOption {
	return func(p *Publisher) {
		p.activity = sink
	}
}

// WithPublisherMetrics sets the metrics collectors.
func WithPublisherMetrics(m *Metrics) PublisherOption {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithPublisherClock overrides the clock.
func WithPublisherClock(c Clock) PublisherOption {
	return func(p *Publisher) {
		p.now = c
	}
}

// WithPublishTimeout bounds a whole publish protocol. Multi step uploads
// share the budget.
func WithPublishTimeout(d time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.timeout = d
	}
}

// NewPublisher creates a publisher.
func NewPublisher(adapters *AdapterRegistry, store CredentialStore, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		adapters: adapters,
		store:    store,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	p.logger = normalizeLogger(p.logger)
	p.activity = normalizeActivitySink(p.activity)
	p.now = normalizeClock(p.now)
	if p.timeout <= 0 {
		p.timeout = 3 * DefaultRequestTimeout
	}
	return p
}

// Publish runs req. The result is always non nil; on failure it carries the
// same *PublishError that is returned as err.
func (p *Publisher) Publish(ctx context.Context, req *PublishRequest) (*PublishResult, error) {
	if req != nil && req.Kind == "" {
		defaulted := *req
		defaulted.Kind = KindText
		req = &defaulted
	}
	if err := req.Validate(); err != nil {
		var provider Provider
		if req != nil {
			provider = req.Provider
		}
		return p.fail(ctx, req, provider, err)
	}

	adapter, err := p.adapters.Get(req.Provider)
	if err != nil {
		return p.fail(ctx, req, req.Provider, err)
	}

	conn, err := p.store.Load(ctx, req.UserID, req.Provider)
	if err != nil {
		if IsConnectionNotFound(err) {
			return p.fail(ctx, req, req.Provider, NewPublishError(KindNotConnected, req.Provider, "account is not connected"))
		}
		return p.fail(ctx, req, req.Provider, NewPublishError(KindProviderUnavailable, req.Provider, "failed to load connection").WithCause(err))
	}

	if conn.IsExpired(p.now()) {
		return p.fail(ctx, req, req.Provider, NewPublishError(KindTokenExpired, req.Provider, "account token expired, reconnect required"))
	}

	conn = p.refresh(ctx, adapter, conn)

	pctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	result, err := adapter.Publish(pctx, conn.Clone(), req)
	if err == nil && result != nil && !result.Success && result.Error != nil {
		err = result.Error
	}
	if err != nil {
		if errors.Is(pctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			err = errors.Join(err, context.DeadlineExceeded)
		}
		return p.fail(ctx, req, req.Provider, remapRevoked(ClassifyProviderError(req.Provider, PhasePublish, err)))
	}
	if result == nil {
		return p.fail(ctx, req, req.Provider, NewPublishError(KindProviderUnavailable, req.Provider, "provider returned no result"))
	}

	result.Success = true
	result.Provider = req.Provider
	if result.Degraded {
		p.logger.Warn("post published degraded",
			"provider", req.Provider,
			"user_id", req.UserID,
			"warnings", result.Warnings,
		)
	}
	p.logger.Info("post published", "provider", req.Provider, "user_id", req.UserID, "remote_post_id", result.RemotePostID)
	p.metrics.ObservePublish(req.Provider, req.Kind, result)
	recordActivity(ctx, p.activity, p.logger, ActivityEvent{
		EventType:  ActivityPublishSucceeded,
		UserID:     req.UserID,
		Provider:   req.Provider,
		OccurredAt: p.now(),
		Metadata: map[string]any{
			"kind":           string(req.Kind),
			"remote_post_id": result.RemotePostID,
			"degraded":       result.Degraded,
		},
	})
	return result, nil
}

// refresh renews credentials ahead of the publish call and persists the
// result. A refresh failure does not block a token that is still valid.
func (p *Publisher) refresh(ctx context.Context, adapter Adapter, conn *Connection) *Connection {
	if conn.ExpiresAt == nil {
		return conn
	}

	refreshed, err := adapter.RefreshIfNeeded(ctx, conn.Clone())
	if err != nil {
		p.logger.Warn("connection refresh failed", "provider", conn.Provider, "user_id", conn.UserID, "error", err)
		return conn
	}
	if refreshed == nil || !credentialsChanged(conn, refreshed) {
		return conn
	}

	refreshed.UpdatedAt = p.now()
	if err := p.store.Save(ctx, refreshed); err != nil {
		p.logger.Warn("failed to persist refreshed connection", "provider", conn.Provider, "user_id", conn.UserID, "error", err)
	} else {
		p.logger.Debug("connection refreshed", "provider", conn.Provider, "user_id", conn.UserID, "expires_at", refreshed.ExpiresAt)
	}
	return refreshed
}

// remapRevoked turns any authentication rejection seen while publishing into
// token_expired; providers revoke tokens before their advertised expiry.
func remapRevoked(perr *PublishError) *PublishError {
	if perr.Kind == KindTokenExpired {
		return perr
	}
	revoked := perr.Kind == KindAuthFailed
	var prov *ProviderError
	if errors.As(perr, &prov) && (prov.Status == http.StatusUnauthorized || prov.TokenInvalid) {
		revoked = true
	}
	if !revoked {
		return perr
	}
	out := *perr
	out.Kind = KindTokenExpired
	out.Retryable = false
	return &out
}

func credentialsChanged(a, b *Connection) bool {
	if a.AccessToken != b.AccessToken || a.RefreshToken != b.RefreshToken {
		return true
	}
	switch {
	case a.ExpiresAt == nil && b.ExpiresAt == nil:
		return false
	case a.ExpiresAt == nil || b.ExpiresAt == nil:
		return true
	default:
		return !a.ExpiresAt.Equal(*b.ExpiresAt)
	}
}

func (p *Publisher) fail(ctx context.Context, req *PublishRequest, provider Provider, err error) (*PublishResult, error) {
	perr := AsPublishError(err)
	if perr.Provider == "" {
		perr.Provider = provider
	}
	result := &PublishResult{Success: false, Provider: provider, Error: perr}

	var (
		userID string
		kind   PublishKind
	)
	if req != nil {
		userID = req.UserID
		kind = req.Kind
	}

	p.logger.Warn("publish failed",
		"provider", provider,
		"user_id", userID,
		"kind", perr.Kind,
		"provider_code", perr.ProviderCode,
		"retryable", perr.Retryable,
		"error", perr,
	)
	p.metrics.ObservePublish(provider, kind, result)
	recordActivity(ctx, p.activity, p.logger, ActivityEvent{
		EventType:  ActivityPublishFailed,
		UserID:     userID,
		Provider:   provider,
		OccurredAt: p.now(),
		Metadata: map[string]any{
			"kind":          string(perr.Kind),
			"provider_code": perr.ProviderCode,
		},
	})
	return result, perr
}
