package social

import (
	"context"
	"errors"
	"time"
)

// Callback outcome statuses.
const (
	OutcomeConnected = "connected"
	OutcomeContinue  = "continue"
)

// CallbackRequest carries the raw callback query.
type CallbackRequest struct {
	State            string
	Code             string
	Verifier         string
	RequestToken     string
	Error            string
	ErrorDescription string
}

// CallbackOutcome describes what the callback achieved.
type CallbackOutcome struct {
	Status      string
	Provider    Provider
	UserID      string
	Connections []*Connection
}

// Connector runs the connect and disconnect flows.
type Connector struct {
	adapters *AdapterRegistry
	states   *StateRegistry
	store    CredentialStore
	activity ActivitySink
	metrics  *Metrics
	logger   Logger
	now      Clock
}

// ConnectorOption configures a Connector.
type ConnectorOption func(*Connector)

// WithConnectorLogger sets the logger.
func WithConnectorLogger(l Logger) ConnectorOption {
	return func(c *Connector) {
		c.logger = l
	}
}

// WithConnectorActivity sets the activity sink.
func WithConnectorActivity(sink ActivitySink) ConnectorOption {
	return func(c *Connector) {
		c.activity = sink
	}
}

// WithConnectorMetrics sets the metrics collectors.
func WithConnectorMetrics(m *Metrics) ConnectorOption {
	return func(c *Connector) {
		c.metrics = m
	}
}

// WithConnectorClock overrides the clock.
func WithConnectorClock(clock Clock) ConnectorOption {
	return func(c *Connector) {
		c.now = clock
	}
}

// NewConnector creates a connector.
func NewConnector(adapters *AdapterRegistry, states *StateRegistry, store CredentialStore, opts ...ConnectorOption) *Connector {
	c := &Connector{
		adapters: adapters,
		states:   states,
		store:    store,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.states == nil {
		c.states = NewStateRegistry(nil)
	}
	c.logger = normalizeLogger(c.logger)
	c.activity = normalizeActivitySink(c.activity)
	c.now = normalizeClock(c.now)
	return c
}

// BeginAuth issues a state and returns the provider consent URL.
func (c *Connector) BeginAuth(ctx context.Context, userID string, provider Provider, opts ...AuthOption) (*AuthRedirect, error) {
	adapter, err := c.adapters.Get(provider)
	if err != nil {
		return nil, err
	}

	applied := ApplyAuthOptions(nil, opts...)
	state, err := c.states.New(userID, provider, applied.Options())
	if err != nil {
		return nil, err
	}

	redirect, err := adapter.AuthURL(ctx, state.State, opts...)
	if err != nil {
		perr := ClassifyProviderError(provider, PhaseAuth, err)
		c.logger.Error("failed to build auth url", "provider", provider, "kind", perr.Kind, "error", err)
		return nil, perr
	}

	state.Secret = redirect.Secret
	if err := c.states.Save(ctx, state); err != nil {
		return nil, err
	}

	redirect.State = state.State
	redirect.Provider = provider
	return redirect, nil
}

// CompleteAuth consumes the state, finishes the handshake and saves every
// connection the grant produced. A missing or replayed state is a soft
// condition and yields OutcomeContinue with no error.
func (c *Connector) CompleteAuth(ctx context.Context, provider Provider, req CallbackRequest) (*CallbackOutcome, error) {
	adapter, err := c.adapters.Get(provider)
	if err != nil {
		return nil, err
	}

	state, err := c.states.Consume(ctx, req.State)
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			c.logger.Info("oauth state not found, treating callback as handled", "provider", provider)
			return &CallbackOutcome{Status: OutcomeContinue, Provider: provider}, nil
		}
		return nil, err
	}

	if state.Provider != provider {
		return nil, c.failAuth(ctx, state, provider, NewPublishError(KindAuthFailed, provider, "oauth state was issued for another provider"))
	}

	if req.Error != "" {
		msg := req.Error
		if req.ErrorDescription != "" {
			msg = req.ErrorDescription
		}
		return nil, c.failAuth(ctx, state, provider, NewPublishError(KindAuthFailed, provider, msg).WithProviderCode(req.Error))
	}

	if req.Code == "" && req.Verifier == "" {
		return nil, c.failAuth(ctx, state, provider, NewPublishError(KindAuthFailed, provider, "authorization grant missing from callback"))
	}

	grant, err := adapter.CompleteAuth(ctx, CallbackParams{
		Code:         req.Code,
		Verifier:     req.Verifier,
		RequestToken: req.RequestToken,
		State:        state,
	})
	if err != nil {
		return nil, c.failAuth(ctx, state, provider, ClassifyProviderError(provider, PhaseAuth, err))
	}
	if grant == nil || len(grant.Connections) == 0 {
		return nil, c.failAuth(ctx, state, provider, NewPublishError(KindAuthFailed, provider, "no authorizable account found"))
	}

	saved, err := c.saveGrant(ctx, state.UserID, grant)
	if err != nil {
		return nil, c.failAuth(ctx, state, provider, err)
	}

	c.metrics.ObserveOAuth(provider, nil)
	for _, conn := range saved {
		c.logger.Info("social account connected",
			"provider", conn.Provider,
			"user_id", conn.UserID,
			"account_id", conn.ProviderAccountID,
			"missing_scopes", conn.ScopeGrant.Missing(),
		)
		recordActivity(ctx, c.activity, c.logger, ActivityEvent{
			EventType:  ActivityConnectionConnected,
			UserID:     conn.UserID,
			Provider:   conn.Provider,
			OccurredAt: c.now(),
			Metadata: map[string]any{
				"provider_account_id": conn.ProviderAccountID,
				"account_type":        conn.AccountType,
				"via":                 string(provider),
			},
		})
	}

	return &CallbackOutcome{
		Status:      OutcomeConnected,
		Provider:    provider,
		UserID:      state.UserID,
		Connections: saved,
	}, nil
}

// saveGrant maps a grant to connection records. Each record keeps its own
// (user, provider) key so siblings sharing the grant never overwrite each
// other. Stores implementing BatchStore write them atomically.
func (c *Connector) saveGrant(ctx context.Context, userID string, grant *Grant) ([]*Connection, error) {
	now := c.now()
	conns := make([]*Connection, 0, len(grant.Connections))
	for _, conn := range grant.Connections {
		if conn == nil {
			continue
		}
		conn.UserID = userID
		if conn.CreatedAt.IsZero() {
			conn.CreatedAt = now
		}
		conn.UpdatedAt = now
		conns = append(conns, conn)
	}

	if batch, ok := c.store.(BatchStore); ok && len(conns) > 1 {
		if err := batch.SaveAll(ctx, conns); err != nil {
			c.logger.Error("failed to save connections", "provider", grant.Provider, "user_id", userID, "error", err)
			return nil, NewPublishError(KindProviderUnavailable, grant.Provider, "failed to save connection").WithCause(err)
		}
		return conns, nil
	}

	for _, conn := range conns {
		if err := c.store.Save(ctx, conn); err != nil {
			c.logger.Error("failed to save connection", "provider", conn.Provider, "user_id", userID, "error", err)
			return nil, NewPublishError(KindProviderUnavailable, conn.Provider, "failed to save connection").WithCause(err)
		}
	}
	return conns, nil
}

func (c *Connector) failAuth(ctx context.Context, state *OAuthState, provider Provider, err error) error {
	perr := AsPublishError(err)
	if perr.Provider == "" {
		perr.Provider = provider
	}
	c.metrics.ObserveOAuth(provider, perr)
	c.logger.Warn("social authorization failed",
		"provider", provider,
		"user_id", state.UserID,
		"kind", perr.Kind,
		"provider_code", perr.ProviderCode,
		"error", perr.Err,
	)
	recordActivity(ctx, c.activity, c.logger, ActivityEvent{
		EventType:  ActivityConnectionFailed,
		UserID:     state.UserID,
		Provider:   provider,
		OccurredAt: c.now(),
		Metadata: map[string]any{
			"kind":    string(perr.Kind),
			"message": perr.Message,
		},
	})
	return perr
}

// Disconnect removes the user's connection for provider only. It succeeds
// when nothing is stored.
func (c *Connector) Disconnect(ctx context.Context, userID string, provider Provider) error {
	if _, err := ParseProvider(string(provider)); err != nil {
		return err
	}
	if err := c.store.Delete(ctx, userID, provider); err != nil {
		c.logger.Error("failed to delete connection", "provider", provider, "user_id", userID, "error", err)
		return NewPublishError(KindProviderUnavailable, provider, "failed to delete connection").WithCause(err)
	}

	c.logger.Info("social account disconnected", "provider", provider, "user_id", userID)
	recordActivity(ctx, c.activity, c.logger, ActivityEvent{
		EventType:  ActivityConnectionDisconnected,
		UserID:     userID,
		Provider:   provider,
		OccurredAt: c.now(),
	})
	return nil
}

// Providers lists configured providers.
func (c *Connector) Providers() []Provider {
	return c.adapters.Enabled()
}

// StateTTL exposes the state lifetime for cookie or cache headers.
func (c *Connector) StateTTL() time.Duration {
	return c.states.TTL()
}
