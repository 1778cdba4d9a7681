package social

import (
	"context"
	"sync"
	"time"
)

// ConnectionStatus is what callers see for one provider.
type ConnectionStatus struct {
	Provider      Provider   `json:"provider"`
	Connected     bool       `json:"connected"`
	Expired       bool       `json:"expired,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	Profile       *Profile   `json:"profile,omitempty"`
	ProfileStale  bool       `json:"profileStale,omitempty"`
	MissingScopes []string   `json:"missingScopes,omitempty"`
	Available     bool       `json:"available"`
}

// StatusService reports connection state. It never fails because the
// provider is unreachable; cached profile fields are used instead.
// It only reads the store, so it cannot race a publish-time refresh.
type StatusService struct {
	adapters *AdapterRegistry
	store    CredentialStore
	logger   Logger
	now      Clock
	timeout  time.Duration
}

// StatusOption configures a StatusService.
type StatusOption func(*StatusService)

// WithStatusLogger sets the logger.
func WithStatusLogger(l Logger) StatusOption {
	return func(s *StatusService) {
		s.logger = l
	}
}

// WithStatusClock overrides the clock.
func WithStatusClock(c Clock) StatusOption {
	return func(s *StatusService) {
		s.now = c
	}
}

// WithProfileTimeout bounds the live profile fetch.
func WithProfileTimeout(d time.Duration) StatusOption {
	return func(s *StatusService) {
		s.timeout = d
	}
}

// NewStatusService creates a status service.
func NewStatusService(adapters *AdapterRegistry, store CredentialStore, opts ...StatusOption) *StatusService {
	s := &StatusService{adapters: adapters, store: store}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = normalizeLogger(s.logger)
	s.now = normalizeClock(s.now)
	s.timeout = ClampTimeout(s.timeout)
	return s
}

// Status returns the connection state for one provider.
func (s *StatusService) Status(ctx context.Context, userID string, provider Provider) (*ConnectionStatus, error) {
	if _, err := ParseProvider(string(provider)); err != nil {
		return nil, err
	}

	adapter, adapterErr := s.adapters.Get(provider)
	status := &ConnectionStatus{Provider: provider, Available: adapterErr == nil}

	conn, err := s.store.Load(ctx, userID, provider)
	if err != nil {
		if IsConnectionNotFound(err) {
			return status, nil
		}
		return nil, NewPublishError(KindProviderUnavailable, provider, "failed to load connection").WithCause(err)
	}

	status.Connected = true
	status.Expired = conn.IsExpired(s.now())
	status.ExpiresAt = conn.ExpiresAt
	status.MissingScopes = conn.ScopeGrant.Missing()
	status.Profile = cachedProfile(conn)
	status.ProfileStale = true

	// An expired token cannot fetch anything; the cached label explains
	// which account needs reconnecting.
	if status.Expired || adapter == nil {
		return status, nil
	}

	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	live, err := adapter.Profile(pctx, conn.Clone())
	if err != nil || live == nil {
		s.logger.Warn("live profile fetch failed, using cached profile",
			"provider", provider,
			"user_id", userID,
			"error", err,
		)
		return status, nil
	}

	status.Profile = mergeProfile(live, status.Profile)
	status.ProfileStale = false
	return status, nil
}

// StatusAll returns one status per supported provider, fetched concurrently.
func (s *StatusService) StatusAll(ctx context.Context, userID string) ([]*ConnectionStatus, error) {
	providers := Providers()
	out := make([]*ConnectionStatus, len(providers))
	errs := make([]error, len(providers))

	var wg sync.WaitGroup
	for i, p := range providers {
		wg.Add(1)
		go func(i int, p Provider) {
			defer wg.Done()
			out[i], errs[i] = s.Status(ctx, userID, p)
		}(i, p)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func cachedProfile(conn *Connection) *Profile {
	return &Profile{
		ProviderAccountID: conn.ProviderAccountID,
		DisplayName:       conn.DisplayName,
		Username:          conn.Username,
		AvatarURL:         conn.AvatarURL,
	}
}

func mergeProfile(live, cached *Profile) *Profile {
	out := *live
	if out.ProviderAccountID == "" {
		out.ProviderAccountID = cached.ProviderAccountID
	}
	if out.DisplayName == "" {
		out.DisplayName = cached.DisplayName
	}
	if out.Username == "" {
		out.Username = cached.Username
	}
	if out.AvatarURL == "" {
		out.AvatarURL = cached.AvatarURL
	}
	return &out
}
