package social

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	// MaxStateTTL bounds how long an OAuth state can stay valid.
	MaxStateTTL = 10 * time.Minute

	stateTokenBytes = 32
	stateNonceBytes = 16
)

// ErrStateNotFound is returned for missing, expired or already consumed states.
var ErrStateNotFound = goerrors.New("oauth state not found or expired", goerrors.CategoryAuth).
	WithTextCode("OAUTH_STATE_NOT_FOUND").
	WithCode(goerrors.CodeUnauthorized)

// OAuthState binds a callback to the user and provider that started it.
type OAuthState struct {
	State     string            `json:"state"`
	UserID    string            `json:"user_id"`
	Provider  Provider          `json:"provider"`
	Nonce     string            `json:"nonce"`
	Secret    string            `json:"-"`
	Options   map[string]string `json:"options,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Expired reports whether the state is past its expiry.
func (s *OAuthState) Expired(now time.Time) bool {
	return s == nil || !now.Before(s.ExpiresAt)
}

// StateStore persists OAuth states. Take must be atomic: a state handed out
// once is never handed out again.
type StateStore interface {
	Put(ctx context.Context, state *OAuthState) error
	Take(ctx context.Context, token string, now time.Time) (*OAuthState, error)
	Purge(ctx context.Context, now time.Time) (int, error)
}

// StateRegistry issues and consumes single use OAuth state tokens.
type StateRegistry struct {
	store  StateStore
	ttl    time.Duration
	now    Clock
	logger Logger
}

// StateRegistryOption configures the registry.
type StateRegistryOption func(*StateRegistry)

// WithStateTTL sets the state lifetime, clamped to MaxStateTTL.
func WithStateTTL(ttl time.Duration) StateRegistryOption {
	return func(r *StateRegistry) {
		r.ttl = ttl
	}
}

// WithStateClock overrides the registry clock.
func WithStateClock(c Clock) StateRegistryOption {
	return func(r *StateRegistry) {
		r.now = c
	}
}

// WithStateLogger sets the registry logger.
func WithStateLogger(l Logger) StateRegistryOption {
	return func(r *StateRegistry) {
		r.logger = l
	}
}

// NewStateRegistry creates a registry. A nil store uses the in memory store.
func NewStateRegistry(store StateStore, opts ...StateRegistryOption) *StateRegistry {
	r := &StateRegistry{store: store, ttl: MaxStateTTL}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.store == nil {
		r.store = NewMemoryStateStore()
	}
	if r.ttl <= 0 || r.ttl > MaxStateTTL {
		r.ttl = MaxStateTTL
	}
	r.now = normalizeClock(r.now)
	r.logger = normalizeLogger(r.logger)
	return r
}

// Create issues a fresh state and stores it.
func (r *StateRegistry) Create(ctx context.Context, userID string, provider Provider, options map[string]string) (*OAuthState, error) {
	state, err := r.New(userID, provider, options)
	if err != nil {
		return nil, err
	}
	if err := r.Save(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

// New issues a state without storing it, so callers can attach a secret
// obtained from the provider before calling Save.
func (r *StateRegistry) New(userID string, provider Provider, options map[string]string) (*OAuthState, error) {
	if userID == "" {
		return nil, NewPublishError(KindAuthFailed, provider, "user id is required to start authorization")
	}

	token, err := randomToken(stateTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate oauth state: %w", err)
	}
	nonce, err := randomToken(stateNonceBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate oauth nonce: %w", err)
	}

	now := r.now()
	return &OAuthState{
		State:     token,
		UserID:    userID,
		Provider:  provider,
		Nonce:     nonce,
		Options:   options,
		CreatedAt: now,
		ExpiresAt: now.Add(r.ttl),
	}, nil
}

// Save stores a state issued by New.
func (r *StateRegistry) Save(ctx context.Context, state *OAuthState) error {
	if err := r.store.Put(ctx, state); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store oauth state")
	}
	r.logger.Debug("oauth state created", "provider", state.Provider, "user_id", state.UserID, "expires_at", state.ExpiresAt)
	return nil
}

// Consume returns the state and removes it. Any later call for the same
// token returns ErrStateNotFound.
func (r *StateRegistry) Consume(ctx context.Context, token string) (*OAuthState, error) {
	if token == "" {
		return nil, ErrStateNotFound
	}
	state, err := r.store.Take(ctx, token, r.now())
	if err != nil {
		return nil, err
	}
	if state == nil || state.Expired(r.now()) {
		return nil, ErrStateNotFound
	}
	return state, nil
}

// Purge removes expired states from the store.
func (r *StateRegistry) Purge(ctx context.Context) (int, error) {
	n, err := r.store.Purge(ctx, r.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Debug("purged expired oauth states", "count", n)
	}
	return n, nil
}

// TTL returns the effective state lifetime.
func (r *StateRegistry) TTL() time.Duration {
	return r.ttl
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// MemoryStateStore keeps states in process. Used by tests and single
// instance deployments.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]*OAuthState
}

// NewMemoryStateStore creates an empty store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: map[string]*OAuthState{}}
}

func (m *MemoryStateStore) Put(_ context.Context, state *OAuthState) error {
	if state == nil || state.State == "" {
		return fmt.Errorf("oauth state token is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *state
	m.states[state.State] = &cp
	return nil
}

func (m *MemoryStateStore) Take(_ context.Context, token string, now time.Time) (*OAuthState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[token]
	if !ok {
		return nil, ErrStateNotFound
	}
	delete(m.states, token)
	if state.Expired(now) {
		return nil, ErrStateNotFound
	}
	return state, nil
}

func (m *MemoryStateStore) Purge(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for token, state := range m.states {
		if state.Expired(now) {
			delete(m.states, token)
			n++
		}
	}
	return n, nil
}
