package social

import (
	"context"
	"sync"
	"time"
)

type memoryCredentialStore struct {
	mu      sync.Mutex
	records map[string]*Connection
	saves   int
	saveErr error
}

func newMemoryCredentialStore() *memoryCredentialStore {
	return &memoryCredentialStore{records: map[string]*Connection{}}
}

func storeKey(userID string, provider Provider) string {
	return userID + "/" + string(provider)
}

func (s *memoryCredentialStore) Save(_ context.Context, conn *Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.records[storeKey(conn.UserID, conn.Provider)] = conn.Clone()
	return nil
}

func (s *memoryCredentialStore) Load(_ context.Context, userID string, provider Provider) (*Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.records[storeKey(userID, provider)]
	if !ok {
		return nil, ErrConnectionNotFound
	}
	return conn.Clone(), nil
}

func (s *memoryCredentialStore) Delete(_ context.Context, userID string, provider Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, storeKey(userID, provider))
	return nil
}

func (s *memoryCredentialStore) List(_ context.Context, userID string) ([]*Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Connection
	for _, p := range Providers() {
		if conn, ok := s.records[storeKey(userID, p)]; ok {
			out = append(out, conn.Clone())
		}
	}
	return out, nil
}

type fakeAdapter struct {
	mu sync.Mutex

	provider Provider

	authURL    string
	authSecret string
	authErr    error
	lastState  string

	grant       *Grant
	completeErr error
	lastParams  CallbackParams

	publishResult *PublishResult
	publishErr    error
	publishCalls  int
	publishDelay  time.Duration
	publishHook   func(req *PublishRequest)
	lastConn      *Connection
	lastRequest   *PublishRequest

	refreshed    *Connection
	refreshErr   error
	refreshCalls int

	profile      *Profile
	profileErr   error
	profileCalls int
	profileHook  func(ctx context.Context)
}

func (a *fakeAdapter) Name() Provider {
	return a.provider
}

func (a *fakeAdapter) AuthURL(_ context.Context, state string, opts ...AuthOption) (*AuthRedirect, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastState = state
	if a.authErr != nil {
		return nil, a.authErr
	}
	return &AuthRedirect{
		URL:    a.authURL + "?state=" + state,
		Secret: a.authSecret,
		Scopes: ApplyAuthOptions(nil, opts...).Scopes,
	}, nil
}

func (a *fakeAdapter) CompleteAuth(_ context.Context, params CallbackParams) (*Grant, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastParams = params
	if a.completeErr != nil {
		return nil, a.completeErr
	}
	return a.grant, nil
}

func (a *fakeAdapter) Publish(ctx context.Context, conn *Connection, req *PublishRequest) (*PublishResult, error) {
	a.mu.Lock()
	a.publishCalls++
	a.lastConn = conn
	a.lastRequest = req
	delay := a.publishDelay
	hook := a.publishHook
	a.mu.Unlock()

	if hook != nil {
		hook(req)
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if a.publishErr != nil {
		return nil, a.publishErr
	}
	if a.publishResult != nil {
		out := *a.publishResult
		return &out, nil
	}
	return &PublishResult{Success: true, RemotePostID: "post-1"}, nil
}

func (a *fakeAdapter) RefreshIfNeeded(_ context.Context, conn *Connection) (*Connection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refreshCalls++
	if a.refreshErr != nil {
		return nil, a.refreshErr
	}
	if a.refreshed != nil {
		return a.refreshed.Clone(), nil
	}
	return conn, nil
}

func (a *fakeAdapter) Profile(ctx context.Context, _ *Connection) (*Profile, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.profileCalls++
	if a.profileHook != nil {
		a.profileHook(ctx)
	}
	if a.profileErr != nil {
		return nil, a.profileErr
	}
	return a.profile, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) types() []ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func timePtr(t time.Time) *time.Time {
	return &t
}
