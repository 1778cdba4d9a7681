package social

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConnector(adapter *fakeAdapter, store *memoryCredentialStore, opts ...ConnectorOption) *Connector {
	return NewConnector(NewAdapterRegistry(adapter), NewStateRegistry(nil), store, opts...)
}

func TestConnectorBeginAuthStoresState(t *testing.T) {
	adapter := &fakeAdapter{provider: ProviderFacebook, authURL: "https://consent.example/dialog"}
	conn := newTestConnector(adapter, newMemoryCredentialStore())

	redirect, err := conn.BeginAuth(context.Background(), "user-1", ProviderFacebook, WithInstagram())
	require.NoError(t, err)
	assert.Equal(t, ProviderFacebook, redirect.Provider)
	assert.Equal(t, adapter.lastState, redirect.State)
	assert.True(t, strings.HasPrefix(redirect.URL, "https://consent.example/dialog?state="))

	state, err := conn.states.Consume(context.Background(), redirect.State)
	require.NoError(t, err)
	assert.Equal(t, "user-1", state.UserID)
	assert.Equal(t, "true", state.Options[OptionInstagram])
}

func TestConnectorBeginAuthKeepsRequestSecret(t *testing.T) {
	adapter := &fakeAdapter{provider: ProviderTwitter, authURL: "https://api.example/authorize", authSecret: "req-secret"}
	conn := newTestConnector(adapter, newMemoryCredentialStore())

	redirect, err := conn.BeginAuth(context.Background(), "user-1", ProviderTwitter)
	require.NoError(t, err)
	assert.Equal(t, "req-secret", redirect.Secret)

	state, err := conn.states.Consume(context.Background(), redirect.State)
	require.NoError(t, err)
	assert.Equal(t, "req-secret", state.Secret)
}

func TestConnectorBeginAuthConfigError(t *testing.T) {
	adapter := &fakeAdapter{
		provider: ProviderTwitter,
		authErr:  NewPublishError(KindConfig, ProviderTwitter, "callback url not approved"),
	}
	conn := newTestConnector(adapter, newMemoryCredentialStore())

	_, err := conn.BeginAuth(context.Background(), "user-1", ProviderTwitter)
	require.Error(t, err)
	assert.Equal(t, KindConfig, KindOf(err))
}

func TestConnectorBeginAuthUnconfiguredProvider(t *testing.T) {
	conn := NewConnector(NewAdapterRegistry(), nil, newMemoryCredentialStore())

	_, err := conn.BeginAuth(context.Background(), "user-1", ProviderLinkedIn)
	assert.Equal(t, KindConfig, KindOf(err))
}

func TestConnectorCompleteAuthSavesEveryGrantConnection(t *testing.T) {
	store := newMemoryCredentialStore()
	adapter := &fakeAdapter{
		provider: ProviderFacebook,
		authURL:  "https://consent.example/dialog",
		grant: &Grant{
			Provider: ProviderFacebook,
			Connections: []*Connection{
				{Provider: ProviderFacebook, AccessToken: "page-token", ProviderAccountID: "page-1"},
				{Provider: ProviderInstagram, AccessToken: "page-token", ProviderAccountID: "ig-1"},
			},
		},
	}
	sink := &recordingSink{}
	metrics := NewMetrics()
	conn := newTestConnector(adapter, store, WithConnectorActivity(sink), WithConnectorMetrics(metrics))

	redirect, err := conn.BeginAuth(context.Background(), "user-1", ProviderFacebook, WithInstagram())
	require.NoError(t, err)

	outcome, err := conn.CompleteAuth(context.Background(), ProviderFacebook, CallbackRequest{
		State: redirect.State,
		Code:  "auth-code",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeConnected, outcome.Status)
	assert.Equal(t, "user-1", outcome.UserID)
	assert.Len(t, outcome.Connections, 2)
	assert.Equal(t, "auth-code", adapter.lastParams.Code)
	assert.Equal(t, "true", adapter.lastParams.Option(OptionInstagram))

	fb, err := store.Load(context.Background(), "user-1", ProviderFacebook)
	require.NoError(t, err)
	assert.Equal(t, "page-1", fb.ProviderAccountID)
	ig, err := store.Load(context.Background(), "user-1", ProviderInstagram)
	require.NoError(t, err)
	assert.Equal(t, "ig-1", ig.ProviderAccountID)

	assert.Equal(t, []ActivityEventType{ActivityConnectionConnected, ActivityConnectionConnected}, sink.types())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.oauthTotal.WithLabelValues("facebook", "success")))
}

func TestConnectorCompleteAuthReplayIsSoft(t *testing.T) {
	store := newMemoryCredentialStore()
	adapter := &fakeAdapter{
		provider: ProviderLinkedIn,
		grant:    &Grant{Connections: []*Connection{{Provider: ProviderLinkedIn, AccessToken: "tok"}}},
	}
	conn := newTestConnector(adapter, store)

	redirect, err := conn.BeginAuth(context.Background(), "user-1", ProviderLinkedIn)
	require.NoError(t, err)

	first, err := conn.CompleteAuth(context.Background(), ProviderLinkedIn, CallbackRequest{State: redirect.State, Code: "c"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeConnected, first.Status)

	second, err := conn.CompleteAuth(context.Background(), ProviderLinkedIn, CallbackRequest{State: redirect.State, Code: "c"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeContinue, second.Status)
	assert.Equal(t, 1, store.saves)
}

func TestConnectorCompleteAuthProviderMismatch(t *testing.T) {
	fb := &fakeAdapter{provider: ProviderFacebook, authURL: "https://a"}
	li := &fakeAdapter{provider: ProviderLinkedIn}
	conn := NewConnector(NewAdapterRegistry(fb, li), nil, newMemoryCredentialStore())

	redirect, err := conn.BeginAuth(context.Background(), "user-1", ProviderFacebook)
	require.NoError(t, err)

	_, err = conn.CompleteAuth(context.Background(), ProviderLinkedIn, CallbackRequest{State: redirect.State, Code: "c"})
	assert.Equal(t, KindAuthFailed, KindOf(err))
}

func TestConnectorCompleteAuthUserDenied(t *testing.T) {
	adapter := &fakeAdapter{provider: ProviderLinkedIn}
	sink := &recordingSink{}
	conn := newTestConnector(adapter, newMemoryCredentialStore(), WithConnectorActivity(sink))

	redirect, err := conn.BeginAuth(context.Background(), "user-1", ProviderLinkedIn)
	require.NoError(t, err)

	_, err = conn.CompleteAuth(context.Background(), ProviderLinkedIn, CallbackRequest{
		State:            redirect.State,
		Error:            "user_cancelled_login",
		ErrorDescription: "The user cancelled LinkedIn login",
	})
	require.Error(t, err)
	perr := AsPublishError(err)
	assert.Equal(t, KindAuthFailed, perr.Kind)
	assert.Equal(t, "user_cancelled_login", perr.ProviderCode)
	assert.Equal(t, []ActivityEventType{ActivityConnectionFailed}, sink.types())
}

func TestConnectorCompleteAuthClassifiesProviderFailure(t *testing.T) {
	adapter := &fakeAdapter{
		provider:    ProviderLinkedIn,
		completeErr: &ProviderError{Provider: "linkedin", Operation: "exchange", Status: http.StatusBadRequest, Code: "invalid_grant"},
	}
	conn := newTestConnector(adapter, newMemoryCredentialStore())

	redirect, err := conn.BeginAuth(context.Background(), "user-1", ProviderLinkedIn)
	require.NoError(t, err)

	_, err = conn.CompleteAuth(context.Background(), ProviderLinkedIn, CallbackRequest{State: redirect.State, Code: "bad"})
	perr := AsPublishError(err)
	assert.Equal(t, KindAuthFailed, perr.Kind)
	assert.Equal(t, "invalid_grant", perr.ProviderCode)
}

func TestConnectorCompleteAuthNoBusinessAccountPassesThrough(t *testing.T) {
	adapter := &fakeAdapter{
		provider:    ProviderInstagram,
		completeErr: NewPublishError(KindNoBusinessAccount, ProviderInstagram, "link an instagram business account"),
	}
	conn := newTestConnector(adapter, newMemoryCredentialStore())

	redirect, err := conn.BeginAuth(context.Background(), "user-1", ProviderInstagram)
	require.NoError(t, err)

	_, err = conn.CompleteAuth(context.Background(), ProviderInstagram, CallbackRequest{State: redirect.State, Code: "c"})
	assert.Equal(t, KindNoBusinessAccount, KindOf(err))
}

func TestConnectorCompleteAuthEmptyGrant(t *testing.T) {
	adapter := &fakeAdapter{provider: ProviderFacebook, grant: &Grant{}}
	conn := newTestConnector(adapter, newMemoryCredentialStore())

	redirect, err := conn.BeginAuth(context.Background(), "user-1", ProviderFacebook)
	require.NoError(t, err)

	_, err = conn.CompleteAuth(context.Background(), ProviderFacebook, CallbackRequest{State: redirect.State, Code: "c"})
	assert.Equal(t, KindAuthFailed, KindOf(err))
}

func TestConnectorDisconnectLeavesSibling(t *testing.T) {
	ctx := context.Background()
	store := newMemoryCredentialStore()
	ig := &Connection{
		UserID:            "user-1",
		Provider:          ProviderInstagram,
		AccessToken:       "shared",
		ProviderAccountID: "ig-1",
		Metadata:          map[string]any{"page_id": "page-1"},
	}
	require.NoError(t, store.Save(ctx, &Connection{UserID: "user-1", Provider: ProviderFacebook, AccessToken: "shared"}))
	require.NoError(t, store.Save(ctx, ig))

	sink := &recordingSink{}
	conn := newTestConnector(&fakeAdapter{provider: ProviderFacebook}, store, WithConnectorActivity(sink))

	require.NoError(t, conn.Disconnect(ctx, "user-1", ProviderFacebook))
	require.NoError(t, conn.Disconnect(ctx, "user-1", ProviderFacebook))

	_, err := store.Load(ctx, "user-1", ProviderFacebook)
	assert.True(t, IsConnectionNotFound(err))

	still, err := store.Load(ctx, "user-1", ProviderInstagram)
	require.NoError(t, err)
	assert.Equal(t, ig, still)
	assert.Len(t, sink.types(), 2)
}

func TestConnectorSaveFailureIsReported(t *testing.T) {
	store := newMemoryCredentialStore()
	store.saveErr = errors.New("db down")
	adapter := &fakeAdapter{
		provider: ProviderLinkedIn,
		grant:    &Grant{Connections: []*Connection{{Provider: ProviderLinkedIn, AccessToken: "tok"}}},
	}
	conn := newTestConnector(adapter, store)

	redirect, err := conn.BeginAuth(context.Background(), "user-1", ProviderLinkedIn)
	require.NoError(t, err)

	_, err = conn.CompleteAuth(context.Background(), ProviderLinkedIn, CallbackRequest{State: redirect.State, Code: "c"})
	assert.Equal(t, KindProviderUnavailable, KindOf(err))
}
