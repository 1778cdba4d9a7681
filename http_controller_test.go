package social

import (
	"bytes"
	"context"
	"encoding/base64"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"testing"

	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type controllerFixture struct {
	adapter    *fakeAdapter
	store      *memoryCredentialStore
	connector  *Connector
	controller *HTTPController
}

func newControllerFixture(provider Provider, cfg HTTPConfig) *controllerFixture {
	adapter := &fakeAdapter{provider: provider, authURL: "https://consent.example/authorize"}
	store := newMemoryCredentialStore()
	registry := NewAdapterRegistry(adapter)
	connector := NewConnector(registry, NewStateRegistry(nil), store)
	publisher := NewPublisher(registry, store)
	status := NewStatusService(registry, store)
	if cfg.DashboardURL == "" {
		cfg.DashboardURL = "https://app.example/dashboard"
	}
	return &controllerFixture{
		adapter:    adapter,
		store:      store,
		connector:  connector,
		controller: NewHTTPController(connector, publisher, status, cfg),
	}
}

func TestHTTPControllerBeginAuthReturnsJSON(t *testing.T) {
	fx := newControllerFixture(ProviderLinkedIn, HTTPConfig{})

	ctx := router.NewMockContext()
	ctx.ParamsM["provider"] = "linkedin"
	ctx.QueriesM["target"] = "12345"
	ctx.LocalsMock[DefaultUserIDKey] = "user-1"
	ctx.On("Context").Return(context.Background())

	var payload map[string]any
	ctx.On("JSON", router.StatusOK, mock.Anything).Run(func(args mock.Arguments) {
		payload = args.Get(1).(map[string]any)
	}).Return(nil)

	require.NoError(t, fx.controller.BeginAuth(ctx))
	assert.Equal(t, true, payload["success"])
	assert.Contains(t, payload["authUrl"], "state="+fx.adapter.lastState)
}

func TestHTTPControllerBeginAuthRequiresUser(t *testing.T) {
	fx := newControllerFixture(ProviderLinkedIn, HTTPConfig{})

	ctx := router.NewMockContext()
	ctx.ParamsM["provider"] = "linkedin"
	ctx.QueriesM["userId"] = "user-1"
	ctx.On("JSON", router.StatusUnauthorized, mock.Anything).Return(nil)

	require.NoError(t, fx.controller.BeginAuth(ctx))
	ctx.AssertExpectations(t)
}

func TestHTTPControllerBeginAuthQueryUserWhenAllowed(t *testing.T) {
	fx := newControllerFixture(ProviderTwitter, HTTPConfig{AllowQueryUserID: true})

	ctx := router.NewMockContext()
	ctx.ParamsM["provider"] = "twitter"
	ctx.QueriesM["userId"] = "user-9"
	ctx.On("Context").Return(context.Background())
	ctx.On("JSON", router.StatusOK, mock.Anything).Return(nil)

	require.NoError(t, fx.controller.BeginAuth(ctx))

	state, err := fx.connector.states.Consume(context.Background(), fx.adapter.lastState)
	require.NoError(t, err)
	assert.Equal(t, "user-9", state.UserID)
}

func TestHTTPControllerCallbackRedirectsConnected(t *testing.T) {
	fx := newControllerFixture(ProviderFacebook, HTTPConfig{})
	fx.adapter.grant = &Grant{Connections: []*Connection{
		{Provider: ProviderFacebook, AccessToken: "t", ProviderAccountID: "page-1"},
		{Provider: ProviderInstagram, AccessToken: "t", ProviderAccountID: "ig-1"},
	}}

	redirect, err := fx.connector.BeginAuth(context.Background(), "user-1", ProviderFacebook, WithInstagram())
	require.NoError(t, err)

	ctx := router.NewMockContext()
	ctx.ParamsM["provider"] = "facebook"
	ctx.QueriesM["code"] = "auth-code"
	ctx.QueriesM["state"] = redirect.State
	ctx.On("Context").Return(context.Background())

	var target string
	ctx.On("Redirect", mock.Anything, []int{http.StatusTemporaryRedirect}).Run(func(args mock.Arguments) {
		target = args.String(0)
	}).Return(nil)

	require.NoError(t, fx.controller.Callback(ctx))

	parsed, err := url.Parse(target)
	require.NoError(t, err)
	assert.Equal(t, "connected", parsed.Query().Get("facebook"))
	assert.Equal(t, "connected", parsed.Query().Get("instagram"))
}

func TestHTTPControllerCallbackSoftMissRedirectsToDashboard(t *testing.T) {
	fx := newControllerFixture(ProviderLinkedIn, HTTPConfig{})

	ctx := router.NewMockContext()
	ctx.ParamsM["provider"] = "linkedin"
	ctx.QueriesM["code"] = "auth-code"
	ctx.QueriesM["state"] = "already-used"
	ctx.On("Context").Return(context.Background())
	ctx.On("Redirect", "https://app.example/dashboard", []int{http.StatusTemporaryRedirect}).Return(nil)

	require.NoError(t, fx.controller.Callback(ctx))
	ctx.AssertExpectations(t)
}

func TestHTTPControllerCallbackErrorCarriesReason(t *testing.T) {
	fx := newControllerFixture(ProviderLinkedIn, HTTPConfig{})
	redirect, err := fx.connector.BeginAuth(context.Background(), "user-1", ProviderLinkedIn)
	require.NoError(t, err)

	ctx := router.NewMockContext()
	ctx.ParamsM["provider"] = "linkedin"
	ctx.QueriesM["state"] = redirect.State
	ctx.QueriesM["error"] = "user_cancelled_authorize"
	ctx.On("Context").Return(context.Background())

	var target string
	ctx.On("Redirect", mock.Anything, []int{http.StatusTemporaryRedirect}).Run(func(args mock.Arguments) {
		target = args.String(0)
	}).Return(nil)

	require.NoError(t, fx.controller.Callback(ctx))
	parsed, err := url.Parse(target)
	require.NoError(t, err)
	assert.Equal(t, "error", parsed.Query().Get("linkedin"))
	assert.Equal(t, string(KindAuthFailed), parsed.Query().Get("reason"))
}

func TestHTTPControllerPublishNotConnected(t *testing.T) {
	fx := newControllerFixture(ProviderTwitter, HTTPConfig{})

	ctx := router.NewMockContext()
	ctx.ParamsM["provider"] = "twitter"
	ctx.LocalsMock[DefaultUserIDKey] = "user-1"
	ctx.On("Context").Return(context.Background())
	ctx.On("Bind", mock.Anything).Run(func(args mock.Arguments) {
		p := args.Get(0).(*PublishPayload)
		p.Text = "hello"
	}).Return(nil)

	var body map[string]any
	ctx.On("JSON", http.StatusUnauthorized, mock.Anything).Run(func(args mock.Arguments) {
		body = args.Get(1).(map[string]any)
	}).Return(nil)

	require.NoError(t, fx.controller.Publish(ctx))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, KindNotConnected, body["kind"])
	assert.Equal(t, true, body["requiresAuth"])
}

func TestHTTPControllerPublishSuccess(t *testing.T) {
	fx := newControllerFixture(ProviderTwitter, HTTPConfig{})
	require.NoError(t, fx.store.Save(context.Background(), &Connection{
		UserID: "user-1", Provider: ProviderTwitter, AccessToken: "tok", AccessTokenSecret: "sec",
	}))
	fx.adapter.publishResult = &PublishResult{Success: true, RemotePostID: "99"}

	ctx := router.NewMockContext()
	ctx.ParamsM["provider"] = "twitter"
	ctx.LocalsMock[DefaultUserIDKey] = "user-1"
	ctx.On("Context").Return(context.Background())
	ctx.On("Bind", mock.Anything).Run(func(args mock.Arguments) {
		p := args.Get(0).(*PublishPayload)
		p.Text = "hello"
	}).Return(nil)

	var result *PublishResult
	ctx.On("JSON", router.StatusOK, mock.Anything).Run(func(args mock.Arguments) {
		result = args.Get(1).(*PublishResult)
	}).Return(nil)

	require.NoError(t, fx.controller.Publish(ctx))
	require.NotNil(t, result)
	assert.True(t, result.Success)
	assert.Equal(t, "99", result.RemotePostID)
}

func TestHTTPControllerPublishBase64Media(t *testing.T) {
	fx := newControllerFixture(ProviderTwitter, HTTPConfig{})
	require.NoError(t, fx.store.Save(context.Background(), &Connection{
		UserID: "user-1", Provider: ProviderTwitter, AccessToken: "tok", AccessTokenSecret: "sec",
	}))
	fx.adapter.publishResult = &PublishResult{Success: true, RemotePostID: "100"}

	ctx := router.NewMockContext()
	ctx.ParamsM["provider"] = "twitter"
	ctx.LocalsMock[DefaultUserIDKey] = "user-1"
	ctx.On("Context").Return(context.Background())
	ctx.On("Bind", mock.Anything).Run(func(args mock.Arguments) {
		p := args.Get(0).(*PublishPayload)
		p.Text = "pixel"
		p.MediaData = "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngPixel)
		p.MediaName = "pixel.png"
		p.MediaType = "image/png"
	}).Return(nil)
	ctx.On("JSON", router.StatusOK, mock.Anything).Return(nil)

	require.NoError(t, fx.controller.Publish(ctx))
	require.NotNil(t, fx.adapter.lastRequest)
	assert.Equal(t, KindImage, fx.adapter.lastRequest.Kind)
	assert.Equal(t, pngPixel, fx.adapter.lastRequest.Media.Data)
	assert.Equal(t, "pixel.png", fx.adapter.lastRequest.Media.Filename)
}

func TestHTTPControllerPublishMultipartMedia(t *testing.T) {
	fx := newControllerFixture(ProviderTwitter, HTTPConfig{UploadDir: t.TempDir()})
	require.NoError(t, fx.store.Save(context.Background(), &Connection{
		UserID: "user-1", Provider: ProviderTwitter, AccessToken: "tok", AccessTokenSecret: "sec",
	}))
	fx.adapter.publishResult = &PublishResult{Success: true, RemotePostID: "101"}

	var spooled []byte
	var spoolPath string
	fx.adapter.publishHook = func(req *PublishRequest) {
		spoolPath = req.Media.Path
		spooled, _ = os.ReadFile(req.Media.Path)
	}

	body := new(bytes.Buffer)
	w := multipart.NewWriter(body)
	require.NoError(t, w.WriteField("text", "pixel"))
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="media"; filename="pixel.png"`)
	header.Set("Content-Type", "image/png")
	part, err := w.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(pngPixel)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	ctx := router.NewMockContext()
	ctx.ParamsM["provider"] = "twitter"
	ctx.LocalsMock[DefaultUserIDKey] = "user-1"
	ctx.HeadersM["Content-Type"] = w.FormDataContentType()
	ctx.On("Context").Return(context.Background())
	ctx.On("Body").Return(body.Bytes())

	var result *PublishResult
	ctx.On("JSON", router.StatusOK, mock.Anything).Run(func(args mock.Arguments) {
		result = args.Get(1).(*PublishResult)
	}).Return(nil)

	require.NoError(t, fx.controller.Publish(ctx))
	require.NotNil(t, result)
	assert.Equal(t, "101", result.RemotePostID)

	req := fx.adapter.lastRequest
	require.NotNil(t, req)
	assert.Equal(t, KindImage, req.Kind)
	assert.Equal(t, "pixel", req.Text)
	assert.Equal(t, "pixel.png", req.Media.Filename)
	assert.Equal(t, "image/png", req.Media.ContentType)
	assert.Equal(t, pngPixel, spooled)

	_, err = os.Stat(spoolPath)
	assert.True(t, os.IsNotExist(err), "spooled upload is removed after publish")
}

func TestMultipartBoundary(t *testing.T) {
	boundary, ok := multipartBoundary("multipart/form-data; boundary=abc123")
	assert.True(t, ok)
	assert.Equal(t, "abc123", boundary)

	_, ok = multipartBoundary("application/json")
	assert.False(t, ok)

	_, ok = multipartBoundary("multipart/form-data")
	assert.False(t, ok)
}

func TestHTTPControllerDisconnectIsIdempotent(t *testing.T) {
	fx := newControllerFixture(ProviderFacebook, HTTPConfig{})

	for i := 0; i < 2; i++ {
		ctx := router.NewMockContext()
		ctx.ParamsM["provider"] = "facebook"
		ctx.LocalsMock[DefaultUserIDKey] = "user-1"
		ctx.On("Context").Return(context.Background())
		ctx.On("JSON", router.StatusOK, mock.Anything).Return(nil)

		require.NoError(t, fx.controller.Disconnect(ctx))
		ctx.AssertExpectations(t)
	}
}

func TestPublishPayloadToRequest(t *testing.T) {
	p := &PublishPayload{
		Text:      "caption",
		MediaData: "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngPixel),
		MediaName: "pixel.png",
		TargetID:  "org-1",
	}
	req, err := p.ToRequest("user-1", ProviderLinkedIn)
	require.NoError(t, err)
	assert.Equal(t, KindImage, req.Kind)
	assert.Equal(t, pngPixel, req.Media.Data)
	assert.Equal(t, "org-1", req.TargetID)

	p = &PublishPayload{LinkURL: "https://example.com", LinkName: "Example"}
	req, err = p.ToRequest("user-1", ProviderFacebook)
	require.NoError(t, err)
	assert.Equal(t, KindLink, req.Kind)
	assert.Equal(t, "Example", req.Link.Title)

	_, err = (&PublishPayload{PostType: "story"}).ToRequest("user-1", ProviderFacebook)
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = (&PublishPayload{MediaData: "%%%"}).ToRequest("user-1", ProviderFacebook)
	assert.Equal(t, KindValidation, KindOf(err))
}
