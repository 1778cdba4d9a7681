package linkedin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	social "github.com/goliatone/go-social"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngPixel = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
}

type fakeLinkedIn struct {
	mu  sync.Mutex
	url string

	postStatus int
	postBody   string

	tokenForms []url.Values
	registers  []map[string]any
	posts      []map[string]any
	uploaded   []byte
	uploadType string
}

func (f *fakeLinkedIn) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		switch r.URL.Path {
		case "/oauth/v2/accessToken":
			assert.NoError(t, r.ParseForm())
			f.tokenForms = append(f.tokenForms, r.PostForm)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "access-" + r.PostForm.Get("grant_type"),
				"expires_in":    5184000,
				"refresh_token": "refresh-next",
				"scope":         "openid,profile,w_member_social",
			})
		case "/v2/userinfo":
			assert.Equal(t, restliProtocolVersion, r.Header.Get("X-Restli-Protocol-Version"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"sub": "abc123", "name": "Ana Baker", "picture": "https://media.example/ana.jpg",
			})
		case "/v2/assets":
			assert.Equal(t, "registerUpload", r.URL.Query().Get("action"))
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			f.registers = append(f.registers, body)
			_ = json.NewEncoder(w).Encode(map[string]any{"value": map[string]any{
				"asset": "urn:li:digitalmediaAsset:C5522",
				"uploadMechanism": map[string]any{
					uploadHTTPKey: map[string]any{"uploadUrl": f.url + "/upload/C5522"},
				},
			}})
		case "/upload/C5522":
			assert.Equal(t, http.MethodPut, r.Method)
			f.uploaded, _ = io.ReadAll(r.Body)
			f.uploadType = r.Header.Get("Content-Type")
			w.WriteHeader(http.StatusCreated)
		case "/v2/ugcPosts":
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			f.posts = append(f.posts, body)
			if f.postStatus != 0 {
				w.WriteHeader(f.postStatus)
				_, _ = io.WriteString(w, f.postBody)
				return
			}
			w.Header().Set("X-RestLi-Id", "urn:li:share:6844785523593134080")
			w.WriteHeader(http.StatusCreated)
		default:
			http.NotFound(w, r)
		}
	}
}

func (f *fakeLinkedIn) lastPost() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.posts) == 0 {
		return nil
	}
	return f.posts[len(f.posts)-1]
}

func shareContentOf(post map[string]any) map[string]any {
	specific, _ := post["specificContent"].(map[string]any)
	content, _ := specific[shareContentKey].(map[string]any)
	return content
}

func newTestAdapter(t *testing.T, fake *fakeLinkedIn, now time.Time) *Adapter {
	t.Helper()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)
	fake.url = srv.URL

	return New(Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		CallbackURL:  "https://example.com/api/social/linkedin/callback",
		TokenURL:     srv.URL + "/oauth/v2/accessToken",
		APIURL:       srv.URL,
		HTTPClient:   srv.Client(),
		Clock:        func() time.Time { return now },
	})
}

func linkedinConn() *social.Connection {
	conn := &social.Connection{
		UserID:            "user-1",
		Provider:          social.ProviderLinkedIn,
		AccessToken:       "tok",
		ProviderAccountID: "abc123",
	}
	conn.SetMetadata(MetadataPersonURN, "urn:li:person:abc123")
	return conn
}

func TestAuthURLScopes(t *testing.T) {
	adapter := New(Config{ClientID: "client-id", ClientSecret: "secret", CallbackURL: "https://example.com/cb"})

	redirect, err := adapter.AuthURL(context.Background(), "state-1")
	require.NoError(t, err)
	parsed, err := url.Parse(redirect.URL)
	require.NoError(t, err)
	assert.Equal(t, "www.linkedin.com", parsed.Host)
	assert.Equal(t, "openid profile w_member_social", parsed.Query().Get("scope"))
	assert.Equal(t, "state-1", parsed.Query().Get("state"))

	redirect, err = adapter.AuthURL(context.Background(), "state-2", social.WithTarget("1234"))
	require.NoError(t, err)
	parsed, err = url.Parse(redirect.URL)
	require.NoError(t, err)
	assert.Equal(t, "openid profile w_member_social w_organization_social r_organization_social", parsed.Query().Get("scope"))
}

func TestAuthURLWithoutCredentialsIsConfigError(t *testing.T) {
	_, err := New(Config{}).AuthURL(context.Background(), "state-1")
	assert.Equal(t, social.KindConfig, social.KindOf(err))
}

func TestCompleteAuth(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fake := &fakeLinkedIn{}
	adapter := newTestAdapter(t, fake, now)

	grant, err := adapter.CompleteAuth(context.Background(), social.CallbackParams{Code: "code-1"})
	require.NoError(t, err)

	conn := grant.For(social.ProviderLinkedIn)
	require.NotNil(t, conn)
	assert.Equal(t, "access-authorization_code", conn.AccessToken)
	assert.Equal(t, "refresh-next", conn.RefreshToken)
	assert.Equal(t, "abc123", conn.ProviderAccountID)
	assert.Equal(t, "Ana Baker", conn.DisplayName)
	assert.Equal(t, "urn:li:person:abc123", conn.MetadataString(MetadataPersonURN))
	require.NotNil(t, conn.ExpiresAt)
	assert.Equal(t, now.Add(60*24*time.Hour), *conn.ExpiresAt)
	assert.Empty(t, conn.ScopeGrant.Missing())

	require.Len(t, fake.tokenForms, 1)
	assert.Equal(t, "code-1", fake.tokenForms[0].Get("code"))
	assert.Equal(t, "client-secret", fake.tokenForms[0].Get("client_secret"))
}

func TestCompleteAuthRequiresCode(t *testing.T) {
	adapter := newTestAdapter(t, &fakeLinkedIn{}, time.Now())
	_, err := adapter.CompleteAuth(context.Background(), social.CallbackParams{})
	assert.Equal(t, social.KindAuthFailed, social.KindOf(err))
}

func TestPublishText(t *testing.T) {
	fake := &fakeLinkedIn{}
	adapter := newTestAdapter(t, fake, time.Now())

	result, err := adapter.Publish(context.Background(), linkedinConn(), &social.PublishRequest{
		Kind: social.KindText, Text: "Hiring bakers",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "urn:li:share:6844785523593134080", result.RemotePostID)
	assert.Equal(t, "https://www.linkedin.com/feed/update/urn:li:share:6844785523593134080", result.Permalink)

	post := fake.lastPost()
	assert.Equal(t, "urn:li:person:abc123", post["author"])
	content := shareContentOf(post)
	assert.Equal(t, "NONE", content["shareMediaCategory"])
	assert.Equal(t, map[string]any{"text": "Hiring bakers"}, content["shareCommentary"])
}

func TestPublishLinkAsOrganization(t *testing.T) {
	fake := &fakeLinkedIn{}
	adapter := newTestAdapter(t, fake, time.Now())

	_, err := adapter.Publish(context.Background(), linkedinConn(), &social.PublishRequest{
		Kind:     social.KindLink,
		Text:     "Our story",
		Link:     &social.LinkAttachment{URL: "https://bakery.example/story", Title: "Story"},
		TargetID: "1234",
	})
	require.NoError(t, err)

	post := fake.lastPost()
	assert.Equal(t, "urn:li:organization:1234", post["author"])
	content := shareContentOf(post)
	assert.Equal(t, "ARTICLE", content["shareMediaCategory"])
	media := content["media"].([]any)[0].(map[string]any)
	assert.Equal(t, "https://bakery.example/story", media["originalUrl"])
	assert.Equal(t, map[string]any{"text": "Story"}, media["title"])
}

func TestPublishImageRegistersAndUploads(t *testing.T) {
	fake := &fakeLinkedIn{}
	adapter := newTestAdapter(t, fake, time.Now())

	result, err := adapter.Publish(context.Background(), linkedinConn(), &social.PublishRequest{
		Kind: social.KindImage, Text: "Fresh", Media: &social.MediaRef{Data: pngPixel},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)

	require.Len(t, fake.registers, 1)
	register := fake.registers[0]["registerUploadRequest"].(map[string]any)
	assert.Equal(t, []any{recipeImage}, register["recipes"])
	assert.Equal(t, "urn:li:person:abc123", register["owner"])

	assert.Equal(t, pngPixel, fake.uploaded)
	assert.Equal(t, "image/png", fake.uploadType)

	content := shareContentOf(fake.lastPost())
	assert.Equal(t, "IMAGE", content["shareMediaCategory"])
	media := content["media"].([]any)[0].(map[string]any)
	assert.Equal(t, "urn:li:digitalmediaAsset:C5522", media["media"])
}

func TestPublishVideoUsesVideoRecipe(t *testing.T) {
	fake := &fakeLinkedIn{}
	adapter := newTestAdapter(t, fake, time.Now())

	_, err := adapter.Publish(context.Background(), linkedinConn(), &social.PublishRequest{
		Kind:  social.KindVideo,
		Media: &social.MediaRef{Data: []byte("not really a video"), ContentType: "video/mp4"},
	})
	require.NoError(t, err)

	register := fake.registers[0]["registerUploadRequest"].(map[string]any)
	assert.Equal(t, []any{recipeVideo}, register["recipes"])
	assert.Equal(t, "VIDEO", shareContentOf(fake.lastPost())["shareMediaCategory"])
}

func TestPublishImageWithoutMediaIsInvalid(t *testing.T) {
	fake := &fakeLinkedIn{}
	adapter := newTestAdapter(t, fake, time.Now())

	_, err := adapter.Publish(context.Background(), linkedinConn(), &social.PublishRequest{
		Kind: social.KindImage, Text: "look at this",
	})
	assert.Equal(t, social.KindValidation, social.KindOf(err))
	assert.Empty(t, fake.registers)
	assert.Empty(t, fake.posts)
}

func TestPublishRevokedTokenIsTokenExpired(t *testing.T) {
	adapter := newTestAdapter(t, &fakeLinkedIn{
		postStatus: http.StatusUnauthorized,
		postBody:   `{"serviceErrorCode":65600,"message":"Invalid access token","status":401}`,
	}, time.Now())

	_, err := adapter.Publish(context.Background(), linkedinConn(), &social.PublishRequest{Kind: social.KindText, Text: "hi"})
	perr := social.AsPublishError(err)
	require.NotNil(t, perr)
	assert.Equal(t, social.KindTokenExpired, perr.Kind)
	assert.Equal(t, "65600", perr.ProviderCode)
}

func TestPublishRejected(t *testing.T) {
	adapter := newTestAdapter(t, &fakeLinkedIn{
		postStatus: http.StatusUnprocessableEntity,
		postBody:   `{"message":"Content is a duplicate","status":422}`,
	}, time.Now())

	_, err := adapter.Publish(context.Background(), linkedinConn(), &social.PublishRequest{Kind: social.KindText, Text: "hi"})
	assert.Equal(t, social.KindPublishRejected, social.KindOf(err))
}

func TestPublishTruncatesLongCommentary(t *testing.T) {
	fake := &fakeLinkedIn{}
	adapter := newTestAdapter(t, fake, time.Now())

	result, err := adapter.Publish(context.Background(), linkedinConn(), &social.PublishRequest{
		Kind: social.KindText, Text: strings.Repeat("y", MaxCommentaryRunes+10),
	})
	require.NoError(t, err)
	assert.True(t, result.Degraded)
}

func TestRefreshIfNeeded(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("outside window", func(t *testing.T) {
		fake := &fakeLinkedIn{}
		adapter := newTestAdapter(t, fake, now)
		conn := linkedinConn()
		conn.RefreshToken = "refresh-1"
		expires := now.Add(30 * 24 * time.Hour)
		conn.ExpiresAt = &expires

		out, err := adapter.RefreshIfNeeded(context.Background(), conn)
		require.NoError(t, err)
		assert.Same(t, conn, out)
		assert.Empty(t, fake.tokenForms)
	})

	t.Run("without refresh token", func(t *testing.T) {
		adapter := newTestAdapter(t, &fakeLinkedIn{}, now)
		conn := linkedinConn()
		expires := now.Add(time.Hour)
		conn.ExpiresAt = &expires

		out, err := adapter.RefreshIfNeeded(context.Background(), conn)
		require.NoError(t, err)
		assert.Same(t, conn, out)
	})

	t.Run("inside window", func(t *testing.T) {
		fake := &fakeLinkedIn{}
		adapter := newTestAdapter(t, fake, now)
		conn := linkedinConn()
		conn.RefreshToken = "refresh-1"
		expires := now.Add(24 * time.Hour)
		conn.ExpiresAt = &expires

		out, err := adapter.RefreshIfNeeded(context.Background(), conn)
		require.NoError(t, err)
		assert.Equal(t, "access-refresh_token", out.AccessToken)
		assert.Equal(t, "refresh-next", out.RefreshToken)
		assert.Equal(t, now.Add(60*24*time.Hour), *out.ExpiresAt)
		assert.Equal(t, "tok", conn.AccessToken)
		require.Len(t, fake.tokenForms, 1)
		assert.Equal(t, "refresh-1", fake.tokenForms[0].Get("refresh_token"))
	})
}

func TestProfile(t *testing.T) {
	adapter := newTestAdapter(t, &fakeLinkedIn{}, time.Now())
	profile, err := adapter.Profile(context.Background(), linkedinConn())
	require.NoError(t, err)
	assert.Equal(t, "abc123", profile.ProviderAccountID)
	assert.Equal(t, "Ana Baker", profile.DisplayName)
}
