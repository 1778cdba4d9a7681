package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/dghubble/oauth1"
	social "github.com/goliatone/go-social"
)

const (
	defaultRequestTokenURL = "https://api.twitter.com/oauth/request_token"
	defaultAuthorizeURL    = "https://api.twitter.com/oauth/authorize"
	defaultAccessTokenURL  = "https://api.twitter.com/oauth/access_token"
	defaultAPIURL          = "https://api.twitter.com"
	defaultUploadURL       = "https://upload.twitter.com/1.1/media/upload.json"
)

const (
	// MaxTweetRunes is the tweet length limit.
	MaxTweetRunes = 280
	// MaxImageBytes is the simple upload limit for images.
	MaxImageBytes = 5 << 20

	accessLevelReadWrite = "read-write"
)

// Config holds Twitter OAuth 1.0a configuration.
type Config struct {
	ConsumerKey    string
	ConsumerSecret string
	CallbackURL    string

	RequestTokenURL string
	AuthorizeURL    string
	AccessTokenURL  string
	APIURL          string
	UploadURL       string

	HTTPClient *http.Client
	Logger     social.Logger
}

// Adapter implements social.Adapter for Twitter/X.
type Adapter struct {
	config     Config
	oauth      oauth1.Config
	httpClient *http.Client
	logger     social.Logger
}

var _ social.Adapter = (*Adapter)(nil)

// New creates a Twitter adapter.
func New(cfg Config) *Adapter {
	if cfg.RequestTokenURL == "" {
		cfg.RequestTokenURL = defaultRequestTokenURL
	}
	if cfg.AuthorizeURL == "" {
		cfg.AuthorizeURL = defaultAuthorizeURL
	}
	if cfg.AccessTokenURL == "" {
		cfg.AccessTokenURL = defaultAccessTokenURL
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	if cfg.UploadURL == "" {
		cfg.UploadURL = defaultUploadURL
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")

	client := cfg.HTTPClient
	if client == nil {
		client = social.NewHTTPClient(social.ProviderTwitter)
	}

	return &Adapter{
		config: cfg,
		oauth: oauth1.Config{
			ConsumerKey:    cfg.ConsumerKey,
			ConsumerSecret: cfg.ConsumerSecret,
			CallbackURL:    cfg.CallbackURL,
			Endpoint: oauth1.Endpoint{
				RequestTokenURL: cfg.RequestTokenURL,
				AuthorizeURL:    cfg.AuthorizeURL,
				AccessTokenURL:  cfg.AccessTokenURL,
			},
			HTTPClient: client,
		},
		httpClient: client,
		logger:     social.NormalizeLogger(cfg.Logger),
	}
}

// Name implements social.Adapter.
func (a *Adapter) Name() social.Provider {
	return social.ProviderTwitter
}

// AuthURL implements social.Adapter. OAuth 1.0a needs a request token
// before the consent URL exists. Twitter does not echo a state parameter,
// so the state rides on the per-request callback URL.
func (a *Adapter) AuthURL(_ context.Context, state string, _ ...social.AuthOption) (*social.AuthRedirect, error) {
	if a.config.ConsumerKey == "" || a.config.ConsumerSecret == "" {
		return nil, social.NewPublishError(social.KindConfig, social.ProviderTwitter, "twitter api keys are not configured")
	}

	cfg := a.oauth
	cfg.CallbackURL = callbackWithState(a.config.CallbackURL, state)

	requestToken, requestSecret, err := cfg.RequestToken()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) {
			return nil, social.ClassifyProviderError(social.ProviderTwitter, social.PhaseAuth, err)
		}
		return nil, social.NewPublishError(social.KindConfig, social.ProviderTwitter,
			"twitter rejected the request token call; check the api keys and that the callback URL is approved").
			WithCause(err)
	}

	authURL, err := cfg.AuthorizationURL(requestToken)
	if err != nil {
		return nil, social.NewPublishError(social.KindConfig, social.ProviderTwitter, "invalid twitter authorize url").WithCause(err)
	}

	return &social.AuthRedirect{
		URL:    authURL.String(),
		Secret: requestSecret,
	}, nil
}

// CompleteAuth implements social.Adapter.
func (a *Adapter) CompleteAuth(ctx context.Context, params social.CallbackParams) (*social.Grant, error) {
	if params.RequestToken == "" || params.Verifier == "" {
		return nil, social.NewPublishError(social.KindAuthFailed, social.ProviderTwitter, "missing oauth_token or oauth_verifier")
	}
	secret := ""
	if params.State != nil {
		secret = params.State.Secret
	}

	accessToken, accessSecret, err := a.oauth.AccessToken(params.RequestToken, secret, params.Verifier)
	if err != nil {
		return nil, social.NewPublishError(social.KindAuthFailed, social.ProviderTwitter, "twitter access token exchange failed").WithCause(err)
	}

	conn := &social.Connection{
		Provider:          social.ProviderTwitter,
		AccessToken:       accessToken,
		AccessTokenSecret: accessSecret,
		AccountType:       social.AccountTypeUser,
	}

	user, level, err := a.verifyCredentials(ctx, conn)
	if err != nil {
		return nil, social.ClassifyProviderError(social.ProviderTwitter, social.PhaseAuth, err)
	}

	conn.ProviderAccountID = user.IDStr
	conn.DisplayName = user.Name
	conn.Username = user.ScreenName
	conn.AvatarURL = user.ProfileImageURLHTTPS
	conn.ScopeGrant = social.ScopeGrant{Requested: []string{accessLevelReadWrite}}
	if level != "" {
		conn.ScopeGrant.Granted = []string{level}
	}

	return &social.Grant{
		Provider:    social.ProviderTwitter,
		Connections: []*social.Connection{conn},
	}, nil
}

// RefreshIfNeeded implements social.Adapter. OAuth 1.0a tokens do not
// expire.
func (a *Adapter) RefreshIfNeeded(_ context.Context, conn *social.Connection) (*social.Connection, error) {
	return conn, nil
}

// Profile implements social.Adapter.
func (a *Adapter) Profile(ctx context.Context, conn *social.Connection) (*social.Profile, error) {
	user, _, err := a.verifyCredentials(ctx, conn)
	if err != nil {
		return nil, social.ClassifyProviderError(social.ProviderTwitter, social.PhaseProfile, err)
	}
	return mapProfile(user), nil
}

// Publish implements social.Adapter. Text over the limit is truncated and
// a failed image upload falls back to a text-only tweet; both are reported
// as warnings on the result.
func (a *Adapter) Publish(ctx context.Context, conn *social.Connection, req *social.PublishRequest) (*social.PublishResult, error) {
	if req.Kind == social.KindVideo {
		return nil, social.NewPublishError(social.KindValidation, social.ProviderTwitter, "video posts are not supported on twitter")
	}

	result := &social.PublishResult{Provider: social.ProviderTwitter}
	client := a.client(ctx, conn)

	text := req.Text
	if req.Kind == social.KindLink && req.Link != nil {
		text = joinText(text, req.Link.URL)
	}
	if truncated := social.TruncateRunes(text, MaxTweetRunes); truncated != text {
		a.logger.Warn("tweet truncated", "user_id", conn.UserID, "length", len([]rune(text)))
		result.Warn("text truncated to 280 characters")
		text = truncated
	}

	body := tweetRequest{Text: text}
	if req.Kind == social.KindImage {
		if req.Media.IsZero() {
			return nil, social.NewPublishError(social.KindValidation, social.ProviderTwitter, "media is required for image posts")
		}
		mediaID, err := a.uploadImage(ctx, client, req.Media)
		if err != nil {
			a.logger.Warn("tweet image upload failed, posting text only", "user_id", conn.UserID, "error", err)
			result.Warn("image upload failed; posted text only")
		} else {
			body.Media = &tweetMedia{MediaIDs: []string{mediaID}}
		}
	}

	tweet, err := a.createTweet(ctx, client, body)
	if err != nil {
		return nil, social.ClassifyProviderError(social.ProviderTwitter, social.PhasePublish, err)
	}

	result.Success = true
	result.RemotePostID = tweet.ID
	result.Permalink = permalink(conn.Username, tweet.ID)
	return result, nil
}

func (a *Adapter) client(ctx context.Context, conn *social.Connection) *http.Client {
	ctx = context.WithValue(ctx, oauth1.HTTPClient, a.httpClient)
	return a.oauth.Client(ctx, oauth1.NewToken(conn.AccessToken, conn.AccessTokenSecret))
}

func (a *Adapter) verifyCredentials(ctx context.Context, conn *social.Connection) (*twitterUser, string, error) {
	endpoint := a.config.APIURL + "/1.1/account/verify_credentials.json?" + url.Values{
		"skip_status":   {"true"},
		"include_email": {"false"},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := a.client(ctx, conn).Do(req)
	if err != nil {
		return nil, "", providerError("verify_credentials", 0, "", "", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", providerError("verify_credentials", resp.StatusCode, "", "failed to read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", decodeError("verify_credentials", resp.StatusCode, body)
	}

	var user twitterUser
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, "", providerError("verify_credentials", resp.StatusCode, "invalid_response", "failed to decode user response", err)
	}
	return &user, resp.Header.Get("X-Access-Level"), nil
}

func (a *Adapter) uploadImage(ctx context.Context, client *http.Client, ref *social.MediaRef) (string, error) {
	payload, err := social.LoadMedia(ctx, a.httpClient, social.ProviderTwitter, ref, MaxImageBytes)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("media", payload.Filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(payload.Data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.UploadURL, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := client.Do(req)
	if err != nil {
		return "", providerError("media_upload", 0, "", "", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", providerError("media_upload", resp.StatusCode, "", "failed to read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", decodeError("media_upload", resp.StatusCode, body)
	}

	var media struct {
		MediaIDString string `json:"media_id_string"`
	}
	if err := json.Unmarshal(body, &media); err != nil || media.MediaIDString == "" {
		return "", providerError("media_upload", resp.StatusCode, "invalid_response", "missing media id", err)
	}
	return media.MediaIDString, nil
}

type tweetRequest struct {
	Text  string      `json:"text"`
	Media *tweetMedia `json:"media,omitempty"`
}

type tweetMedia struct {
	MediaIDs []string `json:"media_ids"`
}

type tweetData struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func (a *Adapter) createTweet(ctx context.Context, client *http.Client, body tweetRequest) (*tweetData, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.APIURL+"/2/tweets", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, providerError("create_tweet", 0, "", "", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, providerError("create_tweet", resp.StatusCode, "", "failed to read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeError("create_tweet", resp.StatusCode, raw)
	}

	var out struct {
		Data tweetData `json:"data"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || out.Data.ID == "" {
		return nil, providerError("create_tweet", resp.StatusCode, "invalid_response", "missing tweet id", err)
	}
	return &out.Data, nil
}

func callbackWithState(callback, state string) string {
	if callback == "" || state == "" {
		return callback
	}
	parsed, err := url.Parse(callback)
	if err != nil {
		return callback
	}
	q := parsed.Query()
	q.Set("state", state)
	parsed.RawQuery = q.Encode()
	return parsed.String()
}

func joinText(text, link string) string {
	if text == "" {
		return link
	}
	return text + " " + link
}

func permalink(username, id string) string {
	if username == "" {
		return "https://twitter.com/i/web/status/" + id
	}
	return "https://twitter.com/" + username + "/status/" + id
}
