package linkedin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	social "github.com/goliatone/go-social"
)

const (
	defaultAuthURL     = "https://www.linkedin.com/oauth/v2/authorization"
	defaultTokenURL    = "https://www.linkedin.com/oauth/v2/accessToken"
	defaultAPIURL      = "https://api.linkedin.com"
	defaultRefreshSkew = 7 * 24 * time.Hour

	restliProtocolVersion = "2.0.0"
)

// Metadata keys stored on linkedin connections.
const (
	MetadataPersonURN      = "person_urn"
	MetadataOrganizationID = "organization_id"
)

// Config holds LinkedIn OAuth configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Scopes       []string

	AuthURL  string
	TokenURL string
	APIURL   string

	RefreshWindow time.Duration

	HTTPClient *http.Client
	Logger     social.Logger
	Clock      social.Clock
}

// DefaultScopes returns the scopes needed to post as a member.
func DefaultScopes() []string {
	return []string{"openid", "profile", "w_member_social"}
}

// OrganizationScopes are added when posting as a company page.
func OrganizationScopes() []string {
	return []string{"w_organization_social", "r_organization_social"}
}

// Adapter implements social.Adapter for LinkedIn.
type Adapter struct {
	config     Config
	httpClient *http.Client
	logger     social.Logger
	now        social.Clock
}

var _ social.Adapter = (*Adapter)(nil)

// New creates a LinkedIn adapter.
func New(cfg Config) *Adapter {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes()
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	if cfg.RefreshWindow <= 0 {
		cfg.RefreshWindow = defaultRefreshSkew
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")

	client := cfg.HTTPClient
	if client == nil {
		client = social.NewHTTPClient(social.ProviderLinkedIn)
	}

	return &Adapter{
		config:     cfg,
		httpClient: client,
		logger:     social.NormalizeLogger(cfg.Logger),
		now:        social.NormalizeClock(cfg.Clock),
	}
}

// Name implements social.Adapter.
func (a *Adapter) Name() social.Provider {
	return social.ProviderLinkedIn
}

func (a *Adapter) scopes(opts ...social.AuthOption) []string {
	cfg := social.ApplyAuthOptions(a.config.Scopes, opts...)
	if cfg.Target != "" {
		return social.ApplyAuthOptions(cfg.Scopes, social.WithScopes(OrganizationScopes()...)).Scopes
	}
	return cfg.Scopes
}

// AuthURL implements social.Adapter.
func (a *Adapter) AuthURL(_ context.Context, state string, opts ...social.AuthOption) (*social.AuthRedirect, error) {
	if a.config.ClientID == "" || a.config.ClientSecret == "" {
		return nil, social.NewPublishError(social.KindConfig, social.ProviderLinkedIn, "linkedin client credentials are not configured")
	}
	scopes := a.scopes(opts...)

	params := url.Values{
		"response_type": {"code"},
		"client_id":     {a.config.ClientID},
		"redirect_uri":  {a.config.CallbackURL},
		"state":         {state},
		"scope":         {strings.Join(scopes, " ")},
	}
	if prompt := social.ApplyAuthOptions(nil, opts...).Prompt; prompt != "" {
		params.Set("prompt", prompt)
	}

	return &social.AuthRedirect{
		URL:    a.config.AuthURL + "?" + params.Encode(),
		Scopes: scopes,
	}, nil
}

// CompleteAuth implements social.Adapter.
func (a *Adapter) CompleteAuth(ctx context.Context, params social.CallbackParams) (*social.Grant, error) {
	if params.Code == "" {
		return nil, social.NewPublishError(social.KindAuthFailed, social.ProviderLinkedIn, "missing authorization code")
	}

	token, err := a.exchange(ctx, url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {params.Code},
		"redirect_uri": {a.config.CallbackURL},
	})
	if err != nil {
		return nil, social.ClassifyProviderError(social.ProviderLinkedIn, social.PhaseAuth, err)
	}

	info, err := a.userInfo(ctx, token.AccessToken)
	if err != nil {
		return nil, social.ClassifyProviderError(social.ProviderLinkedIn, social.PhaseAuth, err)
	}
	if info.Sub == "" {
		return nil, social.NewPublishError(social.KindAuthFailed, social.ProviderLinkedIn, "linkedin returned no member id")
	}

	now := a.now()
	requested := a.scopes(social.AuthOptionsFromState(params.State)...)
	granted := token.scopes()
	if len(granted) == 0 {
		granted = requested
	}

	conn := &social.Connection{
		Provider:          social.ProviderLinkedIn,
		AccessToken:       token.AccessToken,
		RefreshToken:      token.RefreshToken,
		ProviderAccountID: info.Sub,
		AccountType:       social.AccountTypePerson,
		DisplayName:       info.displayName(),
		AvatarURL:         info.Picture,
		ExpiresAt:         token.expiresAt(now),
		ScopeGrant:        social.ScopeGrant{Requested: requested, Granted: granted},
	}
	conn.SetMetadata(MetadataPersonURN, personURN(info.Sub))
	if target := params.Option(social.OptionTarget); target != "" {
		conn.SetMetadata(MetadataOrganizationID, target)
	}

	return &social.Grant{
		Provider:    social.ProviderLinkedIn,
		Connections: []*social.Connection{conn},
	}, nil
}

// RefreshIfNeeded implements social.Adapter. Without a refresh token the
// connection is returned unchanged and expires normally.
func (a *Adapter) RefreshIfNeeded(ctx context.Context, conn *social.Connection) (*social.Connection, error) {
	now := a.now()
	if conn == nil || conn.RefreshToken == "" || !conn.ExpiresWithin(a.config.RefreshWindow, now) {
		return conn, nil
	}

	token, err := a.exchange(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {conn.RefreshToken},
	})
	if err != nil {
		return nil, social.ClassifyProviderError(social.ProviderLinkedIn, social.PhaseRefresh, err)
	}

	out := conn.Clone()
	out.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		out.RefreshToken = token.RefreshToken
	}
	out.ExpiresAt = token.expiresAt(now)
	out.UpdatedAt = now
	return out, nil
}

// Profile implements social.Adapter.
func (a *Adapter) Profile(ctx context.Context, conn *social.Connection) (*social.Profile, error) {
	info, err := a.userInfo(ctx, conn.AccessToken)
	if err != nil {
		return nil, social.ClassifyProviderError(social.ProviderLinkedIn, social.PhaseProfile, err)
	}
	return mapProfile(info), nil
}

type tokenResponse struct {
	AccessToken           string `json:"access_token"`
	ExpiresIn             int64  `json:"expires_in"`
	RefreshToken          string `json:"refresh_token"`
	RefreshTokenExpiresIn int64  `json:"refresh_token_expires_in"`
	Scope                 string `json:"scope"`
	Error                 string `json:"error"`
	ErrorDescription      string `json:"error_description"`
}

func (t *tokenResponse) expiresAt(now time.Time) *time.Time {
	if t.ExpiresIn <= 0 {
		return nil
	}
	at := now.Add(time.Duration(t.ExpiresIn) * time.Second).UTC()
	return &at
}

func (t *tokenResponse) scopes() []string {
	if t.Scope == "" {
		return nil
	}
	return strings.FieldsFunc(t.Scope, func(r rune) bool { return r == ',' || r == ' ' })
}

func (a *Adapter) exchange(ctx context.Context, form url.Values) (*tokenResponse, error) {
	form.Set("client_id", a.config.ClientID)
	form.Set("client_secret", a.config.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	operation := "exchange"
	if form.Get("grant_type") == "refresh_token" {
		operation = "refresh"
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, providerError(operation, 0, "", "", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, providerError(operation, resp.StatusCode, "", "failed to read response", err)
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, providerError(operation, resp.StatusCode, "invalid_response", "failed to decode token response", err)
	}
	if resp.StatusCode != http.StatusOK || token.Error != "" {
		return nil, providerError(operation, resp.StatusCode, token.Error, token.ErrorDescription, nil)
	}
	if token.AccessToken == "" {
		return nil, providerError(operation, resp.StatusCode, "missing_access_token", "missing access token", nil)
	}
	return &token, nil
}

func (a *Adapter) userInfo(ctx context.Context, accessToken string) (*userInfo, error) {
	var info userInfo
	if _, err := a.call(ctx, "userinfo", http.MethodGet, "/v2/userinfo", accessToken, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// call sends a JSON request to the REST API and returns the response
// headers for callers that need X-RestLi-Id.
func (a *Adapter) call(ctx context.Context, operation, method, path, accessToken string, payload, out any) (http.Header, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = strings.NewReader(string(raw))
	}

	req, err := http.NewRequestWithContext(ctx, method, a.config.APIURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("X-Restli-Protocol-Version", restliProtocolVersion)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, providerError(operation, 0, "", "", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, providerError(operation, resp.StatusCode, "", "failed to read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeError(operation, resp.StatusCode, raw)
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, providerError(operation, resp.StatusCode, "invalid_response", "failed to decode response", err)
		}
	}
	return resp.Header, nil
}

func personURN(id string) string {
	return "urn:li:person:" + id
}

func organizationURN(id string) string {
	return "urn:li:organization:" + id
}
