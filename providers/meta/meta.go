// Package meta is the Graph API client shared by the Facebook and Instagram
// adapters. Both providers run the same Facebook Login dialog and hold the
// same long-lived user token; they differ in which account they post as.
package meta

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	social "github.com/goliatone/go-social"
)

const (
	DefaultVersion = "v19.0"

	defaultDialogURL = "https://www.facebook.com/" + DefaultVersion + "/dialog/oauth"
	defaultGraphURL  = "https://graph.facebook.com/" + DefaultVersion
	defaultVideoURL  = "https://graph-video.facebook.com/" + DefaultVersion
)

// Metadata keys stored on facebook and instagram connections.
const (
	MetadataPageToken = "page_access_token"
	MetadataPageID    = "page_id"
	MetadataPageName  = "page_name"
)

// Config holds the Facebook app configuration.
type Config struct {
	AppID       string
	AppSecret   string
	CallbackURL string

	DialogURL string
	GraphURL  string
	VideoURL  string

	HTTPClient *http.Client
}

// Client talks to the Graph API on behalf of one provider.
type Client struct {
	provider   social.Provider
	config     Config
	httpClient *http.Client
}

// New creates a Graph client. provider labels errors and metrics.
func New(provider social.Provider, cfg Config) *Client {
	if cfg.DialogURL == "" {
		cfg.DialogURL = defaultDialogURL
	}
	if cfg.GraphURL == "" {
		cfg.GraphURL = defaultGraphURL
	}
	if cfg.VideoURL == "" {
		cfg.VideoURL = defaultVideoURL
	}
	cfg.GraphURL = strings.TrimRight(cfg.GraphURL, "/")
	cfg.VideoURL = strings.TrimRight(cfg.VideoURL, "/")

	client := cfg.HTTPClient
	if client == nil {
		client = social.NewHTTPClient(provider)
	}

	return &Client{
		provider:   provider,
		config:     cfg,
		httpClient: client,
	}
}

// HTTPClient returns the client used for Graph calls.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Configured reports whether app credentials are present.
func (c *Client) Configured() bool {
	return c.config.AppID != "" && c.config.AppSecret != ""
}

// AuthURL builds the Facebook Login dialog URL.
func (c *Client) AuthURL(state string, scopes []string, prompt string) string {
	params := url.Values{
		"client_id":     {c.config.AppID},
		"redirect_uri":  {c.config.CallbackURL},
		"state":         {state},
		"scope":         {strings.Join(scopes, ",")},
		"response_type": {"code"},
	}
	if prompt != "" {
		params.Set("auth_type", prompt)
	}
	return c.config.DialogURL + "?" + params.Encode()
}

// Token is a Graph access token.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// ExpiresAt converts ExpiresIn into an absolute time. Zero means the token
// carries no expiry.
func (t *Token) ExpiresAt(now time.Time) *time.Time {
	if t == nil || t.ExpiresIn <= 0 {
		return nil
	}
	at := now.Add(time.Duration(t.ExpiresIn) * time.Second).UTC()
	return &at
}

// ExchangeCode trades the dialog code for a short-lived user token.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*Token, error) {
	if code == "" {
		return nil, providerError(c.provider, "exchange", 0, "missing_code", "authorization code is required", nil)
	}
	params := url.Values{
		"client_id":     {c.config.AppID},
		"client_secret": {c.config.AppSecret},
		"redirect_uri":  {c.config.CallbackURL},
		"code":          {code},
	}

	var token Token
	if err := c.Get(ctx, "exchange", "/oauth/access_token", "", params, &token); err != nil {
		return nil, err
	}
	if token.AccessToken == "" {
		return nil, providerError(c.provider, "exchange", http.StatusOK, "missing_access_token", "missing access token", nil)
	}
	return &token, nil
}

// LongLived upgrades a user token with grant_type=fb_exchange_token. It
// also renews a long-lived token that is close to expiry.
func (c *Client) LongLived(ctx context.Context, accessToken string) (*Token, error) {
	params := url.Values{
		"grant_type":        {"fb_exchange_token"},
		"client_id":         {c.config.AppID},
		"client_secret":     {c.config.AppSecret},
		"fb_exchange_token": {accessToken},
	}

	var token Token
	if err := c.Get(ctx, "long_lived_token", "/oauth/access_token", "", params, &token); err != nil {
		return nil, err
	}
	if token.AccessToken == "" {
		return nil, providerError(c.provider, "long_lived_token", http.StatusOK, "missing_access_token", "missing access token", nil)
	}
	return &token, nil
}

// Permissions returns the permissions the user actually granted.
func (c *Client) Permissions(ctx context.Context, accessToken string) ([]string, error) {
	var resp struct {
		Data []struct {
			Permission string `json:"permission"`
			Status     string `json:"status"`
		} `json:"data"`
	}
	if err := c.Get(ctx, "permissions", "/me/permissions", accessToken, nil, &resp); err != nil {
		return nil, err
	}

	granted := make([]string, 0, len(resp.Data))
	for _, p := range resp.Data {
		if p.Status == "granted" {
			granted = append(granted, p.Permission)
		}
	}
	return granted, nil
}

// Get issues a GET against the Graph API and decodes the JSON body into out.
func (c *Client) Get(ctx context.Context, operation, path, accessToken string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	if accessToken != "" {
		params.Set("access_token", accessToken)
	}

	endpoint := c.config.GraphURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, operation, out)
}

// PostForm issues a form encoded POST against the Graph API.
func (c *Client) PostForm(ctx context.Context, operation, path, accessToken string, form url.Values, out any) error {
	if form == nil {
		form = url.Values{}
	}
	if accessToken != "" {
		form.Set("access_token", accessToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.GraphURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, operation, out)
}

func (c *Client) do(req *http.Request, operation string, out any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return providerError(c.provider, operation, 0, "", "", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return providerError(c.provider, operation, resp.StatusCode, "", "failed to read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return DecodeError(c.provider, operation, resp.StatusCode, body)
	}
	if perr := DecodeError(c.provider, operation, resp.StatusCode, body); perr.Code != "" {
		return perr
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return providerError(c.provider, operation, resp.StatusCode, "invalid_response", "failed to decode graph response", err)
	}
	return nil
}

type graphError struct {
	Error *struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
		UserTitle    string `json:"error_user_title"`
		UserMessage  string `json:"error_user_msg"`
		FBTraceID    string `json:"fbtrace_id"`
	} `json:"error"`
}

// DecodeError builds a ProviderError from a Graph error body. Code 190 is
// an invalid or expired token; 4, 17, 32 and 613 are rate limits.
func DecodeError(provider social.Provider, operation string, status int, body []byte) *social.ProviderError {
	var ge graphError
	if err := json.Unmarshal(body, &ge); err != nil || ge.Error == nil {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = fmt.Sprintf("graph request failed with status %d", status)
		}
		return providerError(provider, operation, status, "", msg, nil)
	}

	e := ge.Error
	description := e.Message
	if e.UserMessage != "" {
		description = e.UserMessage
	}

	perr := providerError(provider, operation, status, fmt.Sprintf("%d", e.Code), description, nil)
	perr.Raw = map[string]any{
		"type":          e.Type,
		"code":          e.Code,
		"error_subcode": e.ErrorSubcode,
		"fbtrace_id":    e.FBTraceID,
	}

	switch e.Code {
	case 190, 102:
		perr.TokenInvalid = true
	case 4, 17, 32, 613:
		perr.RateLimited = true
	}
	return perr
}

func providerError(provider social.Provider, operation string, status int, code, description string, err error) *social.ProviderError {
	return &social.ProviderError{
		Provider:    string(provider),
		Operation:   operation,
		Status:      status,
		Code:        code,
		Description: description,
		Err:         err,
	}
}
