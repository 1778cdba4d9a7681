package social

import (
	"context"
)

// Adapter encapsulates one provider's OAuth handshake and publish protocol.
type Adapter interface {
	// Name returns the provider handled by the adapter.
	Name() Provider

	// AuthURL builds the consent URL. Most providers only build a URL;
	// OAuth 1.0a providers need a request token round trip first.
	AuthURL(ctx context.Context, state string, opts ...AuthOption) (*AuthRedirect, error)

	// CompleteAuth exchanges the callback grant for tokens and resolves the
	// account that is allowed to post.
	CompleteAuth(ctx context.Context, params CallbackParams) (*Grant, error)

	// Publish runs the provider's publish protocol.
	Publish(ctx context.Context, conn *Connection, req *PublishRequest) (*PublishResult, error)

	// RefreshIfNeeded renews credentials close to expiry. Providers without
	// refresh support return conn unchanged.
	RefreshIfNeeded(ctx context.Context, conn *Connection) (*Connection, error)

	// Profile fetches the live display fields of the connected account.
	Profile(ctx context.Context, conn *Connection) (*Profile, error)
}

// AuthRedirect contains the authorization URL for redirecting users.
type AuthRedirect struct {
	URL      string   `json:"auth_url"`
	State    string   `json:"state"`
	Provider Provider `json:"provider"`
	// Secret carries per-flow material the callback needs, e.g. the
	// OAuth 1.0a request token secret. It is stored with the state and
	// never sent to the browser.
	Secret string `json:"-"`
	// Scopes lists the scopes requested by this redirect.
	Scopes []string `json:"scopes,omitempty"`
}

// CallbackParams is what the provider hands back on the callback.
type CallbackParams struct {
	Code         string
	Verifier     string
	RequestToken string
	State        *OAuthState
}

// Option returns a named auth option recorded on the state.
func (p CallbackParams) Option(key string) string {
	if p.State == nil || p.State.Options == nil {
		return ""
	}
	return p.State.Options[key]
}

// Grant is the result of one OAuth handshake. One grant can populate
// zero, one or two connections (Facebook login can also yield Instagram).
type Grant struct {
	Provider    Provider
	Connections []*Connection
}

// For returns the grant's connection for provider.
func (g *Grant) For(provider Provider) *Connection {
	if g == nil {
		return nil
	}
	for _, c := range g.Connections {
		if c != nil && c.Provider == provider {
			return c
		}
	}
	return nil
}

// AuthOption configures the authorization URL.
type AuthOption func(*authConfig)

type authConfig struct {
	scopes    []string
	prompt    string
	instagram bool
	target    string
}

// WithScopes sets additional scopes for the auth request.
func WithScopes(scopes ...string) AuthOption {
	return func(c *authConfig) {
		c.scopes = append(c.scopes, scopes...)
	}
}

// WithPrompt sets the provider prompt/auth_type parameter.
func WithPrompt(prompt string) AuthOption {
	return func(c *authConfig) {
		c.prompt = prompt
	}
}

// WithInstagram asks a Facebook login for the Instagram business scopes so
// the same grant can populate an Instagram connection.
func WithInstagram() AuthOption {
	return func(c *authConfig) {
		c.instagram = true
	}
}

// WithTarget requests permissions to post as an organization or page.
func WithTarget(target string) AuthOption {
	return func(c *authConfig) {
		c.target = target
	}
}

// AuthConfig represents applied auth options in a provider friendly form.
type AuthConfig struct {
	Scopes    []string
	Prompt    string
	Instagram bool
	Target    string
}

// Options renders the config as state options so the callback can see what
// was requested.
func (c AuthConfig) Options() map[string]string {
	out := map[string]string{}
	if c.Instagram {
		out[OptionInstagram] = "true"
	}
	if c.Target != "" {
		out[OptionTarget] = c.Target
	}
	return out
}

// State option keys.
const (
	OptionInstagram = "instagram"
	OptionTarget    = "target"
)

// ApplyAuthOptions applies AuthOption values on top of the default scopes.
func ApplyAuthOptions(scopes []string, opts ...AuthOption) AuthConfig {
	cfg := authConfig{scopes: append([]string(nil), scopes...)}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return AuthConfig{
		Scopes:    dedupe(cfg.scopes),
		Prompt:    cfg.prompt,
		Instagram: cfg.instagram,
		Target:    cfg.target,
	}
}

// AuthOptionsFromState rebuilds options recorded on a state.
func AuthOptionsFromState(state *OAuthState) []AuthOption {
	if state == nil {
		return nil
	}
	var opts []AuthOption
	if state.Options[OptionInstagram] == "true" {
		opts = append(opts, WithInstagram())
	}
	if t := state.Options[OptionTarget]; t != "" {
		opts = append(opts, WithTarget(t))
	}
	return opts
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return in
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
