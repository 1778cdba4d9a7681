package social

import (
	"slices"
	"strings"
	"time"
)

// Provider identifies one external social platform.
type Provider string

const (
	ProviderTwitter   Provider = "twitter"
	ProviderFacebook  Provider = "facebook"
	ProviderInstagram Provider = "instagram"
	ProviderLinkedIn  Provider = "linkedin"
)

// Providers lists every supported provider in display order.
func Providers() []Provider {
	return []Provider{ProviderTwitter, ProviderFacebook, ProviderInstagram, ProviderLinkedIn}
}

func (p Provider) String() string {
	return string(p)
}

// ParseProvider normalizes a provider name, rejecting unknown values.
func ParseProvider(name string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(name)))
	if slices.Contains(Providers(), p) {
		return p, nil
	}
	return "", NewPublishError(KindValidation, p, "unsupported provider: "+name)
}

// Account types stored on a Connection.
const (
	AccountTypeUser     = "user"
	AccountTypePage     = "page"
	AccountTypeBusiness = "business"
	AccountTypePerson   = "person"
)

// ScopeGrant records which permissions were requested and which the
// provider actually granted.
type ScopeGrant struct {
	Requested []string `json:"requested,omitempty"`
	Granted   []string `json:"granted,omitempty"`
}

// Missing returns requested scopes that were not granted.
func (g ScopeGrant) Missing() []string {
	var out []string
	for _, scope := range g.Requested {
		if !slices.Contains(g.Granted, scope) {
			out = append(out, scope)
		}
	}
	return out
}

// Has reports whether scope was granted.
func (g ScopeGrant) Has(scope string) bool {
	return slices.Contains(g.Granted, scope)
}

// Connection is the persisted credential and account identity for one
// (user, provider) pair.
type Connection struct {
	ID                string         `json:"id"`
	UserID            string         `json:"user_id"`
	Provider          Provider       `json:"provider"`
	AccessToken       string         `json:"-"`
	AccessTokenSecret string         `json:"-"`
	RefreshToken      string         `json:"-"`
	ProviderAccountID string         `json:"provider_account_id"`
	AccountType       string         `json:"account_type,omitempty"`
	DisplayName       string         `json:"display_name,omitempty"`
	Username          string         `json:"username,omitempty"`
	AvatarURL         string         `json:"avatar_url,omitempty"`
	ExpiresAt         *time.Time     `json:"expires_at,omitempty"`
	ScopeGrant        ScopeGrant     `json:"scope_grant"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// IsExpired reports whether the connection carries an expiry in the past.
func (c *Connection) IsExpired(now time.Time) bool {
	return IsExpired(c, now)
}

// ExpiresWithin reports whether the connection expires inside window.
// Connections without expiry never do.
func (c *Connection) ExpiresWithin(window time.Duration, now time.Time) bool {
	if c == nil || c.ExpiresAt == nil {
		return false
	}
	return !now.Add(window).Before(*c.ExpiresAt)
}

// MetadataString reads a string metadata value.
func (c *Connection) MetadataString(key string) string {
	if c == nil || c.Metadata == nil {
		return ""
	}
	v, _ := c.Metadata[key].(string)
	return v
}

// SetMetadata stores a metadata value, allocating the map as needed.
func (c *Connection) SetMetadata(key string, value any) {
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	c.Metadata[key] = value
}

// Clone returns a deep enough copy that callers can mutate safely.
func (c *Connection) Clone() *Connection {
	if c == nil {
		return nil
	}
	out := *c
	if c.ExpiresAt != nil {
		t := *c.ExpiresAt
		out.ExpiresAt = &t
	}
	out.ScopeGrant = ScopeGrant{
		Requested: slices.Clone(c.ScopeGrant.Requested),
		Granted:   slices.Clone(c.ScopeGrant.Granted),
	}
	if c.Metadata != nil {
		out.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// IsExpired is true when conn has a non nil expiry that lies before now.
func IsExpired(conn *Connection, now time.Time) bool {
	if conn == nil || conn.ExpiresAt == nil {
		return false
	}
	return now.After(*conn.ExpiresAt)
}

// Profile is the live display information of a connected account.
type Profile struct {
	ProviderAccountID string `json:"provider_account_id"`
	DisplayName       string `json:"display_name,omitempty"`
	Username          string `json:"username,omitempty"`
	AvatarURL         string `json:"avatar_url,omitempty"`
	ProfileURL        string `json:"profile_url,omitempty"`
}

// Logger is the logging contract used across the package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return noopLogger{}
	}
	return l
}

// Clock returns the current time. Tests swap it.
type Clock func() time.Time

func normalizeClock(c Clock) Clock {
	if c == nil {
		return time.Now
	}
	return c
}

// NormalizeLogger returns l, or a logger that drops everything when l is nil.
func NormalizeLogger(l Logger) Logger {
	return normalizeLogger(l)
}

// NormalizeClock returns c, or time.Now when c is nil.
func NormalizeClock(c Clock) Clock {
	return normalizeClock(c)
}
