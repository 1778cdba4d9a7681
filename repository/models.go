package repository

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ConnectionModel is the Bun model for social connections.
type ConnectionModel struct {
	bun.BaseModel `bun:"table:social_connections,alias:sc"`

	ID                uuid.UUID           `bun:"id,pk,type:uuid"`
	UserID            string              `bun:"user_id,notnull"`
	Provider          string              `bun:"provider,notnull"`
	AccessToken       string              `bun:"access_token"`
	AccessTokenSecret string              `bun:"access_token_secret"`
	RefreshToken      string              `bun:"refresh_token"`
	ProviderAccountID string              `bun:"provider_account_id"`
	AccountType       string              `bun:"account_type"`
	DisplayName       string              `bun:"display_name"`
	Username          string              `bun:"username"`
	AvatarURL         string              `bun:"avatar_url"`
	ExpiresAt         *time.Time          `bun:"expires_at"`
	Scopes            map[string][]string `bun:"scopes"`
	Metadata          map[string]any      `bun:"metadata"`
	CreatedAt         time.Time           `bun:"created_at,notnull"`
	UpdatedAt         time.Time           `bun:"updated_at,notnull"`
}

// StateModel is the Bun model for pending OAuth states.
type StateModel struct {
	bun.BaseModel `bun:"table:oauth_states,alias:os"`

	State     string            `bun:"state,pk"`
	UserID    string            `bun:"user_id,notnull"`
	Provider  string            `bun:"provider,notnull"`
	Nonce     string            `bun:"nonce"`
	Secret    string            `bun:"secret"`
	Options   map[string]string `bun:"options"`
	CreatedAt time.Time         `bun:"created_at,notnull"`
	ExpiresAt time.Time         `bun:"expires_at,notnull"`
}

const (
	scopesRequested = "requested"
	scopesGranted   = "granted"
)
