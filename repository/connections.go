package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	social "github.com/goliatone/go-social"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ConnectionRepository implements social.CredentialStore using Bun.
type ConnectionRepository struct {
	db     bun.IDB
	sealer Sealer
	now    social.Clock
}

var (
	_ social.CredentialStore = (*ConnectionRepository)(nil)
	_ social.BatchStore      = (*ConnectionRepository)(nil)
)

// NewConnectionRepository creates a new repository. A nil sealer stores
// tokens as given.
func NewConnectionRepository(db bun.IDB, sealer Sealer) *ConnectionRepository {
	if sealer == nil {
		sealer = PlainSealer{}
	}
	return &ConnectionRepository{db: db, sealer: sealer, now: time.Now}
}

// WithTx returns a repository bound to tx.
func (r *ConnectionRepository) WithTx(tx bun.IDB) *ConnectionRepository {
	return &ConnectionRepository{db: tx, sealer: r.sealer, now: r.now}
}

// Save implements social.CredentialStore. The (user_id, provider) pair is
// the conflict key; the stored row keeps its id and created_at.
func (r *ConnectionRepository) Save(ctx context.Context, conn *social.Connection) error {
	model, err := r.fromConnection(conn)
	if err != nil {
		return err
	}

	_, err = r.db.NewInsert().
		Model(model).
		On("CONFLICT (user_id, provider) DO UPDATE").
		Set("access_token = EXCLUDED.access_token").
		Set("access_token_secret = EXCLUDED.access_token_secret").
		Set("refresh_token = EXCLUDED.refresh_token").
		Set("provider_account_id = EXCLUDED.provider_account_id").
		Set("account_type = EXCLUDED.account_type").
		Set("display_name = EXCLUDED.display_name").
		Set("username = EXCLUDED.username").
		Set("avatar_url = EXCLUDED.avatar_url").
		Set("expires_at = EXCLUDED.expires_at").
		Set("scopes = EXCLUDED.scopes").
		Set("metadata = EXCLUDED.metadata").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return err
	}

	var stored ConnectionModel
	err = r.db.NewSelect().
		Model(&stored).
		Column("id", "created_at").
		Where("user_id = ? AND provider = ?", model.UserID, model.Provider).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return err
	}

	conn.ID = stored.ID.String()
	conn.CreatedAt = stored.CreatedAt
	conn.UpdatedAt = model.UpdatedAt
	return nil
}

// SaveAll implements social.BatchStore.
func (r *ConnectionRepository) SaveAll(ctx context.Context, conns []*social.Connection) error {
	db, ok := r.db.(*bun.DB)
	if !ok {
		for _, conn := range conns {
			if err := r.Save(ctx, conn); err != nil {
				return err
			}
		}
		return nil
	}

	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		repo := r.WithTx(tx)
		for _, conn := range conns {
			if err := repo.Save(ctx, conn); err != nil {
				return err
			}
		}
		return nil
	})
}

// Load implements social.CredentialStore.
func (r *ConnectionRepository) Load(ctx context.Context, userID string, provider social.Provider) (*social.Connection, error) {
	var model ConnectionModel
	err := r.db.NewSelect().
		Model(&model).
		Where("user_id = ? AND provider = ?", userID, string(provider)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return nil, social.ErrConnectionNotFound.Clone().WithMetadata(map[string]any{
				"user_id":  userID,
				"provider": string(provider),
			})
		}
		return nil, err
	}
	return r.toConnection(&model)
}

// Delete implements social.CredentialStore. Deleting a missing pair is
// not an error.
func (r *ConnectionRepository) Delete(ctx context.Context, userID string, provider social.Provider) error {
	_, err := r.db.NewDelete().
		Model((*ConnectionModel)(nil)).
		Where("user_id = ? AND provider = ?", userID, string(provider)).
		Exec(ctx)
	return err
}

// List implements social.CredentialStore.
func (r *ConnectionRepository) List(ctx context.Context, userID string) ([]*social.Connection, error) {
	var models []ConnectionModel
	err := r.db.NewSelect().
		Model(&models).
		Where("user_id = ?", userID).
		Order("provider ASC").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []*social.Connection{}, nil
		}
		return nil, err
	}

	conns := make([]*social.Connection, 0, len(models))
	for i := range models {
		conn, err := r.toConnection(&models[i])
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, nil
}

func (r *ConnectionRepository) toConnection(m *ConnectionModel) (*social.Connection, error) {
	conn := &social.Connection{
		ID:                m.ID.String(),
		UserID:            m.UserID,
		Provider:          social.Provider(m.Provider),
		AccessToken:       m.AccessToken,
		AccessTokenSecret: m.AccessTokenSecret,
		RefreshToken:      m.RefreshToken,
		ProviderAccountID: m.ProviderAccountID,
		AccountType:       m.AccountType,
		DisplayName:       m.DisplayName,
		Username:          m.Username,
		AvatarURL:         m.AvatarURL,
		ScopeGrant: social.ScopeGrant{
			Requested: m.Scopes[scopesRequested],
			Granted:   m.Scopes[scopesGranted],
		},
		Metadata:  m.Metadata,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if m.ExpiresAt != nil {
		at := m.ExpiresAt.UTC()
		conn.ExpiresAt = &at
	}

	if err := openAll(r.sealer, &conn.AccessToken, &conn.AccessTokenSecret, &conn.RefreshToken); err != nil {
		return nil, err
	}
	return conn, nil
}

func (r *ConnectionRepository) fromConnection(c *social.Connection) (*ConnectionModel, error) {
	if c == nil {
		return nil, errors.New("connection is required")
	}
	if c.UserID == "" || c.Provider == "" {
		return nil, errors.New("connection user id and provider are required")
	}

	var id uuid.UUID
	if c.ID != "" {
		if parsed, err := uuid.Parse(c.ID); err == nil {
			id = parsed
		}
	}
	if id == uuid.Nil {
		id = uuid.New()
	}

	now := r.now().UTC()
	model := &ConnectionModel{
		ID:                id,
		UserID:            c.UserID,
		Provider:          string(c.Provider),
		AccessToken:       c.AccessToken,
		AccessTokenSecret: c.AccessTokenSecret,
		RefreshToken:      c.RefreshToken,
		ProviderAccountID: c.ProviderAccountID,
		AccountType:       c.AccountType,
		DisplayName:       c.DisplayName,
		Username:          c.Username,
		AvatarURL:         c.AvatarURL,
		Scopes: map[string][]string{
			scopesRequested: c.ScopeGrant.Requested,
			scopesGranted:   c.ScopeGrant.Granted,
		},
		Metadata:  c.Metadata,
		CreatedAt: c.CreatedAt.UTC(),
		UpdatedAt: now,
	}
	if model.Metadata == nil {
		model.Metadata = map[string]any{}
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = now
	}
	if c.ExpiresAt != nil {
		at := c.ExpiresAt.UTC()
		model.ExpiresAt = &at
	}

	if err := sealAll(r.sealer, &model.AccessToken, &model.AccessTokenSecret, &model.RefreshToken); err != nil {
		return nil, err
	}
	return model, nil
}
