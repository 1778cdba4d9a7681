package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	social "github.com/goliatone/go-social"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// StateRepository implements social.StateStore on the oauth_states table.
// Take deletes and returns the row in one statement so two callbacks can
// never both consume a state.
type StateRepository struct {
	db     bun.IDB
	sealer Sealer
}

var _ social.StateStore = (*StateRepository)(nil)

// NewStateRepository creates a new repository.
func NewStateRepository(db bun.IDB, sealer Sealer) *StateRepository {
	if sealer == nil {
		sealer = PlainSealer{}
	}
	return &StateRepository{db: db, sealer: sealer}
}

// Put implements social.StateStore.
func (r *StateRepository) Put(ctx context.Context, state *social.OAuthState) error {
	if state == nil || state.State == "" {
		return errors.New("oauth state token is required")
	}

	secret, err := r.sealer.Seal(state.Secret)
	if err != nil {
		return err
	}

	options := state.Options
	if options == nil {
		options = map[string]string{}
	}

	model := &StateModel{
		State:     state.State,
		UserID:    state.UserID,
		Provider:  string(state.Provider),
		Nonce:     state.Nonce,
		Secret:    secret,
		Options:   options,
		CreatedAt: state.CreatedAt.UTC(),
		ExpiresAt: state.ExpiresAt.UTC(),
	}

	_, err = r.db.NewInsert().Model(model).Exec(ctx)
	return err
}

// Take implements social.StateStore.
func (r *StateRepository) Take(ctx context.Context, token string, now time.Time) (*social.OAuthState, error) {
	var model StateModel
	err := r.db.NewDelete().
		Model(&model).
		Where("state = ?", token).
		Where("expires_at > ?", now.UTC()).
		Returning("*").
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return nil, social.ErrStateNotFound
		}
		return nil, err
	}
	if model.State == "" {
		return nil, social.ErrStateNotFound
	}

	secret, err := r.sealer.Open(model.Secret)
	if err != nil {
		return nil, err
	}

	return &social.OAuthState{
		State:     model.State,
		UserID:    model.UserID,
		Provider:  social.Provider(model.Provider),
		Nonce:     model.Nonce,
		Secret:    secret,
		Options:   model.Options,
		CreatedAt: model.CreatedAt,
		ExpiresAt: model.ExpiresAt,
	}, nil
}

// Purge implements social.StateStore.
func (r *StateRepository) Purge(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.NewDelete().
		Model((*StateModel)(nil)).
		Where("expires_at <= ?", now.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
