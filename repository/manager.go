package repository

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/uptrace/bun"
)

// Manager groups the social repositories over one database.
type Manager struct {
	db          *bun.DB
	connections *ConnectionRepository
	states      *StateRepository
}

// Option configures the manager.
type Option func(*managerConfig)

type managerConfig struct {
	sealer Sealer
}

// WithSealer seals token columns with s.
func WithSealer(s Sealer) Option {
	return func(c *managerConfig) {
		c.sealer = s
	}
}

// NewRepositoryManager creates the connection and state repositories.
func NewRepositoryManager(db *bun.DB, opts ...Option) *Manager {
	cfg := managerConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &Manager{
		db:          db,
		connections: NewConnectionRepository(db, cfg.sealer),
		states:      NewStateRepository(db, cfg.sealer),
	}
}

func (m *Manager) Validate() error {
	if m.db == nil {
		return errors.New("repository db should be initialized")
	}

	if m.connections == nil {
		return errors.New("repository connections should be initialized")
	}

	if m.states == nil {
		return errors.New("repository states should be initialized")
	}

	return nil
}

func (m *Manager) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

// Migrate applies the embedded migrations.
func (m *Manager) Migrate(ctx context.Context) ([]string, error) {
	return Migrate(ctx, m.db)
}

func (m *Manager) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

// Connections returns the social.CredentialStore implementation.
func (m *Manager) Connections() *ConnectionRepository {
	return m.connections
}

// States returns the social.StateStore implementation.
func (m *Manager) States() *StateRepository {
	return m.states
}
