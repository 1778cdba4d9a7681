package social

import (
	"context"
	"errors"

	goerrors "github.com/goliatone/go-errors"
)

// ErrConnectionNotFound is returned by a CredentialStore when no
// connection exists for the (user, provider) pair.
var ErrConnectionNotFound = goerrors.New("social connection not found", goerrors.CategoryNotFound).
	WithTextCode("CONNECTION_NOT_FOUND").
	WithCode(goerrors.CodeNotFound)

// CredentialStore persists one Connection per (user, provider).
type CredentialStore interface {
	// Save upserts the connection; a second save for the same pair
	// replaces the first.
	Save(ctx context.Context, conn *Connection) error
	// Load returns ErrConnectionNotFound when nothing is stored.
	Load(ctx context.Context, userID string, provider Provider) (*Connection, error)
	// Delete is idempotent.
	Delete(ctx context.Context, userID string, provider Provider) error
	// List returns every connection the user has.
	List(ctx context.Context, userID string) ([]*Connection, error)
}

// BatchStore is implemented by stores that can save every connection of
// one grant in a single transaction.
type BatchStore interface {
	SaveAll(ctx context.Context, conns []*Connection) error
}

// IsConnectionNotFound reports whether err means the pair is not stored.
func IsConnectionNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnectionNotFound) {
		return true
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		if rich.TextCode == ErrConnectionNotFound.TextCode {
			return true
		}
	}
	return goerrors.IsNotFound(err)
}
