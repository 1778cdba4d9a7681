package repository

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "github.com/mattn/go-sqlite3"
)

func setupDB(t *testing.T) *bun.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	bunDB := bun.NewDB(db, sqlitedialect.New())
	t.Cleanup(func() {
		_ = bunDB.Close()
	})

	applied, err := Migrate(context.Background(), bunDB)
	require.NoError(t, err)
	require.Len(t, applied, 2)

	return bunDB
}

func testSealer(t *testing.T) Sealer {
	t.Helper()
	s, err := NewSealerFromHex("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	require.NoError(t, err)
	return s
}
