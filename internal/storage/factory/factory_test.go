package factory

import (
	"context"
	"path/filepath"
	"testing"

	"relgit/internal/config"
	"relgit/internal/hashing"
	"relgit/internal/storage/badgerstore"
	"relgit/internal/storage/sqlstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("BadgerInMemory", func(t *testing.T) {
		b, err := Open(ctx, config.Database{Driver: "badger", InMemory: true})
		require.NoError(t, err)
		defer b.Close()
		assert.IsType(t, &badgerstore.Store{}, b)
	})

	t.Run("SQLiteOnDisk", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "relgit.db")
		b, err := Open(ctx, config.Database{Driver: "sqlite", Path: path})
		require.NoError(t, err)
		defer b.Close()
		assert.IsType(t, &sqlstore.Store{}, b)
		assert.FileExists(t, path)
	})

	t.Run("UnknownDriver", func(t *testing.T) {
		_, err := Open(ctx, config.Database{Driver: "postgres"})
		assert.Error(t, err)
	})
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{
		Database: config.Database{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "relgit.db")},
		Hash:     "gogit",
	}
	store, backend, err := OpenStore(ctx, cfg, nil, nil)
	require.NoError(t, err)
	defer backend.Close()
	assert.Equal(t, hashing.GoGit{}.Name(), store.Hasher().Name())

	b, err := store.InitRepo(ctx, "acme", "notes", "main")
	require.NoError(t, err)
	_, err = b.Upsert(ctx, "a.txt", []byte("a"))
	require.NoError(t, err)

	t.Run("UnknownHash", func(t *testing.T) {
		_, _, err := OpenStore(ctx, &config.Config{Hash: "md5"}, nil, nil)
		assert.Error(t, err)
	})
}
