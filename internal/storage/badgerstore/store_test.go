package badgerstore

import (
	"testing"

	"relgit/internal/storage/storagetest"

	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	s, err := Open("", true)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore(t *testing.T) {
	storagetest.Run(t, setupTestStore(t))
}

func TestIndexKeyOrdering(t *testing.T) {
	// "docs" rows must sort before "docs/api" rows.
	a := string(indexKey("o", "r", "main", "docs/z.md"))
	b := string(indexKey("o", "r", "main", "docs/api/a.md"))
	require.Less(t, a, b)
}
