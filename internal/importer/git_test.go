package importer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"relgit/internal/repo"
	"relgit/internal/storage/badgerstore"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupGitRepo creates a work tree with two commits and returns its path
// and the hash of the second commit.
func setupGitRepo(t *testing.T) (string, plumbing.Hash, plumbing.Hash) {
	t.Helper()
	dir := t.TempDir()
	r, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := r.Worktree()
	require.NoError(t, err)

	sig := &object.Signature{Name: "Test", Email: "test@example.com", When: time.Unix(1700000000, 0)}
	write := func(name, content string) {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
		_, err := wt.Add(name)
		require.NoError(t, err)
	}

	write("a.txt", "alpha\n")
	first, err := wt.Commit("first", &git.CommitOptions{Author: sig})
	require.NoError(t, err)

	write("dir/b.txt", "bravo\n")
	write("z.txt", "zulu\n")
	second, err := wt.Commit("second", &git.CommitOptions{Author: sig})
	require.NoError(t, err)

	return dir, first, second
}

func TestGitSourceListing(t *testing.T) {
	ctx := context.Background()
	dir, first, second := setupGitRepo(t)

	src, err := OpenGit(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, src.Location())

	listing, err := src.Listing(ctx, "HEAD")
	require.NoError(t, err)
	assert.Equal(t, second.String(), listing.CommitOID)
	assert.Equal(t, []string{first.String()}, listing.Parents)
	assert.Equal(t, "second", strings.TrimSpace(listing.Message))

	var paths []string
	types := map[string]string{}
	for _, e := range listing.Entries {
		paths = append(paths, e.Path)
		types[e.Path] = e.Type
	}
	assert.Equal(t, []string{"a.txt", "dir", "dir/b.txt", "z.txt"}, paths)
	assert.Equal(t, "tree", types["dir"])
	assert.Equal(t, "blob", types["dir/b.txt"])

	for _, e := range listing.Entries {
		if e.Path == "z.txt" {
			assert.Equal(t, "100644", e.Mode)
			content, err := src.Blob(ctx, e.OID)
			require.NoError(t, err)
			assert.Equal(t, "zulu\n", string(content))
		}
	}

	old, err := src.Listing(ctx, first.String())
	require.NoError(t, err)
	assert.Len(t, old.Entries, 1)
	assert.Empty(t, old.Parents)

	_, err = src.Listing(ctx, "no-such-branch")
	assert.Error(t, err)
}

func TestImportFromGit(t *testing.T) {
	ctx := context.Background()
	dir, _, second := setupGitRepo(t)

	backend, err := badgerstore.Open("", true)
	require.NoError(t, err)
	defer backend.Close()
	store, err := repo.NewStore(backend, repo.Options{})
	require.NoError(t, err)

	src, err := OpenGit(dir)
	require.NoError(t, err)
	b, err := store.Import(ctx, "acme", "site", "main", src, "HEAD")
	require.NoError(t, err)
	assert.Equal(t, second.String(), b.CommitOID)

	gitRepo, err := git.PlainOpen(dir)
	require.NoError(t, err)
	gitCommit, err := gitRepo.CommitObject(second)
	require.NoError(t, err)

	c, err := b.CurrentCommit(ctx)
	require.NoError(t, err)
	assert.Equal(t, gitCommit.TreeHash.String(), c.TreeOID(), "trees hash like git")

	blob, err := b.Find(ctx, "dir/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "bravo\n", string(blob.Content))
}
