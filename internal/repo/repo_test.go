package repo

import (
	"context"
	"sort"
	"testing"

	verr "relgit/internal/errors"
	"relgit/internal/hashing"
	"relgit/internal/merge"
	"relgit/internal/storage/badgerstore"
	"relgit/internal/tree"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	backend, err := badgerstore.Open("", true)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	s, err := NewStore(backend, Options{CacheSize: 16})
	require.NoError(t, err)
	return s
}

func setupMain(t *testing.T) (*Store, *Branch) {
	t.Helper()
	s := setupTestStore(t)
	b, err := s.InitRepo(context.Background(), "acme", "movies", "main")
	require.NoError(t, err)
	return s, b
}

// assertIndexMatchesTree checks the working index against the head tree.
func assertIndexMatchesTree(t *testing.T, b *Branch) {
	t.Helper()
	ctx := context.Background()

	c, err := b.CurrentCommit(ctx)
	require.NoError(t, err)
	want := map[string]string{}
	for _, l := range tree.Flatten(c.Tree) {
		want[l.Path] = l.OID
	}

	entries, err := b.List(ctx, ListOptions{Recursive: true})
	require.NoError(t, err)
	got := map[string]string{}
	for _, e := range entries {
		got[e.Path] = e.BlobOID
	}
	assert.Equal(t, want, got)
}

func paths(entries []IndexEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Path
	}
	return out
}

func findText(t *testing.T, b *Branch, path string) string {
	t.Helper()
	blob, err := b.Find(context.Background(), path)
	require.NoError(t, err)
	return string(blob.Content)
}

func TestInitRepo(t *testing.T) {
	ctx := context.Background()
	s, main := setupMain(t)

	c, err := main.CurrentCommit(ctx)
	require.NoError(t, err)
	assert.Equal(t, initialMessage, c.Message)
	assert.Empty(t, c.Parents)
	assert.Equal(t, 0, c.Tree.Len())

	r, err := s.GetRepo(ctx, "acme", "movies")
	require.NoError(t, err)
	assert.Equal(t, "movies", r.Name)

	_, err = s.InitRepo(ctx, "acme", "movies", "main")
	assert.ErrorIs(t, err, verr.ErrBranchExists)

	_, err = s.GetRepo(ctx, "acme", "nope")
	assert.ErrorIs(t, err, verr.ErrRepoNotFound)

	_, err = s.GetBranch(ctx, "acme", "movies", "nope")
	assert.ErrorIs(t, err, verr.ErrBranchNotFound)

	branches, err := r.Branches(ctx)
	require.NoError(t, err)
	require.Len(t, branches, 1)
	assert.Equal(t, main.CommitOID, branches[0].CommitOID)
}

func TestUpsertFindDelete(t *testing.T) {
	ctx := context.Background()
	_, main := setupMain(t)
	root := main.CommitOID

	t.Run("Upsert", func(t *testing.T) {
		c, err := main.Upsert(ctx, "movies/1.json", []byte(`{"title":"Alien"}`))
		require.NoError(t, err)
		assert.Equal(t, []string{root}, c.Parents)
		assert.Equal(t, "Update movies/1.json", c.Message)
		assert.Equal(t, c.OID, main.CommitOID)
		assert.Equal(t, `{"title":"Alien"}`, findText(t, main, "movies/1.json"))
		assertIndexMatchesTree(t, main)
	})

	t.Run("Overwrite", func(t *testing.T) {
		prev := main.CommitOID
		c, err := main.Upsert(ctx, "/movies//1.json", []byte(`{"title":"Aliens"}`), WithMessage("sequel"))
		require.NoError(t, err)
		assert.Equal(t, "sequel", c.Message)
		assert.Equal(t, []string{prev}, c.Parents)
		assert.Equal(t, `{"title":"Aliens"}`, findText(t, main, "movies/1.json"))
		assertIndexMatchesTree(t, main)
	})

	t.Run("ListDirectories", func(t *testing.T) {
		_, err := main.Upsert(ctx, "README.md", []byte("# movies\n"))
		require.NoError(t, err)
		_, err = main.Upsert(ctx, "movies/2.json", []byte(`{"title":"Heat"}`))
		require.NoError(t, err)

		top, err := main.List(ctx, ListOptions{})
		require.NoError(t, err)
		assert.Equal(t, []string{"README.md"}, paths(top))

		dir, err := main.List(ctx, ListOptions{Dir: "movies"})
		require.NoError(t, err)
		assert.Equal(t, []string{"movies/1.json", "movies/2.json"}, paths(dir))

		page, err := main.List(ctx, ListOptions{Recursive: true, Limit: 1, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"movies/1.json"}, paths(page))
	})

	t.Run("Delete", func(t *testing.T) {
		_, err := main.Delete(ctx, "movies/1.json")
		require.NoError(t, err)
		_, err = main.Find(ctx, "movies/1.json")
		assert.ErrorIs(t, err, verr.ErrPathNotFound)
		assertIndexMatchesTree(t, main)

		_, err = main.Delete(ctx, "movies/2.json")
		require.NoError(t, err)
		c, err := main.CurrentCommit(ctx)
		require.NoError(t, err)
		assert.Nil(t, tree.Read(c.Tree, "movies"), "empty directory is pruned")
		assertIndexMatchesTree(t, main)
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		head := main.CommitOID
		_, err := main.Delete(ctx, "movies/404.json")
		assert.ErrorIs(t, err, verr.ErrPathNotFound)
		assert.Equal(t, head, main.CommitOID)
	})

	t.Run("InvalidPath", func(t *testing.T) {
		_, err := main.Upsert(ctx, "../etc/passwd", []byte("x"))
		assert.ErrorIs(t, err, verr.ErrValidation)
	})

	t.Run("Log", func(t *testing.T) {
		log, err := main.Log(ctx, 0)
		require.NoError(t, err)
		require.Len(t, log, 7)
		assert.Equal(t, main.CommitOID, log[0].OID)
		assert.Equal(t, root, log[len(log)-1].OID)

		short, err := main.Log(ctx, 2)
		require.NoError(t, err)
		assert.Len(t, short, 2)
	})
}

func TestBlobTurnsIntoDirectory(t *testing.T) {
	ctx := context.Background()
	_, main := setupMain(t)

	_, err := main.Upsert(ctx, "notes", []byte("flat\n"))
	require.NoError(t, err)
	_, err = main.Upsert(ctx, "notes/today.md", []byte("nested\n"))
	require.NoError(t, err)

	_, err = main.Find(ctx, "notes")
	assert.ErrorIs(t, err, verr.ErrPathNotFound)
	assert.Equal(t, "nested\n", findText(t, main, "notes/today.md"))
	assertIndexMatchesTree(t, main)
}

func TestCheckoutNewBranch(t *testing.T) {
	ctx := context.Background()
	_, main := setupMain(t)
	_, err := main.Upsert(ctx, "movies/1.json", []byte("1"))
	require.NoError(t, err)

	dev, err := main.CheckoutNewBranch(ctx, "dev")
	require.NoError(t, err)
	assert.Equal(t, main.CommitOID, dev.CommitOID)
	assert.Equal(t, "1", findText(t, dev, "movies/1.json"))
	assertIndexMatchesTree(t, dev)

	_, err = dev.Upsert(ctx, "movies/2.json", []byte("2"))
	require.NoError(t, err)
	_, err = main.Find(ctx, "movies/2.json")
	assert.ErrorIs(t, err, verr.ErrPathNotFound, "branches are independent")

	_, err = main.CheckoutNewBranch(ctx, "dev")
	assert.ErrorIs(t, err, verr.ErrBranchExists)
}

func TestMergeFastForward(t *testing.T) {
	ctx := context.Background()
	_, main := setupMain(t)
	_, err := main.Upsert(ctx, "movies/1.json", []byte("1"))
	require.NoError(t, err)

	feature, err := main.CheckoutNewBranch(ctx, "feature")
	require.NoError(t, err)
	_, err = feature.Upsert(ctx, "movies/2.json", []byte("Heat"))
	require.NoError(t, err)
	_, err = feature.Delete(ctx, "movies/1.json")
	require.NoError(t, err)

	res, err := main.Merge(ctx, feature)
	require.NoError(t, err)
	assert.Equal(t, FastForward, res.Kind)
	assert.Equal(t, feature.CommitOID, main.CommitOID)
	assert.Equal(t, "Heat", findText(t, main, "movies/2.json"))
	_, err = main.Find(ctx, "movies/1.json")
	assert.ErrorIs(t, err, verr.ErrPathNotFound)
	assertIndexMatchesTree(t, main)
}

func TestMergeNoop(t *testing.T) {
	ctx := context.Background()
	_, main := setupMain(t)
	_, err := main.Upsert(ctx, "a.txt", []byte("a"))
	require.NoError(t, err)

	before, err := main.List(ctx, ListOptions{Recursive: true})
	require.NoError(t, err)
	head := main.CommitOID

	t.Run("IntoItself", func(t *testing.T) {
		res, err := main.Merge(ctx, main)
		require.NoError(t, err)
		assert.Equal(t, UpToDate, res.Kind)
		assert.Equal(t, head, main.CommitOID)
	})

	t.Run("SourceBehind", func(t *testing.T) {
		old, err := main.CheckoutNewBranch(ctx, "old")
		require.NoError(t, err)
		_, err = main.Upsert(ctx, "b.txt", []byte("b"))
		require.NoError(t, err)
		head = main.CommitOID
		before, err = main.List(ctx, ListOptions{Recursive: true})
		require.NoError(t, err)

		res, err := main.Merge(ctx, old)
		require.NoError(t, err)
		assert.Equal(t, UpToDate, res.Kind)
		assert.Equal(t, head, main.CommitOID)
	})

	after, err := main.List(ctx, ListOptions{Recursive: true})
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestMergeConflict(t *testing.T) {
	ctx := context.Background()
	_, main := setupMain(t)
	_, err := main.Upsert(ctx, "p.txt", []byte("X\n"))
	require.NoError(t, err)

	a, err := main.CheckoutNewBranch(ctx, "a")
	require.NoError(t, err)
	b, err := main.CheckoutNewBranch(ctx, "b")
	require.NoError(t, err)
	_, err = a.Upsert(ctx, "p.txt", []byte("A-text\n"))
	require.NoError(t, err)
	_, err = b.Upsert(ctx, "p.txt", []byte("B-text\n"))
	require.NoError(t, err)
	head := a.CommitOID

	_, err = a.Merge(ctx, b)
	require.Error(t, err)
	assert.ErrorIs(t, err, verr.ErrConflictingMerge)

	typed, ok := verr.As(err)
	require.True(t, ok)
	details := typed.Details.(verr.ConflictDetails)
	assert.Equal(t, "p.txt", details.Path)
	assert.Contains(t, details.Text, merge.MarkerOurs+"\nA-text\n"+merge.MarkerSep+"\nB-text\n"+merge.MarkerTheirs)

	assert.Equal(t, head, a.CommitOID)
	assert.Equal(t, "A-text\n", findText(t, a, "p.txt"), "nothing is persisted on conflict")
}

func TestMergeModifyDeleteConflict(t *testing.T) {
	ctx := context.Background()
	_, main := setupMain(t)
	_, err := main.Upsert(ctx, "p.txt", []byte("X\n"))
	require.NoError(t, err)

	a, err := main.CheckoutNewBranch(ctx, "a")
	require.NoError(t, err)
	b, err := main.CheckoutNewBranch(ctx, "b")
	require.NoError(t, err)
	_, err = a.Upsert(ctx, "p.txt", []byte("changed\n"))
	require.NoError(t, err)
	_, err = b.Delete(ctx, "p.txt")
	require.NoError(t, err)

	_, err = a.Merge(ctx, b)
	assert.ErrorIs(t, err, verr.ErrConflictingMerge)
	_, err = b.Merge(ctx, a)
	assert.ErrorIs(t, err, verr.ErrConflictingMerge)
}

func TestMergeDisjointEdits(t *testing.T) {
	ctx := context.Background()
	_, main := setupMain(t)
	_, err := main.Upsert(ctx, "movies/1.json", []byte("Alien"))
	require.NoError(t, err)

	a, err := main.CheckoutNewBranch(ctx, "a")
	require.NoError(t, err)
	b, err := main.CheckoutNewBranch(ctx, "b")
	require.NoError(t, err)
	_, err = a.Upsert(ctx, "movies/2.json", []byte("Heat"))
	require.NoError(t, err)
	_, err = b.Upsert(ctx, "movies/3.json", []byte("Ran"))
	require.NoError(t, err)
	aHead, bHead := a.CommitOID, b.CommitOID

	res, err := a.Merge(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, Merged, res.Kind)
	assert.Equal(t, main.CommitOID, res.Base)
	assert.Equal(t, []string{aHead, bHead}, res.Commit.Parents)
	assert.Equal(t, res.Commit.OID, a.CommitOID)

	entries, err := a.List(ctx, ListOptions{Dir: "movies"})
	require.NoError(t, err)
	assert.Equal(t, []string{"movies/1.json", "movies/2.json", "movies/3.json"}, paths(entries))
	assertIndexMatchesTree(t, a)

	t.Run("MergeBackFastForwards", func(t *testing.T) {
		res, err := b.Merge(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, FastForward, res.Kind)
		assert.Equal(t, a.CommitOID, b.CommitOID)
		assertIndexMatchesTree(t, b)
	})
}

func TestMergeCleanTextMerge(t *testing.T) {
	ctx := context.Background()
	_, main := setupMain(t)
	_, err := main.Upsert(ctx, "list.txt", []byte("one\ntwo\nthree\nfour\nfive\n"))
	require.NoError(t, err)

	a, err := main.CheckoutNewBranch(ctx, "a")
	require.NoError(t, err)
	b, err := main.CheckoutNewBranch(ctx, "b")
	require.NoError(t, err)
	_, err = a.Upsert(ctx, "list.txt", []byte("ONE\ntwo\nthree\nfour\nfive\n"))
	require.NoError(t, err)
	_, err = b.Upsert(ctx, "list.txt", []byte("one\ntwo\nthree\nfour\nFIVE\n"))
	require.NoError(t, err)
	_, err = b.Upsert(ctx, "other.txt", []byte("only on b\n"))
	require.NoError(t, err)

	res, err := a.Merge(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, Merged, res.Kind)
	assert.Equal(t, "ONE\ntwo\nthree\nfour\nFIVE\n", findText(t, a, "list.txt"))
	assert.Equal(t, "only on b\n", findText(t, a, "other.txt"))
	assertIndexMatchesTree(t, a)
}

type fakeSource struct {
	listing *Listing
	blobs   map[string][]byte
}

func (f *fakeSource) Location() string { return "memory://fake" }

func (f *fakeSource) Listing(context.Context, string) (*Listing, error) { return f.listing, nil }

func (f *fakeSource) Blob(_ context.Context, oid string) ([]byte, error) {
	return f.blobs[oid], nil
}

func newFakeSource(commitOID string, files map[string]string) *fakeSource {
	h := hashing.Native{}
	src := &fakeSource{
		listing: &Listing{
			CommitOID: commitOID,
			Message:   "imported",
			Parents:   []string{"2222222222222222222222222222222222222222"},
		},
		blobs: map[string][]byte{},
	}
	names := make([]string, 0, len(files))
	for p := range files {
		names = append(names, p)
	}
	sort.Strings(names)
	for _, p := range names {
		oid := h.HashBlob([]byte(files[p]))
		src.blobs[oid] = []byte(files[p])
		mode := "100644"
		if p == "bin/run.sh" {
			mode = "100755"
		}
		src.listing.Entries = append(src.listing.Entries, ListingEntry{Mode: mode, Type: "blob", OID: oid, Path: p})
	}
	src.listing.Entries = append(src.listing.Entries, ListingEntry{Mode: "40000", Type: "tree", OID: "ignored", Path: "bin"})
	return src
}

func TestImport(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	src := newFakeSource("1111111111111111111111111111111111111111", map[string]string{
		"README.md":  "hello\n",
		"bin/run.sh": "echo hi\n",
	})

	b, err := s.Import(ctx, "acme", "tools", "main", src, "HEAD")
	require.NoError(t, err)
	assert.Equal(t, "1111111111111111111111111111111111111111", b.CommitOID)

	r, err := s.GetRepo(ctx, "acme", "tools")
	require.NoError(t, err)
	assert.Equal(t, "memory://fake", r.Remote)

	assert.Equal(t, "hello\n", findText(t, b, "README.md"))
	c, err := b.CurrentCommit(ctx)
	require.NoError(t, err)
	assert.Equal(t, "100755", tree.ReadBlob(c.Tree, "bin/run.sh").Mode)
	assertIndexMatchesTree(t, b)

	log, err := b.Log(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, log, 1, "history before the imported commit is unknown")

	_, err = b.Upsert(ctx, "README.md", []byte("bye\n"))
	require.NoError(t, err)
	log, err = b.Log(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, log, 2)

	_, err = s.Import(ctx, "acme", "tools", "main", src, "HEAD")
	assert.ErrorIs(t, err, verr.ErrBranchExists)
}

func TestMergeNoBase(t *testing.T) {
	ctx := context.Background()
	s, main := setupMain(t)
	other, err := s.Import(ctx, "acme", "movies", "other", newFakeSource("3333333333333333333333333333333333333333", map[string]string{"x": "x"}), "HEAD")
	require.NoError(t, err)

	_, err = main.Merge(ctx, other)
	assert.ErrorIs(t, err, verr.ErrNoMergeBase)
}

func TestCloneBranch(t *testing.T) {
	ctx := context.Background()
	s, main := setupMain(t)
	first, err := main.Upsert(ctx, "a.txt", []byte("a"))
	require.NoError(t, err)
	_, err = main.Upsert(ctx, "b.txt", []byte("b"))
	require.NoError(t, err)

	old, err := s.CloneBranch(ctx, "acme", "movies", "old", first.OID)
	require.NoError(t, err)
	entries, err := old.List(ctx, ListOptions{Recursive: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, paths(entries))

	_, err = s.CloneBranch(ctx, "acme", "movies", "bad", "deadbeef")
	assert.ErrorIs(t, err, verr.ErrCommitNotFound)
	_, err = s.CloneBranch(ctx, "acme", "nope", "x", first.OID)
	assert.ErrorIs(t, err, verr.ErrRepoNotFound)
	_, err = s.CloneBranch(ctx, "acme", "movies", "old", first.OID)
	assert.ErrorIs(t, err, verr.ErrBranchExists)
}

func TestDumpRestore(t *testing.T) {
	ctx := context.Background()
	s, main := setupMain(t)
	_, err := main.Upsert(ctx, "a.txt", []byte("a"))
	require.NoError(t, err)

	dump, err := s.Dump(ctx)
	require.NoError(t, err)

	t.Run("Replica", func(t *testing.T) {
		replica := setupTestStore(t)
		require.NoError(t, replica.Restore(ctx, dump))

		b, err := replica.GetBranch(ctx, "acme", "movies", "main")
		require.NoError(t, err)
		assert.Equal(t, main.CommitOID, b.CommitOID)
		assert.Equal(t, "a", findText(t, b, "a.txt"))
	})

	t.Run("MissingBlobs", func(t *testing.T) {
		replica := setupTestStore(t)
		partial := *dump
		partial.Blobs = nil
		partial.Index = nil
		require.NoError(t, replica.Restore(ctx, &partial))

		_, err := replica.CloneBranch(ctx, "acme", "movies", "copy", main.CommitOID)
		assert.ErrorIs(t, err, verr.ErrDanglingBlob)
	})
}

func TestHashersAgreeAcrossStores(t *testing.T) {
	ctx := context.Background()
	native, err := NewStore(mustBadger(t), Options{Hasher: hashing.Native{}})
	require.NoError(t, err)
	gogit, err := NewStore(mustBadger(t), Options{Hasher: hashing.GoGit{}})
	require.NoError(t, err)

	var heads []string
	for _, s := range []*Store{native, gogit} {
		b, err := s.InitRepo(ctx, "acme", "movies", "main")
		require.NoError(t, err)
		_, err = b.Upsert(ctx, "dir/a.txt", []byte("same bytes"))
		require.NoError(t, err)
		heads = append(heads, b.CommitOID)
	}
	assert.Equal(t, heads[0], heads[1])
}

func mustBadger(t *testing.T) *badgerstore.Store {
	backend, err := badgerstore.Open("", true)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return backend
}

func TestRejectsBadNames(t *testing.T) {
	ctx := context.Background()
	s, main := setupMain(t)

	_, err := s.InitRepo(ctx, "acme", "my/repo", "main")
	assert.ErrorIs(t, err, verr.ErrValidation)
	_, err = s.InitRepo(ctx, "", "movies", "dev")
	assert.ErrorIs(t, err, verr.ErrValidation)
	_, err = main.CheckoutNewBranch(ctx, "feature/../x")
	assert.ErrorIs(t, err, verr.ErrValidation)

	nb, err := main.CheckoutNewBranch(ctx, "feature/x")
	require.NoError(t, err)
	assert.Equal(t, "feature/x", nb.Name)
}

func TestMergeKindSwaps(t *testing.T) {
	ctx := context.Background()

	// fork returns main and dev at a shared commit holding notes and
	// docs/a.md, after main changed an unrelated path.
	fork := func(t *testing.T) (*Branch, *Branch) {
		t.Helper()
		_, main := setupMain(t)
		_, err := main.Upsert(ctx, "notes", []byte("flat\n"))
		require.NoError(t, err)
		_, err = main.Upsert(ctx, "docs/a.md", []byte("a\n"))
		require.NoError(t, err)
		dev, err := main.CheckoutNewBranch(ctx, "dev")
		require.NoError(t, err)
		_, err = main.Upsert(ctx, "other.txt", []byte("main\n"))
		require.NoError(t, err)
		return main, dev
	}

	t.Run("BlobToDirectory", func(t *testing.T) {
		main, dev := fork(t)
		_, err := dev.Upsert(ctx, "notes/today.md", []byte("nested\n"))
		require.NoError(t, err)

		res, err := main.Merge(ctx, dev)
		require.NoError(t, err)
		assert.Equal(t, Merged, res.Kind)
		assert.Equal(t, "nested\n", findText(t, main, "notes/today.md"))
		assert.Equal(t, "main\n", findText(t, main, "other.txt"))
		_, err = main.Find(ctx, "notes")
		assert.ErrorIs(t, err, verr.ErrPathNotFound)
		assertIndexMatchesTree(t, main)
	})

	t.Run("DirectoryToBlob", func(t *testing.T) {
		main, dev := fork(t)
		_, err := dev.Upsert(ctx, "docs", []byte("flat docs\n"))
		require.NoError(t, err)

		res, err := main.Merge(ctx, dev)
		require.NoError(t, err)
		assert.Equal(t, Merged, res.Kind)
		assert.Equal(t, "flat docs\n", findText(t, main, "docs"))
		_, err = main.Find(ctx, "docs/a.md")
		assert.ErrorIs(t, err, verr.ErrPathNotFound)
		assertIndexMatchesTree(t, main)
	})

	t.Run("DirectoryToBlobOverOurFile", func(t *testing.T) {
		main, dev := fork(t)
		_, err := main.Upsert(ctx, "docs/b.md", []byte("ours\n"))
		require.NoError(t, err)
		_, err = dev.Upsert(ctx, "docs", []byte("flat docs\n"))
		require.NoError(t, err)
		head := main.CommitOID

		_, err = main.Merge(ctx, dev)
		require.ErrorIs(t, err, verr.ErrConflictingMerge)
		typed, _ := verr.As(err)
		assert.Equal(t, "docs/b.md", typed.Details.(verr.ConflictDetails).Path)
		assert.Equal(t, head, main.CommitOID)
	})

	t.Run("BlobToDirectoryOverOurEdit", func(t *testing.T) {
		main, dev := fork(t)
		_, err := main.Upsert(ctx, "notes", []byte("edited\n"))
		require.NoError(t, err)
		_, err = dev.Upsert(ctx, "notes/today.md", []byte("nested\n"))
		require.NoError(t, err)

		_, err = main.Merge(ctx, dev)
		assert.ErrorIs(t, err, verr.ErrConflictingMerge)
	})
}

func TestWriterSkipsReplacedDeletes(t *testing.T) {
	ctx := context.Background()
	_, main := setupMain(t)
	_, err := main.Upsert(ctx, "d/a.md", []byte("a\n"))
	require.NoError(t, err)

	err = main.Batch(ctx, func(w *Writer) error {
		_, err := w.Commit("flatten",
			Edit{Path: "d", Content: []byte("flat\n")},
			Edit{Path: "d/a.md", Delete: true},
		)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "flat\n", findText(t, main, "d"))
	assertIndexMatchesTree(t, main)
}

func TestWriterReplay(t *testing.T) {
	ctx := context.Background()
	_, main := setupMain(t)
	_, other := setupMain(t)

	c, err := main.Upsert(ctx, "a.txt", []byte("a\n"), WithMessage(""))
	require.NoError(t, err)
	head := other.CommitOID

	err = other.Batch(ctx, func(w *Writer) error {
		_, err := w.Replay(c.OID, "", Edit{Path: "a.txt", Content: []byte("a\n")})
		return err
	})
	assert.ErrorIs(t, err, verr.ErrInvalidCommitLineage, "an empty message is not replaced on replay")
	assert.Equal(t, head, other.CommitOID)

	err = other.Batch(ctx, func(w *Writer) error {
		_, err := w.Replay(c.OID, c.Message, Edit{Path: "a.txt", Content: []byte("a\n")})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, c.OID, other.CommitOID)
}
