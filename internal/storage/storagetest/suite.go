// Package storagetest holds behaviour tests every storage.Backend must pass.
package storagetest

import (
	"context"
	"errors"
	"testing"

	"relgit/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises b against the storage.Backend contract.
func Run(t *testing.T, b storage.Backend) {
	ctx := context.Background()

	t.Run("BlobInsertIfAbsent", func(t *testing.T) {
		require.NoError(t, b.Update(ctx, func(tx storage.Tx) error {
			if err := tx.InsertBlob(storage.BlobRow{OID: "b1", Content: []byte("first")}); err != nil {
				return err
			}
			return tx.InsertBlob(storage.BlobRow{OID: "b1", Content: []byte("second")})
		}))

		require.NoError(t, b.View(ctx, func(tx storage.Tx) error {
			row, err := tx.GetBlob("b1")
			require.NoError(t, err)
			assert.Equal(t, "first", string(row.Content))

			_, err = tx.GetBlob("missing")
			assert.ErrorIs(t, err, storage.ErrNotFound)
			return nil
		}))
	})

	t.Run("CommitRoundTrip", func(t *testing.T) {
		row := storage.CommitRow{OID: "c1", Message: "init", TreeOID: "t1", Parents: []string{"p1", "p2"}, Tree: []byte("{}")}
		require.NoError(t, b.Update(ctx, func(tx storage.Tx) error { return tx.InsertCommit(row) }))

		require.NoError(t, b.View(ctx, func(tx storage.Tx) error {
			got, err := tx.GetCommit("c1")
			require.NoError(t, err)
			assert.Equal(t, row, got)

			_, err = tx.GetCommit("nope")
			assert.ErrorIs(t, err, storage.ErrNotFound)
			return nil
		}))
	})

	t.Run("ReposAndBranches", func(t *testing.T) {
		require.NoError(t, b.Update(ctx, func(tx storage.Tx) error {
			if err := tx.PutRepo(storage.RepoRow{Org: "acme", Repo: "site"}); err != nil {
				return err
			}
			if err := tx.PutBranch(storage.BranchRow{Org: "acme", Repo: "site", Name: "main", CommitOID: "c1"}); err != nil {
				return err
			}
			if err := tx.PutBranch(storage.BranchRow{Org: "acme", Repo: "site", Name: "dev", CommitOID: "c1"}); err != nil {
				return err
			}
			// replace
			return tx.PutBranch(storage.BranchRow{Org: "acme", Repo: "site", Name: "main", CommitOID: "c2"})
		}))

		require.NoError(t, b.View(ctx, func(tx storage.Tx) error {
			_, err := tx.GetRepo("acme", "site")
			require.NoError(t, err)
			_, err = tx.GetRepo("acme", "other")
			assert.ErrorIs(t, err, storage.ErrNotFound)

			br, err := tx.GetBranch("acme", "site", "main")
			require.NoError(t, err)
			assert.Equal(t, "c2", br.CommitOID)

			branches, err := tx.ListBranches("acme", "site")
			require.NoError(t, err)
			assert.Len(t, branches, 2)

			repos, err := tx.ListRepos()
			require.NoError(t, err)
			assert.Len(t, repos, 1)
			return nil
		}))
	})

	t.Run("Index", func(t *testing.T) {
		paths := []string{"z.txt", "a.txt", "docs/b.md", "docs/a.md", "docs/api/x.md"}
		require.NoError(t, b.Update(ctx, func(tx storage.Tx) error {
			for _, p := range paths {
				if err := tx.PutIndex(storage.NewIndexRow("acme", "site", "main", p, "oid-"+p)); err != nil {
					return err
				}
			}
			return nil
		}))

		require.NoError(t, b.View(ctx, func(tx storage.Tx) error {
			top, err := tx.ListIndex(storage.IndexQuery{Org: "acme", Repo: "site", Branch: "main"})
			require.NoError(t, err)
			assert.Equal(t, []string{"a.txt", "z.txt"}, indexPaths(top))

			docs, err := tx.ListIndex(storage.IndexQuery{Org: "acme", Repo: "site", Branch: "main", Dir: "docs"})
			require.NoError(t, err)
			assert.Equal(t, []string{"docs/a.md", "docs/b.md"}, indexPaths(docs))

			all, err := tx.ListIndex(storage.IndexQuery{Org: "acme", Repo: "site", Branch: "main", Recursive: true})
			require.NoError(t, err)
			assert.Equal(t, []string{"a.txt", "z.txt", "docs/a.md", "docs/b.md", "docs/api/x.md"}, indexPaths(all))

			under, err := tx.ListIndex(storage.IndexQuery{Org: "acme", Repo: "site", Branch: "main", Dir: "docs", Recursive: true})
			require.NoError(t, err)
			assert.Equal(t, []string{"docs/a.md", "docs/b.md", "docs/api/x.md"}, indexPaths(under))

			page, err := tx.ListIndex(storage.IndexQuery{Org: "acme", Repo: "site", Branch: "main", Recursive: true, Offset: 1, Limit: 2})
			require.NoError(t, err)
			assert.Equal(t, []string{"z.txt", "docs/a.md"}, indexPaths(page))

			row, err := tx.GetIndex("acme", "site", "main", "docs/api/x.md")
			require.NoError(t, err)
			assert.Equal(t, "docs/api", row.Dir)
			assert.Equal(t, "oid-docs/api/x.md", row.BlobOID)
			return nil
		}))

		require.NoError(t, b.Update(ctx, func(tx storage.Tx) error {
			if err := tx.CopyIndex("acme", "site", "main", "feature"); err != nil {
				return err
			}
			return tx.DeleteIndex("acme", "site", "main", "a.txt")
		}))

		require.NoError(t, b.View(ctx, func(tx storage.Tx) error {
			_, err := tx.GetIndex("acme", "site", "main", "a.txt")
			assert.ErrorIs(t, err, storage.ErrNotFound)

			copied, err := tx.ListIndex(storage.IndexQuery{Org: "acme", Repo: "site", Branch: "feature", Recursive: true})
			require.NoError(t, err)
			assert.Len(t, copied, len(paths))
			for _, r := range copied {
				assert.Equal(t, "feature", r.Branch)
			}
			return nil
		}))

		require.NoError(t, b.Update(ctx, func(tx storage.Tx) error {
			return tx.ClearIndex("acme", "site", "feature")
		}))
		require.NoError(t, b.View(ctx, func(tx storage.Tx) error {
			rows, err := tx.ListIndex(storage.IndexQuery{Org: "acme", Repo: "site", Branch: "feature", Recursive: true})
			require.NoError(t, err)
			assert.Empty(t, rows)
			return nil
		}))
	})

	t.Run("IndexNonASCII", func(t *testing.T) {
		paths := []string{"café/a.md", "café/sub/b.md", "cafébar/c.md", "naïve.txt"}
		require.NoError(t, b.Update(ctx, func(tx storage.Tx) error {
			for _, p := range paths {
				if err := tx.PutIndex(storage.NewIndexRow("acme", "site", "unicode", p, "oid-"+p)); err != nil {
					return err
				}
			}
			return nil
		}))

		require.NoError(t, b.View(ctx, func(tx storage.Tx) error {
			under, err := tx.ListIndex(storage.IndexQuery{Org: "acme", Repo: "site", Branch: "unicode", Dir: "café", Recursive: true})
			require.NoError(t, err)
			assert.Equal(t, []string{"café/a.md", "café/sub/b.md"}, indexPaths(under))

			flat, err := tx.ListIndex(storage.IndexQuery{Org: "acme", Repo: "site", Branch: "unicode", Dir: "café"})
			require.NoError(t, err)
			assert.Equal(t, []string{"café/a.md"}, indexPaths(flat))

			all, err := tx.ListIndex(storage.IndexQuery{Org: "acme", Repo: "site", Branch: "unicode", Recursive: true})
			require.NoError(t, err)
			assert.Len(t, all, len(paths))
			return nil
		}))
	})

	t.Run("RollbackOnError", func(t *testing.T) {
		boom := errors.New("boom")
		err := b.Update(ctx, func(tx storage.Tx) error {
			if err := tx.InsertBlob(storage.BlobRow{OID: "rolled-back", Content: []byte("x")}); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		require.NoError(t, b.View(ctx, func(tx storage.Tx) error {
			_, err := tx.GetBlob("rolled-back")
			assert.ErrorIs(t, err, storage.ErrNotFound)
			return nil
		}))
	})

	t.Run("DumpLoad", func(t *testing.T) {
		var dump *storage.Dump
		require.NoError(t, b.View(ctx, func(tx storage.Tx) error {
			var err error
			dump, err = tx.Dump()
			return err
		}))
		assert.NotEmpty(t, dump.Repos)
		assert.NotEmpty(t, dump.Branches)
		assert.NotEmpty(t, dump.Commits)
		assert.NotEmpty(t, dump.Blobs)
		assert.NotEmpty(t, dump.Index)

		require.NoError(t, b.Update(ctx, func(tx storage.Tx) error { return tx.Load(dump) }))

		require.NoError(t, b.View(ctx, func(tx storage.Tx) error {
			again, err := tx.Dump()
			require.NoError(t, err)
			assert.ElementsMatch(t, dump.Blobs, again.Blobs)
			assert.ElementsMatch(t, dump.Index, again.Index)
			return nil
		}))
	})

	t.Run("CanceledContext", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := b.View(cctx, func(storage.Tx) error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func indexPaths(rows []storage.IndexRow) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Path
	}
	return out
}
