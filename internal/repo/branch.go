package repo

import (
	"context"
	"errors"
	"fmt"

	"relgit/internal/diff"
	verr "relgit/internal/errors"
	"relgit/internal/object"
	"relgit/internal/storage"
	"relgit/internal/tree"
	"relgit/internal/validation"

	"go.uber.org/zap"
)

// Branch is a named pointer to a commit. CommitOID is refreshed by every
// operation that reads or moves the pointer through this value.
type Branch struct {
	Org       string
	Repo      string
	Name      string
	CommitOID string

	store *Store
}

// IndexEntry is a working index row: the blob the branch holds at Path.
type IndexEntry struct {
	Path    string `json:"path"`
	Dir     string `json:"dir"`
	BlobOID string `json:"blobOid"`
}

func (b *Branch) String() string {
	return fmt.Sprintf("%s/%s@%s", b.Org, b.Repo, b.Name)
}

// Store returns the store b belongs to.
func (b *Branch) Store() *Store { return b.store }

func (s *Store) GetBranch(ctx context.Context, org, repo, name string) (*Branch, error) {
	var b *Branch
	err := s.backend.View(ctx, func(tx storage.Tx) error {
		row, err := getBranchRow(tx, org, repo, name)
		if err != nil {
			return err
		}
		b = branchFromRow(s, row)
		return nil
	})
	return b, err
}

func (s *Store) ListBranches(ctx context.Context, org, repo string) ([]*Branch, error) {
	var out []*Branch
	err := s.backend.View(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetRepo(org, repo); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return verr.RepoNotFound(org, repo)
			}
			return err
		}
		rows, err := tx.ListBranches(org, repo)
		if err != nil {
			return err
		}
		for _, row := range rows {
			out = append(out, branchFromRow(s, row))
		}
		return nil
	})
	return out, err
}

// CloneBranch creates a branch at an existing commit and builds its working
// index from the commit's tree.
func (s *Store) CloneBranch(ctx context.Context, org, repo, name, commitOID string) (*Branch, error) {
	if err := validation.Branch(name); err != nil {
		return nil, err
	}
	b := &Branch{Org: org, Repo: repo, Name: name, CommitOID: commitOID, store: s}
	err := s.backend.Update(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetRepo(org, repo); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return verr.RepoNotFound(org, repo)
			}
			return err
		}
		if err := checkBranchAbsent(tx, org, repo, name); err != nil {
			return err
		}
		c, err := s.loadCommit(tx, commitOID)
		if err != nil {
			return err
		}
		var missing error
		tree.Walk(c.Tree, func(e *object.TreeEntry) {
			if missing != nil {
				return
			}
			if _, err := tx.GetBlob(e.OID); err != nil {
				missing = err
				if errors.Is(err, storage.ErrNotFound) {
					missing = verr.DanglingBlob(e.OID)
				}
			}
		})
		if missing != nil {
			return missing
		}
		if err := tx.PutBranch(branchToRow(b)); err != nil {
			return err
		}
		return resetIndex(tx, b, c.Tree)
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func getBranchRow(tx storage.Tx, org, repo, name string) (storage.BranchRow, error) {
	row, err := tx.GetBranch(org, repo, name)
	if errors.Is(err, storage.ErrNotFound) {
		return row, verr.BranchNotFound(org, repo, name)
	}
	return row, err
}

// CurrentCommit re-reads the branch pointer and returns the commit it
// names, tree included.
func (b *Branch) CurrentCommit(ctx context.Context) (*object.Commit, error) {
	var c *object.Commit
	err := b.store.backend.View(ctx, func(tx storage.Tx) error {
		row, err := getBranchRow(tx, b.Org, b.Repo, b.Name)
		if err != nil {
			return err
		}
		c, err = b.store.loadCommit(tx, row.CommitOID)
		return err
	})
	if err != nil {
		return nil, err
	}
	b.CommitOID = c.OID
	return c, nil
}

// Edit is one path change applied by Writer.Commit. Delete removes Path,
// otherwise Content is written to it.
type Edit struct {
	Path    string
	Content []byte
	Delete  bool
}

// Writer moves a branch inside one transaction. It is only valid within the
// Batch callback that received it.
type Writer struct {
	branch *Branch
	tx     storage.Tx
	head   *object.Commit
}

// Head is the commit the branch points at so far in this batch.
func (w *Writer) Head() *object.Commit { return w.head }

// Commit applies edits to the head tree and records the result as a new
// commit whose only parent is the head. Invalid edits fail before anything
// is written, so the batch can carry on after a domain error. An empty
// message is replaced by a summary of the edits.
func (w *Writer) Commit(message string, edits ...Edit) (*object.Commit, error) {
	if message == "" {
		message = defaultMessage(edits)
	}
	c, blobs, err := w.build(message, edits)
	if err != nil {
		return nil, err
	}
	return c, w.write(c, blobs)
}

// Replay commits edits with message verbatim and fails with
// InvalidCommitLineage, writing nothing, unless the result is oid.
func (w *Writer) Replay(oid, message string, edits ...Edit) (*object.Commit, error) {
	c, blobs, err := w.build(message, edits)
	if err != nil {
		return nil, err
	}
	if c.OID != oid {
		return nil, verr.InvalidCommitLineage(oid, c.OID)
	}
	return c, w.write(c, blobs)
}

// build applies edits in order. A deletion nested with an earlier write was
// already carried out by that write, which replaced the entry in place.
func (w *Writer) build(message string, edits []Edit) (*object.Commit, []*object.Blob, error) {
	s := w.branch.store
	t := w.head.Tree
	var (
		blobs   []*object.Blob
		written []string
	)

	for _, e := range edits {
		p, err := tree.Clean(e.Path)
		if err != nil {
			return nil, nil, err
		}
		if e.Delete {
			if nestedIn(written, p) {
				continue
			}
			if t, err = tree.Remove(s.hasher, t, p); err != nil {
				return nil, nil, err
			}
			continue
		}
		blob := object.NewBlob(s.hasher, e.Content)
		blobs = append(blobs, blob)
		written = append(written, p)
		if t, err = tree.Update(s.hasher, t, p, blob.OID); err != nil {
			return nil, nil, err
		}
	}
	return object.NewCommit(s.hasher, t, message, []string{w.head.OID}), blobs, nil
}

func (w *Writer) write(c *object.Commit, blobs []*object.Blob) error {
	for _, blob := range blobs {
		if err := w.tx.InsertBlob(blobToRow(blob)); err != nil {
			return fmt.Errorf("writing blob %s: %w", blob.OID, err)
		}
	}
	return w.advance(c, true)
}

func nestedIn(paths []string, p string) bool {
	for _, cur := range paths {
		if tree.Nested(cur, p) {
			return true
		}
	}
	return false
}

// advance points the branch at c, writing c first when insert is set, and
// brings the working index from the old head tree to c's tree.
func (w *Writer) advance(c *object.Commit, insert bool) error {
	if insert {
		if err := w.branch.store.putCommit(w.tx, c); err != nil {
			return err
		}
	}
	row := branchToRow(w.branch)
	row.CommitOID = c.OID
	if err := w.tx.PutBranch(row); err != nil {
		return fmt.Errorf("moving %s: %w", w.branch, err)
	}
	if err := applyIndexDiff(w.tx, w.branch, diff.FindDiffs(nil, c.Tree, w.head.Tree)); err != nil {
		return err
	}
	w.head = c
	return nil
}

func defaultMessage(edits []Edit) string {
	if len(edits) == 1 {
		if edits[0].Delete {
			return "Delete " + edits[0].Path
		}
		return "Update " + edits[0].Path
	}
	return fmt.Sprintf("Update %d paths", len(edits))
}

// Batch runs fn with a Writer positioned at the branch head. Everything fn
// writes commits atomically when it returns nil and is discarded otherwise.
func (b *Branch) Batch(ctx context.Context, fn func(w *Writer) error) error {
	s := b.store
	var head string
	err := s.backend.Update(ctx, func(tx storage.Tx) error {
		row, err := getBranchRow(tx, b.Org, b.Repo, b.Name)
		if err != nil {
			return err
		}
		c, err := s.loadCommit(tx, row.CommitOID)
		if err != nil {
			return err
		}
		w := &Writer{branch: b, tx: tx, head: c}
		if err := fn(w); err != nil {
			return err
		}
		head = w.head.OID
		return nil
	})
	if err != nil {
		return err
	}
	b.CommitOID = head
	return nil
}

type writeOptions struct {
	message string
}

// WriteOption customises Upsert and Delete.
type WriteOption func(*writeOptions)

// WithMessage sets the commit message.
func WithMessage(msg string) WriteOption {
	return func(o *writeOptions) { o.message = msg }
}

func (b *Branch) write(ctx context.Context, op string, edit Edit, opts []WriteOption) (*object.Commit, error) {
	var o writeOptions
	for _, opt := range opts {
		opt(&o)
	}

	var c *object.Commit
	err := b.Batch(ctx, func(w *Writer) error {
		var err error
		c, err = w.Commit(o.message, edit)
		return err
	})
	if err != nil {
		return nil, err
	}

	b.store.metrics.CommitWritten(op)
	b.store.logger.Debug("committed",
		zap.String("branch", b.String()),
		zap.String("op", op),
		zap.String("path", edit.Path),
		zap.String("commit", c.OID),
	)
	return c, nil
}

// Upsert writes content at path as a new commit on the branch.
func (b *Branch) Upsert(ctx context.Context, path string, content []byte, opts ...WriteOption) (*object.Commit, error) {
	return b.write(ctx, "upsert", Edit{Path: path, Content: content}, opts)
}

// Delete removes path as a new commit on the branch. A missing path fails
// with PathNotFound.
func (b *Branch) Delete(ctx context.Context, path string, opts ...WriteOption) (*object.Commit, error) {
	return b.write(ctx, "delete", Edit{Path: path, Delete: true}, opts)
}

// CheckoutNewBranch creates branch name at b's head. Only working index
// rows are copied.
func (b *Branch) CheckoutNewBranch(ctx context.Context, name string) (*Branch, error) {
	if err := validation.Branch(name); err != nil {
		return nil, err
	}
	var nb *Branch
	err := b.store.backend.Update(ctx, func(tx storage.Tx) error {
		row, err := getBranchRow(tx, b.Org, b.Repo, b.Name)
		if err != nil {
			return err
		}
		if err := checkBranchAbsent(tx, b.Org, b.Repo, name); err != nil {
			return err
		}
		nb = &Branch{Org: b.Org, Repo: b.Repo, Name: name, CommitOID: row.CommitOID, store: b.store}
		if err := tx.PutBranch(branchToRow(nb)); err != nil {
			return err
		}
		return tx.CopyIndex(b.Org, b.Repo, b.Name, name)
	})
	if err != nil {
		return nil, err
	}
	b.CommitOID = nb.CommitOID
	return nb, nil
}

// Find returns the blob the branch holds at path.
func (b *Branch) Find(ctx context.Context, path string) (*object.Blob, error) {
	p, err := tree.Clean(path)
	if err != nil {
		return nil, err
	}
	var blob *object.Blob
	err = b.store.backend.View(ctx, func(tx storage.Tx) error {
		row, err := tx.GetIndex(b.Org, b.Repo, b.Name, p)
		if errors.Is(err, storage.ErrNotFound) {
			return verr.PathNotFound(p)
		}
		if err != nil {
			return err
		}
		blob, err = loadBlob(tx, row.BlobOID)
		return err
	})
	return blob, err
}

// ListOptions selects working index entries. Dir "" is the repository root.
type ListOptions struct {
	Dir       string
	Recursive bool
	Limit     int
	Offset    int
}

// List returns working index entries ordered by directory then path.
func (b *Branch) List(ctx context.Context, opts ListOptions) ([]IndexEntry, error) {
	dir := opts.Dir
	if dir != "" {
		var err error
		if dir, err = tree.Clean(dir); err != nil {
			return nil, err
		}
	}
	var out []IndexEntry
	err := b.store.backend.View(ctx, func(tx storage.Tx) error {
		if _, err := getBranchRow(tx, b.Org, b.Repo, b.Name); err != nil {
			return err
		}
		rows, err := tx.ListIndex(storage.IndexQuery{
			Org:       b.Org,
			Repo:      b.Repo,
			Branch:    b.Name,
			Dir:       dir,
			Recursive: opts.Recursive,
			Limit:     opts.Limit,
			Offset:    opts.Offset,
		})
		if err != nil {
			return err
		}
		for _, row := range rows {
			out = append(out, entryFromRow(row))
		}
		return nil
	})
	return out, err
}

// Log follows first parents from the head, newest first. limit <= 0 walks
// the whole known history.
func (b *Branch) Log(ctx context.Context, limit int) ([]*object.Commit, error) {
	var out []*object.Commit
	err := b.store.backend.View(ctx, func(tx storage.Tx) error {
		row, err := getBranchRow(tx, b.Org, b.Repo, b.Name)
		if err != nil {
			return err
		}
		seen := map[string]bool{}
		parents := b.store.parentsIn(tx)
		for oid := row.CommitOID; oid != "" && !seen[oid]; {
			if limit > 0 && len(out) >= limit {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			seen[oid] = true
			c, err := b.store.loadCommit(tx, oid)
			if err != nil {
				return err
			}
			out = append(out, c)

			ps, err := parents(ctx, oid)
			if err != nil {
				return err
			}
			oid = ""
			if len(ps) > 0 && ps[0] == c.Parent() {
				oid = ps[0]
			}
		}
		return nil
	})
	return out, err
}

// resetIndex replaces every working index row of b with the leaves of t.
func resetIndex(tx storage.Tx, b *Branch, t *object.Tree) error {
	if err := tx.ClearIndex(b.Org, b.Repo, b.Name); err != nil {
		return fmt.Errorf("clearing index of %s: %w", b, err)
	}
	for _, l := range tree.Flatten(t) {
		if err := tx.PutIndex(storage.NewIndexRow(b.Org, b.Repo, b.Name, l.Path, l.OID)); err != nil {
			return fmt.Errorf("indexing %s: %w", l.Path, err)
		}
	}
	return nil
}

// applyIndexDiff moves b's working index along d.
func applyIndexDiff(tx storage.Tx, b *Branch, d *diff.TreeDiff) error {
	for _, a := range d.Added {
		if err := tx.PutIndex(storage.NewIndexRow(b.Org, b.Repo, b.Name, a.Path, a.OID)); err != nil {
			return fmt.Errorf("indexing %s: %w", a.Path, err)
		}
	}
	for _, m := range d.Modified {
		if err := tx.PutIndex(storage.NewIndexRow(b.Org, b.Repo, b.Name, m.Path, m.TheirOID)); err != nil {
			return fmt.Errorf("indexing %s: %w", m.Path, err)
		}
	}
	for _, del := range d.Deleted {
		if err := tx.DeleteIndex(b.Org, b.Repo, b.Name, del.Path); err != nil {
			return fmt.Errorf("unindexing %s: %w", del.Path, err)
		}
	}
	return nil
}
