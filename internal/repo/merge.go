package repo

import (
	"context"
	"errors"
	"fmt"

	"relgit/internal/diff"
	verr "relgit/internal/errors"
	"relgit/internal/merge"
	"relgit/internal/object"
	"relgit/internal/tree"

	"go.uber.org/zap"
)

type MergeKind string

const (
	// UpToDate: source is already part of the target's history.
	UpToDate MergeKind = "up_to_date"
	// FastForward: the target pointer moved to the source head.
	FastForward MergeKind = "fast_forward"
	// Merged: a two-parent merge commit was written.
	Merged MergeKind = "merged"
)

type MergeResult struct {
	Kind   MergeKind
	Base   string
	Commit *object.Commit // head of the target afterwards
	Diff   *diff.TreeDiff // what the source changed since Base
}

// Merge brings source's changes into b. A clean line merge is committed;
// any conflicting path aborts the whole merge with ConflictingMerge and
// leaves b untouched.
func (b *Branch) Merge(ctx context.Context, source *Branch) (*MergeResult, error) {
	s := b.store
	res := &MergeResult{}

	err := b.Batch(ctx, func(w *Writer) error {
		srcRow, err := getBranchRow(w.tx, source.Org, source.Repo, source.Name)
		if err != nil {
			return err
		}
		src, err := s.loadCommit(w.tx, srcRow.CommitOID)
		if err != nil {
			return err
		}
		target := w.head

		res.Kind, res.Commit, res.Diff = UpToDate, target, &diff.TreeDiff{}
		if src.OID == target.OID {
			res.Base = target.OID
			return nil
		}

		base, err := merge.FindBase(ctx, s.parentsIn(w.tx), target.OID, src.OID)
		if err != nil {
			return err
		}
		res.Base = base
		if base == src.OID {
			return nil
		}

		baseCommit, err := s.loadCommit(w.tx, base)
		if err != nil {
			return err
		}
		d := diff.FindDiffs(target.Tree, src.Tree, baseCommit.Tree)
		res.Diff = d

		if base == target.OID {
			res.Kind, res.Commit = FastForward, src
			return w.advance(src, false)
		}

		merged, err := b.mergeTrees(w, d, target.Tree)
		if err != nil {
			return err
		}
		msg := fmt.Sprintf("Merge branch '%s' into %s", source.Name, b.Name)
		c := object.NewCommit(s.hasher, merged, msg, []string{target.OID, src.OID})
		res.Kind, res.Commit = Merged, c
		return w.advance(c, true)
	})
	if err != nil {
		if errors.Is(err, verr.ErrConflictingMerge) {
			s.metrics.Conflict()
		}
		return nil, err
	}

	s.metrics.Merged(string(res.Kind))
	s.logger.Info("merged",
		zap.String("target", b.String()),
		zap.String("source", source.String()),
		zap.String("kind", string(res.Kind)),
		zap.String("base", res.Base),
		zap.String("commit", res.Commit.OID),
	)
	return res, nil
}

// mergeTrees applies d onto ours. Paths the target left alone take the
// source's version; paths both sides changed go through a line merge.
func (b *Branch) mergeTrees(w *Writer, d *diff.TreeDiff, ours *object.Tree) (*object.Tree, error) {
	s := b.store
	t := ours

	for _, a := range d.Added {
		oid := a.OID
		if e := tree.Read(ours, a.Path); e != nil && e.IsTree() {
			if err := b.checkReplacedDir(w, d, e.Tree); err != nil {
				return nil, err
			}
		}
		if cur := tree.ReadBlob(ours, a.Path); cur != nil {
			if cur.OID == a.OID {
				continue
			}
			// Added on both sides with different content.
			var err error
			if oid, err = b.mergeText(w, a.Path, "", cur.OID, a.OID); err != nil {
				return nil, err
			}
		} else if _, err := loadBlob(w.tx, oid); err != nil {
			return nil, err
		}
		var err error
		if t, err = tree.Update(s.hasher, t, a.Path, oid); err != nil {
			return nil, err
		}
	}

	for _, m := range d.Modified {
		oid := m.TheirOID
		switch m.OurOID {
		case m.TheirOID:
			continue
		case m.BaseOID:
			if _, err := loadBlob(w.tx, oid); err != nil {
				return nil, err
			}
		case "":
			return nil, b.conflictOnDeleted(w, m.Path, m.TheirOID)
		default:
			var err error
			if oid, err = b.mergeText(w, m.Path, m.BaseOID, m.OurOID, m.TheirOID); err != nil {
				return nil, err
			}
		}
		var err error
		if t, err = tree.Update(s.hasher, t, m.Path, oid); err != nil {
			return nil, err
		}
	}

	for _, del := range d.Deleted {
		switch del.OurOID {
		case "":
			continue
		case del.BaseOID:
		default:
			// Modified here, deleted there.
			ours, err := loadBlob(w.tx, del.OurOID)
			if err != nil {
				return nil, err
			}
			return nil, verr.ConflictingMerge(del.Path, conflictText(string(ours.Content), ""))
		}
		if d.Replaced(del.Path) {
			continue
		}
		var err error
		if t, err = tree.Remove(s.hasher, t, del.Path); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// checkReplacedDir guards a blob the source wrote over a directory. Every
// file ours holds in that directory must be one the source deleted
// unchanged; anything else would be dropped with the directory.
func (b *Branch) checkReplacedDir(w *Writer, d *diff.TreeDiff, dir *object.Tree) error {
	deleted := make(map[string]string, len(d.Deleted))
	for _, del := range d.Deleted {
		deleted[del.Path] = del.BaseOID
	}
	for _, l := range tree.Flatten(dir) {
		if base, ok := deleted[l.Path]; ok && base == l.OID {
			continue
		}
		ours, err := loadBlob(w.tx, l.OID)
		if err != nil {
			return err
		}
		return verr.ConflictingMerge(l.Path, conflictText(string(ours.Content), ""))
	}
	return nil
}

// mergeText line-merges one path and stores the clean result.
func (b *Branch) mergeText(w *Writer, path, baseOID, ourOID, theirOID string) (string, error) {
	var base string
	if baseOID != "" {
		blob, err := loadBlob(w.tx, baseOID)
		if err != nil {
			return "", err
		}
		base = string(blob.Content)
	}
	ours, err := loadBlob(w.tx, ourOID)
	if err != nil {
		return "", err
	}
	theirs, err := loadBlob(w.tx, theirOID)
	if err != nil {
		return "", err
	}

	res := merge.ThreeWay(base, string(ours.Content), string(theirs.Content))
	if !res.Clean {
		return "", verr.ConflictingMerge(path, res.Text)
	}
	blob := object.NewBlob(b.store.hasher, []byte(res.Text))
	if err := w.tx.InsertBlob(blobToRow(blob)); err != nil {
		return "", fmt.Errorf("writing merged blob for %s: %w", path, err)
	}
	return blob.OID, nil
}

// conflictOnDeleted reports a path deleted here but modified there.
func (b *Branch) conflictOnDeleted(w *Writer, path, theirOID string) error {
	theirs, err := loadBlob(w.tx, theirOID)
	if err != nil {
		return err
	}
	return verr.ConflictingMerge(path, conflictText("", string(theirs.Content)))
}

func conflictText(ours, theirs string) string {
	return merge.MarkerOurs + "\n" + ours + ensureNewline(ours) +
		merge.MarkerSep + "\n" + theirs + ensureNewline(theirs) +
		merge.MarkerTheirs + "\n"
}

func ensureNewline(s string) string {
	if s == "" || s[len(s)-1] == '\n' {
		return ""
	}
	return "\n"
}
