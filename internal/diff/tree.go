package diff

import (
	"relgit/internal/object"
	"relgit/internal/tree"
)

// Addition of a path that exists in theirs but not in base.
type Added struct {
	Path string `json:"path"`
	OID  string `json:"oid"`
}

// Modified path, present in base and theirs with different OIDs. OurOID is
// empty when ours no longer has the path.
type Modified struct {
	Path     string `json:"path"`
	BaseOID  string `json:"baseOid"`
	TheirOID string `json:"theirOid"`
	OurOID   string `json:"ourOid,omitempty"`
}

// Deleted path, present in base but gone from theirs.
type Deleted struct {
	Path    string `json:"path"`
	BaseOID string `json:"baseOid"`
	OurOID  string `json:"ourOid,omitempty"`
}

// TreeDiff is what theirs changed relative to base, annotated with what ours
// holds at each path. The three lists are disjoint by path.
type TreeDiff struct {
	Added    []Added    `json:"added"`
	Modified []Modified `json:"modified"`
	Deleted  []Deleted  `json:"deleted"`
}

func (d *TreeDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 && len(d.Deleted) == 0
}

func (d *TreeDiff) Len() int {
	return len(d.Added) + len(d.Modified) + len(d.Deleted)
}

// Replaced reports whether the deletion of path is implied by an addition
// of d. When a blob turns into a directory, or the reverse, theirs holds the
// new entry at the old one's position; applying the addition replaces the
// old entry in place and the deletion must be skipped.
func (d *TreeDiff) Replaced(path string) bool {
	for _, a := range d.Added {
		if tree.Nested(a.Path, path) {
			return true
		}
	}
	return false
}

// FindDiffs walks theirs against base for additions and modifications and
// base against theirs for deletions. Subtrees whose OIDs match on both sides
// are skipped without descending.
func FindDiffs(ours, theirs, base *object.Tree) *TreeDiff {
	d := &TreeDiff{}
	walkTheirs(d, ours, theirs, base)
	walkBase(d, ours, theirs, base)
	return d
}

func ourOID(ours *object.Tree, path string) string {
	if e := tree.ReadBlob(ours, path); e != nil {
		return e.OID
	}
	return ""
}

func walkTheirs(d *TreeDiff, ours, theirs, base *object.Tree) {
	if theirs == nil {
		return
	}
	for _, te := range theirs.Entries {
		be := base.Entry(te.Name)

		if te.IsTree() {
			var sub *object.Tree
			if be != nil && be.IsTree() {
				if be.OID == te.OID {
					continue
				}
				sub = be.Tree
			}
			walkTheirs(d, ours, te.Tree, sub)
			continue
		}

		switch {
		case be == nil || be.IsTree():
			d.Added = append(d.Added, Added{Path: te.Path, OID: te.OID})
		case be.OID != te.OID:
			d.Modified = append(d.Modified, Modified{
				Path:     te.Path,
				BaseOID:  be.OID,
				TheirOID: te.OID,
				OurOID:   ourOID(ours, te.Path),
			})
		}
	}
}

func walkBase(d *TreeDiff, ours, theirs, base *object.Tree) {
	if base == nil {
		return
	}
	for _, be := range base.Entries {
		te := theirs.Entry(be.Name)

		if be.IsTree() {
			var sub *object.Tree
			if te != nil && te.IsTree() {
				if te.OID == be.OID {
					continue
				}
				sub = te.Tree
			}
			walkBase(d, ours, sub, be.Tree)
			continue
		}

		if te == nil || te.IsTree() {
			d.Deleted = append(d.Deleted, Deleted{
				Path:    be.Path,
				BaseOID: be.OID,
				OurOID:  ourOID(ours, be.Path),
			})
		}
	}
}
