// Package syncer reconciles two replicas of a branch by exchanging
// changesets: one per commit, carrying the path edits against its first
// parent and the content of every blob it introduces.
package syncer

import (
	"context"

	"relgit/internal/diff"
	verr "relgit/internal/errors"
	"relgit/internal/repo"
)

type Direction string

const (
	Unknown Direction = "unknown"
	// Ahead: this side has commits the other side lacks.
	Ahead Direction = "ahead"
	// Behind: the other side has commits this side lacks.
	Behind Direction = "behind"
	InSync Direction = "inSync"
)

// Changeset is one commit in transferable form.
type Changeset struct {
	OID      string          `json:"oid"`
	Message  string          `json:"message"`
	Parents  []string        `json:"parents"`
	TreeOID  string          `json:"treeOid"`
	Added    []diff.Added    `json:"added"`
	Modified []diff.Modified `json:"modified"`
	Deleted  []diff.Deleted  `json:"deleted"`
	// Blobs holds the content of every added or modified OID.
	Blobs map[string][]byte `json:"blobs"`
}

// Result of direction detection. Changes are ancestor first.
type Result struct {
	Direction Direction   `json:"direction"`
	Changes   []Changeset `json:"changes"`
	// Base, when set, is the head the changes were computed against.
	// SyncChanges fails with NoSync if the branch has moved since.
	Base string `json:"base,omitempty"`
}

// ChangesFunc asks the other replica for its changesets since oid. An empty
// answer means oid is not in its history, or it has nothing newer.
type ChangesFunc func(ctx context.Context, sinceOID string) ([]Changeset, error)

// Edits lists the path changes of cs in replay order: additions,
// modifications, then deletions. Deletions replaced by an addition (a blob
// that became a directory, or the reverse) are left out.
func (cs *Changeset) Edits() ([]repo.Edit, error) {
	d := cs.diff()
	edits := make([]repo.Edit, 0, len(cs.Added)+len(cs.Modified)+len(cs.Deleted))
	for _, a := range cs.Added {
		content, ok := cs.Blobs[a.OID]
		if !ok {
			return nil, verr.DanglingBlob(a.OID)
		}
		edits = append(edits, repo.Edit{Path: a.Path, Content: content})
	}
	for _, m := range cs.Modified {
		content, ok := cs.Blobs[m.TheirOID]
		if !ok {
			return nil, verr.DanglingBlob(m.TheirOID)
		}
		edits = append(edits, repo.Edit{Path: m.Path, Content: content})
	}
	for _, del := range cs.Deleted {
		if d.Replaced(del.Path) {
			continue
		}
		edits = append(edits, repo.Edit{Path: del.Path, Delete: true})
	}
	return edits, nil
}

func (cs *Changeset) diff() *diff.TreeDiff {
	return &diff.TreeDiff{Added: cs.Added, Modified: cs.Modified, Deleted: cs.Deleted}
}

func (cs *Changeset) Empty() bool {
	return len(cs.Added) == 0 && len(cs.Modified) == 0 && len(cs.Deleted) == 0
}
