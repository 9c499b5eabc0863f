// Package tree implements path-indexed reads and copy-on-write edits over
// object.Tree values. Edits clone only the nodes on the edited path and
// rehash them; every other subtree is shared with the input, which stays
// untouched.
package tree

import (
	"fmt"
	"strings"

	verr "relgit/internal/errors"
	"relgit/internal/hashing"
	"relgit/internal/object"
)

// Leaf is a blob reachable from a tree, addressed by its full path.
type Leaf struct {
	Path string
	Mode string
	OID  string
}

// Split normalises p into its segments. Leading, trailing and repeated
// slashes are ignored; "." and ".." are rejected.
func Split(p string) ([]string, error) {
	var segs []string
	for _, s := range strings.Split(p, "/") {
		switch s {
		case "":
			continue
		case ".", "..":
			return nil, verr.ValidationError(fmt.Sprintf("invalid path %q", p), nil)
		}
		segs = append(segs, s)
	}
	if len(segs) == 0 {
		return nil, verr.ValidationError("empty path", nil)
	}
	return segs, nil
}

// Clean returns the canonical form of p.
func Clean(p string) (string, error) {
	segs, err := Split(p)
	if err != nil {
		return "", err
	}
	return strings.Join(segs, "/"), nil
}

// Read descends path and returns the entry at its end, or nil when any
// segment is missing.
func Read(t *object.Tree, path string) *object.TreeEntry {
	segs, err := Split(path)
	if err != nil {
		return nil
	}
	cur := t
	for i, s := range segs {
		e := cur.Entry(s)
		if e == nil {
			return nil
		}
		if i == len(segs)-1 {
			return e
		}
		if !e.IsTree() {
			return nil
		}
		cur = e.Tree
	}
	return nil
}

// ReadBlob is Read restricted to blob entries.
func ReadBlob(t *object.Tree, path string) *object.TreeEntry {
	e := Read(t, path)
	if e == nil || e.IsTree() {
		return nil
	}
	return e
}

// Update returns a copy of t with path pointing at blobOID. Missing
// intermediate directories are created; a blob standing where a directory is
// needed is replaced by one, and so is a directory standing at path. A blob
// already at path keeps its mode.
func Update(h hashing.Provider, t *object.Tree, path, blobOID string) (*object.Tree, error) {
	segs, err := Split(path)
	if err != nil {
		return nil, err
	}
	if t == nil {
		t = object.EmptyTree(h)
	}
	return update(h, t, segs, 0, blobOID), nil
}

func update(h hashing.Provider, t *object.Tree, segs []string, depth int, blobOID string) *object.Tree {
	name := segs[depth]
	path := strings.Join(segs[:depth+1], "/")

	var next *object.TreeEntry
	if depth == len(segs)-1 {
		mode := object.ModeBlob
		if e := t.Entry(name); e != nil && !e.IsTree() && e.Mode != "" {
			mode = e.Mode
		}
		next = &object.TreeEntry{
			Name: name,
			Path: path,
			Mode: mode,
			Type: object.TypeBlob,
			OID:  blobOID,
		}
	} else {
		child := &object.Tree{Path: path}
		if e := t.Entry(name); e != nil && e.IsTree() {
			child = e.Tree
		}
		sub := update(h, child, segs, depth+1, blobOID)
		next = &object.TreeEntry{
			Name: name,
			Path: path,
			Mode: object.ModeTree,
			Type: object.TypeTree,
			OID:  sub.OID,
			Tree: sub,
		}
	}

	return object.NewTree(h, t.Path, replace(t.Entries, next))
}

// Nested reports whether one of a and b is a directory above the other.
// Update at either path replaces the entry at the other one in place, so a
// deletion nested with a write in the same commit is already applied.
func Nested(a, b string) bool {
	return strings.HasPrefix(b, a+"/") || strings.HasPrefix(a, b+"/")
}

// Remove returns a copy of t without the entry at path. Directories left
// empty by the removal are dropped as well.
func Remove(h hashing.Provider, t *object.Tree, path string) (*object.Tree, error) {
	segs, err := Split(path)
	if err != nil {
		return nil, err
	}
	out, err := remove(h, t, segs, 0)
	if err != nil {
		return nil, verr.PathNotFound(strings.Join(segs, "/"))
	}
	return out, nil
}

var errMissing = fmt.Errorf("missing segment")

func remove(h hashing.Provider, t *object.Tree, segs []string, depth int) (*object.Tree, error) {
	name := segs[depth]
	e := t.Entry(name)
	if e == nil {
		return nil, errMissing
	}

	if depth == len(segs)-1 {
		return object.NewTree(h, t.Path, without(t.Entries, name)), nil
	}
	if !e.IsTree() {
		return nil, errMissing
	}

	sub, err := remove(h, e.Tree, segs, depth+1)
	if err != nil {
		return nil, err
	}
	if sub.Len() == 0 {
		return object.NewTree(h, t.Path, without(t.Entries, name)), nil
	}
	next := &object.TreeEntry{
		Name: e.Name,
		Path: e.Path,
		Mode: e.Mode,
		Type: object.TypeTree,
		OID:  sub.OID,
		Tree: sub,
	}
	return object.NewTree(h, t.Path, replace(t.Entries, next)), nil
}

// Flatten lists every blob under t, depth first in iteration order.
func Flatten(t *object.Tree) []Leaf {
	var leaves []Leaf
	Walk(t, func(e *object.TreeEntry) {
		leaves = append(leaves, Leaf{Path: e.Path, Mode: e.Mode, OID: e.OID})
	})
	return leaves
}

// Walk calls fn for each blob entry under t.
func Walk(t *object.Tree, fn func(*object.TreeEntry)) {
	if t == nil {
		return
	}
	for _, e := range t.Entries {
		if e.IsTree() {
			Walk(e.Tree, fn)
			continue
		}
		fn(e)
	}
}

// Build creates a tree holding leaves, inserted in the given order.
func Build(h hashing.Provider, leaves []Leaf) (*object.Tree, error) {
	t := object.EmptyTree(h)
	for _, l := range leaves {
		next, err := Update(h, t, l.Path, l.OID)
		if err != nil {
			return nil, err
		}
		if l.Mode != "" && l.Mode != object.ModeBlob {
			next = withMode(h, next, l.Path, l.Mode)
		}
		t = next
	}
	return t, nil
}

// withMode rewrites the mode of the blob at path; used for imported
// executables and symlinks whose git mode is not 100644.
func withMode(h hashing.Provider, t *object.Tree, path, mode string) *object.Tree {
	segs, _ := Split(path)
	var rec func(t *object.Tree, depth int) *object.Tree
	rec = func(t *object.Tree, depth int) *object.Tree {
		e := t.Entry(segs[depth])
		next := *e
		if depth == len(segs)-1 {
			next.Mode = mode
		} else {
			next.Tree = rec(e.Tree, depth+1)
			next.OID = next.Tree.OID
		}
		return object.NewTree(h, t.Path, replace(t.Entries, &next))
	}
	return rec(t, 0)
}

// replace swaps the entry with e's name for e, or appends e.
func replace(entries []*object.TreeEntry, e *object.TreeEntry) []*object.TreeEntry {
	out := make([]*object.TreeEntry, 0, len(entries)+1)
	found := false
	for _, cur := range entries {
		if cur.Name == e.Name {
			out = append(out, e)
			found = true
			continue
		}
		out = append(out, cur)
	}
	if !found {
		out = append(out, e)
	}
	return out
}

func without(entries []*object.TreeEntry, name string) []*object.TreeEntry {
	out := make([]*object.TreeEntry, 0, len(entries))
	for _, cur := range entries {
		if cur.Name != name {
			out = append(out, cur)
		}
	}
	return out
}
