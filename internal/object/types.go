// Package object defines the content-addressed Blob, Tree and Commit values
// and the rules that derive their object identifiers.
//
// Trees and commits are immutable once built. Code that needs a different
// tree builds a new one (see package tree); a *Tree reachable from a commit
// is never written to.
package object

const (
	ModeBlob = "100644"
	ModeTree = "40000"
)

// EntryType tags a tree entry as a nested tree or a blob reference.
type EntryType string

const (
	TypeBlob EntryType = "blob"
	TypeTree EntryType = "tree"
)

type Blob struct {
	OID     string `json:"oid"`
	Content []byte `json:"content"`
}

// TreeEntry is one named child of a Tree. Tree is set only for TypeTree.
type TreeEntry struct {
	Name string    `json:"name"`
	Path string    `json:"path"`
	Mode string    `json:"mode"`
	Type EntryType `json:"type"`
	OID  string    `json:"oid"`
	Tree *Tree     `json:"tree,omitempty"`
}

func (e *TreeEntry) IsTree() bool { return e.Type == TypeTree }

// Tree keeps its entries in insertion order. The order is part of the hash.
type Tree struct {
	OID     string       `json:"oid"`
	Path    string       `json:"path"`
	Entries []*TreeEntry `json:"entries"`
}

// Entry returns the child called name, or nil.
func (t *Tree) Entry(name string) *TreeEntry {
	if t == nil {
		return nil
	}
	for _, e := range t.Entries {
		if e.Name == name {
			return e
		}
	}
	return nil
}

func (t *Tree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Entries)
}

type Commit struct {
	OID     string   `json:"oid"`
	Message string   `json:"message"`
	Tree    *Tree    `json:"tree"`
	Parents []string `json:"parents"`
}

func (c *Commit) TreeOID() string {
	if c.Tree == nil {
		return ""
	}
	return c.Tree.OID
}

// Parent returns the first parent, or "" for a root commit.
func (c *Commit) Parent() string {
	if len(c.Parents) == 0 {
		return ""
	}
	return c.Parents[0]
}

func (c *Commit) IsMerge() bool { return len(c.Parents) > 1 }
