package object

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"relgit/internal/hashing"
)

// NewBlob hashes content into a Blob.
func NewBlob(h hashing.Provider, content []byte) *Blob {
	if content == nil {
		content = []byte{}
	}
	return &Blob{OID: h.HashBlob(content), Content: content}
}

// TreePayload is the byte string a tree's OID is computed from, before the
// "tree <len>\0" envelope: each entry as mode SP name NUL rawOID.
func TreePayload(t *Tree) []byte {
	var buf bytes.Buffer
	for _, e := range t.Entries {
		buf.WriteString(e.Mode)
		buf.WriteByte(' ')
		buf.WriteString(e.Name)
		buf.WriteByte(0)
		buf.Write(rawOID(e.OID))
	}
	return buf.Bytes()
}

// HashTree computes the OID of t from its entries alone.
func HashTree(h hashing.Provider, t *Tree) string {
	return h.Hash(hashing.Envelope("tree", TreePayload(t)))
}

// CommitPayload is "tree <treeOID>\n\n<message>".
func CommitPayload(treeOID, message string) []byte {
	return []byte(fmt.Sprintf("tree %s\n\n%s", treeOID, message))
}

// HashCommit derives a commit OID from its tree OID and message. Parents are
// deliberately not part of it: replaying an edit on another replica must
// reproduce the same OID.
func HashCommit(h hashing.Provider, treeOID, message string) string {
	return h.Hash(hashing.Envelope("commit", CommitPayload(treeOID, message)))
}

// NewTree builds a tree at path from entries and hashes it.
func NewTree(h hashing.Provider, path string, entries []*TreeEntry) *Tree {
	t := &Tree{Path: path, Entries: entries}
	t.OID = HashTree(h, t)
	return t
}

// EmptyTree is the tree of a repository with no files.
func EmptyTree(h hashing.Provider) *Tree {
	return NewTree(h, "", nil)
}

// NewCommit builds a commit and derives its OID.
func NewCommit(h hashing.Provider, t *Tree, message string, parents []string) *Commit {
	return &Commit{
		OID:     HashCommit(h, t.OID, message),
		Message: message,
		Tree:    t,
		Parents: append([]string(nil), parents...),
	}
}

func rawOID(oid string) []byte {
	raw, err := hex.DecodeString(oid)
	if err != nil {
		return []byte(oid)
	}
	return raw
}
