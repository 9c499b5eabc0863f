package repo

import (
	"fmt"

	"relgit/internal/object"
	"relgit/internal/snapshot"
	"relgit/internal/storage"
)

func commitFromRow(row storage.CommitRow, codec snapshot.Codec) (*object.Commit, error) {
	t, err := codec.Decode(row.Tree)
	if err != nil {
		return nil, fmt.Errorf("decoding tree of commit %s: %w", row.OID, err)
	}
	if t.OID != row.TreeOID {
		return nil, fmt.Errorf("commit %s: stored tree %s does not match %s", row.OID, t.OID, row.TreeOID)
	}
	return &object.Commit{
		OID:     row.OID,
		Message: row.Message,
		Tree:    t,
		Parents: row.Parents,
	}, nil
}

func commitToRow(c *object.Commit, codec snapshot.Codec) (storage.CommitRow, error) {
	data, err := codec.Encode(c.Tree)
	if err != nil {
		return storage.CommitRow{}, fmt.Errorf("encoding tree of commit %s: %w", c.OID, err)
	}
	parents := c.Parents
	if parents == nil {
		parents = []string{}
	}
	return storage.CommitRow{
		OID:     c.OID,
		Message: c.Message,
		TreeOID: c.TreeOID(),
		Parents: parents,
		Tree:    data,
	}, nil
}

func blobFromRow(row storage.BlobRow) *object.Blob {
	return &object.Blob{OID: row.OID, Content: row.Content}
}

func blobToRow(b *object.Blob) storage.BlobRow {
	return storage.BlobRow{OID: b.OID, Content: b.Content}
}

func repoFromRow(s *Store, row storage.RepoRow) *Repo {
	return &Repo{
		Org:       row.Org,
		Name:      row.Repo,
		Remote:    row.Remote,
		CreatedAt: row.CreatedAt,
		store:     s,
	}
}

func branchFromRow(s *Store, row storage.BranchRow) *Branch {
	return &Branch{
		Org:       row.Org,
		Repo:      row.Repo,
		Name:      row.Name,
		CommitOID: row.CommitOID,
		store:     s,
	}
}

func branchToRow(b *Branch) storage.BranchRow {
	return storage.BranchRow{Org: b.Org, Repo: b.Repo, Name: b.Name, CommitOID: b.CommitOID}
}

func entryFromRow(row storage.IndexRow) IndexEntry {
	return IndexEntry{Path: row.Path, Dir: row.Dir, BlobOID: row.BlobOID}
}
