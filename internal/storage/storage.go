// Package storage defines the narrow persistence boundary the engine runs
// against. Rows are plain records; conversion to domain entities happens in
// package repo.
package storage

import (
	"context"
	"errors"
	"path"
	"time"
)

// ErrNotFound is returned by point lookups for absent rows.
var ErrNotFound = errors.New("row not found")

type RepoRow struct {
	Org       string    `json:"org"`
	Repo      string    `json:"repo"`
	Remote    string    `json:"remote,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type BranchRow struct {
	Org       string `json:"org"`
	Repo      string `json:"repo"`
	Name      string `json:"name"`
	CommitOID string `json:"commit_oid"`
}

// CommitRow stores a commit with its full encoded tree snapshot.
type CommitRow struct {
	OID     string   `json:"oid"`
	Message string   `json:"message"`
	TreeOID string   `json:"tree_oid"`
	Parents []string `json:"parents"`
	Tree    []byte   `json:"tree"`
}

type BlobRow struct {
	OID     string `json:"oid"`
	Content []byte `json:"content"`
}

// IndexRow is one entry of the working index: the blob a branch holds at
// a path. Dir is the parent directory of Path ("" at the root).
type IndexRow struct {
	Org     string `json:"org"`
	Repo    string `json:"repo"`
	Branch  string `json:"branch"`
	Dir     string `json:"dir"`
	Path    string `json:"path"`
	BlobOID string `json:"blob_oid"`
}

// NewIndexRow fills Dir from path.
func NewIndexRow(org, repo, branch, p, blobOID string) IndexRow {
	return IndexRow{Org: org, Repo: repo, Branch: branch, Dir: DirOf(p), Path: p, BlobOID: blobOID}
}

// DirOf returns the parent directory of p, "" for top-level paths.
func DirOf(p string) string {
	d := path.Dir(p)
	if d == "." || d == "/" {
		return ""
	}
	return d
}

// IndexQuery selects working index rows of one branch.
type IndexQuery struct {
	Org, Repo, Branch string
	// Dir restricts the listing to direct children of Dir. With Recursive
	// set every row at or below Dir is returned.
	Dir       string
	Recursive bool
	Limit     int // 0 means no limit
	Offset    int
}

// Dump is a full export of every table.
type Dump struct {
	Repos    []RepoRow   `json:"repos"`
	Branches []BranchRow `json:"branches"`
	Commits  []CommitRow `json:"commits"`
	Blobs    []BlobRow   `json:"blobs"`
	Index    []IndexRow  `json:"index"`
}

// Tx is a unit of work. Blob and commit inserts are insert-if-absent;
// everything else is insert-or-replace.
type Tx interface {
	InsertBlob(row BlobRow) error
	GetBlob(oid string) (BlobRow, error)

	InsertCommit(row CommitRow) error
	GetCommit(oid string) (CommitRow, error)

	PutRepo(row RepoRow) error
	GetRepo(org, repo string) (RepoRow, error)
	ListRepos() ([]RepoRow, error)

	PutBranch(row BranchRow) error
	GetBranch(org, repo, name string) (BranchRow, error)
	ListBranches(org, repo string) ([]BranchRow, error)

	PutIndex(row IndexRow) error
	DeleteIndex(org, repo, branch, path string) error
	GetIndex(org, repo, branch, path string) (IndexRow, error)
	// ListIndex returns rows ordered by (dir, path).
	ListIndex(q IndexQuery) ([]IndexRow, error)
	// ClearIndex removes every row of a branch.
	ClearIndex(org, repo, branch string) error
	// CopyIndex duplicates every row of branch from under branch to.
	CopyIndex(org, repo, from, to string) error

	Dump() (*Dump, error)
	// Load writes every row of d, replacing existing rows.
	Load(d *Dump) error
}

// Backend runs transactions. fn's writes are committed atomically when it
// returns nil and discarded otherwise.
type Backend interface {
	Update(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
	Close() error
}

// InDir reports whether row belongs to the listing of q.
func (q IndexQuery) InDir(row IndexRow) bool {
	if !q.Recursive {
		return row.Dir == q.Dir
	}
	if q.Dir == "" {
		return true
	}
	return row.Dir == q.Dir || len(row.Dir) > len(q.Dir) && row.Dir[:len(q.Dir)+1] == q.Dir+"/"
}

// Page applies q's offset and limit to rows.
func (q IndexQuery) Page(rows []IndexRow) []IndexRow {
	if q.Offset > 0 {
		if q.Offset >= len(rows) {
			return nil
		}
		rows = rows[q.Offset:]
	}
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	return rows
}
