// Package sqlstore is a storage.Backend on SQLite. The working index lives in
// the blobs_to_branches table.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"relgit/internal/storage"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

type Store struct {
	db *sql.DB
}

var _ storage.Backend = (*Store)(nil)

// Open opens the database at path, or a private in-memory database when
// inMemory is set, and migrates it to the current schema.
func Open(ctx context.Context, path string, inMemory bool) (*Store, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	if inMemory {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases
	// alive across calls.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Update(ctx context.Context, fn func(storage.Tx) error) error {
	return s.run(ctx, fn)
}

func (s *Store) View(ctx context.Context, fn func(storage.Tx) error) error {
	return s.run(ctx, fn)
}

func (s *Store) run(ctx context.Context, fn func(storage.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(sqlTx)

	if err := fn(&tx{ctx: ctx, tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func rollback(tx *sql.Tx) { _ = tx.Rollback() }

type tx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *tx) exec(query string, args ...any) error {
	_, err := t.tx.ExecContext(t.ctx, query, args...)
	return err
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

func (t *tx) InsertBlob(row storage.BlobRow) error {
	content := row.Content
	if content == nil {
		content = []byte{}
	}
	return t.exec(`INSERT OR IGNORE INTO blobs (oid, content) VALUES (?, ?)`, row.OID, content)
}

func (t *tx) GetBlob(oid string) (storage.BlobRow, error) {
	row := storage.BlobRow{OID: oid}
	err := t.tx.QueryRowContext(t.ctx, `SELECT content FROM blobs WHERE oid = ?`, oid).Scan(&row.Content)
	return row, notFound(err)
}

func (t *tx) insertCommit(verb string, row storage.CommitRow) error {
	parents, err := json.Marshal(row.Parents)
	if err != nil {
		return err
	}
	return t.exec(verb+` INTO commits (oid, message, tree_oid, parents, tree) VALUES (?, ?, ?, ?, ?)`,
		row.OID, row.Message, row.TreeOID, string(parents), row.Tree)
}

func (t *tx) InsertCommit(row storage.CommitRow) error {
	return t.insertCommit("INSERT OR IGNORE", row)
}

func (t *tx) GetCommit(oid string) (storage.CommitRow, error) {
	rows, err := t.queryCommits(`WHERE oid = ?`, oid)
	if err != nil {
		return storage.CommitRow{}, err
	}
	if len(rows) == 0 {
		return storage.CommitRow{}, storage.ErrNotFound
	}
	return rows[0], nil
}

func (t *tx) queryCommits(where string, args ...any) ([]storage.CommitRow, error) {
	rs, err := t.tx.QueryContext(t.ctx, `SELECT oid, message, tree_oid, parents, tree FROM commits `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	var out []storage.CommitRow
	for rs.Next() {
		var (
			row     storage.CommitRow
			parents string
		)
		if err := rs.Scan(&row.OID, &row.Message, &row.TreeOID, &parents, &row.Tree); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(parents), &row.Parents); err != nil {
			return nil, fmt.Errorf("decoding parents of %s: %w", row.OID, err)
		}
		out = append(out, row)
	}
	return out, rs.Err()
}

func (t *tx) PutRepo(row storage.RepoRow) error {
	return t.exec(`INSERT OR REPLACE INTO repos (org, repo, remote, created_at) VALUES (?, ?, ?, ?)`,
		row.Org, row.Repo, row.Remote, row.CreatedAt.UTC().Format(time.RFC3339Nano))
}

func (t *tx) GetRepo(org, repo string) (storage.RepoRow, error) {
	rows, err := t.queryRepos(`WHERE org = ? AND repo = ?`, org, repo)
	if err != nil {
		return storage.RepoRow{}, err
	}
	if len(rows) == 0 {
		return storage.RepoRow{}, storage.ErrNotFound
	}
	return rows[0], nil
}

func (t *tx) ListRepos() ([]storage.RepoRow, error) {
	return t.queryRepos(`ORDER BY org, repo`)
}

func (t *tx) queryRepos(where string, args ...any) ([]storage.RepoRow, error) {
	rs, err := t.tx.QueryContext(t.ctx, `SELECT org, repo, remote, created_at FROM repos `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	var out []storage.RepoRow
	for rs.Next() {
		var (
			row     storage.RepoRow
			created string
		)
		if err := rs.Scan(&row.Org, &row.Repo, &row.Remote, &created); err != nil {
			return nil, err
		}
		if row.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("decoding created_at of %s/%s: %w", row.Org, row.Repo, err)
		}
		out = append(out, row)
	}
	return out, rs.Err()
}

func (t *tx) PutBranch(row storage.BranchRow) error {
	return t.exec(`INSERT OR REPLACE INTO branches (org, repo, name, commit_oid) VALUES (?, ?, ?, ?)`,
		row.Org, row.Repo, row.Name, row.CommitOID)
}

func (t *tx) GetBranch(org, repo, name string) (storage.BranchRow, error) {
	row := storage.BranchRow{Org: org, Repo: repo, Name: name}
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT commit_oid FROM branches WHERE org = ? AND repo = ? AND name = ?`,
		org, repo, name,
	).Scan(&row.CommitOID)
	return row, notFound(err)
}

func (t *tx) ListBranches(org, repo string) ([]storage.BranchRow, error) {
	rs, err := t.tx.QueryContext(t.ctx,
		`SELECT name, commit_oid FROM branches WHERE org = ? AND repo = ? ORDER BY name`, org, repo)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	var out []storage.BranchRow
	for rs.Next() {
		row := storage.BranchRow{Org: org, Repo: repo}
		if err := rs.Scan(&row.Name, &row.CommitOID); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rs.Err()
}

func (t *tx) PutIndex(row storage.IndexRow) error {
	return t.exec(`INSERT OR REPLACE INTO blobs_to_branches (org, repo, branch, dir, path, blob_oid) VALUES (?, ?, ?, ?, ?, ?)`,
		row.Org, row.Repo, row.Branch, storage.DirOf(row.Path), row.Path, row.BlobOID)
}

func (t *tx) DeleteIndex(org, repo, branch, path string) error {
	return t.exec(`DELETE FROM blobs_to_branches WHERE org = ? AND repo = ? AND branch = ? AND path = ?`,
		org, repo, branch, path)
}

func (t *tx) GetIndex(org, repo, branch, path string) (storage.IndexRow, error) {
	rows, err := t.queryIndex(`WHERE org = ? AND repo = ? AND branch = ? AND path = ?`, org, repo, branch, path)
	if err != nil {
		return storage.IndexRow{}, err
	}
	if len(rows) == 0 {
		return storage.IndexRow{}, storage.ErrNotFound
	}
	return rows[0], nil
}

func (t *tx) ListIndex(q storage.IndexQuery) ([]storage.IndexRow, error) {
	var (
		where strings.Builder
		args  = []any{q.Org, q.Repo, q.Branch}
	)
	where.WriteString(`WHERE org = ? AND repo = ? AND branch = ?`)
	switch {
	case !q.Recursive:
		where.WriteString(` AND dir = ?`)
		args = append(args, q.Dir)
	case q.Dir != "":
		// substr and length both count characters, not bytes.
		prefix := q.Dir + "/"
		where.WriteString(` AND (dir = ? OR substr(dir, 1, length(?)) = ?)`)
		args = append(args, q.Dir, prefix, prefix)
	}
	where.WriteString(` ORDER BY dir, path`)
	if q.Limit > 0 || q.Offset > 0 {
		limit := q.Limit
		if limit <= 0 {
			limit = -1
		}
		where.WriteString(` LIMIT ? OFFSET ?`)
		args = append(args, limit, q.Offset)
	}
	return t.queryIndex(where.String(), args...)
}

func (t *tx) queryIndex(where string, args ...any) ([]storage.IndexRow, error) {
	rs, err := t.tx.QueryContext(t.ctx,
		`SELECT org, repo, branch, dir, path, blob_oid FROM blobs_to_branches `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	var out []storage.IndexRow
	for rs.Next() {
		var row storage.IndexRow
		if err := rs.Scan(&row.Org, &row.Repo, &row.Branch, &row.Dir, &row.Path, &row.BlobOID); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rs.Err()
}

func (t *tx) ClearIndex(org, repo, branch string) error {
	return t.exec(`DELETE FROM blobs_to_branches WHERE org = ? AND repo = ? AND branch = ?`, org, repo, branch)
}

func (t *tx) CopyIndex(org, repo, from, to string) error {
	return t.exec(`INSERT OR REPLACE INTO blobs_to_branches (org, repo, branch, dir, path, blob_oid)
		SELECT org, repo, ?, dir, path, blob_oid FROM blobs_to_branches
		WHERE org = ? AND repo = ? AND branch = ?`, to, org, repo, from)
}

func (t *tx) Dump() (*storage.Dump, error) {
	d := &storage.Dump{}
	var err error
	if d.Repos, err = t.ListRepos(); err != nil {
		return nil, fmt.Errorf("dumping repos: %w", err)
	}

	rs, err := t.tx.QueryContext(t.ctx, `SELECT org, repo, name, commit_oid FROM branches ORDER BY org, repo, name`)
	if err != nil {
		return nil, fmt.Errorf("dumping branches: %w", err)
	}
	for rs.Next() {
		var row storage.BranchRow
		if err := rs.Scan(&row.Org, &row.Repo, &row.Name, &row.CommitOID); err != nil {
			rs.Close()
			return nil, err
		}
		d.Branches = append(d.Branches, row)
	}
	rs.Close()
	if err := rs.Err(); err != nil {
		return nil, err
	}

	if d.Commits, err = t.queryCommits(`ORDER BY oid`); err != nil {
		return nil, fmt.Errorf("dumping commits: %w", err)
	}

	brs, err := t.tx.QueryContext(t.ctx, `SELECT oid, content FROM blobs ORDER BY oid`)
	if err != nil {
		return nil, fmt.Errorf("dumping blobs: %w", err)
	}
	for brs.Next() {
		var row storage.BlobRow
		if err := brs.Scan(&row.OID, &row.Content); err != nil {
			brs.Close()
			return nil, err
		}
		d.Blobs = append(d.Blobs, row)
	}
	brs.Close()
	if err := brs.Err(); err != nil {
		return nil, err
	}

	if d.Index, err = t.queryIndex(`ORDER BY org, repo, branch, dir, path`); err != nil {
		return nil, fmt.Errorf("dumping index: %w", err)
	}
	return d, nil
}

func (t *tx) Load(d *storage.Dump) error {
	for _, r := range d.Repos {
		if err := t.PutRepo(r); err != nil {
			return err
		}
	}
	for _, r := range d.Blobs {
		content := r.Content
		if content == nil {
			content = []byte{}
		}
		if err := t.exec(`INSERT OR REPLACE INTO blobs (oid, content) VALUES (?, ?)`, r.OID, content); err != nil {
			return err
		}
	}
	for _, r := range d.Commits {
		if err := t.insertCommit("INSERT OR REPLACE", r); err != nil {
			return err
		}
	}
	for _, r := range d.Branches {
		if err := t.PutBranch(r); err != nil {
			return err
		}
	}
	for _, r := range d.Index {
		if err := t.PutIndex(r); err != nil {
			return err
		}
	}
	return nil
}
