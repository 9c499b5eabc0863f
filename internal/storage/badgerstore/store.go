// internal/storage/badgerstore/store.go
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"relgit/internal/storage"

	"github.com/dgraph-io/badger/v4"
)

const (
	prefixBlob   = "blob"
	prefixCommit = "commit"
	prefixRepo   = "repo"
	prefixBranch = "branch"
	prefixIndex  = "index"
)

// sep joins the parts of composite ids. NUL sorts before every printable
// byte, so index keys order by (dir, path).
const sep = "\x00"

// Store is a storage.Backend on top of BadgerDB. Every table lives under
// its own key prefix with JSON encoded values.
type Store struct {
	db *badger.DB
}

var _ storage.Backend = (*Store)(nil)

func New(db *badger.DB) *Store {
	return &Store{db: db}
}

// Open opens (or creates) a database at path. inMemory ignores path.
func Open(path string, inMemory bool) (*Store, error) {
	opts := badger.DefaultOptions(path)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil // Disable logging noise

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return New(db), nil
}

func (s *Store) Update(ctx context.Context, fn func(storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return fn(&tx{txn: txn})
	})
}

func (s *Store) View(ctx context.Context, fn func(storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		return fn(&tx{txn: txn})
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying database.
func (s *Store) DB() *badger.DB {
	return s.db
}

type tx struct {
	txn *badger.Txn
}

func makeKey(prefix string, parts ...string) []byte {
	return []byte(prefix + ":" + strings.Join(parts, sep))
}

func (t *tx) get(key []byte, v any) error {
	item, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return storage.ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func (t *tx) set(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", key, err)
	}
	return t.txn.Set(key, data)
}

// setIfAbsent writes v unless key already exists.
func (t *tx) setIfAbsent(key []byte, v any) error {
	_, err := t.txn.Get(key)
	if err == nil {
		return nil
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	return t.set(key, v)
}

// scan calls fn with every key and value under prefix, in key order.
func (t *tx) scan(prefix []byte, fn func(key, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		err := item.Value(func(val []byte) error {
			return fn(key, val)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func scanJSON[T any](t *tx, prefix []byte) ([]T, error) {
	var rows []T
	err := t.scan(prefix, func(_, val []byte) error {
		var row T
		if err := json.Unmarshal(val, &row); err != nil {
			return err
		}
		rows = append(rows, row)
		return nil
	})
	return rows, err
}

func (t *tx) InsertBlob(row storage.BlobRow) error {
	return t.setIfAbsent(makeKey(prefixBlob, row.OID), row)
}

func (t *tx) GetBlob(oid string) (storage.BlobRow, error) {
	var row storage.BlobRow
	err := t.get(makeKey(prefixBlob, oid), &row)
	return row, err
}

func (t *tx) InsertCommit(row storage.CommitRow) error {
	return t.setIfAbsent(makeKey(prefixCommit, row.OID), row)
}

func (t *tx) GetCommit(oid string) (storage.CommitRow, error) {
	var row storage.CommitRow
	err := t.get(makeKey(prefixCommit, oid), &row)
	return row, err
}

func (t *tx) PutRepo(row storage.RepoRow) error {
	return t.set(makeKey(prefixRepo, row.Org, row.Repo), row)
}

func (t *tx) GetRepo(org, repo string) (storage.RepoRow, error) {
	var row storage.RepoRow
	err := t.get(makeKey(prefixRepo, org, repo), &row)
	return row, err
}

func (t *tx) ListRepos() ([]storage.RepoRow, error) {
	return scanJSON[storage.RepoRow](t, []byte(prefixRepo+":"))
}

func (t *tx) PutBranch(row storage.BranchRow) error {
	return t.set(makeKey(prefixBranch, row.Org, row.Repo, row.Name), row)
}

func (t *tx) GetBranch(org, repo, name string) (storage.BranchRow, error) {
	var row storage.BranchRow
	err := t.get(makeKey(prefixBranch, org, repo, name), &row)
	return row, err
}

func (t *tx) ListBranches(org, repo string) ([]storage.BranchRow, error) {
	return scanJSON[storage.BranchRow](t, makeKey(prefixBranch, org, repo, ""))
}

func indexKey(org, repo, branch, path string) []byte {
	return makeKey(prefixIndex, org, repo, branch, storage.DirOf(path), path)
}

func (t *tx) PutIndex(row storage.IndexRow) error {
	row.Dir = storage.DirOf(row.Path)
	return t.set(indexKey(row.Org, row.Repo, row.Branch, row.Path), row)
}

func (t *tx) DeleteIndex(org, repo, branch, path string) error {
	return t.txn.Delete(indexKey(org, repo, branch, path))
}

func (t *tx) GetIndex(org, repo, branch, path string) (storage.IndexRow, error) {
	var row storage.IndexRow
	err := t.get(indexKey(org, repo, branch, path), &row)
	return row, err
}

func (t *tx) ListIndex(q storage.IndexQuery) ([]storage.IndexRow, error) {
	prefix := makeKey(prefixIndex, q.Org, q.Repo, q.Branch, "")
	if !q.Recursive {
		prefix = makeKey(prefixIndex, q.Org, q.Repo, q.Branch, q.Dir, "")
	}

	var rows []storage.IndexRow
	skipped := 0
	stop := errors.New("stop")
	err := t.scan(prefix, func(_, val []byte) error {
		var row storage.IndexRow
		if err := json.Unmarshal(val, &row); err != nil {
			return err
		}
		if !q.InDir(row) {
			return nil
		}
		if skipped < q.Offset {
			skipped++
			return nil
		}
		rows = append(rows, row)
		if q.Limit > 0 && len(rows) >= q.Limit {
			return stop
		}
		return nil
	})
	if err != nil && err != stop {
		return nil, err
	}
	return rows, nil
}

func (t *tx) ClearIndex(org, repo, branch string) error {
	var keys [][]byte
	err := t.scan(makeKey(prefixIndex, org, repo, branch, ""), func(key, _ []byte) error {
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := t.txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) CopyIndex(org, repo, from, to string) error {
	rows, err := scanJSON[storage.IndexRow](t, makeKey(prefixIndex, org, repo, from, ""))
	if err != nil {
		return err
	}
	for _, row := range rows {
		row.Branch = to
		if err := t.PutIndex(row); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) Dump() (*storage.Dump, error) {
	d := &storage.Dump{}
	var err error
	if d.Repos, err = scanJSON[storage.RepoRow](t, []byte(prefixRepo+":")); err != nil {
		return nil, fmt.Errorf("dumping repos: %w", err)
	}
	if d.Branches, err = scanJSON[storage.BranchRow](t, []byte(prefixBranch+":")); err != nil {
		return nil, fmt.Errorf("dumping branches: %w", err)
	}
	if d.Commits, err = scanJSON[storage.CommitRow](t, []byte(prefixCommit+":")); err != nil {
		return nil, fmt.Errorf("dumping commits: %w", err)
	}
	if d.Blobs, err = scanJSON[storage.BlobRow](t, []byte(prefixBlob+":")); err != nil {
		return nil, fmt.Errorf("dumping blobs: %w", err)
	}
	if d.Index, err = scanJSON[storage.IndexRow](t, []byte(prefixIndex+":")); err != nil {
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
		if err := t.set(makeKey(prefixBlob, r.OID), r); err != nil {
			return err
		}
	}
	for _, r := range d.Commits {
		if err := t.set(makeKey(prefixCommit, r.OID), r); err != nil {
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
