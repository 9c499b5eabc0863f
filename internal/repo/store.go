// Package repo implements the persisted entities of the engine: repos,
// branches and the commits they point at. Every write runs as a single
// storage transaction that inserts blobs, writes the commit, moves the
// branch pointer and updates the working index together.
package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	verr "relgit/internal/errors"
	"relgit/internal/hashing"
	"relgit/internal/logging"
	"relgit/internal/metrics"
	"relgit/internal/object"
	"relgit/internal/snapshot"
	"relgit/internal/storage"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const defaultCacheSize = 256

// Options configures a Store. Zero values pick the defaults.
type Options struct {
	Hasher    hashing.Provider
	Codec     snapshot.Codec
	CacheSize int // decoded commits kept in memory
	Logger    *logging.Logger
	Metrics   *metrics.Metrics
}

// Store is the entry point to every repo of one storage backend.
type Store struct {
	backend storage.Backend
	hasher  hashing.Provider
	codec   snapshot.Codec
	commits *lru.Cache[string, *object.Commit]
	logger  *logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewStore(backend storage.Backend, opts Options) (*Store, error) {
	if opts.Hasher == nil {
		opts.Hasher = hashing.Native{}
	}
	if opts.Codec == nil {
		opts.Codec = snapshot.Default()
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}

	cache, err := lru.New[string, *object.Commit](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating commit cache: %w", err)
	}

	return &Store{
		backend: backend,
		hasher:  opts.Hasher,
		codec:   opts.Codec,
		commits: cache,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     time.Now,
	}, nil
}

func (s *Store) Hasher() hashing.Provider { return s.hasher }

// Commit loads a commit with its tree.
func (s *Store) Commit(ctx context.Context, oid string) (*object.Commit, error) {
	var c *object.Commit
	err := s.backend.View(ctx, func(tx storage.Tx) error {
		var err error
		c, err = s.loadCommit(tx, oid)
		return err
	})
	return c, err
}

// Blob loads blob content. A missing blob is reported as a dangling
// reference since callers only ask for OIDs they found in a tree.
func (s *Store) Blob(ctx context.Context, oid string) (*object.Blob, error) {
	var b *object.Blob
	err := s.backend.View(ctx, func(tx storage.Tx) error {
		var err error
		b, err = loadBlob(tx, oid)
		return err
	})
	return b, err
}

// Parents is a merge.ParentsFunc over the whole store.
func (s *Store) Parents(ctx context.Context, oid string) ([]string, error) {
	var ps []string
	err := s.backend.View(ctx, func(tx storage.Tx) error {
		var err error
		ps, err = s.parentsIn(tx)(ctx, oid)
		return err
	})
	return ps, err
}

// Dump exports every table.
func (s *Store) Dump(ctx context.Context) (*storage.Dump, error) {
	var d *storage.Dump
	err := s.backend.View(ctx, func(tx storage.Tx) error {
		var err error
		d, err = tx.Dump()
		return err
	})
	return d, err
}

// Restore loads a dump produced by Dump, replacing rows with the same keys.
func (s *Store) Restore(ctx context.Context, d *storage.Dump) error {
	if err := s.backend.Update(ctx, func(tx storage.Tx) error { return tx.Load(d) }); err != nil {
		return fmt.Errorf("restoring dump: %w", err)
	}
	s.commits.Purge()
	s.logger.Info("restored dump",
		zap.Int("repos", len(d.Repos)),
		zap.Int("branches", len(d.Branches)),
		zap.Int("commits", len(d.Commits)),
		zap.Int("blobs", len(d.Blobs)),
	)
	return nil
}

func (s *Store) loadCommit(tx storage.Tx, oid string) (*object.Commit, error) {
	if c, ok := s.commits.Get(oid); ok {
		return c, nil
	}
	row, err := tx.GetCommit(oid)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, verr.CommitNotFound(oid)
	}
	if err != nil {
		return nil, fmt.Errorf("loading commit %s: %w", oid, err)
	}
	c, err := commitFromRow(row, s.codec)
	if err != nil {
		return nil, err
	}
	// Only rows read back from storage are cached; a freshly built commit
	// may lose an insert-if-absent race to an older one with the same OID.
	s.commits.Add(oid, c)
	return c, nil
}

func (s *Store) putCommit(tx storage.Tx, c *object.Commit) error {
	row, err := commitToRow(c, s.codec)
	if err != nil {
		return err
	}
	if err := tx.InsertCommit(row); err != nil {
		return fmt.Errorf("writing commit %s: %w", c.OID, err)
	}
	return nil
}

func loadBlob(tx storage.Tx, oid string) (*object.Blob, error) {
	row, err := tx.GetBlob(oid)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, verr.DanglingBlob(oid)
	}
	if err != nil {
		return nil, fmt.Errorf("loading blob %s: %w", oid, err)
	}
	return blobFromRow(row), nil
}

// parentsIn returns the parents of a commit that are present in storage.
// Imported commits keep parent OIDs from the source repository whose
// history was never copied; those mark the start of known history.
func (s *Store) parentsIn(tx storage.Tx) func(ctx context.Context, oid string) ([]string, error) {
	return func(ctx context.Context, oid string) ([]string, error) {
		c, err := s.loadCommit(tx, oid)
		if err != nil {
			return nil, err
		}
		known := make([]string, 0, len(c.Parents))
		for _, p := range c.Parents {
			if _, err := s.loadCommit(tx, p); err != nil {
				if errors.Is(err, verr.ErrCommitNotFound) {
					continue
				}
				return nil, err
			}
			known = append(known, p)
		}
		return known, nil
	}
}
