package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	verr "relgit/internal/errors"
	"relgit/internal/object"
	"relgit/internal/storage"
	"relgit/internal/tree"
	"relgit/internal/validation"

	"go.uber.org/zap"
)

const initialMessage = "Initial commit"

// Repo is the identity of a repository and where it was imported from.
type Repo struct {
	Org       string
	Name      string
	Remote    string
	CreatedAt time.Time

	store *Store
}

func (r *Repo) Branch(ctx context.Context, name string) (*Branch, error) {
	return r.store.GetBranch(ctx, r.Org, r.Name, name)
}

func (r *Repo) Branches(ctx context.Context) ([]*Branch, error) {
	return r.store.ListBranches(ctx, r.Org, r.Name)
}

// InitRepo creates org/repo if needed and a branch holding an empty root
// commit.
func (s *Store) InitRepo(ctx context.Context, org, repo, branch string) (*Branch, error) {
	if err := validation.Target(org, repo, branch); err != nil {
		return nil, err
	}
	root := object.NewCommit(s.hasher, object.EmptyTree(s.hasher), initialMessage, nil)
	b := &Branch{Org: org, Repo: repo, Name: branch, CommitOID: root.OID, store: s}

	err := s.backend.Update(ctx, func(tx storage.Tx) error {
		if err := s.ensureRepo(tx, org, repo, ""); err != nil {
			return err
		}
		if err := checkBranchAbsent(tx, org, repo, branch); err != nil {
			return err
		}
		if err := s.putCommit(tx, root); err != nil {
			return err
		}
		return tx.PutBranch(branchToRow(b))
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("initialized repo",
		zap.String("org", org),
		zap.String("repo", repo),
		zap.String("branch", branch),
		zap.String("commit", root.OID),
	)
	return b, nil
}

func (s *Store) GetRepo(ctx context.Context, org, repo string) (*Repo, error) {
	var r *Repo
	err := s.backend.View(ctx, func(tx storage.Tx) error {
		row, err := tx.GetRepo(org, repo)
		if errors.Is(err, storage.ErrNotFound) {
			return verr.RepoNotFound(org, repo)
		}
		if err != nil {
			return err
		}
		r = repoFromRow(s, row)
		return nil
	})
	return r, err
}

func (s *Store) ListRepos(ctx context.Context) ([]*Repo, error) {
	var repos []*Repo
	err := s.backend.View(ctx, func(tx storage.Tx) error {
		rows, err := tx.ListRepos()
		if err != nil {
			return err
		}
		for _, row := range rows {
			repos = append(repos, repoFromRow(s, row))
		}
		return nil
	})
	return repos, err
}

func (s *Store) ensureRepo(tx storage.Tx, org, repo, remote string) error {
	_, err := tx.GetRepo(org, repo)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return tx.PutRepo(storage.RepoRow{Org: org, Repo: repo, Remote: remote, CreatedAt: s.now().UTC()})
}

func checkBranchAbsent(tx storage.Tx, org, repo, name string) error {
	_, err := tx.GetBranch(org, repo, name)
	if err == nil {
		return verr.BranchExists(org, repo, name)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

// ListingEntry is one object of an import listing.
type ListingEntry struct {
	Mode string
	Type string // blob, tree or commit (submodule)
	OID  string
	Path string
}

// Listing is everything reachable from one commit of a source repository.
type Listing struct {
	CommitOID string
	Message   string
	Parents   []string
	TreeOID   string
	Entries   []ListingEntry
}

// Source is an existing repository content can be imported from.
type Source interface {
	Location() string
	Listing(ctx context.Context, ref string) (*Listing, error)
	Blob(ctx context.Context, oid string) ([]byte, error)
}

// Import seeds branch of org/repo with the commit ref resolves to in src.
// The commit keeps its source OID and parents; its tree is rebuilt from the
// listing's blobs.
func (s *Store) Import(ctx context.Context, org, repo, branch string, src Source, ref string) (*Branch, error) {
	if err := validation.Target(org, repo, branch); err != nil {
		return nil, err
	}
	listing, err := src.Listing(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("listing %s at %s: %w", src.Location(), ref, err)
	}

	var (
		leaves []tree.Leaf
		blobs  []*object.Blob
	)
	for _, e := range listing.Entries {
		if e.Type != string(object.TypeBlob) {
			continue
		}
		content, err := src.Blob(ctx, e.OID)
		if err != nil {
			return nil, fmt.Errorf("reading blob %s (%s): %w", e.OID, e.Path, err)
		}
		blob := object.NewBlob(s.hasher, content)
		if blob.OID != e.OID {
			s.logger.Warn("imported blob rehashed",
				zap.String("path", e.Path),
				zap.String("source_oid", e.OID),
				zap.String("oid", blob.OID),
			)
		}
		blobs = append(blobs, blob)
		leaves = append(leaves, tree.Leaf{Path: e.Path, Mode: e.Mode, OID: blob.OID})
	}

	root, err := tree.Build(s.hasher, leaves)
	if err != nil {
		return nil, fmt.Errorf("building imported tree: %w", err)
	}
	if listing.TreeOID != "" && listing.TreeOID != root.OID {
		s.logger.Debug("imported tree rehashed",
			zap.String("source_oid", listing.TreeOID),
			zap.String("oid", root.OID),
		)
	}

	commit := &object.Commit{
		OID:     listing.CommitOID,
		Message: listing.Message,
		Tree:    root,
		Parents: append([]string(nil), listing.Parents...),
	}
	if commit.OID == "" {
		commit.OID = object.HashCommit(s.hasher, root.OID, listing.Message)
	}

	b := &Branch{Org: org, Repo: repo, Name: branch, CommitOID: commit.OID, store: s}
	err = s.backend.Update(ctx, func(tx storage.Tx) error {
		if err := s.ensureRepo(tx, org, repo, src.Location()); err != nil {
			return err
		}
		if err := checkBranchAbsent(tx, org, repo, branch); err != nil {
			return err
		}
		for _, blob := range blobs {
			if err := tx.InsertBlob(blobToRow(blob)); err != nil {
				return err
			}
		}
		if err := s.putCommit(tx, commit); err != nil {
			return err
		}
		if err := tx.PutBranch(branchToRow(b)); err != nil {
			return err
		}
		return resetIndex(tx, b, root)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("imported repo",
		zap.String("source", src.Location()),
		zap.String("ref", ref),
		zap.String("org", org),
		zap.String("repo", repo),
		zap.String("branch", branch),
		zap.String("commit", commit.OID),
		zap.Int("files", len(leaves)),
	)
	return b, nil
}

// StoreLineage writes commits rebuilt from another replica, with the blobs
// they reference, and points branch name at the last one. The branch is
// created or moved as needed; its working index is rebuilt from scratch.
func (s *Store) StoreLineage(ctx context.Context, org, repo, name string, blobs []*object.Blob, commits []*object.Commit) (*Branch, error) {
	if err := validation.Target(org, repo, name); err != nil {
		return nil, err
	}
	if len(commits) == 0 {
		return nil, verr.ValidationError("empty lineage", nil)
	}
	head := commits[len(commits)-1]
	b := &Branch{Org: org, Repo: repo, Name: name, CommitOID: head.OID, store: s}

	err := s.backend.Update(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetRepo(org, repo); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return verr.RepoNotFound(org, repo)
			}
			return err
		}
		for _, blob := range blobs {
			if err := tx.InsertBlob(blobToRow(blob)); err != nil {
				return err
			}
		}
		for _, c := range commits {
			if err := s.putCommit(tx, c); err != nil {
				return err
			}
		}
		if err := tx.PutBranch(branchToRow(b)); err != nil {
			return err
		}
		return resetIndex(tx, b, head.Tree)
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}
