// Package importer reads existing git repositories for the one-time import
// that seeds a branch.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"relgit/internal/repo"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// GitSource is a repo.Source backed by an on-disk git repository.
type GitSource struct {
	path string
	repo *git.Repository
}

var _ repo.Source = (*GitSource)(nil)

// OpenGit opens the repository at path. Bare repositories and work trees
// are both accepted.
func OpenGit(path string) (*GitSource, error) {
	r, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("opening git repository %s: %w", path, err)
	}
	return &GitSource{path: path, repo: r}, nil
}

func (g *GitSource) Location() string { return g.path }

// Listing resolves ref (a branch, tag, hash or any git revision) and lists
// every entry of its commit's tree, depth first in tree order.
func (g *GitSource) Listing(ctx context.Context, ref string) (*repo.Listing, error) {
	if ref == "" {
		ref = "HEAD"
	}
	hash, err := g.repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", ref, err)
	}
	commit, err := g.repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve %s to a commit: %w", ref, err)
	}
	root, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("cannot resolve commit %v to tree (corrupted repository?): %w", commit.Hash, err)
	}

	listing := &repo.Listing{
		CommitOID: commit.Hash.String(),
		Message:   commit.Message,
		TreeOID:   commit.TreeHash.String(),
	}
	for _, p := range commit.ParentHashes {
		listing.Parents = append(listing.Parents, p.String())
	}

	walker := object.NewTreeWalker(root, true, nil)
	defer walker.Close()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name, entry, err := walker.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("walking tree %v: %w", root.Hash, err)
		}
		listing.Entries = append(listing.Entries, repo.ListingEntry{
			Mode: strconv.FormatUint(uint64(entry.Mode), 8),
			Type: entryType(entry.Mode),
			OID:  entry.Hash.String(),
			Path: name,
		})
	}
	return listing, nil
}

func entryType(m filemode.FileMode) string {
	switch m {
	case filemode.Dir:
		return "tree"
	case filemode.Submodule:
		return "commit"
	default:
		return "blob"
	}
}

func (g *GitSource) Blob(ctx context.Context, oid string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	blob, err := g.repo.BlobObject(plumbing.NewHash(oid))
	if err != nil {
		return nil, fmt.Errorf("reading blob %s: %w", oid, err)
	}
	r, err := blob.Reader()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
