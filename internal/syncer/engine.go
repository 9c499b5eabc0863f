package syncer

import (
	"context"
	"errors"
	"fmt"

	"relgit/internal/diff"
	verr "relgit/internal/errors"
	"relgit/internal/hashing"
	"relgit/internal/logging"
	"relgit/internal/metrics"
	"relgit/internal/object"
	"relgit/internal/repo"
	"relgit/internal/tree"

	"go.uber.org/zap"
)

// TrackingPrefix names the branch a replayed remote lineage is stored on
// before it is merged: "remotes/<branch>".
const TrackingPrefix = "remotes/"

type Options struct {
	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

// Engine syncs one branch.
type Engine struct {
	branch  *repo.Branch
	logger  *logging.Logger
	metrics *metrics.Metrics
}

func New(b *repo.Branch, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	return &Engine{branch: b, logger: opts.Logger, metrics: opts.Metrics}
}

func (e *Engine) Branch() *repo.Branch { return e.branch }

// ChangesSince walks first parents back from the head until it reaches
// oid and returns one changeset per commit after it, ancestor first. The
// result is empty when oid is the head or not in this history.
func (e *Engine) ChangesSince(ctx context.Context, oid string) ([]Changeset, error) {
	s := e.branch.Store()
	head, err := e.branch.CurrentCommit(ctx)
	if err != nil {
		return nil, err
	}

	var newestFirst []*object.Commit
	seen := map[string]bool{}
	for cur := head; cur.OID != oid; {
		if seen[cur.OID] {
			return nil, nil
		}
		seen[cur.OID] = true
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		newestFirst = append(newestFirst, cur)

		p := cur.Parent()
		if p == "" {
			return nil, nil
		}
		next, err := s.Commit(ctx, p)
		if errors.Is(err, verr.ErrCommitNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		cur = next
	}

	out := make([]Changeset, 0, len(newestFirst))
	for i := len(newestFirst) - 1; i >= 0; i-- {
		c := newestFirst[i]
		parent, err := s.Commit(ctx, c.Parent())
		if err != nil {
			return nil, err
		}
		cs, err := e.changeset(ctx, c, parent)
		if err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, nil
}

func (e *Engine) changeset(ctx context.Context, c, parent *object.Commit) (Changeset, error) {
	d := diff.FindDiffs(nil, c.Tree, parent.Tree)
	cs := Changeset{
		OID:      c.OID,
		Message:  c.Message,
		Parents:  append([]string(nil), c.Parents...),
		TreeOID:  c.TreeOID(),
		Added:    d.Added,
		Modified: d.Modified,
		Deleted:  d.Deleted,
		Blobs:    map[string][]byte{},
	}
	want := make([]string, 0, len(d.Added)+len(d.Modified))
	for _, a := range d.Added {
		want = append(want, a.OID)
	}
	for _, m := range d.Modified {
		want = append(want, m.TheirOID)
	}
	for _, oid := range want {
		if _, ok := cs.Blobs[oid]; ok {
			continue
		}
		blob, err := e.branch.Store().Blob(ctx, oid)
		if err != nil {
			return Changeset{}, err
		}
		cs.Blobs[oid] = blob.Content
	}
	return cs, nil
}

// ChangesSince2 works out which side is ahead. Local changes since
// remoteOID mean this side is ahead and they are returned for pushing.
// Otherwise each local ancestor, head first, is offered to remote until it
// reports changes, which means this side is behind.
func (e *Engine) ChangesSince2(ctx context.Context, remoteOID string, remote ChangesFunc) (*Result, error) {
	res, err := e.detect(ctx, remoteOID, remote)
	if err != nil {
		return nil, err
	}
	e.metrics.SyncRound(string(res.Direction))
	e.logger.Debug("sync direction",
		zap.String("branch", e.branch.String()),
		zap.String("local", e.branch.CommitOID),
		zap.String("remote", remoteOID),
		zap.String("direction", string(res.Direction)),
		zap.Int("changes", len(res.Changes)),
	)
	return res, nil
}

func (e *Engine) detect(ctx context.Context, remoteOID string, remote ChangesFunc) (*Result, error) {
	local, err := e.ChangesSince(ctx, remoteOID)
	if err != nil {
		return nil, err
	}
	if len(local) > 0 {
		return &Result{Direction: Ahead, Changes: local}, nil
	}
	if e.branch.CommitOID == remoteOID {
		return &Result{Direction: InSync}, nil
	}

	found := false
	err = e.walkAncestors(ctx, func(c *object.Commit) (bool, error) {
		changes, err := remote(ctx, c.OID)
		if err != nil {
			return false, fmt.Errorf("asking remote for changes since %s: %w", c.OID, err)
		}
		if len(changes) > 0 {
			local = changes
			found = true
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	if found {
		return &Result{Direction: Behind, Changes: local}, nil
	}
	return &Result{Direction: Unknown}, nil
}

// walkAncestors calls fn with the head and each first-parent ancestor until
// fn returns true or history runs out.
func (e *Engine) walkAncestors(ctx context.Context, fn func(*object.Commit) (bool, error)) error {
	s := e.branch.Store()
	cur, err := e.branch.CurrentCommit(ctx)
	if err != nil {
		return err
	}
	seen := map[string]bool{}
	for cur != nil && !seen[cur.OID] {
		if err := ctx.Err(); err != nil {
			return err
		}
		seen[cur.OID] = true
		stop, err := fn(cur)
		if err != nil || stop {
			return err
		}
		p := cur.Parent()
		if p == "" {
			return nil
		}
		cur, err = s.Commit(ctx, p)
		if errors.Is(err, verr.ErrCommitNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// SyncChanges replays changes produced by a replica that is ahead of this
// branch. All changesets run in one transaction; a changeset that cannot be
// applied, or whose replay does not reproduce its OID, is logged and
// skipped. Anything but Ahead fails with NoSync, and so does a Base that is
// no longer the head.
func (e *Engine) SyncChanges(ctx context.Context, res *Result) error {
	switch res.Direction {
	case Ahead:
	case InSync:
		return nil
	case Behind:
		return verr.NoSync("remote has diverged; merge before syncing")
	default:
		return verr.NoSync(fmt.Sprintf("direction %s", res.Direction))
	}

	applied := 0
	err := e.branch.Batch(ctx, func(w *repo.Writer) error {
		if res.Base != "" && w.Head().OID != res.Base {
			return verr.NoSync(fmt.Sprintf("changes are based on %s but %s is at %s",
				res.Base, e.branch, w.Head().OID))
		}
		for i := range res.Changes {
			cs := &res.Changes[i]
			c, err := replay(w, cs)
			if err != nil {
				if _, domain := verr.As(err); !domain {
					return err
				}
				e.metrics.Replayed(false)
				e.logger.Warn("skipping changeset",
					zap.String("branch", e.branch.String()),
					zap.String("oid", cs.OID),
					zap.Error(err),
				)
				continue
			}
			e.logger.Debug("replayed changeset",
				zap.String("branch", e.branch.String()),
				zap.String("oid", c.OID),
			)
			e.metrics.Replayed(true)
			applied++
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.logger.Info("synced changes",
		zap.String("branch", e.branch.String()),
		zap.Int("applied", applied),
		zap.Int("total", len(res.Changes)),
		zap.String("head", e.branch.CommitOID),
	)
	return nil
}

func replay(w *repo.Writer, cs *Changeset) (*object.Commit, error) {
	edits, err := cs.Edits()
	if err != nil {
		return nil, err
	}
	return w.Replay(cs.OID, cs.Message, edits...)
}

// CreateCommitLineage rebuilds the commits of changes on top of start
// without writing anything. Every rebuilt OID must equal the recorded one.
func (e *Engine) CreateCommitLineage(start *object.Commit, changes []Changeset) ([]*object.Commit, error) {
	h := e.branch.Store().Hasher()
	t := start.Tree
	parent := start.OID
	out := make([]*object.Commit, 0, len(changes))

	for i := range changes {
		cs := &changes[i]
		var err error
		for _, a := range cs.Added {
			if t, err = tree.Update(h, t, a.Path, a.OID); err != nil {
				return nil, err
			}
		}
		for _, m := range cs.Modified {
			if t, err = tree.Update(h, t, m.Path, m.TheirOID); err != nil {
				return nil, err
			}
		}
		d := cs.diff()
		for _, del := range cs.Deleted {
			if d.Replaced(del.Path) {
				continue
			}
			if t, err = tree.Remove(h, t, del.Path); err != nil {
				return nil, err
			}
		}

		parents := cs.Parents
		if len(parents) == 0 {
			parents = []string{parent}
		}
		c := object.NewCommit(h, t, cs.Message, parents)
		if c.OID != cs.OID {
			return nil, verr.InvalidCommitLineage(cs.OID, c.OID)
		}
		out = append(out, c)
		parent = c.OID
	}
	return out, nil
}

// WalkCommits reconciles a diverged branch. It finds the newest local
// ancestor the remote has changes since, rebuilds the remote lineage from
// there onto the tracking branch and merges the local branch into it. The
// merge commit has the remote head as first parent, so a later
// ChangesSince against the remote head finds it and the merge can be
// pushed. The local branch then fast-forwards to the merge commit.
func (e *Engine) WalkCommits(ctx context.Context, remote ChangesFunc) (*repo.MergeResult, error) {
	s := e.branch.Store()

	var (
		start   *object.Commit
		changes []Changeset
	)
	err := e.walkAncestors(ctx, func(c *object.Commit) (bool, error) {
		cs, err := remote(ctx, c.OID)
		if err != nil {
			return false, fmt.Errorf("asking remote for changes since %s: %w", c.OID, err)
		}
		if len(cs) == 0 {
			return false, nil
		}
		start, changes = c, cs
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if start == nil {
		return nil, verr.NoSync("remote shares no history with " + e.branch.String())
	}

	commits, err := e.CreateCommitLineage(start, changes)
	if err != nil {
		return nil, err
	}
	blobs, err := collectBlobs(s.Hasher(), changes)
	if err != nil {
		return nil, err
	}

	b := e.branch
	tracking, err := s.StoreLineage(ctx, b.Org, b.Repo, TrackingPrefix+b.Name, blobs, commits)
	if err != nil {
		return nil, fmt.Errorf("storing remote lineage: %w", err)
	}
	e.logger.Info("rebuilt remote lineage",
		zap.String("branch", b.String()),
		zap.String("from", start.OID),
		zap.String("remote_head", tracking.CommitOID),
		zap.Int("commits", len(commits)),
	)

	res, err := tracking.Merge(ctx, b)
	if err != nil {
		return nil, err
	}
	ff, err := b.Merge(ctx, tracking)
	if err != nil {
		return nil, err
	}
	if res.Kind == repo.UpToDate {
		// Nothing local to join: a plain pull.
		return ff, nil
	}
	return res, nil
}

// collectBlobs verifies that every shipped blob hashes to its OID.
func collectBlobs(h hashing.Provider, changes []Changeset) ([]*object.Blob, error) {
	seen := map[string]bool{}
	var out []*object.Blob
	for _, cs := range changes {
		for oid, content := range cs.Blobs {
			if seen[oid] {
				continue
			}
			seen[oid] = true
			if got := h.HashBlob(content); got != oid {
				return nil, verr.InvalidCommitLineage(oid, got)
			}
			out = append(out, &object.Blob{OID: oid, Content: content})
		}
	}
	return out, nil
}
