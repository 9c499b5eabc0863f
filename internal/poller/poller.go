// Package poller keeps local branches in step with a peer replica. Every
// round it compares each configured branch with the peer, pushes when the
// local side is ahead and pulls when it is behind. A diverged branch is
// either reported or, with Reconcile set, merged and pushed back.
package poller

import (
	"context"
	"fmt"
	"time"

	verr "relgit/internal/errors"
	"relgit/internal/logging"
	"relgit/internal/metrics"
	"relgit/internal/repo"
	"relgit/internal/syncer"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultParallel = 4

// Remote is the peer a branch syncs against.
type Remote interface {
	Head(ctx context.Context, org, repo, branch string) (string, error)
	Changes(org, repo, branch string) syncer.ChangesFunc
	Push(ctx context.Context, org, repo, branch, base string, changes []syncer.Changeset) (string, error)
}

type Action string

const (
	None       Action = "none"
	Pushed     Action = "pushed"
	Pulled     Action = "pulled"
	Reconciled Action = "reconciled"
)

// Outcome of syncing one branch in a round.
type Outcome struct {
	Branch    string
	Direction syncer.Direction
	Action    Action
	Head      string
	Err       error
}

type Options struct {
	Org      string
	Repo     string
	Branches []string
	Interval time.Duration
	// Reconcile merges diverged branches instead of failing them.
	Reconcile bool
	// Parallel bounds how many branches sync at once.
	Parallel int
	Logger   *logging.Logger
	Metrics  *metrics.Metrics
}

type Poller struct {
	store  *repo.Store
	remote Remote
	opts   Options
	logger *logging.Logger
}

func New(store *repo.Store, remote Remote, opts Options) (*Poller, error) {
	if opts.Org == "" || opts.Repo == "" {
		return nil, verr.ValidationError("poller needs an org and a repo", nil)
	}
	if len(opts.Branches) == 0 {
		return nil, verr.ValidationError("poller needs at least one branch", nil)
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Parallel <= 0 {
		opts.Parallel = defaultParallel
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	return &Poller{store: store, remote: remote, opts: opts, logger: opts.Logger}, nil
}

// Run syncs once immediately and then every Interval until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		p.Round(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Round syncs every branch once. A failing branch does not stop the others;
// its error is on its Outcome.
func (p *Poller) Round(ctx context.Context) []Outcome {
	out := make([]Outcome, len(p.opts.Branches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Parallel)
	for i, name := range p.opts.Branches {
		g.Go(func() error {
			o := p.syncBranch(gctx, name)
			out[i] = o
			if o.Err != nil {
				p.logger.Warn("sync failed",
					zap.String("branch", name),
					zap.String("direction", string(o.Direction)),
					zap.Error(o.Err),
				)
			} else if o.Action != None {
				p.logger.Info("synced",
					zap.String("branch", name),
					zap.String("action", string(o.Action)),
					zap.String("head", o.Head),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (p *Poller) syncBranch(ctx context.Context, name string) Outcome {
	o := Outcome{Branch: name, Action: None}
	org, rp := p.opts.Org, p.opts.Repo

	b, err := p.store.GetBranch(ctx, org, rp, name)
	if err != nil {
		o.Err = err
		return o
	}
	remoteHead, err := p.remote.Head(ctx, org, rp, name)
	if err != nil {
		o.Err = fmt.Errorf("reading remote head: %w", err)
		return o
	}

	e := syncer.New(b, syncer.Options{Logger: p.logger, Metrics: p.opts.Metrics})
	changes := p.remote.Changes(org, rp, name)
	res, err := e.ChangesSince2(ctx, remoteHead, changes)
	if err != nil {
		o.Err = err
		return o
	}
	o.Direction = res.Direction
	o.Head = b.CommitOID

	switch res.Direction {
	case syncer.InSync:
		return o

	case syncer.Ahead:
		o.Head, o.Err = p.remote.Push(ctx, org, rp, name, remoteHead, res.Changes)
		o.Action = Pushed
		return o

	case syncer.Behind:
		if startsAt(res.Changes, b.CommitOID) {
			// The remote built straight on our head: replay its commits here.
			o.Err = e.SyncChanges(ctx, &syncer.Result{Direction: syncer.Ahead, Changes: res.Changes, Base: b.CommitOID})
			o.Action, o.Head = Pulled, b.CommitOID
			return o
		}
		if !p.opts.Reconcile {
			o.Err = verr.NoSync(fmt.Sprintf("%s has diverged from the remote", b))
			return o
		}
		o.Action = Reconciled
		if _, err := e.WalkCommits(ctx, changes); err != nil {
			o.Err = err
			return o
		}
		merged, err := e.ChangesSince(ctx, remoteHead)
		if err != nil {
			o.Err = err
			return o
		}
		o.Head = b.CommitOID
		if len(merged) > 0 {
			o.Head, o.Err = p.remote.Push(ctx, org, rp, name, remoteHead, merged)
		}
		return o

	default:
		o.Err = verr.NoSync(fmt.Sprintf("%s shares no history with the remote", b))
		return o
	}
}

func startsAt(changes []syncer.Changeset, oid string) bool {
	return len(changes) > 0 && len(changes[0].Parents) > 0 && changes[0].Parents[0] == oid
}
