package api

import (
	"time"

	"relgit/internal/diff"
	verr "relgit/internal/errors"
	"relgit/internal/object"
	"relgit/internal/repo"
	"relgit/internal/syncer"
	"relgit/internal/validation"
)

type InitRequest struct {
	Org    string `json:"org"`
	Repo   string `json:"repo"`
	Branch string `json:"branch"`
}

// CheckoutRequest creates Name from the head of From.
type CheckoutRequest struct {
	From string `json:"from"`
	Name string `json:"name"`
}

type MergeRequest struct {
	Source string `json:"source"`
}

// PushRequest carries changesets produced by a replica that is ahead. Base
// is the head the pusher last saw here; a push based on anything else is
// rejected so that the pusher reconciles first.
type PushRequest struct {
	Base    string             `json:"base"`
	Changes []syncer.Changeset `json:"changes"`
}

func (r *InitRequest) Validate() error {
	return validation.Target(r.Org, r.Repo, r.Branch)
}

func (r *CheckoutRequest) Validate() error {
	if err := validation.Branch(r.From); err != nil {
		return err
	}
	return validation.Branch(r.Name)
}

func (r *MergeRequest) Validate() error {
	return validation.Branch(r.Source)
}

func (r *PushRequest) Validate() error {
	if r.Base == "" {
		return verr.ValidationError("base is required", nil)
	}
	return nil
}

type HeadResponse struct {
	OID string `json:"oid"`
}

type RepoView struct {
	Org       string    `json:"org"`
	Name      string    `json:"name"`
	Remote    string    `json:"remote,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type BranchView struct {
	Org       string `json:"org"`
	Repo      string `json:"repo"`
	Name      string `json:"name"`
	CommitOID string `json:"commitOid"`
}

// CommitView is a commit without its tree body.
type CommitView struct {
	OID     string   `json:"oid"`
	Message string   `json:"message"`
	TreeOID string   `json:"treeOid"`
	Parents []string `json:"parents"`
}

type MergeView struct {
	Kind   repo.MergeKind `json:"kind"`
	Base   string         `json:"base,omitempty"`
	Head   CommitView     `json:"head"`
	Change *diff.TreeDiff `json:"diff,omitempty"`
}

func repoView(r *repo.Repo) RepoView {
	return RepoView{Org: r.Org, Name: r.Name, Remote: r.Remote, CreatedAt: r.CreatedAt}
}

func branchView(b *repo.Branch) BranchView {
	return BranchView{Org: b.Org, Repo: b.Repo, Name: b.Name, CommitOID: b.CommitOID}
}

func commitView(c *object.Commit) CommitView {
	parents := c.Parents
	if parents == nil {
		parents = []string{}
	}
	return CommitView{OID: c.OID, Message: c.Message, TreeOID: c.TreeOID(), Parents: parents}
}

func mergeView(m *repo.MergeResult) MergeView {
	return MergeView{Kind: m.Kind, Base: m.Base, Head: commitView(m.Commit), Change: m.Diff}
}
