package merge

import (
	"context"
	"fmt"

	verr "relgit/internal/errors"
)

// ParentsFunc returns the parent OIDs of a commit.
type ParentsFunc func(ctx context.Context, oid string) ([]string, error)

// maxTraversal bounds ancestry walks so a corrupt or cyclic history cannot
// spin forever.
const maxTraversal = 1_000_000

// Ancestors returns every commit reachable from oid, oid included, in
// breadth-first order over all parents.
func Ancestors(ctx context.Context, parents ParentsFunc, oid string) ([]string, error) {
	var order []string
	seen := map[string]bool{oid: true}
	queue := []string{oid}

	for len(queue) > 0 {
		if len(order) >= maxTraversal {
			return nil, fmt.Errorf("ancestry of %s exceeds %d commits", oid, maxTraversal)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cur := queue[0]
		queue = queue[1:]
		order = append(order, cur)

		ps, err := parents(ctx, cur)
		if err != nil {
			return nil, err
		}
		for _, p := range ps {
			if p == "" || seen[p] {
				continue
			}
			seen[p] = true
			queue = append(queue, p)
		}
	}
	return order, nil
}

// FindBase returns the nearest common ancestor of target and source. The
// target's ancestry is searched breadth first, nearest ancestors first, and
// the first commit that is also an ancestor of source wins. All parents are
// followed, so bases behind earlier merges are found too.
func FindBase(ctx context.Context, parents ParentsFunc, target, source string) (string, error) {
	if target == source {
		return target, nil
	}

	sourceAncestors, err := Ancestors(ctx, parents, source)
	if err != nil {
		return "", fmt.Errorf("walking source ancestry: %w", err)
	}
	inSource := make(map[string]bool, len(sourceAncestors))
	for _, a := range sourceAncestors {
		inSource[a] = true
	}

	targetAncestors, err := Ancestors(ctx, parents, target)
	if err != nil {
		return "", fmt.Errorf("walking target ancestry: %w", err)
	}
	for _, a := range targetAncestors {
		if inSource[a] {
			return a, nil
		}
	}
	return "", verr.NoMergeBase(target, source)
}

// IsAncestor reports whether ancestor is reachable from descendant.
func IsAncestor(ctx context.Context, parents ParentsFunc, ancestor, descendant string) (bool, error) {
	all, err := Ancestors(ctx, parents, descendant)
	if err != nil {
		return false, err
	}
	for _, a := range all {
		if a == ancestor {
			return true, nil
		}
	}
	return false, nil
}
