package repo

import (
	"fmt"

	"github.com/lkjx77/GeoGig/pkg/object"
	"github.com/lkjx77/GeoGig/pkg/status"
)

// ReadCommit reads a commit. Absent ids fail with NOT_FOUND, other object
// types with INVALID_ARGUMENT.
func (r *Repo) ReadCommit(id object.ID) (*object.Commit, error) {
	obj, err := r.Objects.Get(id)
	if err != nil {
		return nil, err
	}
	c, ok := obj.(*object.Commit)
	if !ok {
		return nil, status.Errorf(status.InvalidArgument, "object %s is a %s, not a commit", id.Short(), obj.Type())
	}
	return c, nil
}

// PeelToCommit follows tags until it reaches a commit id.
func (r *Repo) PeelToCommit(id object.ID) (object.ID, error) {
	for i := 0; i <= maxSymDepth; i++ {
		obj, err := r.Objects.Get(id)
		if err != nil {
			return object.NullID, err
		}
		switch o := obj.(type) {
		case *object.Commit:
			return id, nil
		case *object.Tag:
			id = o.Commit
		default:
			return object.NullID, status.Errorf(status.InvalidArgument, "object %s is a %s, not a commit", id.Short(), obj.Type())
		}
	}
	return object.NullID, status.Errorf(status.InvalidArgument, "tag chain too deep at %s", id.Short())
}

// Parents returns the parent ids of a commit.
func (r *Repo) Parents(id object.ID) ([]object.ID, error) {
	c, err := r.ReadCommit(id)
	if err != nil {
		return nil, err
	}
	return c.Parents, nil
}

// AncestorDepth counts the first-parent ancestors of id present in this
// repository: 0 for a root commit or for a commit whose parent was cut off
// by a shallow history.
func (r *Repo) AncestorDepth(id object.ID) (int, error) {
	c, err := r.ReadCommit(id)
	if err != nil {
		return 0, err
	}
	depth := 0
	for len(c.Parents) > 0 {
		p := c.Parents[0]
		if !r.Objects.Has(p) {
			break
		}
		c, err = r.ReadCommit(p)
		if err != nil {
			return 0, fmt.Errorf("ancestor depth of %s: %w", id.Short(), err)
		}
		depth++
	}
	return depth, nil
}

// IsAncestor reports whether ancestor is reachable from descendant (a
// commit is its own ancestor). When the walk hits commits missing from a
// shallow history before finding ancestor, the answer is undetermined and
// HISTORY_TOO_SHALLOW is returned.
func (r *Repo) IsAncestor(ancestor, descendant object.ID) (bool, error) {
	if ancestor == descendant {
		return true, nil
	}
	truncated := false
	seen := map[object.ID]struct{}{descendant: {}}
	queue := []object.ID{descendant}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if !r.Objects.Has(id) {
			truncated = true
			continue
		}
		c, err := r.ReadCommit(id)
		if err != nil {
			return false, err
		}
		for _, p := range c.Parents {
			if p == ancestor {
				return true, nil
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			queue = append(queue, p)
		}
	}
	if truncated {
		return false, status.WithDetails(status.HistoryTooShallow, "history too shallow to decide ancestry", map[string]string{
			"ancestor":   ancestor.String(),
			"descendant": descendant.String(),
		})
	}
	return false, nil
}

// Log walks the commit history starting from the given id, following
// first-parent links, returning up to limit commits newest first. The walk
// stops quietly where a shallow history ends. limit <= 0 means no limit.
func (r *Repo) Log(start object.ID, limit int) ([]*object.Commit, []object.ID, error) {
	var commits []*object.Commit
	var ids []object.ID
	current := start

	for limit <= 0 || len(commits) < limit {
		if !r.Objects.Has(current) {
			break
		}
		c, err := r.ReadCommit(current)
		if err != nil {
			return nil, nil, fmt.Errorf("log: read commit %s: %w", current.Short(), err)
		}
		commits = append(commits, c)
		ids = append(ids, current)

		if len(c.Parents) == 0 {
			break
		}
		current = c.Parents[0]
	}

	return commits, ids, nil
}
