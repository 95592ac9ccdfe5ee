package repo

import (
	"fmt"
	"strings"

	"github.com/lkjx77/GeoGig/pkg/object"
	"github.com/lkjx77/GeoGig/pkg/status"
)

// CreateBranch creates refs/heads/<name> pointing at target. Returns
// CONFLICT if the branch already exists.
func (r *Repo) CreateBranch(name string, target object.ID) error {
	if !r.Objects.Has(target) {
		return status.Errorf(status.NotFound, "create branch %q: target %s not found", name, target.Short())
	}
	if err := r.Refs.CompareAndSwap(BranchPrefix+name, object.NullID, target, "branch: created", nil); err != nil {
		if status.Is(err, status.Conflict) {
			return status.Errorf(status.Conflict, "create branch: branch %q already exists", name)
		}
		return fmt.Errorf("create branch %q: %w", name, err)
	}
	return nil
}

// DeleteBranch removes refs/heads/<name>. The current branch cannot be
// deleted.
func (r *Repo) DeleteBranch(name string) error {
	current, err := r.CurrentBranch()
	if err != nil && !status.Is(err, status.DetachedHead) {
		return fmt.Errorf("delete branch: %w", err)
	}
	if current == BranchPrefix+name {
		return status.Errorf(status.InvalidArgument, "delete branch: cannot delete current branch %q", name)
	}
	if err := r.Refs.Delete(BranchPrefix + name); err != nil {
		return fmt.Errorf("delete branch %q: %w", name, err)
	}
	return nil
}

// ListBranches returns local branches sorted by name.
func (r *Repo) ListBranches() ([]Ref, error) {
	refs, err := r.Refs.List(BranchPrefix)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	return refs, nil
}

// CurrentBranch returns the full name of the branch HEAD points at. A
// missing HEAD fails with NO_HEAD, a detached HEAD with DETACHED_HEAD.
func (r *Repo) CurrentBranch() (string, error) {
	head, err := r.Refs.Read(HEAD)
	if err != nil {
		if status.Is(err, status.NotFound) {
			return "", status.Errorf(status.NoHead, "HEAD is missing")
		}
		return "", fmt.Errorf("current branch: %w", err)
	}
	if !head.IsSymbolic() || !strings.HasPrefix(head.Target, BranchPrefix) {
		return "", status.Errorf(status.DetachedHead, "HEAD is detached at %s", head.ID.Short())
	}
	return head.Target, nil
}

// HeadCommit resolves HEAD to a commit id.
func (r *Repo) HeadCommit() (object.ID, error) {
	head, err := r.Refs.Resolve(HEAD)
	if err != nil {
		return object.NullID, fmt.Errorf("resolve HEAD: %w", err)
	}
	return head.ID, nil
}

// Checkout points HEAD at an existing branch. The working tree is not
// touched; a repository only holds objects and refs.
func (r *Repo) Checkout(name string) error {
	full := name
	if !strings.HasPrefix(full, RefsPrefix) {
		full = BranchPrefix + name
	}
	if _, err := r.Refs.Read(full); err != nil {
		return fmt.Errorf("checkout %q: %w", name, err)
	}
	return r.Refs.SetSymbolic(HEAD, full)
}

// ResolveRevision resolves a full ref name, a branch or tag short name, or
// a hex object id.
func (r *Repo) ResolveRevision(rev string) (object.ID, error) {
	rev = strings.TrimSpace(rev)
	if rev == "" {
		return object.NullID, status.Errorf(status.InvalidArgument, "empty revision")
	}
	for _, name := range []string{rev, BranchPrefix + rev, TagPrefix + rev, RemotePrefix + rev} {
		if ValidateRefName(name) != nil {
			continue
		}
		ref, err := r.Refs.Resolve(name)
		if err == nil {
			return ref.ID, nil
		}
		if !status.Is(err, status.NotFound) {
			return object.NullID, err
		}
	}
	if id, err := object.ParseID(rev); err == nil {
		return id, nil
	}
	return object.NullID, status.Errorf(status.UnknownRef, "unknown revision %q", rev)
}
