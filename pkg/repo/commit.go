package repo

import (
	"fmt"
	"time"

	"github.com/lkjx77/GeoGig/pkg/object"
	"github.com/lkjx77/GeoGig/pkg/status"
)

// CommitTree creates a commit of tree on top of HEAD and advances the
// current branch (or a detached HEAD) with a compare-and-set against the
// parent it read. Zero author fields are filled from config and the clock.
func (r *Repo) CommitTree(tree object.ID, message string, author object.Person) (object.ID, error) {
	if !r.Objects.Has(tree) {
		return object.NullID, status.Errorf(status.NotFound, "commit: tree %s not found", tree.Short())
	}
	author, err := r.fillPerson(author)
	if err != nil {
		return object.NullID, fmt.Errorf("commit: %w", err)
	}

	head, err := r.Refs.Read(HEAD)
	if err != nil {
		return object.NullID, fmt.Errorf("commit: read HEAD: %w", err)
	}
	target := HEAD
	parent := head.ID
	if head.IsSymbolic() {
		target = head.Target
		parent = object.NullID
		if cur, err := r.Refs.Read(target); err == nil {
			parent = cur.ID
		} else if !status.Is(err, status.NotFound) {
			return object.NullID, fmt.Errorf("commit: %w", err)
		}
	}

	c := &object.Commit{Tree: tree, Author: author, Committer: author, Message: message}
	if !parent.IsNull() {
		c.Parents = []object.ID{parent}
	}
	id, err := r.Objects.Put(c)
	if err != nil {
		return object.NullID, fmt.Errorf("commit: write commit: %w", err)
	}
	if err := r.Refs.Update(target, id, parent); err != nil {
		return object.NullID, fmt.Errorf("commit: update ref %q: %w", target, err)
	}
	return id, nil
}

func (r *Repo) fillPerson(p object.Person) (object.Person, error) {
	if p.Name == "" || p.Email == "" {
		cfg, err := r.ReadConfig()
		if err != nil {
			return p, err
		}
		if p.Name == "" {
			p.Name = cfg.User.Name
		}
		if p.Email == "" {
			p.Email = cfg.User.Email
		}
	}
	if p.Name == "" {
		p.Name = "unknown"
	}
	if p.Timestamp == 0 {
		now := time.Now()
		_, offset := now.Zone()
		p.Timestamp = now.UnixMilli()
		p.TimeZoneOffset = int32(offset * 1000)
	}
	return p, nil
}
