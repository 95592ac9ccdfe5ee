package repo

import (
	"fmt"
	"strings"

	"github.com/lkjx77/GeoGig/pkg/object"
	"github.com/lkjx77/GeoGig/pkg/status"
)

// CreateTag writes an annotated tag object for commit and points
// refs/tags/<name> at it. Without force an existing tag is a CONFLICT.
func (r *Repo) CreateTag(name string, commit object.ID, message string, tagger object.Person, force bool) (object.ID, error) {
	name = strings.TrimSpace(name)
	if err := validateTagName(name); err != nil {
		return object.NullID, fmt.Errorf("create tag: %w", err)
	}
	if _, err := r.ReadCommit(commit); err != nil {
		return object.NullID, fmt.Errorf("create tag: target: %w", err)
	}
	tagger, err := r.fillPerson(tagger)
	if err != nil {
		return object.NullID, fmt.Errorf("create tag: %w", err)
	}

	id, err := r.Objects.Put(&object.Tag{Name: name, Commit: commit, Message: message, Tagger: tagger})
	if err != nil {
		return object.NullID, fmt.Errorf("create tag: write tag object: %w", err)
	}

	refName := TagPrefix + name
	if force {
		err = r.Refs.Update(refName, id)
	} else {
		err = r.Refs.Update(refName, id, object.NullID)
		if status.Is(err, status.Conflict) {
			return object.NullID, status.Errorf(status.Conflict, "create tag: tag %q already exists", name)
		}
	}
	if err != nil {
		return object.NullID, fmt.Errorf("create tag: %w", err)
	}
	return id, nil
}

// DeleteTag removes refs/tags/<name>. The tag object stays in the store.
func (r *Repo) DeleteTag(name string) error {
	name = strings.TrimSpace(name)
	if err := validateTagName(name); err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	if err := r.Refs.Delete(TagPrefix + name); err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	return nil
}

// ListTags returns tag refs sorted by name.
func (r *Repo) ListTags() ([]Ref, error) {
	refs, err := r.Refs.List(TagPrefix)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	return refs, nil
}

func validateTagName(name string) error {
	if name == "" {
		return status.Errorf(status.InvalidArgument, "tag name is required")
	}
	return ValidateRefName(TagPrefix + name)
}
