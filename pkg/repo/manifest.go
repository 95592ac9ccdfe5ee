package repo

import (
	"fmt"

	"github.com/lkjx77/GeoGig/pkg/object"
)

// Manifest is a snapshot of a repository's refs as advertised to peers.
// Symbolic refs are listed resolved; Head names the branch HEAD points at.
type Manifest struct {
	Refs  []Ref  `json:"refs"`
	Head  string `json:"head,omitempty"`
	Depth int    `json:"depth"`
}

// Lookup returns the id of the named ref.
func (m *Manifest) Lookup(name string) (object.ID, bool) {
	if m == nil {
		return object.NullID, false
	}
	for _, ref := range m.Refs {
		if ref.Name == name {
			return ref.ID, true
		}
	}
	return object.NullID, false
}

// Manifest lists every ref under refs/ with its current id.
func (r *Repo) Manifest() (*Manifest, error) {
	refs, err := r.Refs.List(RefsPrefix)
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	depth, err := r.Depth()
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	m := &Manifest{Refs: make([]Ref, 0, len(refs)), Depth: depth}
	for _, ref := range refs {
		if ref.IsSymbolic() {
			resolved, err := r.Refs.Resolve(ref.Name)
			if err != nil {
				continue
			}
			ref = Ref{Name: ref.Name, ID: resolved.ID}
		}
		m.Refs = append(m.Refs, ref)
	}
	if head, err := r.Refs.Read(HEAD); err == nil && head.IsSymbolic() {
		m.Head = head.Target
	}
	return m, nil
}
