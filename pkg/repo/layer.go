package repo

import (
	"fmt"
	"sort"

	"github.com/lkjx77/GeoGig/pkg/object"
	"github.com/lkjx77/GeoGig/pkg/status"
)

// PutLayer writes a layer of features with their feature type and returns
// a new root tree: base with the named child replaced. A null base starts
// from an empty root.
func (r *Repo) PutLayer(base object.ID, layer string, ft *object.FeatureType, features map[string]*object.Feature) (object.ID, error) {
	if layer == "" {
		return object.NullID, status.Errorf(status.InvalidArgument, "put layer: empty layer name")
	}
	ftID, err := r.Objects.Put(ft)
	if err != nil {
		return object.NullID, fmt.Errorf("put layer %q: feature type: %w", layer, err)
	}

	names := make([]string, 0, len(features))
	for name := range features {
		names = append(names, name)
	}
	sort.Strings(names)
	entries := make([]object.TreeEntry, 0, len(names))
	for _, name := range names {
		id, err := r.Objects.Put(features[name])
		if err != nil {
			return object.NullID, fmt.Errorf("put layer %q: feature %q: %w", layer, name, err)
		}
		entries = append(entries, object.TreeEntry{Name: name, Type: object.TypeFeature, ID: id, MetadataID: ftID})
	}
	layerTree := object.NewTree(uint64(len(entries)), entries...)
	layerID, err := r.Objects.Put(layerTree)
	if err != nil {
		return object.NullID, fmt.Errorf("put layer %q: tree: %w", layer, err)
	}

	root := &object.Tree{}
	if !base.IsNull() {
		obj, err := r.Objects.Get(base)
		if err != nil {
			return object.NullID, fmt.Errorf("put layer %q: base: %w", layer, err)
		}
		t, ok := obj.(*object.Tree)
		if !ok {
			return object.NullID, status.Errorf(status.InvalidArgument, "put layer %q: base %s is not a tree", layer, base.Short())
		}
		root = t
	}

	size := layerTree.Size
	kept := make([]object.TreeEntry, 0, len(root.Entries)+1)
	for _, e := range root.Entries {
		if e.Name == layer {
			continue
		}
		kept = append(kept, e)
		n, err := r.entrySize(e)
		if err != nil {
			return object.NullID, fmt.Errorf("put layer %q: %w", layer, err)
		}
		size += n
	}
	kept = append(kept, object.TreeEntry{Name: layer, Type: object.TypeTree, ID: layerID, MetadataID: ftID})
	return r.Objects.Put(object.NewTree(size, kept...))
}

func (r *Repo) entrySize(e object.TreeEntry) (uint64, error) {
	if e.Type == object.TypeFeature {
		return 1, nil
	}
	obj, err := r.Objects.Get(e.ID)
	if err != nil {
		return 0, err
	}
	if t, ok := obj.(*object.Tree); ok {
		return t.Size, nil
	}
	return 0, nil
}
