package object

import (
	"fmt"
)

// ReachableSet returns all ids reachable from roots by following object
// references. Missing objects are ignored, so a shallow store yields the
// part of the graph it actually holds.
func ReachableSet(s Store, roots []ID) (map[ID]struct{}, error) {
	roots = UniqueIDs(roots)
	out := make(map[ID]struct{}, len(roots))

	stack := append([]ID(nil), roots...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id.IsNull() {
			continue
		}
		if _, ok := out[id]; ok {
			continue
		}
		if !s.Has(id) {
			continue
		}
		out[id] = struct{}{}

		obj, err := s.Get(id)
		if err != nil {
			return nil, fmt.Errorf("reachable set read %s: %w", id, err)
		}
		stack = append(stack, References(obj)...)
	}

	return out, nil
}

// MissingReferences walks the graph below roots and returns the ids that
// are referenced but absent from every store. Walking stops at
// objects found in a store other than the first (the base), whose closure is
// assumed complete. skip may drop references from the result, e.g. parents
// allowed to be missing on a shallow repository.
func MissingReferences(roots []ID, stores []Store, skip func(from Object, ref ID) bool) ([]ID, error) {
	if len(stores) == 0 {
		return nil, fmt.Errorf("missing references: no stores")
	}
	var missing []ID
	seen := make(map[ID]struct{})
	stack := UniqueIDs(roots)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		idx := storeIndex(stores, id)
		if idx < 0 {
			missing = append(missing, id)
			continue
		}
		if idx > 0 {
			// present in a closed base store
			continue
		}
		src := stores[0]
		obj, err := src.Get(id)
		if err != nil {
			return nil, err
		}
		for _, ref := range References(obj) {
			if ref.IsNull() {
				continue
			}
			if skip != nil && skip(obj, ref) && !anyHas(stores, ref) {
				continue
			}
			stack = append(stack, ref)
		}
	}
	return missing, nil
}

func storeIndex(stores []Store, id ID) int {
	for i, s := range stores {
		if s.Has(id) {
			return i
		}
	}
	return -1
}

func anyHas(stores []Store, id ID) bool {
	return storeIndex(stores, id) >= 0
}
