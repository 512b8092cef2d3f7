package highlight

import "sort"

// Index owns every Trigger, grouped by owner in insertion order, and keeps
// a flattened view of all triggers for single-pass message scanning.
//
// The flattened view is a cache guarded by a dirty flag: every structural
// mutation goes through Index methods, so invalidation cannot be missed
// and staleness is never observable.
//
// Index is not safe for concurrent use; the engine's lock guards it.
type Index struct {
	byOwner map[int64][]*Trigger

	flat  []*Trigger
	dirty bool
}

func NewIndex() *Index {
	return &Index{byOwner: map[int64][]*Trigger{}}
}

// Append adds a trigger to its owner's list.
func (ix *Index) Append(t *Trigger) {
	ix.byOwner[t.OwnerID] = append(ix.byOwner[t.OwnerID], t)
	ix.dirty = true
}

// List returns a copy of an owner's triggers in display order.
func (ix *Index) List(ownerID int64) []*Trigger {
	return append([]*Trigger(nil), ix.byOwner[ownerID]...)
}

// Count returns how many triggers an owner holds.
func (ix *Index) Count(ownerID int64) int {
	return len(ix.byOwner[ownerID])
}

// HasPhrase reports whether the owner already holds phrase (case-sensitive).
func (ix *Index) HasPhrase(ownerID int64, phrase string) bool {
	for _, t := range ix.byOwner[ownerID] {
		if t.Phrase == phrase {
			return true
		}
	}
	return false
}

// ResolveIndices maps 1-based positional indices onto an owner's current
// list without mutating anything. Duplicate indices collapse. Any index
// out of range fails with a SelectorError before any work is done.
func (ix *Index) ResolveIndices(ownerID int64, indices []int) ([]*Trigger, error) {
	list := ix.byOwner[ownerID]
	seen := make(map[int]struct{}, len(indices))
	out := make([]*Trigger, 0, len(indices))
	for _, idx := range indices {
		if idx < 1 || idx > len(list) {
			return nil, &SelectorError{Index: idx, Count: len(list)}
		}
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		out = append(out, list[idx-1])
	}
	sort.Slice(out, func(i, j int) bool { return indexOf(list, out[i]) < indexOf(list, out[j]) })
	return out, nil
}

// RemovePhrases removes an owner's triggers matching the given phrases and
// returns them in their original display order.
func (ix *Index) RemovePhrases(ownerID int64, phrases []string) []*Trigger {
	del := make(map[string]struct{}, len(phrases))
	for _, p := range phrases {
		del[p] = struct{}{}
	}

	list := ix.byOwner[ownerID]
	kept := list[:0]
	var removed []*Trigger
	for _, t := range list {
		if _, ok := del[t.Phrase]; ok {
			removed = append(removed, t)
			continue
		}
		kept = append(kept, t)
	}
	if len(removed) == 0 {
		return nil
	}
	if len(kept) == 0 {
		delete(ix.byOwner, ownerID)
	} else {
		ix.byOwner[ownerID] = kept
	}
	ix.dirty = true
	return removed
}

// RemoveOwner drops an owner's whole list and returns it.
// Removing an absent owner is a no-op.
func (ix *Index) RemoveOwner(ownerID int64) []*Trigger {
	list := ix.byOwner[ownerID]
	if len(list) == 0 {
		return nil
	}
	delete(ix.byOwner, ownerID)
	ix.dirty = true
	return list
}

// Flattened returns the concatenation of all owners' trigger lists,
// lazily rebuilt after mutations. Callers must not retain it across
// mutations.
func (ix *Index) Flattened() []*Trigger {
	if ix.flat == nil || ix.dirty {
		flat := make([]*Trigger, 0, len(ix.flat))
		for _, list := range ix.byOwner {
			flat = append(flat, list...)
		}
		ix.flat = flat
		ix.dirty = false
	}
	return ix.flat
}

func indexOf(list []*Trigger, t *Trigger) int {
	for i, x := range list {
		if x == t {
			return i
		}
	}
	return -1
}
