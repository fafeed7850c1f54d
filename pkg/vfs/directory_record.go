package vfs

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

// LookupResult classifies the outcome of an in-memory child lookup.
type LookupResult int

const (
	// LookupUnknown means the name is neither a known child nor a known
	// absence: the peer and the driver must be consulted.
	LookupUnknown LookupResult = iota

	// LookupFound means the name resolved to a loaded child.
	LookupFound

	// LookupAdopted means the name was previously confirmed absent.
	LookupAdopted

	// LookupAbsent means every child is loaded and none matches.
	LookupAbsent
)

func (r LookupResult) String() string {
	switch r {
	case LookupFound:
		return "found"
	case LookupAdopted:
		return "adopted"
	case LookupAbsent:
		return "absent"
	default:
		return "unknown"
	}
}

// childNamer resolves the current name of a loaded child.
type childNamer interface {
	childKey(id FileID, caseSensitive bool) (sortKey, error)
}

// adoptedSet is an immutable set of comparison keys of names confirmed
// absent.
type adoptedSet struct {
	keys map[string]struct{}
}

func (a *adoptedSet) has(key string) bool {
	if a == nil {
		return false
	}
	_, ok := a.keys[key]
	return ok
}

func (a *adoptedSet) len() int {
	if a == nil {
		return 0
	}
	return len(a.keys)
}

// DuplicateName reports two children whose names collide under the
// directory's comparator.
type DuplicateName struct {
	First, Second         FileID
	FirstName, SecondName string
}

// DirectoryRecord is the per-directory payload: the children snapshot and
// the adopted names.
//
// Locking:
// Every structural mutation runs under mu. Writers additionally bump seq to
// an odd value for the duration of the mutation, so lock-free readers can
// detect that they raced with a writer (for example with a rename that
// changes a child's name in place) and retry under mu.
type DirectoryRecord struct {
	mu       sync.Mutex
	seq      atomic.Uint64
	children atomic.Pointer[ChildrenIDs]
	adopted  atomic.Pointer[adoptedSet]
}

func newDirectoryRecord() *DirectoryRecord {
	d := &DirectoryRecord{}
	d.children.Store(emptyChildren)
	return d
}

// Children returns the current children snapshot.
func (d *DirectoryRecord) Children() *ChildrenIDs {
	return d.children.Load()
}

// AdoptedCount returns the number of names memoized as absent.
func (d *DirectoryRecord) AdoptedCount() int {
	return d.adopted.Load().len()
}

// lockWrite acquires the directory lock for a mutation and returns the
// matching release.
func (d *DirectoryRecord) lockWrite() func() {
	d.mu.Lock()
	d.seq.Add(1)
	return func() {
		d.seq.Add(1)
		d.mu.Unlock()
	}
}

// beginWrite and endWrite bracket a mutation when the caller already holds
// mu, as in the two-directory move protocol.
func (d *DirectoryRecord) beginWrite() { d.seq.Add(1) }
func (d *DirectoryRecord) endWrite()   { d.seq.Add(1) }

// findChild looks name up among loaded children and adopted names. Sorting
// is ensured first; then an optimistic lock-free search is attempted and
// repeated under the lock if a writer interfered.
func (d *DirectoryRecord) findChild(n childNamer, name string, caseSensitive bool) (FileID, LookupResult, error) {
	if !d.Children().sortedFor(caseSensitive) {
		if _, err := d.ensureSorted(n, caseSensitive); err != nil {
			return InvalidID, LookupUnknown, err
		}
	}

	key := newSortKey(name, caseSensitive)
	for attempt := 0; attempt < 2; attempt++ {
		seq := d.seq.Load()
		if seq&1 != 0 {
			break
		}
		id, res, err := d.lookup(n, key, caseSensitive)
		if d.seq.Load() != seq {
			continue
		}
		return id, res, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lookup(n, key, caseSensitive)
}

// lookup searches the current snapshot. Callers either hold mu or validate
// the result against seq.
func (d *DirectoryRecord) lookup(n childNamer, key sortKey, caseSensitive bool) (FileID, LookupResult, error) {
	c := d.children.Load()
	id, err := searchChildren(n, c, key, caseSensitive)
	if err != nil {
		return InvalidID, LookupUnknown, err
	}
	switch {
	case id.Valid():
		return id, LookupFound, nil
	case d.adopted.Load().has(key.key):
		return InvalidID, LookupAdopted, nil
	case c.allLoaded:
		return InvalidID, LookupAbsent, nil
	default:
		return InvalidID, LookupUnknown, nil
	}
}

// searchChildren finds the child whose name equals key under the primary
// comparator, preferring an exact match among children sharing the key.
func searchChildren(n childNamer, c *ChildrenIDs, key sortKey, caseSensitive bool) (FileID, error) {
	if len(c.ids) == 0 {
		return InvalidID, nil
	}
	if !c.sortedFor(caseSensitive) {
		found := InvalidID
		for _, id := range c.ids {
			k, err := n.childKey(id, caseSensitive)
			if err != nil {
				return InvalidID, err
			}
			if comparePrimary(k, key) == 0 {
				if k.name == key.name {
					return id, nil
				}
				if !found.Valid() {
					found = id
				}
			}
		}
		return found, nil
	}

	lo, hi := 0, len(c.ids)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		k, err := n.childKey(c.ids[mid], caseSensitive)
		if err != nil {
			return InvalidID, err
		}
		if comparePrimary(k, key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}

	// lo is the first index whose key is >= key. Walk the run of equal keys.
	found := InvalidID
	for i := lo; i < len(c.ids); i++ {
		k, err := n.childKey(c.ids[i], caseSensitive)
		if err != nil {
			return InvalidID, err
		}
		if comparePrimary(k, key) != 0 {
			break
		}
		if k.name == key.name {
			return c.ids[i], nil
		}
		if !found.Valid() {
			found = c.ids[i]
		}
	}
	return found, nil
}

// ensureSorted sorts the children under caseSensitive if they are not
// already in that order.
func (d *DirectoryRecord) ensureSorted(n childNamer, caseSensitive bool) ([]DuplicateName, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c := d.children.Load()
	if c.sortedFor(caseSensitive) {
		return nil, nil
	}
	d.beginWrite()
	defer d.endWrite()
	return d.resortLocked(n, c, caseSensitive, c.allLoaded)
}

// resortLocked publishes c's ids sorted under caseSensitive.
func (d *DirectoryRecord) resortLocked(n childNamer, c *ChildrenIDs, caseSensitive, allLoaded bool) ([]DuplicateName, error) {
	ids, dups, err := sortChildren(n, c.ids, caseSensitive)
	if err != nil {
		return nil, err
	}
	d.children.Store(&ChildrenIDs{ids: ids, sorted: true, caseSensitive: caseSensitive, allLoaded: allLoaded})
	return dups, nil
}

// sortChildren returns ids in name order. Children whose names collide
// under the comparator are kept and reported; identical names are ordered
// by id so the result is deterministic.
func sortChildren(n childNamer, ids []FileID, caseSensitive bool) ([]FileID, []DuplicateName, error) {
	type entry struct {
		id  FileID
		key sortKey
	}
	entries := make([]entry, len(ids))
	for i, id := range ids {
		k, err := n.childKey(id, caseSensitive)
		if err != nil {
			return nil, nil, err
		}
		entries[i] = entry{id: id, key: k}
	}
	slices.SortFunc(entries, func(a, b entry) int {
		if c := compareNames(a.key, b.key); c != 0 {
			return c
		}
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		default:
			return 0
		}
	})

	var dups []DuplicateName
	sorted := make([]FileID, len(entries))
	for i, e := range entries {
		sorted[i] = e.id
		if i > 0 && comparePrimary(entries[i-1].key, e.key) == 0 {
			dups = append(dups, DuplicateName{
				First:      entries[i-1].id,
				Second:     e.id,
				FirstName:  entries[i-1].key.name,
				SecondName: e.key.name,
			})
		}
	}
	return sorted, dups, nil
}

// addChildLocked inserts id at its name position. The child's name is
// removed from the adopted names. Adding a present id is a no-op.
func (d *DirectoryRecord) addChildLocked(n childNamer, id FileID, caseSensitive bool) error {
	k, err := n.childKey(id, caseSensitive)
	if err != nil {
		return err
	}
	d.unadoptLocked(k.key)

	c := d.children.Load()
	if c.contains(id) {
		return nil
	}
	next, err := insertChild(n, c, id, k, caseSensitive)
	if err != nil {
		return err
	}
	d.children.Store(next)
	return nil
}

// repositionLocked moves id to the position matching its current name,
// publishing a single new snapshot. Ids that are not children are left
// out; only the adopted names are updated for them. oldName is adopted when
// the directory is not fully loaded and the name no longer matches the
// child.
func (d *DirectoryRecord) repositionLocked(n childNamer, id FileID, oldName string, caseSensitive bool) error {
	k, err := n.childKey(id, caseSensitive)
	if err != nil {
		return err
	}
	c := d.children.Load()
	if i := c.indexOf(id); i >= 0 {
		next, err := insertChild(n, c.withRemoved(i), id, k, caseSensitive)
		if err != nil {
			return err
		}
		d.children.Store(next)
	}

	d.unadoptLocked(k.key)
	if oldName != "" && !c.allLoaded {
		if oldKey := nameKey(oldName, caseSensitive); oldKey != k.key {
			d.adoptLocked(oldKey)
		}
	}
	return nil
}

// insertChild returns c with id inserted at the position of k. Unsorted
// snapshots get id appended.
func insertChild(n childNamer, c *ChildrenIDs, id FileID, k sortKey, caseSensitive bool) (*ChildrenIDs, error) {
	if !c.sortedFor(caseSensitive) {
		return c.withAppended(id), nil
	}
	lo, hi := 0, len(c.ids)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		mk, err := n.childKey(c.ids[mid], caseSensitive)
		if err != nil {
			return nil, err
		}
		cmp := compareNames(mk, k)
		if cmp < 0 || (cmp == 0 && c.ids[mid] < id) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return c.withInserted(lo, id, caseSensitive), nil
}

// mergeChildrenLocked adds ids to the known children in one sort. With
// allLoaded the result is marked complete and the adopted names cleared.
func (d *DirectoryRecord) mergeChildrenLocked(n childNamer, ids []FileID, caseSensitive, allLoaded bool) ([]DuplicateName, error) {
	c := d.children.Load()
	merged := slices.Clone(c.ids)
	for _, id := range ids {
		if !slices.Contains(merged, id) {
			merged = append(merged, id)
		}
	}
	if allLoaded {
		return d.loadAllChildrenLocked(n, merged, caseSensitive)
	}
	sorted, dups, err := sortChildren(n, merged, caseSensitive)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		k, err := n.childKey(id, caseSensitive)
		if err != nil {
			return nil, err
		}
		d.unadoptLocked(k.key)
	}
	d.children.Store(&ChildrenIDs{ids: sorted, sorted: true, caseSensitive: caseSensitive, allLoaded: c.allLoaded})
	return dups, nil
}

// removeChildLocked drops id from the children. When not every child is
// loaded, name is memoized as absent so the next lookup does not query the
// peer again.
func (d *DirectoryRecord) removeChildLocked(id FileID, name string, caseSensitive bool) {
	c := d.children.Load()
	if i := c.indexOf(id); i >= 0 {
		c = c.withRemoved(i)
		d.children.Store(c)
	}
	if !c.allLoaded && name != "" {
		d.adoptLocked(nameKey(name, caseSensitive))
	}
}

// loadAllChildrenLocked replaces the children with ids, all loaded, and
// clears the adopted names.
func (d *DirectoryRecord) loadAllChildrenLocked(n childNamer, ids []FileID, caseSensitive bool) ([]DuplicateName, error) {
	sorted, dups, err := sortChildren(n, ids, caseSensitive)
	if err != nil {
		return nil, err
	}
	d.children.Store(&ChildrenIDs{ids: sorted, sorted: true, caseSensitive: caseSensitive, allLoaded: true})
	d.adopted.Store(nil)
	return dups, nil
}

// setCaseSensitivityLocked reorders the same ids for a new comparator.
// Adopted names were keyed under the old comparator and are dropped.
func (d *DirectoryRecord) setCaseSensitivityLocked(n childNamer, caseSensitive bool) ([]DuplicateName, error) {
	d.adopted.Store(nil)
	c := d.children.Load()
	if c.sortedFor(caseSensitive) {
		if len(c.ids) < 2 && c.caseSensitive != caseSensitive {
			next := *c
			next.caseSensitive = caseSensitive
			d.children.Store(&next)
		}
		return nil, nil
	}
	return d.resortLocked(n, c, caseSensitive, c.allLoaded)
}

// markAllLoadedLocked toggles the all-loaded flag. Marking everything
// loaded makes adopted names redundant.
func (d *DirectoryRecord) markAllLoadedLocked(allLoaded bool) {
	c := d.children.Load()
	if c.allLoaded != allLoaded {
		d.children.Store(c.withAllLoaded(allLoaded))
	}
	if allLoaded {
		d.adopted.Store(nil)
	}
}

func (d *DirectoryRecord) adoptLocked(key string) {
	cur := d.adopted.Load()
	if cur.has(key) {
		return
	}
	next := &adoptedSet{keys: make(map[string]struct{}, cur.len()+1)}
	if cur != nil {
		maps.Copy(next.keys, cur.keys)
	}
	next.keys[key] = struct{}{}
	d.adopted.Store(next)
}

func (d *DirectoryRecord) unadoptLocked(key string) {
	cur := d.adopted.Load()
	if !cur.has(key) {
		return
	}
	next := &adoptedSet{keys: maps.Clone(cur.keys)}
	delete(next.keys, key)
	d.adopted.Store(next)
}

// clearAdoptedLocked forgets every adopted name.
func (d *DirectoryRecord) clearAdoptedLocked() {
	d.adopted.Store(nil)
}

// checkLocked verifies the sort order and that no child is also adopted.
func (d *DirectoryRecord) checkLocked(n childNamer, caseSensitive bool) error {
	c := d.children.Load()
	adopted := d.adopted.Load()

	keys := make([]sortKey, len(c.ids))
	for i, id := range c.ids {
		k, err := n.childKey(id, caseSensitive)
		if err != nil {
			return err
		}
		keys[i] = k
	}

	var problems []string
	if c.sortedFor(caseSensitive) {
		for i := 1; i < len(keys); i++ {
			if compareNames(keys[i-1], keys[i]) > 0 ||
				(compareNames(keys[i-1], keys[i]) == 0 && c.ids[i-1] >= c.ids[i]) {
				problems = append(problems, fmt.Sprintf("order broken at %d: %q (id=%d) >= %q (id=%d)",
					i, keys[i-1].name, c.ids[i-1], keys[i].name, c.ids[i]))
			}
		}
	}
	for i, k := range keys {
		if adopted.has(k.key) {
			problems = append(problems, fmt.Sprintf("child %q (id=%d) is also adopted", k.name, c.ids[i]))
		}
	}
	if len(problems) == 0 {
		return nil
	}

	var dump strings.Builder
	fmt.Fprintf(&dump, "sorted=%v caseSensitive=%v allLoaded=%v adopted=%d children=[",
		c.sorted, c.caseSensitive, c.allLoaded, adopted.len())
	for i, k := range keys {
		if i > 0 {
			dump.WriteString(", ")
		}
		fmt.Fprintf(&dump, "%d:%q", c.ids[i], k.name)
	}
	dump.WriteString("]")
	return &Error{
		Code:    ErrCodeInconsistentChildren,
		Message: strings.Join(problems, "; ") + "; " + dump.String(),
	}
}
