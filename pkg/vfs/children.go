package vfs

import "slices"

// ChildrenIDs is an immutable snapshot of a directory's known children.
// Every mutation publishes a new value; readers never see a partially
// updated array.
type ChildrenIDs struct {
	ids []FileID

	// sorted reports whether ids are ordered by name under caseSensitive.
	sorted        bool
	caseSensitive bool

	// allLoaded reports whether ids are every child the directory has.
	allLoaded bool
}

var emptyChildren = &ChildrenIDs{sorted: true}

// IDs returns a copy of the child ids in array order.
func (c *ChildrenIDs) IDs() []FileID {
	return slices.Clone(c.ids)
}

// Len returns the number of known children.
func (c *ChildrenIDs) Len() int {
	return len(c.ids)
}

// Sorted reports whether the ids are in name order.
func (c *ChildrenIDs) Sorted() bool {
	return c.sorted
}

// AllLoaded reports whether every child of the directory is known.
func (c *ChildrenIDs) AllLoaded() bool {
	return c.allLoaded
}

// sortedFor reports whether the ids are in name order for the given
// sensitivity. Arrays of fewer than two ids are trivially sorted.
func (c *ChildrenIDs) sortedFor(caseSensitive bool) bool {
	return len(c.ids) < 2 || (c.sorted && c.caseSensitive == caseSensitive)
}

func (c *ChildrenIDs) indexOf(id FileID) int {
	return slices.Index(c.ids, id)
}

func (c *ChildrenIDs) contains(id FileID) bool {
	return c.indexOf(id) >= 0
}

func (c *ChildrenIDs) withInserted(i int, id FileID, caseSensitive bool) *ChildrenIDs {
	ids := make([]FileID, 0, len(c.ids)+1)
	ids = append(ids, c.ids[:i]...)
	ids = append(ids, id)
	ids = append(ids, c.ids[i:]...)
	return &ChildrenIDs{ids: ids, sorted: true, caseSensitive: caseSensitive, allLoaded: c.allLoaded}
}

func (c *ChildrenIDs) withAppended(id FileID) *ChildrenIDs {
	ids := make([]FileID, 0, len(c.ids)+1)
	ids = append(ids, c.ids...)
	ids = append(ids, id)
	return &ChildrenIDs{ids: ids, sorted: len(ids) < 2, caseSensitive: c.caseSensitive, allLoaded: c.allLoaded}
}

func (c *ChildrenIDs) withRemoved(i int) *ChildrenIDs {
	ids := make([]FileID, 0, len(c.ids)-1)
	ids = append(ids, c.ids[:i]...)
	ids = append(ids, c.ids[i+1:]...)
	return &ChildrenIDs{ids: ids, sorted: c.sorted, caseSensitive: c.caseSensitive, allLoaded: c.allLoaded}
}

func (c *ChildrenIDs) withAllLoaded(allLoaded bool) *ChildrenIDs {
	next := *c
	next.allLoaded = allLoaded
	return &next
}
