package vfs

import (
	"sync/atomic"

	"github.com/marmos91/dittovfs/pkg/vfs/intern"
)

// record is the immutable (parent, state) pair published in a slot.
//
// Moving a file publishes a new record sharing the same state and links
// the old record to it through replacement. Handles holding the old record
// follow the chain on their next access and compress it, so they observe
// the new parent without any registry of live handles.
type record struct {
	id          FileID
	parent      FileID
	st          *recordState
	replacement atomic.Pointer[record]
}

// recordState is the mutable per-file payload shared by every record of a
// file across moves.
type recordState struct {
	// root is the mount this file belongs to.
	root FileID

	// userData is the file's user-data map, replaced by compare-and-swap.
	userData atomic.Pointer[intern.UserData]

	// dir is non-nil for directories.
	dir *DirectoryRecord

	// death is set when the slot is reclaimed.
	death atomic.Pointer[deathNote]
}

type deathNote struct {
	reason string
}

// deadMarker is stored in reclaimed slots.
var deadMarker = &record{st: &recordState{}}

func newRecord(id, parent, root FileID, dir bool) *record {
	st := &recordState{root: root}
	st.userData.Store(intern.Empty)
	if dir {
		st.dir = newDirectoryRecord()
	}
	return &record{id: id, parent: parent, st: st}
}

func (r *record) isDirectory() bool {
	return r.st.dir != nil
}

// transplant returns a record for the same file under a new parent. The
// caller links r to it once the new record is published.
func (r *record) transplant(parent FileID) *record {
	return &record{id: r.id, parent: parent, st: r.st}
}

// latest follows the replacement chain and points every visited record
// directly at the end of the chain.
func (r *record) latest() *record {
	last := r
	for next := last.replacement.Load(); next != nil; next = last.replacement.Load() {
		last = next
	}
	for cur := r; cur != last; {
		next := cur.replacement.Load()
		if next != last {
			cur.replacement.CompareAndSwap(next, last)
		}
		cur = next
	}
	return last
}

func (r *record) deathReason() (string, bool) {
	note := r.st.death.Load()
	if note == nil {
		return "", false
	}
	return note.reason, true
}

func (r *record) kind() string {
	switch {
	case r == nil:
		return "unloaded"
	case r == deadMarker:
		return "dead"
	case r.isDirectory():
		return "directory"
	default:
		return "file"
	}
}
