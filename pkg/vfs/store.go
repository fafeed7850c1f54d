package vfs

import (
	"sync"
	"sync/atomic"

	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/metrics"
)

// segmentTable is an immutable snapshot of the segment directory. Growing
// the directory publishes a new table; segment pointers are shared between
// snapshots.
type segmentTable struct {
	segments []atomic.Pointer[Segment]
}

// segmentStore owns every segment of a session. Segments are created
// lazily and never removed.
//
// Thread Safety:
// Lookups load the current table without locking. Creating a segment or
// growing the table happens under mu, so no creation can be lost to a
// concurrent grow.
type segmentStore struct {
	mu      sync.Mutex
	table   atomic.Pointer[segmentTable]
	count   atomic.Int64
	metrics metrics.VFSMetrics
}

func newSegmentStore(m metrics.VFSMetrics) *segmentStore {
	s := &segmentStore{metrics: m}
	s.table.Store(&segmentTable{segments: make([]atomic.Pointer[Segment], 16)})
	return s
}

// segment returns the segment owning id. When create is true a missing
// segment is created and published atomically; otherwise nil is returned
// for ids whose segment does not exist yet.
func (s *segmentStore) segment(id FileID, create bool) *Segment {
	idx := segmentIndex(id)
	if t := s.table.Load(); idx < len(t.segments) {
		if seg := t.segments[idx].Load(); seg != nil || !create {
			return seg
		}
	} else if !create {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.table.Load()
	if idx >= len(t.segments) {
		size := len(t.segments) * 2
		for size <= idx {
			size *= 2
		}
		grown := &segmentTable{segments: make([]atomic.Pointer[Segment], size)}
		for i := range t.segments {
			grown.segments[i].Store(t.segments[i].Load())
		}
		s.table.Store(grown)
		t = grown
	}
	if seg := t.segments[idx].Load(); seg != nil {
		return seg
	}
	seg := &Segment{index: idx}
	t.segments[idx].Store(seg)
	s.metrics.SetSegments(int(s.count.Add(1)))
	return seg
}

// slot returns the segment and the record currently stored for id.
func (s *segmentStore) slot(id FileID) (*Segment, *record) {
	seg := s.segment(id, false)
	if seg == nil {
		return nil, nil
	}
	return seg, seg.record(id)
}

// initSlot publishes rec as the first record of id together with its name
// and flags. It fails with ErrCodeAlreadyInitialized when the slot already
// holds a record, which means two callers materialized the same id.
func (s *segmentStore) initSlot(id FileID, rec *record, nameID int32, flags Flags) (*Segment, error) {
	seg := s.segment(id, true)

	seg.initMu.Lock()
	defer seg.initMu.Unlock()

	if existing := seg.record(id); existing != nil {
		err := alreadyInitialized(seg, id, existing, rec)
		logger.Error("%v", err)
		return nil, err
	}

	off := offset(id)
	seg.words[off].Store(uint32(flags) & flagsMask)
	seg.nameIDs[off].Store(nameID)
	seg.records[off].Store(rec)
	return seg, nil
}

func alreadyInitialized(seg *Segment, id FileID, existing, attempted *record) *Error {
	e := newError(ErrCodeAlreadyInitialized, id,
		"slot already holds a %s record: segment=%d offset=%d flags=%#x nameID=%d "+
			"existing{parent=%d root=%d} attempted{kind=%s parent=%d root=%d}",
		existing.kind(), seg.index, offset(id), uint32(seg.flags(id)), seg.nameID(id),
		existing.parent, existing.st.root,
		attempted.kind(), attempted.parent, attempted.st.root)
	if reason, dead := existing.deathReason(); dead || existing == deadMarker {
		e.Reason = reason
	}
	return e
}

// replace swaps the record of id from old to next. It reports false when
// the slot no longer holds old.
func (s *segmentStore) replace(id FileID, old, next *record) bool {
	seg := s.segment(id, false)
	if seg == nil {
		return false
	}
	return seg.records[offset(id)].CompareAndSwap(old, next)
}

// kill stores the dead marker in id's slot and returns the record it
// replaced.
func (s *segmentStore) kill(id FileID) *record {
	seg := s.segment(id, false)
	if seg == nil {
		return nil
	}
	return seg.records[offset(id)].Swap(deadMarker)
}

// segments returns the number of segments created so far.
func (s *segmentStore) segments() int {
	return int(s.count.Load())
}
