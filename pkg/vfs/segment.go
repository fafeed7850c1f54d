package vfs

import (
	"sync"
	"sync/atomic"
)

const (
	// SegmentBits is log2 of the number of slots per segment.
	SegmentBits = 9

	// SegmentSize is the number of slots per segment.
	SegmentSize = 1 << SegmentBits

	offsetMask = SegmentSize - 1
)

// Segment is a fixed-size block of per-id slots. Slot i of segment s holds
// the state of id s<<SegmentBits | i.
//
// Reads are lock-free. Slot initialization takes the segment's mutex so
// that the flags and name written for a new record cannot clobber a
// concurrently initialized one.
type Segment struct {
	index int

	initMu  sync.Mutex
	words   [SegmentSize]atomic.Uint32
	nameIDs [SegmentSize]atomic.Int32
	records [SegmentSize]atomic.Pointer[record]
}

// Index returns the segment's position in the store.
func (s *Segment) Index() int {
	return s.index
}

func offset(id FileID) int {
	return int(uint32(id) & offsetMask)
}

func segmentIndex(id FileID) int {
	return int(uint32(id) >> SegmentBits)
}

func (s *Segment) record(id FileID) *record {
	return s.records[offset(id)].Load()
}

func (s *Segment) flags(id FileID) Flags {
	return Flags(s.words[offset(id)].Load() & flagsMask)
}

func (s *Segment) modCount(id FileID) int {
	return int(s.words[offset(id)].Load() & modCountMask)
}

func (s *Segment) nameID(id FileID) int32 {
	return s.nameIDs[offset(id)].Load()
}

func (s *Segment) setNameID(id FileID, nameID int32) {
	s.nameIDs[offset(id)].Store(nameID)
}

// setFlags replaces the bits in mask with the corresponding bits of values,
// leaving the other flags and the modification counter untouched.
func (s *Segment) setFlags(id FileID, mask, values Flags) (old Flags) {
	word := &s.words[offset(id)]
	m := uint32(mask) & flagsMask
	for {
		cur := word.Load()
		next := cur&^m | uint32(values)&m
		if cur == next || word.CompareAndSwap(cur, next) {
			return Flags(cur & flagsMask)
		}
	}
}

func (s *Segment) setFlag(id FileID, flag Flags, value bool) (old Flags) {
	if value {
		return s.setFlags(id, flag, flag)
	}
	return s.setFlags(id, flag, 0)
}

// incModCount bumps the content modification counter, wrapping inside its
// bits without carrying into the flags.
func (s *Segment) incModCount(id FileID) int {
	word := &s.words[offset(id)]
	for {
		cur := word.Load()
		count := (cur + 1) & modCountMask
		next := cur&flagsMask | count
		if word.CompareAndSwap(cur, next) {
			return int(count)
		}
	}
}
