package vfs

import (
	"fmt"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/marmos91/dittovfs/internal/logger"
)

// DeleteEvent describes an invalidated file. Listeners receive it while the
// file's slot is still readable.
type DeleteEvent struct {
	// Handle is the deleted file. Reads through it succeed until the
	// enclosing batch ends.
	Handle Handle

	// Path is the file's path before deletion.
	Path string

	// Reason is the human-readable invalidation reason.
	Reason string

	// Subtree holds the ids invalidated with the file, the file first.
	Subtree []FileID
}

// DeleteListener observes invalidations. Listeners run synchronously on the
// deleting goroutine and must not start batches of their own.
type DeleteListener func(DeleteEvent)

// OnDelete registers l and returns a function removing it.
func (v *VFS) OnDelete(l DeleteListener) (remove func()) {
	v.listenersMu.Lock()
	id := v.nextID
	v.nextID++
	v.listeners[id] = l
	v.listenersMu.Unlock()

	return func() {
		v.listenersMu.Lock()
		delete(v.listeners, id)
		v.listenersMu.Unlock()
	}
}

func (v *VFS) notifyDelete(ev DeleteEvent) {
	v.listenersMu.RLock()
	listeners := make([]DeleteListener, 0, len(v.listeners))
	for _, l := range v.listeners {
		listeners = append(listeners, l)
	}
	v.listenersMu.RUnlock()

	for _, l := range listeners {
		l(ev)
	}
}

// invalidator tracks invalidated ids between the moment they are marked
// and the end of the outermost batch, when their slots are reclaimed.
type invalidator struct {
	mu      sync.Mutex
	depth   int
	pending *roaring.Bitmap
	dead    *roaring.Bitmap
	reasons map[FileID]string
}

func newInvalidator() *invalidator {
	return &invalidator{
		pending: roaring.New(),
		dead:    roaring.New(),
		reasons: make(map[FileID]string),
	}
}

func (i *invalidator) begin() {
	i.mu.Lock()
	i.depth++
	i.mu.Unlock()
}

func (i *invalidator) mark(id FileID, reason string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.pending.Add(uint32(id))
	if _, ok := i.reasons[id]; !ok {
		i.reasons[id] = reason
	}
}

// end closes a batch. When it was the outermost one, the pending ids are
// moved to the dead set and returned for reclaiming.
func (i *invalidator) end() []FileID {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.depth--
	if i.depth > 0 || i.pending.IsEmpty() {
		return nil
	}
	raw := i.pending.ToArray()
	i.dead.Or(i.pending)
	i.pending.Clear()

	ids := make([]FileID, len(raw))
	for n, id := range raw {
		ids[n] = FileID(id)
	}
	return ids
}

func (i *invalidator) reason(id FileID) string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.reasons[id]
}

func (i *invalidator) isDead(id FileID) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.dead.Contains(uint32(id))
}

func (i *invalidator) counts() (pending, dead uint64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.pending.GetCardinality(), i.dead.GetCardinality()
}

// Batch groups structural changes. Slots invalidated inside a batch stay
// readable until the outermost batch ends.
type Batch struct {
	v *VFS
}

// Batch runs fn inside a batch. Batches nest, also across goroutines:
// reclaiming waits until no batch is running. It happens even if fn fails.
func (v *VFS) Batch(fn func(b *Batch) error) error {
	v.inv.begin()
	defer v.endBatch()
	return fn(&Batch{v: v})
}

func (v *VFS) endBatch() {
	ids := v.inv.end()
	if len(ids) == 0 {
		return
	}
	start := time.Now()
	for _, id := range ids {
		if _, cur := v.store.slot(id); cur != nil && cur != deadMarker {
			cur.st.death.Store(&deathNote{reason: v.inv.reason(id)})
		}
		v.store.kill(id)
		v.dirs.Delete(id)
	}
	v.metrics.RecordReclaimed(len(ids))
	logger.Debug("Reclaimed %d slots in %v", len(ids), time.Since(start))
}

// Delete removes h from disk and invalidates it.
func (b *Batch) Delete(h Handle) error {
	e := entryOf(h)
	if e == nil {
		return newError(ErrCodeInvalidArgument, InvalidID, "nil handle")
	}
	rec, err := e.resolve()
	if err != nil {
		return err
	}
	if !rec.parent.Valid() {
		return newError(ErrCodeInvalidArgument, e.id, "cannot delete a mount root")
	}
	m, rel, err := b.v.pathOf(e.id)
	if err != nil {
		return err
	}
	if err := m.driver.Remove(rel); err != nil {
		return ioError(e.id, "remove "+rel, err)
	}
	return b.v.invalidate(e, rec, "deleted "+rel)
}

// Invalidate drops h and its loaded subtree from the cache and the peer
// without touching the disk, for files that disappeared on their own.
func (b *Batch) Invalidate(h Handle, reason string) error {
	e := entryOf(h)
	if e == nil {
		return newError(ErrCodeInvalidArgument, InvalidID, "nil handle")
	}
	rec, err := e.resolve()
	if err != nil {
		return err
	}
	if !rec.parent.Valid() {
		return newError(ErrCodeInvalidArgument, e.id, "cannot invalidate a mount root")
	}
	return b.v.invalidate(e, rec, reason)
}

func (v *VFS) invalidate(e *entry, rec *record, reason string) error {
	name, err := e.Name()
	if err != nil {
		return err
	}
	path, err := e.Path()
	if err != nil {
		return err
	}
	// Only the caller that sets FlagInvalid deletes the record.
	if e.seg.setFlag(e.id, FlagInvalid, true).Has(FlagInvalid) {
		return nil
	}
	if err := v.peer.DeleteRecord(e.id); err != nil {
		e.seg.setFlag(e.id, FlagInvalid, false)
		return ioError(e.id, "delete record", err)
	}

	if pseg, prec := v.store.slot(rec.parent); prec != nil && prec != deadMarker && prec.isDirectory() {
		cs := v.caseSensitiveOf(pseg, rec.parent, v.mountOf(rec.st.root))
		unlock := prec.st.dir.lockWrite()
		prec.st.dir.removeChildLocked(e.id, name, cs)
		unlock()
	}

	subtree := v.loadedSubtree(e.id)
	for n, id := range subtree {
		seg, _ := v.store.slot(id)
		seg.setFlag(id, FlagInvalid, true)
		if n == 0 {
			v.inv.mark(id, reason)
		} else {
			v.inv.mark(id, fmt.Sprintf("ancestor %d %s", e.id, reason))
		}
	}
	v.metrics.RecordInvalidated(len(subtree))
	v.structMod.Add(1)
	logger.Debug("Invalidated %s (id=%d) with %d loaded descendants: %s", path, e.id, len(subtree)-1, reason)

	v.notifyDelete(DeleteEvent{Handle: e.handle(), Path: path, Reason: reason, Subtree: subtree})
	return nil
}

// loadedSubtree returns id followed by its loaded descendants.
func (v *VFS) loadedSubtree(id FileID) []FileID {
	out := []FileID{id}
	for n := 0; n < len(out); n++ {
		_, rec := v.store.slot(out[n])
		if rec == nil || rec == deadMarker || !rec.isDirectory() {
			continue
		}
		out = append(out, rec.st.dir.Children().ids...)
	}
	return out
}
