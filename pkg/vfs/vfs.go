// Package vfs implements an in-memory cache mirroring a persistent file
// system snapshot.
//
// Every file is identified by a FileID allocated by a Peer (the persistent
// record store). The cache keeps one slot per id in fixed-size segments:
// a packed flags word, the interned name and a record holding the parent
// link and, for directories, the known children. Children are kept sorted
// by name under the directory's case sensitivity so lookups are binary
// searches, and names confirmed absent are memoized as adopted names.
//
// Handles (*File and *Directory) are cheap proxies over an id. Any number
// of handles may exist for the same id; they compare equal by id. Moves
// publish a new record and leave a replacement link behind, which handles
// follow lazily.
//
// Deleting a file marks it invalid immediately. Its slot is reclaimed only
// when the outermost Batch ends, after deletion listeners have run; from
// then on every access fails with ErrDeadFile.
package vfs

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/internal/ratelimiter"
	"github.com/marmos91/dittovfs/pkg/metrics"
	"github.com/marmos91/dittovfs/pkg/vfs/intern"
)

// Options configures a VFS.
type Options struct {
	// Peer is the persistent record store. Required.
	Peer Peer

	// NameCacheSize bounds each NameTable cache. Default: DefaultNameCacheSize.
	NameCacheSize int

	// InternerCapacity is the number of user-data maps remembered by the
	// interner. Default: intern.DefaultUserDataCapacity.
	InternerCapacity int

	// UserDataInternMaxEntries is the largest user-data map that is
	// interned. Default: intern.DefaultUserDataMaxEntries.
	UserDataInternMaxEntries int

	// StrictChecks verifies directory invariants after every structural
	// mutation and fails the operation with ErrInconsistentChildren when
	// they do not hold.
	StrictChecks bool

	// DuplicateLogRate and DuplicateLogBurst throttle duplicate-name
	// warnings. A zero rate logs every duplicate.
	DuplicateLogRate  float64
	DuplicateLogBurst int

	// Metrics receives cache metrics. Default: no-op.
	Metrics metrics.VFSMetrics
}

type mount struct {
	root   FileID
	path   string
	driver Driver
}

// VFS is the cache for one peer session.
//
// Thread Safety:
// All methods are safe for concurrent use. Structural mutations lock the
// affected directories only; reads are lock-free.
type VFS struct {
	peer     Peer
	names    *NameTable
	store    *segmentStore
	metrics  metrics.VFSMetrics
	userData *intern.UserDataInterner
	paths    *intern.PathInterner
	strict   bool

	duplicates *ratelimiter.RateLimiter
	dupCount   atomic.Uint64

	mountsMu sync.RWMutex
	mounts   map[FileID]*mount
	byPath   map[string]FileID

	// dirs caches directory handles so repeated lookups return the same
	// instance.
	dirs sync.Map

	inv       *invalidator
	structMod atomic.Int64

	listenersMu sync.RWMutex
	listeners   map[int]DeleteListener
	nextID      int
}

// New creates a VFS over opts.Peer.
func New(opts Options) (*VFS, error) {
	if opts.Peer == nil {
		return nil, newError(ErrCodeInvalidArgument, InvalidID, "peer is required")
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewNoopVFSMetrics()
	}
	names, err := NewNameTable(opts.Peer, opts.NameCacheSize, m)
	if err != nil {
		return nil, err
	}
	userData, err := intern.NewUserDataInterner(opts.InternerCapacity, opts.UserDataInternMaxEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create user data interner: %w", err)
	}

	v := &VFS{
		peer:       opts.Peer,
		names:      names,
		store:      newSegmentStore(m),
		metrics:    m,
		userData:   userData,
		paths:      intern.NewPathInterner(names),
		strict:     opts.StrictChecks,
		duplicates: ratelimiter.New(opts.DuplicateLogRate, opts.DuplicateLogBurst),
		mounts:     make(map[FileID]*mount),
		byPath:     make(map[string]FileID),
		inv:        newInvalidator(),
		listeners:  make(map[int]DeleteListener),
	}
	logger.Debug("VFS created for peer session %s", opts.Peer.SessionID())
	return v, nil
}

// Peer returns the record store behind the cache.
func (v *VFS) Peer() Peer {
	return v.peer
}

// Names returns the name table.
func (v *VFS) Names() *NameTable {
	return v.names
}

// Close ends the session: interned names, maps and paths are forgotten.
// The peer is not closed.
func (v *VFS) Close() error {
	v.names.Purge()
	v.userData.Clear()
	v.paths.Clear()
	return nil
}

// Mount opens path as a root, creating its record on first use. Mounting
// the same path twice returns the same directory.
func (v *VFS) Mount(path string, driver Driver) (*Directory, error) {
	if path == "" || driver == nil {
		return nil, newError(ErrCodeInvalidArgument, InvalidID, "mount needs a path and a driver")
	}

	v.mountsMu.Lock()
	defer v.mountsMu.Unlock()

	if id, ok := v.byPath[path]; ok {
		return v.directory(id)
	}

	root, err := v.peer.FindRoot(path)
	if err != nil {
		return nil, ioError(InvalidID, "find root "+path, err)
	}
	if !root.Valid() {
		attrs, ok, err := driver.Attributes("")
		if err != nil {
			return nil, ioError(InvalidID, "stat mount "+path, err)
		}
		if !ok {
			return nil, &Error{Code: ErrCodeNotFound, Message: "mount point does not exist", Path: path}
		}
		if !attrs.IsDirectory() {
			return nil, &Error{Code: ErrCodeNotDirectory, Message: "mount point is not a directory", Path: path}
		}
		if root, err = v.peer.CreateRoot(path, attrs); err != nil {
			return nil, ioError(InvalidID, "create root "+path, err)
		}
	}

	attrs, err := v.peer.Attributes(root)
	if err != nil {
		return nil, ioError(root, "root attributes", err)
	}
	nameID, err := v.names.ID(path)
	if err != nil {
		return nil, err
	}
	rec := newRecord(root, InvalidID, root, true)
	if _, err := v.store.initSlot(root, rec, nameID, attributesToFlags(attrs|AttrDirectory)); err != nil {
		return nil, err
	}
	v.metrics.RecordRecordsLoaded(1)

	v.mounts[root] = &mount{root: root, path: path, driver: driver}
	v.byPath[path] = root
	logger.Info("Mounted %s as root %d", path, root)
	return v.directory(root)
}

// Mounts returns the mounted root directories.
func (v *VFS) Mounts() ([]*Directory, error) {
	v.mountsMu.RLock()
	ids := make([]FileID, 0, len(v.mounts))
	for id := range v.mounts {
		ids = append(ids, id)
	}
	v.mountsMu.RUnlock()
	slices.Sort(ids)

	dirs := make([]*Directory, 0, len(ids))
	for _, id := range ids {
		d, err := v.directory(id)
		if err != nil {
			return nil, err
		}
		dirs = append(dirs, d)
	}
	return dirs, nil
}

func (v *VFS) mountOf(root FileID) *mount {
	v.mountsMu.RLock()
	defer v.mountsMu.RUnlock()
	return v.mounts[root]
}

// CachedHandle returns the handle of id if its slot is loaded, nil if it is
// not, and ErrDeadFile if it was reclaimed.
func (v *VFS) CachedHandle(id FileID) (Handle, error) {
	return v.getOrLoad(id)
}

// getOrLoad builds a handle for a loaded slot. Directory handles are
// cached so every caller shares one per id. A nil handle means the slot is
// not loaded.
func (v *VFS) getOrLoad(id FileID) (Handle, error) {
	seg, rec := v.store.slot(id)
	switch {
	case rec == nil:
		return nil, nil
	case rec == deadMarker:
		v.metrics.RecordDeadAccess()
		return nil, deadFileError(id, v.inv.reason(id))
	}

	if !rec.isDirectory() {
		return &File{entry: newEntry(v, id, seg, rec)}, nil
	}
	if d, ok := v.dirs.Load(id); ok {
		v.metrics.RecordCacheHit("handle")
		return d.(*Directory), nil
	}
	v.metrics.RecordCacheMiss("handle")
	actual, _ := v.dirs.LoadOrStore(id, &Directory{entry: newEntry(v, id, seg, rec)})
	return actual.(*Directory), nil
}

// directory returns the handle of a loaded directory.
func (v *VFS) directory(id FileID) (*Directory, error) {
	h, err := v.getOrLoad(id)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, newError(ErrCodeNotFound, id, "directory is not loaded")
	}
	d, ok := h.(*Directory)
	if !ok {
		return nil, newError(ErrCodeNotDirectory, id, "not a directory")
	}
	return d, nil
}

func (v *VFS) handles(ids []FileID) ([]Handle, error) {
	out := make([]Handle, 0, len(ids))
	for _, id := range ids {
		h, err := v.getOrLoad(id)
		if err != nil {
			return nil, err
		}
		if h != nil {
			out = append(out, h)
		}
	}
	return out, nil
}

// FindFileByID returns the handle of id, loading it and any unloaded
// ancestors from the peer. The root of id must be mounted.
func (v *VFS) FindFileByID(id FileID) (Handle, error) {
	if !id.Valid() {
		return nil, newError(ErrCodeInvalidArgument, id, "invalid file id")
	}
	if h, err := v.getOrLoad(id); h != nil || err != nil {
		return h, err
	}

	deleted, err := v.peer.IsDeleted(id)
	if err != nil {
		return nil, ioError(id, "check deleted", err)
	}
	if deleted {
		return nil, newError(ErrCodeNotFound, id, "file was deleted")
	}
	parentID, err := v.peer.Parent(id)
	if err != nil {
		return nil, ioError(id, "read parent", err)
	}
	if !parentID.Valid() {
		return nil, newError(ErrCodeNotFound, id, "root is not mounted")
	}

	ph, err := v.FindFileByID(parentID)
	if err != nil {
		return nil, err
	}
	parent, ok := ph.(*Directory)
	if !ok {
		return nil, newError(ErrCodeNotDirectory, parentID, "parent of %d is not a directory", id)
	}
	prec, err := parent.resolve()
	if err != nil {
		return nil, err
	}
	cs, err := parent.IsCaseSensitive()
	if err != nil {
		return nil, err
	}

	dr := prec.st.dir
	dr.mu.Lock()
	if _, rec := v.store.slot(id); rec == nil {
		name, err := v.peer.Name(id)
		if err != nil {
			dr.mu.Unlock()
			return nil, ioError(id, "read name", err)
		}
		attrs, err := v.peer.Attributes(id)
		if err != nil {
			dr.mu.Unlock()
			return nil, ioError(id, "read attributes", err)
		}
		if err := v.loadChildLocked(prec, dr, ChildInfo{ID: id, Name: name, Attributes: attrs}, cs, false); err != nil {
			dr.mu.Unlock()
			return nil, err
		}
	}
	dr.mu.Unlock()
	return v.getOrLoad(id)
}

// IsValid reports whether id is loaded and not deleted.
func (v *VFS) IsValid(id FileID) bool {
	seg, rec := v.store.slot(id)
	return rec != nil && rec != deadMarker && !seg.flags(id).Has(FlagInvalid)
}

// IsDead reports whether id's slot has been reclaimed.
func (v *VFS) IsDead(id FileID) bool {
	return v.inv.isDead(id)
}

// liveSlot returns the segment of a loaded, not reclaimed id.
func (v *VFS) liveSlot(id FileID) (*Segment, error) {
	seg, rec := v.store.slot(id)
	switch {
	case rec == nil:
		return nil, newError(ErrCodeNotFound, id, "file is not loaded")
	case rec == deadMarker:
		v.metrics.RecordDeadAccess()
		return nil, deadFileError(id, v.inv.reason(id))
	}
	return seg, nil
}

// Flags returns the flags of id.
func (v *VFS) Flags(id FileID) (Flags, error) {
	seg, err := v.liveSlot(id)
	if err != nil {
		return 0, err
	}
	return seg.flags(id), nil
}

// SetFlag sets or clears flag on id. The modification counter is not
// affected.
func (v *VFS) SetFlag(id FileID, flag Flags, value bool) error {
	seg, err := v.liveSlot(id)
	if err != nil {
		return err
	}
	seg.setFlag(id, flag, value)
	return nil
}

// SetFlags replaces the bits selected by mask with values.
func (v *VFS) SetFlags(id FileID, mask, values Flags) error {
	seg, err := v.liveSlot(id)
	if err != nil {
		return err
	}
	seg.setFlags(id, mask, values)
	return nil
}

// StructureModificationCount is bumped by every create, delete, rename and
// move.
func (v *VFS) StructureModificationCount() int64 {
	return v.structMod.Load()
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Segments                   int    `json:"segments"`
	Mounts                     int    `json:"mounts"`
	StructureModificationCount int64  `json:"structure_modification_count"`
	PendingInvalidations       uint64 `json:"pending_invalidations"`
	DeadSlots                  uint64 `json:"dead_slots"`
	DuplicateNames             uint64 `json:"duplicate_names"`
	InternedUserData           int    `json:"interned_user_data"`
	InternedPaths              int    `json:"interned_paths"`
}

// Stats returns current cache counters.
func (v *VFS) Stats() Stats {
	v.mountsMu.RLock()
	mounts := len(v.mounts)
	v.mountsMu.RUnlock()
	pending, dead := v.inv.counts()
	return Stats{
		Segments:                   v.store.segments(),
		Mounts:                     mounts,
		StructureModificationCount: v.structMod.Load(),
		PendingInvalidations:       pending,
		DeadSlots:                  dead,
		DuplicateNames:             v.dupCount.Load(),
		InternedUserData:           v.userData.Len(),
		InternedPaths:              v.paths.Len(),
	}
}

// childKey implements childNamer.
func (v *VFS) childKey(id FileID, caseSensitive bool) (sortKey, error) {
	seg := v.store.segment(id, false)
	if seg == nil || seg.record(id) == nil {
		return sortKey{}, newError(ErrCodeNotFound, id, "child is not loaded")
	}
	return v.names.key(seg.nameID(id), caseSensitive)
}

// materialize initializes the slot of a child described by info. The
// caller holds the parent's directory lock.
func (v *VFS) materialize(parent *record, info ChildInfo, allLoaded bool) error {
	nameID := info.NameID
	if nameID == 0 {
		var err error
		if nameID, err = v.names.ID(info.Name); err != nil {
			return err
		}
	}

	flags := attributesToFlags(info.Attributes)
	if pseg := v.store.segment(parent.id, false); pseg != nil &&
		pseg.flags(parent.id)&(FlagSymlink|FlagHasSymlinkAncestor) != 0 {
		flags |= FlagHasSymlinkAncestor
	}

	rec := newRecord(info.ID, parent.id, parent.st.root, info.Attributes.IsDirectory())
	if allLoaded && rec.isDirectory() {
		rec.st.dir.children.Store(&ChildrenIDs{sorted: true, allLoaded: true})
	}
	if _, err := v.store.initSlot(info.ID, rec, nameID, flags); err != nil {
		return err
	}
	v.metrics.RecordRecordsLoaded(1)
	return nil
}

// loadChildLocked makes info.ID a loaded child of parent. The caller holds
// dr.mu.
func (v *VFS) loadChildLocked(parent *record, dr *DirectoryRecord, info ChildInfo, caseSensitive, allLoaded bool) error {
	_, existing := v.store.slot(info.ID)
	switch {
	case existing == deadMarker:
		return deadFileError(info.ID, v.inv.reason(info.ID))
	case existing == nil:
		if err := v.materialize(parent, info, allLoaded); err != nil {
			return err
		}
	}
	dr.beginWrite()
	err := dr.addChildLocked(v, info.ID, caseSensitive)
	dr.endWrite()
	if err != nil {
		return err
	}
	return v.checkLocked(parent.id, dr, caseSensitive)
}

// checkLocked runs the strict invariant check when enabled.
func (v *VFS) checkLocked(dir FileID, dr *DirectoryRecord, caseSensitive bool) error {
	if !v.strict {
		return nil
	}
	err := dr.checkLocked(v, caseSensitive)
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) && e.Code == ErrCodeInconsistentChildren {
		e.ID = dir
	}
	logger.Error("Directory %d failed consistency check: %v", dir, err)
	return err
}

func (v *VFS) reportDuplicates(dir FileID, dups []DuplicateName) {
	for _, d := range dups {
		v.dupCount.Add(1)
		v.metrics.RecordDuplicateName()
		if ok, suppressed := v.duplicates.Sample(); ok {
			logger.Warn("Directory %d has children with colliding names: %q (id=%d) and %q (id=%d), %d similar warnings suppressed",
				dir, d.FirstName, d.First, d.SecondName, d.Second, suppressed)
		}
	}
}

// walkUp returns the mount of id and the name ids from id up to, but not
// including, the root.
func (v *VFS) walkUp(id FileID) (*mount, []int32, error) {
	var nameIDs []int32
	for cur := id; ; {
		seg, rec := v.store.slot(cur)
		switch {
		case rec == nil:
			return nil, nil, newError(ErrCodeNotFound, cur, "ancestor of %d is not loaded", id)
		case rec == deadMarker:
			return nil, nil, deadFileError(cur, v.inv.reason(cur))
		}
		if !rec.parent.Valid() {
			m := v.mountOf(cur)
			if m == nil {
				return nil, nil, newError(ErrCodeNotFound, cur, "root is not mounted")
			}
			return m, nameIDs, nil
		}
		nameIDs = append(nameIDs, seg.nameID(cur))
		cur = rec.parent
	}
}

// pathOf returns the mount of id and id's path relative to it.
func (v *VFS) pathOf(id FileID) (*mount, string, error) {
	m, nameIDs, err := v.walkUp(id)
	if err != nil {
		return nil, "", err
	}
	parts := make([]string, len(nameIDs))
	for i, nid := range nameIDs {
		name, err := v.names.Name(nid)
		if err != nil {
			return nil, "", err
		}
		parts[len(parts)-1-i] = name
	}
	return m, strings.Join(parts, "/"), nil
}

// caseSensitiveOf returns the recorded sensitivity of a loaded directory,
// falling back to the driver default when it is not known yet.
func (v *VFS) caseSensitiveOf(seg *Segment, id FileID, m *mount) bool {
	f := seg.flags(id)
	if f.Has(FlagCaseSensitivityKnown) {
		return f.Has(FlagChildrenCaseSensitive)
	}
	return m != nil && m.driver.CaseSensitive()
}

// setSymlinkAncestor updates FlagHasSymlinkAncestor on id and its loaded
// descendants.
func (v *VFS) setSymlinkAncestor(id FileID, value bool) {
	seg, rec := v.store.slot(id)
	if rec == nil || rec == deadMarker {
		return
	}
	seg.setFlag(id, FlagHasSymlinkAncestor, value)
	if !rec.isDirectory() {
		return
	}
	inherited := value || seg.flags(id).Has(FlagSymlink)
	for _, child := range rec.st.dir.Children().ids {
		v.setSymlinkAncestor(child, inherited)
	}
}

func (v *VFS) observe(op string, start time.Time, err error) {
	v.metrics.RecordOperation(op, time.Since(start), err)
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

func parentPath(rel string) string {
	if i := strings.LastIndexByte(rel, '/'); i >= 0 {
		return rel[:i]
	}
	return ""
}
