package vfs

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/vfs/intern"
)

// Handle is the common API of *File and *Directory.
//
// Handles are freely shareable. Equality is defined by ID alone: compare
// handles with Equal, never with ==.
type Handle interface {
	ID() FileID
	IsDirectory() bool

	// IsValid reports false as soon as the file is deleted, before its slot
	// is reclaimed.
	IsValid() bool

	Name() (string, error)
	Path() (string, error)
	PathView() (*intern.PathView, error)
	Parent() (*Directory, error)

	Flags() (Flags, error)
	IsWritable() (bool, error)
	IsHidden() (bool, error)
	IsOffline() (bool, error)
	IsSymlink() (bool, error)
	HasSymlinkAncestor() (bool, error)
	SetWritable(writable bool) error

	UserData() (*intern.UserData, error)
	PutUserData(key *intern.Key, value any) error

	Rename(newName string) error
	Move(newParent *Directory) error
	Delete() error

	Equal(other Handle) bool
}

// entry is the state shared by file and directory handles: the id, its
// segment and the last record observed.
type entry struct {
	v   *VFS
	id  FileID
	seg *Segment
	rec atomic.Pointer[record]
}

func newEntry(v *VFS, id FileID, seg *Segment, rec *record) *entry {
	e := &entry{v: v, id: id, seg: seg}
	e.rec.Store(rec)
	return e
}

func entryOf(h Handle) *entry {
	switch h := h.(type) {
	case *File:
		return h.entry
	case *Directory:
		return h.entry
	default:
		return nil
	}
}

// resolve returns the current record, following moves. Reclaimed files
// fail with ErrInvalidHandle wrapping ErrDeadFile.
func (e *entry) resolve() (*record, error) {
	r := e.rec.Load()
	if next := r.latest(); next != r {
		e.rec.CompareAndSwap(r, next)
		r = next
	}
	if reason, dead := r.deathReason(); dead {
		e.v.metrics.RecordDeadAccess()
		return nil, invalidHandleError(e.id, reason, deadFileError(e.id, reason))
	}
	return r, nil
}

func (e *entry) ID() FileID {
	return e.id
}

func (e *entry) IsDirectory() bool {
	return e.rec.Load().isDirectory()
}

func (e *entry) IsValid() bool {
	if _, err := e.resolve(); err != nil {
		return false
	}
	return !e.seg.flags(e.id).Has(FlagInvalid)
}

func (e *entry) Equal(other Handle) bool {
	return other != nil && other.ID() == e.id
}

func (e *entry) Name() (string, error) {
	if _, err := e.resolve(); err != nil {
		return "", err
	}
	return e.v.names.Name(e.seg.nameID(e.id))
}

// Path returns the mount path joined with the path below it.
func (e *entry) Path() (string, error) {
	if _, err := e.resolve(); err != nil {
		return "", err
	}
	m, rel, err := e.v.pathOf(e.id)
	if err != nil {
		return "", err
	}
	if rel == "" {
		return m.path, nil
	}
	if m.path == "/" {
		return "/" + rel, nil
	}
	return m.path + "/" + rel, nil
}

// PathView returns the interned view of Path.
func (e *entry) PathView() (*intern.PathView, error) {
	if _, err := e.resolve(); err != nil {
		return nil, err
	}
	m, nameIDs, err := e.v.walkUp(e.id)
	if err != nil {
		return nil, err
	}
	root, err := e.v.paths.Intern(m.path)
	if err != nil {
		return nil, err
	}
	ids := root.NameIDs()
	for i := len(nameIDs) - 1; i >= 0; i-- {
		ids = append(ids, nameIDs[i])
	}
	return e.v.paths.InternIDs(ids, root.Absolute()), nil
}

// Parent returns the parent directory, or nil for a mount root.
func (e *entry) Parent() (*Directory, error) {
	rec, err := e.resolve()
	if err != nil {
		return nil, err
	}
	if !rec.parent.Valid() {
		return nil, nil
	}
	return e.v.directory(rec.parent)
}

func (e *entry) Flags() (Flags, error) {
	if _, err := e.resolve(); err != nil {
		return 0, err
	}
	return e.seg.flags(e.id), nil
}

func (e *entry) flag(f Flags) (bool, error) {
	flags, err := e.Flags()
	return flags.Has(f), err
}

func (e *entry) IsWritable() (bool, error)         { return e.flag(FlagWritable) }
func (e *entry) IsHidden() (bool, error)           { return e.flag(FlagHidden) }
func (e *entry) IsOffline() (bool, error)          { return e.flag(FlagOffline) }
func (e *entry) IsSymlink() (bool, error)          { return e.flag(FlagSymlink) }
func (e *entry) HasSymlinkAncestor() (bool, error) { return e.flag(FlagHasSymlinkAncestor) }

// SetWritable updates the writable flag and persists it in the peer.
func (e *entry) SetWritable(writable bool) error {
	rec, err := e.resolve()
	if err != nil {
		return err
	}
	old := e.seg.setFlag(e.id, FlagWritable, writable)
	if old.Has(FlagWritable) == writable {
		return nil
	}
	attrs := flagsToAttributes(e.seg.flags(e.id), rec.isDirectory())
	if err := e.v.peer.SetAttributes(e.id, attrs); err != nil {
		e.seg.setFlag(e.id, FlagWritable, !writable)
		return ioError(e.id, "persist attributes", err)
	}
	return nil
}

func (e *entry) UserData() (*intern.UserData, error) {
	rec, err := e.resolve()
	if err != nil {
		return nil, err
	}
	return rec.st.userData.Load(), nil
}

// PutUserData sets key to value (nil removes it). The resulting map is
// interned.
func (e *entry) PutUserData(key *intern.Key, value any) error {
	rec, err := e.resolve()
	if err != nil {
		return err
	}
	for {
		cur := rec.st.userData.Load()
		next := cur.With(key, value)
		if next == cur {
			return nil
		}
		next = e.v.userData.Intern(next)
		if rec.st.userData.CompareAndSwap(cur, next) {
			return nil
		}
	}
}

// Rename changes the file's name within its parent. The name is validated
// by the driver before anything changes.
func (e *entry) Rename(newName string) (err error) {
	start := time.Now()
	defer func() { e.v.observe("rename", start, err) }()
	return e.rename(newName)
}

func (e *entry) rename(newName string) error {
	rec, err := e.resolve()
	if err != nil {
		return err
	}
	if !rec.parent.Valid() {
		return newError(ErrCodeInvalidArgument, e.id, "cannot rename a mount root")
	}
	m, rel, err := e.v.pathOf(e.id)
	if err != nil {
		return err
	}
	if newName == "" || !m.driver.ValidName(newName) {
		return &Error{Code: ErrCodeInvalidName, ID: e.id, Message: "invalid name " + strconv.Quote(newName), Path: rel}
	}
	oldName, err := e.Name()
	if err != nil {
		return err
	}
	if oldName == newName {
		return nil
	}

	parent, err := e.v.directory(rec.parent)
	if err != nil {
		return err
	}
	cs, err := parent.IsCaseSensitive()
	if err != nil {
		return err
	}
	existing, err := parent.FindChild(newName)
	if err != nil {
		return err
	}
	if existing != nil && existing.ID() != e.id {
		return &Error{Code: ErrCodeAlreadyExists, ID: existing.ID(), Message: "target name is taken", Path: joinPath(parentPath(rel), newName)}
	}

	newRel := joinPath(parentPath(rel), newName)
	if err := m.driver.Rename(rel, newRel); err != nil {
		return ioError(e.id, "rename "+rel, err)
	}
	if err := e.v.peer.SetName(e.id, newName); err != nil {
		e.undoRename(m, newRel, rel, "")
		return ioError(e.id, "persist name", err)
	}
	nameID, err := e.v.names.ID(newName)
	if err != nil {
		e.undoRename(m, newRel, rel, oldName)
		return err
	}

	prec, err := parent.resolve()
	if err != nil {
		return err
	}
	pdr := prec.st.dir
	unlock := pdr.lockWrite()
	oldNameID := e.seg.nameID(e.id)
	e.seg.setNameID(e.id, nameID)
	if err := pdr.repositionLocked(e.v, e.id, oldName, cs); err != nil {
		e.seg.setNameID(e.id, oldNameID)
		unlock()
		e.undoRename(m, newRel, rel, oldName)
		return err
	}
	err = e.v.checkLocked(parent.id, pdr, cs)
	unlock()

	e.v.structMod.Add(1)
	return err
}

// undoRename puts a half-applied rename back on disk and, when oldName is
// set, in the peer. Failures are logged since the original error wins.
func (e *entry) undoRename(m *mount, from, to, oldName string) {
	if err := m.driver.Rename(from, to); err != nil {
		logger.Warn("Failed to restore %s after a failed rename: %v", to, err)
	}
	if oldName == "" {
		return
	}
	if err := e.v.peer.SetName(e.id, oldName); err != nil {
		logger.Warn("Failed to restore the persisted name of %d: %v", e.id, err)
	}
}

// Move reparents the file under newParent, on the same mount.
func (e *entry) Move(newParent *Directory) (err error) {
	start := time.Now()
	defer func() { e.v.observe("move", start, err) }()
	return e.move(newParent)
}

func (e *entry) move(newParent *Directory) error {
	if newParent == nil {
		return newError(ErrCodeInvalidArgument, e.id, "move target is nil")
	}
	rec, err := e.resolve()
	if err != nil {
		return err
	}
	if !rec.parent.Valid() {
		return newError(ErrCodeInvalidArgument, e.id, "cannot move a mount root")
	}
	if rec.parent == newParent.id {
		return nil
	}
	nrec, err := newParent.resolve()
	if err != nil {
		return err
	}
	if nrec.st.root != rec.st.root {
		return newError(ErrCodeInvalidArgument, e.id, "cannot move across mounts (from root %d to root %d)", rec.st.root, nrec.st.root)
	}
	if rec.isDirectory() {
		for cur := nrec; cur != nil && cur.parent.Valid(); {
			if cur.id == e.id {
				return newError(ErrCodeInvalidArgument, e.id, "cannot move a directory below itself")
			}
			_, cur = e.v.store.slot(cur.parent)
		}
	}

	oldParent, err := e.v.directory(rec.parent)
	if err != nil {
		return err
	}
	orec, err := oldParent.resolve()
	if err != nil {
		return err
	}
	name, err := e.Name()
	if err != nil {
		return err
	}
	csOld, err := oldParent.IsCaseSensitive()
	if err != nil {
		return err
	}
	csNew, err := newParent.IsCaseSensitive()
	if err != nil {
		return err
	}
	existing, err := newParent.FindChild(name)
	if err != nil {
		return err
	}
	if existing != nil {
		return &Error{Code: ErrCodeAlreadyExists, ID: existing.ID(), Message: "target directory has a child named " + strconv.Quote(name)}
	}

	m, rel, err := e.v.pathOf(e.id)
	if err != nil {
		return err
	}
	_, newDirRel, err := e.v.pathOf(newParent.id)
	if err != nil {
		return err
	}
	if err := m.driver.Rename(rel, joinPath(newDirRel, name)); err != nil {
		return ioError(e.id, "move "+rel, err)
	}
	if err := e.v.peer.SetParent(e.id, newParent.id); err != nil {
		return ioError(e.id, "persist parent", err)
	}

	odr, ndr := orec.st.dir, nrec.st.dir
	first, second := odr, ndr
	if newParent.id < oldParent.id {
		first, second = ndr, odr
	}
	first.mu.Lock()
	second.mu.Lock()
	first.beginWrite()
	second.beginWrite()

	var next *record
	if _, next, err = e.v.transplantLocked(e.id, oldParent.id, newParent.id); err == nil {
		e.rec.Store(next)
		odr.removeChildLocked(e.id, name, csOld)
		err = ndr.addChildLocked(e.v, e.id, csNew)
	}

	second.endWrite()
	first.endWrite()
	if err == nil {
		err = e.v.checkLocked(newParent.id, ndr, csNew)
	}
	second.mu.Unlock()
	first.mu.Unlock()
	if err != nil {
		return err
	}

	pseg := newParent.seg
	e.v.setSymlinkAncestor(e.id, pseg.flags(newParent.id)&(FlagSymlink|FlagHasSymlinkAncestor) != 0)
	e.v.structMod.Add(1)
	return nil
}

// transplantLocked publishes id's record under newParent and links the old
// record to it. The caller holds both directory locks; oldParent must still
// be the record's parent.
func (v *VFS) transplantLocked(id, oldParent, newParent FileID) (cur, next *record, err error) {
	_, cur = v.store.slot(id)
	if cur == nil || cur == deadMarker {
		return nil, nil, invalidHandleError(id, v.inv.reason(id), nil)
	}
	if cur.parent != oldParent {
		return nil, nil, newError(ErrCodeInvalidArgument, id, "file left directory %d during the move", oldParent)
	}
	next = cur.transplant(newParent)
	if !v.store.replace(id, cur, next) {
		return nil, nil, invalidHandleError(id, v.inv.reason(id), nil)
	}
	cur.replacement.Store(next)
	return cur, next, nil
}

// Delete removes the file from disk and invalidates it with its loaded
// subtree. The slots are reclaimed when the outermost batch ends.
func (e *entry) Delete() (err error) {
	start := time.Now()
	defer func() { e.v.observe("delete", start, err) }()
	return e.v.Batch(func(b *Batch) error {
		return b.Delete(e.handle())
	})
}

// handle returns a typed handle for e.
func (e *entry) handle() Handle {
	if e.IsDirectory() {
		return &Directory{entry: e}
	}
	return &File{entry: e}
}
