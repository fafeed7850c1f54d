package vfs

import (
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/marmos91/dittovfs/internal/logger"
)

// Directory is a handle to a directory.
type Directory struct {
	*entry
}

// ChildrenIDs returns the current snapshot of known children.
func (d *Directory) ChildrenIDs() (*ChildrenIDs, error) {
	rec, err := d.resolve()
	if err != nil {
		return nil, err
	}
	return rec.st.dir.Children(), nil
}

// AdoptedCount returns how many names are memoized as absent.
func (d *Directory) AdoptedCount() (int, error) {
	rec, err := d.resolve()
	if err != nil {
		return 0, err
	}
	return rec.st.dir.AdoptedCount(), nil
}

// ClearAdoptedNames forgets every name memoized as absent.
func (d *Directory) ClearAdoptedNames() error {
	rec, err := d.resolve()
	if err != nil {
		return err
	}
	unlock := rec.st.dir.lockWrite()
	rec.st.dir.clearAdoptedLocked()
	unlock()
	return nil
}

// Check verifies the children order and that no child is adopted. It runs
// regardless of Options.StrictChecks.
func (d *Directory) Check() error {
	rec, err := d.resolve()
	if err != nil {
		return err
	}
	cs, err := d.IsCaseSensitive()
	if err != nil {
		return err
	}
	dr := rec.st.dir
	dr.mu.Lock()
	defer dr.mu.Unlock()
	if err := dr.checkLocked(d.v, cs); err != nil {
		if e, ok := err.(*Error); ok {
			e.ID = d.id
		}
		return err
	}
	return nil
}

// IsCaseSensitive reports how the directory compares child names. The
// first call determines it from the driver and records it.
func (d *Directory) IsCaseSensitive() (bool, error) {
	if _, err := d.resolve(); err != nil {
		return false, err
	}
	if f := d.seg.flags(d.id); f.Has(FlagCaseSensitivityKnown) {
		return f.Has(FlagChildrenCaseSensitive), nil
	}

	m, rel, err := d.v.pathOf(d.id)
	if err != nil {
		return false, err
	}
	cs := m.driver.CaseSensitive()
	attrs, ok, err := m.driver.Attributes(rel)
	if err != nil {
		return false, ioError(d.id, "stat "+rel, err)
	}
	if ok {
		if sensitive, known := attrs.CaseSensitivity(); known {
			cs = sensitive
		}
	}
	logger.Debug("Directory %d (%s) case sensitivity determined: %v", d.id, rel, cs)
	if err := d.SetCaseSensitivity(cs); err != nil {
		return false, err
	}
	return cs, nil
}

// SetCaseSensitivity records the directory's case sensitivity. When the
// comparator changes the children are re-sorted under the directory lock
// and the adopted names are dropped.
func (d *Directory) SetCaseSensitivity(caseSensitive bool) error {
	rec, err := d.resolve()
	if err != nil {
		return err
	}
	dr := rec.st.dir

	unlock := dr.lockWrite()
	old := d.seg.flags(d.id)
	if old.Has(FlagCaseSensitivityKnown) && old.Has(FlagChildrenCaseSensitive) == caseSensitive {
		unlock()
		return nil
	}
	values := FlagCaseSensitivityKnown
	if caseSensitive {
		values |= FlagChildrenCaseSensitive
	}
	d.seg.setFlags(d.id, FlagCaseSensitivityKnown|FlagChildrenCaseSensitive, values)
	dups, err := dr.setCaseSensitivityLocked(d.v, caseSensitive)
	if err == nil {
		err = d.v.checkLocked(d.id, dr, caseSensitive)
	}
	unlock()
	if err != nil {
		return err
	}
	d.v.reportDuplicates(d.id, dups)

	attrs := flagsToAttributes(d.seg.flags(d.id), true)
	if err := d.v.peer.SetAttributes(d.id, attrs); err != nil {
		return ioError(d.id, "persist case sensitivity", err)
	}
	return nil
}

// FindChild returns the child called name, or nil if there is none.
// Missing children are not errors; they are memoized as adopted names.
func (d *Directory) FindChild(name string) (h Handle, err error) {
	start := time.Now()
	defer func() { d.v.observe("find_child", start, err) }()
	return d.findChild(name, false)
}

// RefreshAndFindChild is FindChild that consults the driver even when the
// cache has an answer, creating or invalidating the child to match it.
func (d *Directory) RefreshAndFindChild(name string) (h Handle, err error) {
	start := time.Now()
	defer func() { d.v.observe("refresh_find_child", start, err) }()
	return d.findChild(name, true)
}

func (d *Directory) findChild(name string, refresh bool) (Handle, error) {
	if name == "" || strings.Contains(name, "/") {
		return nil, newError(ErrCodeInvalidArgument, d.id, "invalid child name %q", name)
	}
	rec, err := d.resolve()
	if err != nil {
		return nil, err
	}
	cs, err := d.IsCaseSensitive()
	if err != nil {
		return nil, err
	}

	dr := rec.st.dir
	id, res, err := dr.findChild(d.v, name, cs)
	if err != nil {
		return nil, err
	}
	d.v.metrics.RecordLookup(res.String())
	if !refresh {
		switch res {
		case LookupFound:
			return d.v.getOrLoad(id)
		case LookupAdopted, LookupAbsent:
			return nil, nil
		}
	}

	m, rel, err := d.v.pathOf(d.id)
	if err != nil {
		return nil, err
	}

	dr.mu.Lock()
	id, gone, err := d.findChildLocked(rec, dr, m, rel, name, cs, refresh)
	dr.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if gone.Valid() {
		h, err := d.v.getOrLoad(gone)
		if err != nil || h == nil {
			return nil, err
		}
		err = d.v.Batch(func(b *Batch) error {
			return b.Invalidate(h, "vanished from "+joinPath(rel, name))
		})
		return nil, err
	}
	if !id.Valid() {
		return nil, nil
	}
	return d.v.getOrLoad(id)
}

// findChildLocked is the slow path of findChild: the peer, then the driver.
// It returns the id of a loaded child that no longer exists on disk as gone.
func (d *Directory) findChildLocked(rec *record, dr *DirectoryRecord, m *mount, rel, name string, cs, refresh bool) (id, gone FileID, err error) {
	key := newSortKey(name, cs)
	id, res, err := dr.lookup(d.v, key, cs)
	if err != nil {
		return InvalidID, InvalidID, err
	}
	switch {
	case res == LookupFound && !refresh:
		return id, InvalidID, nil
	case res == LookupFound:
		childName, err := d.v.names.Name(d.v.store.segment(id, false).nameID(id))
		if err != nil {
			return InvalidID, InvalidID, err
		}
		_, ok, err := m.driver.Attributes(joinPath(rel, childName))
		if err != nil {
			return InvalidID, InvalidID, ioError(id, "stat "+childName, err)
		}
		if !ok {
			return InvalidID, id, nil
		}
		return id, InvalidID, nil
	case res != LookupUnknown && !refresh:
		return InvalidID, InvalidID, nil
	}

	infos, err := d.v.peer.ListChildren(d.id)
	if err != nil {
		return InvalidID, InvalidID, ioError(d.id, "list persisted children", err)
	}
	info, found, err := d.v.matchChild(infos, name, cs)
	if err != nil {
		return InvalidID, InvalidID, err
	}
	if found && refresh {
		_, ok, err := m.driver.Attributes(joinPath(rel, info.Name))
		if err != nil {
			return InvalidID, InvalidID, ioError(info.ID, "stat "+info.Name, err)
		}
		if !ok {
			if err := d.v.peer.DeleteRecord(info.ID); err != nil {
				return InvalidID, InvalidID, ioError(info.ID, "delete vanished record", err)
			}
			found = false
		}
	}
	if found {
		if err := d.v.loadChildLocked(rec, dr, info, cs, false); err != nil {
			return InvalidID, InvalidID, err
		}
		return info.ID, InvalidID, nil
	}

	if !refresh {
		cached, err := d.v.peer.ChildrenCached(d.id)
		if err != nil {
			return InvalidID, InvalidID, ioError(d.id, "read children state", err)
		}
		if cached {
			d.adoptLocked(dr, key.key)
			return InvalidID, InvalidID, nil
		}
	}

	childRel := joinPath(rel, name)
	attrs, ok, err := m.driver.Attributes(childRel)
	if err != nil {
		return InvalidID, InvalidID, ioError(d.id, "stat "+childRel, err)
	}
	if !ok {
		d.adoptLocked(dr, key.key)
		return InvalidID, InvalidID, nil
	}
	diskName := name
	if !cs {
		if diskName, err = m.driver.CanonicallyCasedName(childRel); err != nil {
			return InvalidID, InvalidID, ioError(d.id, "canonical name of "+childRel, err)
		}
	}
	newID, err := d.v.peer.CreateRecord(d.id, diskName, attrs)
	if err != nil {
		return InvalidID, InvalidID, ioError(d.id, "create record for "+diskName, err)
	}
	if err := d.v.loadChildLocked(rec, dr, ChildInfo{ID: newID, Name: diskName, Attributes: attrs}, cs, false); err != nil {
		return InvalidID, InvalidID, err
	}
	return newID, InvalidID, nil
}

func (d *Directory) adoptLocked(dr *DirectoryRecord, key string) {
	dr.beginWrite()
	dr.adoptLocked(key)
	dr.endWrite()
}

// matchChild finds name among infos, preferring an exact match over one
// that is only equal under the comparator. Names are filled in.
func (v *VFS) matchChild(infos []ChildInfo, name string, cs bool) (ChildInfo, bool, error) {
	var candidate ChildInfo
	found := false
	for _, info := range infos {
		childName, err := v.infoName(info)
		if err != nil {
			return ChildInfo{}, false, err
		}
		info.Name = childName
		if childName == name {
			return info, true, nil
		}
		if !found && NamesEqual(childName, name, cs) {
			candidate, found = info, true
		}
	}
	return candidate, found, nil
}

func (v *VFS) infoName(info ChildInfo) (string, error) {
	if info.Name != "" || info.NameID == 0 {
		return info.Name, nil
	}
	return v.names.Name(info.NameID)
}

// Children returns every child, loading them from the peer (and, the first
// time, from the driver) unless they are all loaded already.
func (d *Directory) Children() ([]Handle, error) {
	rec, err := d.resolve()
	if err != nil {
		return nil, err
	}
	cs, err := d.IsCaseSensitive()
	if err != nil {
		return nil, err
	}
	if c := rec.st.dir.Children(); c.allLoaded && c.sortedFor(cs) {
		return d.v.handles(c.ids)
	}
	return d.LoadAllChildren()
}

// LoadAllChildren reloads the children from the peer and marks them all
// loaded. Children the peer has never listed are discovered through the
// driver first.
func (d *Directory) LoadAllChildren() (hs []Handle, err error) {
	start := time.Now()
	defer func() { d.v.observe("load_children", start, err) }()

	rec, err := d.resolve()
	if err != nil {
		return nil, err
	}
	cs, err := d.IsCaseSensitive()
	if err != nil {
		return nil, err
	}
	m, rel, err := d.v.pathOf(d.id)
	if err != nil {
		return nil, err
	}

	dr := rec.st.dir
	dr.mu.Lock()
	ids, dups, err := d.loadAllLocked(rec, dr, m, rel, cs)
	dr.mu.Unlock()
	if err != nil {
		return nil, err
	}
	d.v.reportDuplicates(d.id, dups)
	return d.v.handles(ids)
}

func (d *Directory) loadAllLocked(rec *record, dr *DirectoryRecord, m *mount, rel string, cs bool) ([]FileID, []DuplicateName, error) {
	cached, err := d.v.peer.ChildrenCached(d.id)
	if err != nil {
		return nil, nil, ioError(d.id, "read children state", err)
	}
	if !cached {
		if err := d.syncFromDriverLocked(m, rel); err != nil {
			return nil, nil, err
		}
	}

	infos, err := d.v.peer.ListChildren(d.id)
	if err != nil {
		return nil, nil, ioError(d.id, "list persisted children", err)
	}
	ids := make([]FileID, 0, len(infos))
	for _, info := range infos {
		_, existing := d.v.store.slot(info.ID)
		switch {
		case existing == deadMarker:
			logger.Warn("Peer lists reclaimed id %d under directory %d", info.ID, d.id)
			continue
		case existing == nil:
			if err := d.v.materialize(rec, info, false); err != nil {
				return nil, nil, err
			}
		}
		ids = append(ids, info.ID)
	}

	dr.beginWrite()
	dups, err := dr.loadAllChildrenLocked(d.v, ids, cs)
	dr.endWrite()
	if err != nil {
		return nil, nil, err
	}
	if err := d.v.checkLocked(d.id, dr, cs); err != nil {
		return nil, nil, err
	}
	return dr.Children().IDs(), dups, nil
}

// syncFromDriverLocked persists every on-disk entry the peer does not know
// yet and marks the peer's listing complete.
func (d *Directory) syncFromDriverLocked(m *mount, rel string) error {
	names, err := m.driver.List(rel)
	if err != nil {
		return ioError(d.id, "list "+rel, err)
	}
	infos, err := d.v.peer.ListChildren(d.id)
	if err != nil {
		return ioError(d.id, "list persisted children", err)
	}
	known := make(map[string]struct{}, len(infos))
	for _, info := range infos {
		name, err := d.v.infoName(info)
		if err != nil {
			return err
		}
		known[name] = struct{}{}
	}
	for _, name := range names {
		if _, ok := known[name]; ok {
			continue
		}
		attrs, ok, err := m.driver.Attributes(joinPath(rel, name))
		if err != nil {
			return ioError(d.id, "stat "+name, err)
		}
		if !ok {
			continue
		}
		if _, err := d.v.peer.CreateRecord(d.id, name, attrs); err != nil {
			return ioError(d.id, "create record for "+name, err)
		}
	}
	if err := d.v.peer.SetChildrenCached(d.id); err != nil {
		return ioError(d.id, "mark children cached", err)
	}
	return nil
}

// CachedChildren returns the children that are loaded, without touching
// the peer or the driver.
func (d *Directory) CachedChildren() ([]Handle, error) {
	rec, err := d.resolve()
	if err != nil {
		return nil, err
	}
	return d.v.handles(rec.st.dir.Children().ids)
}

// IterInDBChildren yields the children known to the peer without listing
// the driver. Yielded children become loaded.
func (d *Directory) IterInDBChildren() iter.Seq2[Handle, error] {
	return func(yield func(Handle, error) bool) {
		ids, err := d.loadPersistedChildren()
		if err != nil {
			yield(nil, err)
			return
		}
		for _, id := range ids {
			h, err := d.v.getOrLoad(id)
			if h == nil && err == nil {
				continue
			}
			if !yield(h, err) {
				return
			}
		}
	}
}

func (d *Directory) loadPersistedChildren() ([]FileID, error) {
	rec, err := d.resolve()
	if err != nil {
		return nil, err
	}
	cs, err := d.IsCaseSensitive()
	if err != nil {
		return nil, err
	}
	dr := rec.st.dir
	dr.mu.Lock()
	defer dr.mu.Unlock()

	infos, err := d.v.peer.ListChildren(d.id)
	if err != nil {
		return nil, ioError(d.id, "list persisted children", err)
	}
	ids := make([]FileID, 0, len(infos))
	for _, info := range infos {
		if err := d.v.loadChildLocked(rec, dr, info, cs, false); err != nil {
			return nil, err
		}
		ids = append(ids, info.ID)
	}
	return ids, nil
}

// AddChildren merges newly discovered children in one pass. Entries without
// an ID are persisted first (reusing a persisted child of the same name).
// Directory entries with a Children listing are populated recursively and
// marked all loaded. With markAllLoaded the merged set is declared complete.
func (d *Directory) AddChildren(infos []ChildInfo, markAllLoaded bool) (hs []Handle, err error) {
	start := time.Now()
	defer func() { d.v.observe("add_children", start, err) }()

	rec, err := d.resolve()
	if err != nil {
		return nil, err
	}
	cs, err := d.IsCaseSensitive()
	if err != nil {
		return nil, err
	}

	type nested struct {
		id       FileID
		children []ChildInfo
	}
	var subdirs []nested

	dr := rec.st.dir
	dr.mu.Lock()
	ids, dups, err := func() ([]FileID, []DuplicateName, error) {
		var persisted map[string]FileID
		ids := make([]FileID, 0, len(infos))
		for _, info := range infos {
			name, err := d.v.infoName(info)
			if err != nil {
				return nil, nil, err
			}
			info.Name = name
			if !info.ID.Valid() {
				if persisted == nil {
					if persisted, err = d.persistedNames(); err != nil {
						return nil, nil, err
					}
				}
				if id, ok := persisted[name]; ok {
					info.ID = id
				} else if info.ID, err = d.v.peer.CreateRecord(d.id, name, info.Attributes); err != nil {
					return nil, nil, ioError(d.id, "create record for "+name, err)
				}
				persisted[name] = info.ID
			}

			_, existing := d.v.store.slot(info.ID)
			switch {
			case existing == deadMarker:
				return nil, nil, deadFileError(info.ID, d.v.inv.reason(info.ID))
			case existing == nil:
				if err := d.v.materialize(rec, info, false); err != nil {
					return nil, nil, err
				}
			}
			if !slices.Contains(ids, info.ID) {
				ids = append(ids, info.ID)
			}
			if info.Children != nil && info.Attributes.IsDirectory() {
				subdirs = append(subdirs, nested{id: info.ID, children: info.Children})
			}
		}

		dr.beginWrite()
		dups, err := dr.mergeChildrenLocked(d.v, ids, cs, markAllLoaded)
		dr.endWrite()
		if err != nil {
			return nil, nil, err
		}
		if err := d.v.checkLocked(d.id, dr, cs); err != nil {
			return nil, nil, err
		}
		if markAllLoaded {
			if err := d.v.peer.SetChildrenCached(d.id); err != nil {
				return nil, nil, ioError(d.id, "mark children cached", err)
			}
		}
		return ids, dups, nil
	}()
	dr.mu.Unlock()
	if err != nil {
		return nil, err
	}
	d.v.reportDuplicates(d.id, dups)

	for _, sub := range subdirs {
		child, err := d.v.directory(sub.id)
		if err != nil {
			return nil, err
		}
		if _, err := child.AddChildren(sub.children, true); err != nil {
			return nil, err
		}
	}
	if len(ids) > 0 {
		d.v.structMod.Add(1)
	}
	return d.v.handles(ids)
}

func (d *Directory) persistedNames() (map[string]FileID, error) {
	infos, err := d.v.peer.ListChildren(d.id)
	if err != nil {
		return nil, ioError(d.id, "list persisted children", err)
	}
	names := make(map[string]FileID, len(infos))
	for _, info := range infos {
		name, err := d.v.infoName(info)
		if err != nil {
			return nil, err
		}
		names[name] = info.ID
	}
	return names, nil
}

// CreateChildFile creates an empty file on disk and returns its handle.
func (d *Directory) CreateChildFile(name string) (*File, error) {
	h, err := d.createChild(name, false)
	if err != nil {
		return nil, err
	}
	return h.(*File), nil
}

// CreateChildDirectory creates an empty directory on disk and returns its
// handle. The new directory's children are known to be complete.
func (d *Directory) CreateChildDirectory(name string) (*Directory, error) {
	h, err := d.createChild(name, true)
	if err != nil {
		return nil, err
	}
	return h.(*Directory), nil
}

func (d *Directory) createChild(name string, dir bool) (h Handle, err error) {
	start := time.Now()
	defer func() { d.v.observe("create", start, err) }()

	rec, err := d.resolve()
	if err != nil {
		return nil, err
	}
	m, rel, err := d.v.pathOf(d.id)
	if err != nil {
		return nil, err
	}
	if name == "" || !m.driver.ValidName(name) {
		return nil, &Error{Code: ErrCodeInvalidName, ID: d.id, Message: "invalid name " + name, Path: rel}
	}
	cs, err := d.IsCaseSensitive()
	if err != nil {
		return nil, err
	}
	existing, err := d.FindChild(name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &Error{Code: ErrCodeAlreadyExists, ID: existing.ID(), Message: "name is taken", Path: joinPath(rel, name)}
	}

	childRel := joinPath(rel, name)
	dr := rec.st.dir
	dr.mu.Lock()
	id, err := func() (FileID, error) {
		create := m.driver.CreateFile
		if dir {
			create = m.driver.CreateDirectory
		}
		if err := create(childRel); err != nil {
			return InvalidID, ioError(d.id, "create "+childRel, err)
		}
		attrs, ok, err := m.driver.Attributes(childRel)
		if err != nil {
			return InvalidID, ioError(d.id, "stat "+childRel, err)
		}
		if !ok {
			return InvalidID, newError(ErrCodeIO, d.id, "%s vanished after creation", childRel)
		}
		id, err := d.v.peer.CreateRecord(d.id, name, attrs)
		if err != nil {
			return InvalidID, ioError(d.id, "create record for "+name, err)
		}
		if dir {
			if err := d.v.peer.SetChildrenCached(id); err != nil {
				return InvalidID, ioError(id, "mark children cached", err)
			}
		}
		return id, d.v.loadChildLocked(rec, dr, ChildInfo{ID: id, Name: name, Attributes: attrs}, cs, dir)
	}()
	dr.mu.Unlock()
	if err != nil {
		return nil, err
	}

	d.v.structMod.Add(1)
	h, err = d.v.getOrLoad(id)
	if err == nil && h == nil {
		err = newError(ErrCodeNotFound, id, "created child is not loaded")
	}
	return h, err
}

// RefreshResult lists the names a Refresh added and removed.
type RefreshResult struct {
	Added   []string
	Removed []string
}

// Refresh reconciles the directory with the driver: new entries are
// persisted and loaded, vanished ones are invalidated in one batch, and
// loaded children get their attributes updated.
func (d *Directory) Refresh() (res RefreshResult, err error) {
	start := time.Now()
	defer func() { d.v.observe("refresh", start, err) }()

	rec, err := d.resolve()
	if err != nil {
		return res, err
	}
	m, rel, err := d.v.pathOf(d.id)
	if err != nil {
		return res, err
	}
	names, err := m.driver.List(rel)
	if err != nil {
		return res, ioError(d.id, "list "+rel, err)
	}
	onDisk := make(map[string]struct{}, len(names))
	for _, name := range names {
		onDisk[name] = struct{}{}
	}

	var vanished []FileID
	dr := rec.st.dir
	dr.mu.Lock()
	err = func() error {
		persisted, err := d.persistedNames()
		if err != nil {
			return err
		}
		for _, name := range names {
			if _, ok := persisted[name]; ok {
				continue
			}
			attrs, ok, err := m.driver.Attributes(joinPath(rel, name))
			if err != nil {
				return ioError(d.id, "stat "+name, err)
			}
			if !ok {
				continue
			}
			if _, err := d.v.peer.CreateRecord(d.id, name, attrs); err != nil {
				return ioError(d.id, "create record for "+name, err)
			}
			res.Added = append(res.Added, name)
		}
		for name, id := range persisted {
			if _, ok := onDisk[name]; ok {
				continue
			}
			res.Removed = append(res.Removed, name)
			if _, existing := d.v.store.slot(id); existing != nil {
				vanished = append(vanished, id)
				continue
			}
			if err := d.v.peer.DeleteRecord(id); err != nil {
				return ioError(id, "delete vanished record", err)
			}
		}
		if err := d.v.peer.SetChildrenCached(d.id); err != nil {
			return ioError(d.id, "mark children cached", err)
		}
		return nil
	}()
	dr.mu.Unlock()
	if err != nil {
		return res, err
	}
	slices.Sort(res.Added)
	slices.Sort(res.Removed)

	if len(vanished) > 0 {
		err = d.v.Batch(func(b *Batch) error {
			for _, id := range vanished {
				h, err := d.v.getOrLoad(id)
				if err != nil {
					return err
				}
				if h == nil {
					continue
				}
				if err := b.Invalidate(h, "vanished during refresh of "+rel); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return res, err
		}
	}

	children, err := d.LoadAllChildren()
	if err != nil {
		return res, err
	}
	for _, child := range children {
		if err := d.refreshAttributes(m, rel, child); err != nil {
			return res, err
		}
	}
	if len(res.Added) > 0 {
		d.v.structMod.Add(1)
	}
	return res, nil
}

// refreshFlags are the flags a refresh copies from the driver.
const refreshFlags = FlagWritable | FlagHidden | FlagOffline | FlagSymlink

func (d *Directory) refreshAttributes(m *mount, rel string, child Handle) error {
	name, err := child.Name()
	if err != nil {
		return err
	}
	attrs, ok, err := m.driver.Attributes(joinPath(rel, name))
	if err != nil {
		return ioError(child.ID(), "stat "+name, err)
	}
	if !ok {
		return nil
	}
	e := entryOf(child)
	fresh := attributesToFlags(attrs) & refreshFlags
	old := e.seg.setFlags(e.id, refreshFlags, fresh)
	if old&refreshFlags == fresh {
		return nil
	}
	if (old^fresh)&FlagSymlink != 0 && child.IsDirectory() {
		d.v.setSymlinkAncestor(e.id, e.seg.flags(e.id).Has(FlagHasSymlinkAncestor))
	}
	persisted := flagsToAttributes(e.seg.flags(e.id), child.IsDirectory())
	if err := d.v.peer.SetAttributes(e.id, persisted); err != nil {
		return ioError(e.id, "persist attributes", err)
	}
	return nil
}
