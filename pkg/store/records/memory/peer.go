// Package memory implements vfs.Peer on in-process maps.
//
// Records live for the lifetime of the process. The store is intended for
// tests, ephemeral mounts, and as a reference implementation of the Peer
// contract.
package memory

import (
	"fmt"
	"slices"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"github.com/google/uuid"
	"github.com/marmos91/dittovfs/pkg/vfs"
)

type recordData struct {
	nameID         int32
	parent         vfs.FileID
	attrs          vfs.Attributes
	childrenCached bool
}

// Peer implements vfs.Peer using in-memory storage.
//
// Thread Safety:
// All operations are protected by a single read-write mutex.
type Peer struct {
	mu sync.RWMutex

	session string
	lastID  vfs.FileID

	records  map[vfs.FileID]*recordData
	children map[vfs.FileID]map[vfs.FileID]struct{}
	roots    map[string]vfs.FileID

	// deleted holds every id removed in this session.
	deleted *roaring.Bitmap

	// names[i] is the name interned under id i+1.
	names   []string
	nameIDs map[string]int32
}

var _ vfs.Peer = (*Peer)(nil)

// New creates an empty in-memory peer with a fresh session id.
func New() *Peer {
	return &Peer{
		session:  uuid.NewString(),
		records:  make(map[vfs.FileID]*recordData),
		children: make(map[vfs.FileID]map[vfs.FileID]struct{}),
		roots:    make(map[string]vfs.FileID),
		deleted:  roaring.New(),
		nameIDs:  make(map[string]int32),
	}
}

func notFound(id vfs.FileID) error {
	return &vfs.Error{Code: vfs.ErrCodeNotFound, ID: id, Message: "no such record"}
}

func exists(parent vfs.FileID, name string) error {
	return &vfs.Error{
		Code:    vfs.ErrCodeAlreadyExists,
		ID:      parent,
		Message: fmt.Sprintf("child %q already exists", name),
	}
}

func (p *Peer) SessionID() string {
	return p.session
}

// ============================================================================
// Names
// ============================================================================

func (p *Peer) NameID(name string) (int32, error) {
	p.mu.RLock()
	id, ok := p.nameIDs[name]
	p.mu.RUnlock()
	if ok {
		return id, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.internLocked(name), nil
}

func (p *Peer) internLocked(name string) int32 {
	if id, ok := p.nameIDs[name]; ok {
		return id
	}
	p.names = append(p.names, name)
	id := int32(len(p.names))
	p.nameIDs[name] = id
	return id
}

func (p *Peer) NameByID(nameID int32) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if nameID <= 0 || int(nameID) > len(p.names) {
		return "", &vfs.Error{Code: vfs.ErrCodeNotFound, Message: fmt.Sprintf("no name with id %d", nameID)}
	}
	return p.names[nameID-1], nil
}

// ============================================================================
// Records
// ============================================================================

func (p *Peer) recordLocked(id vfs.FileID) (*recordData, error) {
	r, ok := p.records[id]
	if !ok {
		return nil, notFound(id)
	}
	return r, nil
}

func (p *Peer) Name(id vfs.FileID) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	r, err := p.recordLocked(id)
	if err != nil {
		return "", err
	}
	return p.names[r.nameID-1], nil
}

func (p *Peer) Parent(id vfs.FileID) (vfs.FileID, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	r, err := p.recordLocked(id)
	if err != nil {
		return vfs.InvalidID, err
	}
	return r.parent, nil
}

func (p *Peer) Attributes(id vfs.FileID) (vfs.Attributes, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	r, err := p.recordLocked(id)
	if err != nil {
		return 0, err
	}
	return r.attrs, nil
}

func (p *Peer) IsDeleted(id vfs.FileID) (bool, error) {
	if !id.Valid() {
		return false, nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.deleted.Contains(uint32(id)), nil
}

// ListChildren returns dir's children ordered by id.
func (p *Peer) ListChildren(dir vfs.FileID) ([]vfs.ChildInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if _, err := p.recordLocked(dir); err != nil {
		return nil, err
	}
	kids := p.children[dir]
	infos := make([]vfs.ChildInfo, 0, len(kids))
	for id := range kids {
		r := p.records[id]
		infos = append(infos, vfs.ChildInfo{
			ID:         id,
			NameID:     r.nameID,
			Name:       p.names[r.nameID-1],
			Attributes: r.attrs,
		})
	}
	slices.SortFunc(infos, func(a, b vfs.ChildInfo) int { return int(a.ID - b.ID) })
	return infos, nil
}

func (p *Peer) ChildrenCached(dir vfs.FileID) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	r, err := p.recordLocked(dir)
	if err != nil {
		return false, err
	}
	return r.childrenCached, nil
}

func (p *Peer) SetChildrenCached(dir vfs.FileID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, err := p.recordLocked(dir)
	if err != nil {
		return err
	}
	r.childrenCached = true
	return nil
}

// childNamedLocked returns the child of parent whose name is exactly name.
func (p *Peer) childNamedLocked(parent vfs.FileID, name string) (vfs.FileID, bool) {
	nameID, ok := p.nameIDs[name]
	if !ok {
		return vfs.InvalidID, false
	}
	for id := range p.children[parent] {
		if p.records[id].nameID == nameID {
			return id, true
		}
	}
	return vfs.InvalidID, false
}

func (p *Peer) newRecordLocked(parent vfs.FileID, name string, attrs vfs.Attributes) vfs.FileID {
	p.lastID++
	id := p.lastID
	p.records[id] = &recordData{nameID: p.internLocked(name), parent: parent, attrs: attrs}
	if parent.Valid() {
		if p.children[parent] == nil {
			p.children[parent] = make(map[vfs.FileID]struct{})
		}
		p.children[parent][id] = struct{}{}
	}
	return id
}

func (p *Peer) CreateRecord(parent vfs.FileID, name string, attrs vfs.Attributes) (vfs.FileID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.recordLocked(parent); err != nil {
		return vfs.InvalidID, err
	}
	if _, ok := p.childNamedLocked(parent, name); ok {
		return vfs.InvalidID, exists(parent, name)
	}
	return p.newRecordLocked(parent, name, attrs), nil
}

func (p *Peer) FindRoot(path string) (vfs.FileID, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.roots[path], nil
}

func (p *Peer) CreateRoot(path string, attrs vfs.Attributes) (vfs.FileID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.roots[path]; ok {
		return vfs.InvalidID, &vfs.Error{
			Code:    vfs.ErrCodeAlreadyExists,
			Message: "root already exists",
			Path:    path,
		}
	}
	id := p.newRecordLocked(vfs.InvalidID, path, attrs)
	p.roots[path] = id
	return id, nil
}

func (p *Peer) SetName(id vfs.FileID, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, err := p.recordLocked(id)
	if err != nil {
		return err
	}
	if other, ok := p.childNamedLocked(r.parent, name); ok && other != id {
		return exists(r.parent, name)
	}
	r.nameID = p.internLocked(name)
	return nil
}

func (p *Peer) SetParent(id vfs.FileID, parent vfs.FileID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, err := p.recordLocked(id)
	if err != nil {
		return err
	}
	if _, err := p.recordLocked(parent); err != nil {
		return err
	}
	name := p.names[r.nameID-1]
	if other, ok := p.childNamedLocked(parent, name); ok && other != id {
		return exists(parent, name)
	}

	delete(p.children[r.parent], id)
	r.parent = parent
	if p.children[parent] == nil {
		p.children[parent] = make(map[vfs.FileID]struct{})
	}
	p.children[parent][id] = struct{}{}
	return nil
}

func (p *Peer) SetAttributes(id vfs.FileID, attrs vfs.Attributes) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, err := p.recordLocked(id)
	if err != nil {
		return err
	}
	r.attrs = attrs
	return nil
}

// DeleteRecord removes id and everything below it. Deleted ids are
// remembered so IsDeleted keeps answering for them.
func (p *Peer) DeleteRecord(id vfs.FileID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, err := p.recordLocked(id)
	if err != nil {
		return err
	}
	delete(p.children[r.parent], id)
	for path, root := range p.roots {
		if root == id {
			delete(p.roots, path)
		}
	}

	stack := []vfs.FileID{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for child := range p.children[cur] {
			stack = append(stack, child)
		}
		delete(p.children, cur)
		delete(p.records, cur)
		p.deleted.Add(uint32(cur))
	}
	return nil
}

// Len returns the number of live records.
func (p *Peer) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.records)
}

func (p *Peer) Close() error {
	return nil
}
