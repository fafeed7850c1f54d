package vfs

import "strings"

// FileID is the stable identity of a file or directory for the lifetime of
// a peer session. Ids are never reused within a session, not even after
// deletion. Zero and negative values are invalid.
type FileID int32

// InvalidID is the zero FileID. It never denotes a file.
const InvalidID FileID = 0

// Valid reports whether id can denote a file.
func (id FileID) Valid() bool {
	return id > 0
}

// Attributes is the attribute bitset exchanged with peers and drivers.
type Attributes uint32

const (
	AttrDirectory Attributes = 1 << iota
	AttrSymlink
	AttrSpecial
	AttrHidden
	AttrWritable
	AttrOffline

	// AttrCaseSensitive and AttrCaseInsensitive describe how a directory
	// compares its children's names. When neither is set the sensitivity
	// is unknown and the driver default applies until it is determined.
	AttrCaseSensitive
	AttrCaseInsensitive
)

// Has reports whether all bits of mask are set.
func (a Attributes) Has(mask Attributes) bool {
	return a&mask == mask
}

// IsDirectory reports whether the attributes describe a directory.
func (a Attributes) IsDirectory() bool {
	return a&AttrDirectory != 0
}

// CaseSensitivity returns the recorded case sensitivity and whether it is
// known at all.
func (a Attributes) CaseSensitivity() (sensitive, known bool) {
	switch {
	case a&AttrCaseSensitive != 0:
		return true, true
	case a&AttrCaseInsensitive != 0:
		return false, true
	default:
		return false, false
	}
}

// WithCaseSensitivity returns a copy of a with the case bits replaced.
func (a Attributes) WithCaseSensitivity(sensitive bool) Attributes {
	a &^= AttrCaseSensitive | AttrCaseInsensitive
	if sensitive {
		return a | AttrCaseSensitive
	}
	return a | AttrCaseInsensitive
}

func (a Attributes) String() string {
	var parts []string
	names := []struct {
		bit  Attributes
		name string
	}{
		{AttrDirectory, "dir"},
		{AttrSymlink, "symlink"},
		{AttrSpecial, "special"},
		{AttrHidden, "hidden"},
		{AttrWritable, "writable"},
		{AttrOffline, "offline"},
		{AttrCaseSensitive, "case-sensitive"},
		{AttrCaseInsensitive, "case-insensitive"},
	}
	for _, n := range names {
		if a&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// ChildInfo describes one child as known to the peer, or as discovered by a
// refresh before it is persisted (ID == InvalidID).
type ChildInfo struct {
	// ID is the child's file id. InvalidID for entries not yet persisted.
	ID FileID

	// NameID is the peer's interned id for Name. Zero when unknown.
	NameID int32

	// Name is the child's name. May be empty when NameID is set.
	Name string

	// Attributes are the child's attributes.
	Attributes Attributes

	// Children, when non-nil, is the complete known listing of a directory
	// child. Bulk inserts use it to materialize whole subtrees at once.
	Children []ChildInfo
}

// Peer is the persistent record store the cache mirrors. It durably maps
// file ids to names, parents and attributes.
//
// Implementations must be safe for concurrent use. The cache calls peers
// while holding directory locks, so calls are expected to be local and
// synchronous. Errors are surfaced to callers unchanged; the cache never
// retries.
type Peer interface {
	// SessionID identifies the session for which ids are stable.
	SessionID() string

	// Name returns the current name of id.
	Name(id FileID) (string, error)

	// NameID interns name and returns its id.
	NameID(name string) (int32, error)

	// NameByID returns the name interned under nameID.
	NameByID(nameID int32) (string, error)

	// Parent returns the parent of id, or InvalidID for roots.
	Parent(id FileID) (FileID, error)

	// Attributes returns the persisted attributes of id.
	Attributes(id FileID) (Attributes, error)

	// IsDeleted reports whether id was deleted in this session.
	IsDeleted(id FileID) (bool, error)

	// ListChildren returns the persisted children of dir.
	ListChildren(dir FileID) ([]ChildInfo, error)

	// ChildrenCached reports whether dir's persisted children were
	// populated from a complete driver listing.
	ChildrenCached(dir FileID) (bool, error)

	// SetChildrenCached marks dir's persisted children as complete.
	SetChildrenCached(dir FileID) error

	// CreateRecord persists a new child of parent and returns its id.
	CreateRecord(parent FileID, name string, attrs Attributes) (FileID, error)

	// FindRoot returns the root record for path, or InvalidID.
	FindRoot(path string) (FileID, error)

	// CreateRoot persists a new root record for path.
	CreateRoot(path string, attrs Attributes) (FileID, error)

	// SetName renames id.
	SetName(id FileID, name string) error

	// SetParent moves id under parent.
	SetParent(id FileID, parent FileID) error

	// SetAttributes replaces the persisted attributes of id.
	SetAttributes(id FileID, attrs Attributes) error

	// DeleteRecord deletes id and its persisted subtree.
	DeleteRecord(id FileID) error

	// Close releases the peer's resources.
	Close() error
}

// Driver is the physical file system behind a mount. Paths are relative to
// the mount root, use '/' as separator, and the root itself is "".
type Driver interface {
	// Attributes returns the attributes of path. ok is false when the path
	// does not exist.
	Attributes(path string) (attrs Attributes, ok bool, err error)

	// List returns the names of the entries of the directory at path.
	List(path string) ([]string, error)

	// CanonicallyCasedName returns the name of path's last component as
	// stored on disk.
	CanonicallyCasedName(path string) (string, error)

	// ResolveSymlink returns the target of the symlink at path.
	ResolveSymlink(path string) (string, error)

	// CaseSensitive returns the file system's default case sensitivity.
	CaseSensitive() bool

	// ValidName reports whether name may be used for a new entry.
	ValidName(name string) bool

	CreateFile(path string) error
	CreateDirectory(path string) error
	Rename(oldPath, newPath string) error
	Remove(path string) error
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
}
