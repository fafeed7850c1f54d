package intern

import (
	"encoding/binary"
	"slices"
	"strconv"
	"strings"
	"sync"
	"weak"

	"github.com/cespare/xxhash/v2"
)

// Names interns path components to ids and back.
type Names interface {
	ID(name string) (int32, error)
	Name(id int32) (string, error)
}

// PathView is an interned path: the sequence of name ids of its components.
// Views of equal paths interned by the same PathInterner are the same
// pointer.
type PathView struct {
	ids      []int32
	absolute bool
	hash     uint64
	names    Names
}

// Len returns the number of components.
func (v *PathView) Len() int {
	return len(v.ids)
}

// Absolute reports whether the path starts with '/'.
func (v *PathView) Absolute() bool {
	return v.absolute
}

// NameIDs returns a copy of the component name ids.
func (v *PathView) NameIDs() []int32 {
	return slices.Clone(v.ids)
}

// Hash returns the view's hash, stable for equal paths.
func (v *PathView) Hash() uint64 {
	return v.hash
}

// Equal reports whether v and o denote the same path.
func (v *PathView) Equal(o *PathView) bool {
	if v == o {
		return true
	}
	if v == nil || o == nil {
		return false
	}
	return v.hash == o.hash && v.absolute == o.absolute && slices.Equal(v.ids, o.ids)
}

// String decodes the path. Components that cannot be decoded are rendered
// as their numeric id.
func (v *PathView) String() string {
	var b strings.Builder
	if v.absolute {
		b.WriteByte('/')
	}
	for i, id := range v.ids {
		if i > 0 {
			b.WriteByte('/')
		}
		name, err := v.names.Name(id)
		if err != nil {
			b.WriteString("#")
			b.WriteString(strconv.Itoa(int(id)))
			continue
		}
		b.WriteString(name)
	}
	return b.String()
}

func hashIDs(ids []int32, absolute bool) uint64 {
	d := xxhash.New()
	if absolute {
		_, _ = d.Write([]byte{'/'})
	}
	var buf [4]byte
	for _, id := range ids {
		binary.LittleEndian.PutUint32(buf[:], uint32(id))
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}

// PathInterner maps '/'-separated paths to shared PathViews. Views are held
// weakly and disappear once no caller references them.
type PathInterner struct {
	names   Names
	mu      sync.Mutex
	buckets map[uint64][]weak.Pointer[PathView]
	adds    int
}

// NewPathInterner creates a PathInterner resolving components via names.
func NewPathInterner(names Names) *PathInterner {
	return &PathInterner{names: names, buckets: make(map[uint64][]weak.Pointer[PathView])}
}

// Intern returns the view of path. Empty components are ignored, so "a//b"
// and "a/b/" intern to the same view as "a/b".
func (p *PathInterner) Intern(path string) (*PathView, error) {
	absolute := strings.HasPrefix(path, "/")
	var ids []int32
	for part := range strings.SplitSeq(path, "/") {
		if part == "" {
			continue
		}
		id, err := p.names.ID(part)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return p.InternIDs(ids, absolute), nil
}

// InternIDs returns the view of the given component ids. ids is copied.
func (p *PathInterner) InternIDs(ids []int32, absolute bool) *PathView {
	h := hashIDs(ids, absolute)

	p.mu.Lock()
	defer p.mu.Unlock()

	bucket := p.buckets[h]
	live := bucket[:0]
	var found *PathView
	for _, wp := range bucket {
		v := wp.Value()
		if v == nil {
			continue
		}
		live = append(live, wp)
		if found == nil && v.absolute == absolute && slices.Equal(v.ids, ids) {
			found = v
		}
	}
	if found != nil {
		p.buckets[h] = live
		return found
	}

	v := &PathView{ids: slices.Clone(ids), absolute: absolute, hash: h, names: p.names}
	p.buckets[h] = append(live, weak.Make(v))

	p.adds++
	if p.adds%1024 == 0 {
		p.pruneLocked()
	}
	return v
}

// pruneLocked drops buckets whose views were all collected.
func (p *PathInterner) pruneLocked() {
	for h, bucket := range p.buckets {
		live := bucket[:0]
		for _, wp := range bucket {
			if wp.Value() != nil {
				live = append(live, wp)
			}
		}
		if len(live) == 0 {
			delete(p.buckets, h)
		} else {
			p.buckets[h] = live
		}
	}
}

// Len returns the number of live views.
func (p *PathInterner) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, bucket := range p.buckets {
		for _, wp := range bucket {
			if wp.Value() != nil {
				n++
			}
		}
	}
	return n
}

// Clear forgets every view.
func (p *PathInterner) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.buckets)
	p.adds = 0
}
