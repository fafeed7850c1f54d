// Package intern deduplicates small immutable values shared by many files:
// user-data maps and paths.
package intern

import (
	"encoding/binary"
	"math"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
	"weak"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

var keySeq atomic.Uint64

// Key identifies a user-data entry. Keys compare by identity: two keys
// created with the same name are different keys.
type Key struct {
	id   uint64
	name string
}

// NewKey creates a new key. name is used for debugging only.
func NewKey(name string) *Key {
	return &Key{id: keySeq.Add(1), name: name}
}

func (k *Key) String() string {
	return k.name
}

type userDataEntry struct {
	key   *Key
	value any
}

// UserData is an immutable key/value map. With returns a modified copy.
type UserData struct {
	entries []userDataEntry // ordered by key id
}

// Empty is the shared empty map.
var Empty = &UserData{}

// Len returns the number of entries.
func (m *UserData) Len() int {
	return len(m.entries)
}

// Get returns the value stored under k, or nil.
func (m *UserData) Get(k *Key) any {
	if i, ok := m.find(k); ok {
		return m.entries[i].value
	}
	return nil
}

// Keys returns the keys in creation order.
func (m *UserData) Keys() []*Key {
	keys := make([]*Key, len(m.entries))
	for i, e := range m.entries {
		keys[i] = e.key
	}
	return keys
}

// With returns a map with k set to value. A nil value removes k. When
// nothing changes m itself is returned.
func (m *UserData) With(k *Key, value any) *UserData {
	i, ok := m.find(k)
	switch {
	case ok && value == nil:
		if len(m.entries) == 1 {
			return Empty
		}
		return &UserData{entries: slices.Delete(slices.Clone(m.entries), i, i+1)}
	case ok:
		if sameValue(m.entries[i].value, value) {
			return m
		}
		entries := slices.Clone(m.entries)
		entries[i].value = value
		return &UserData{entries: entries}
	case value == nil:
		return m
	default:
		return &UserData{entries: slices.Insert(slices.Clone(m.entries), i, userDataEntry{key: k, value: value})}
	}
}

func (m *UserData) find(k *Key) (int, bool) {
	return slices.BinarySearchFunc(m.entries, k.id, func(e userDataEntry, id uint64) int {
		switch {
		case e.key.id < id:
			return -1
		case e.key.id > id:
			return 1
		default:
			return 0
		}
	})
}

// internable reports whether every value can be compared with ==.
func (m *UserData) internable() bool {
	for _, e := range m.entries {
		if !valueComparable(e.value) {
			return false
		}
	}
	return true
}

// equal compares keys by identity and values with ==. Callers must check
// internable first.
func (m *UserData) equal(o *UserData) bool {
	if len(m.entries) != len(o.entries) {
		return false
	}
	for i := range m.entries {
		if m.entries[i].key != o.entries[i].key || !sameValue(m.entries[i].value, o.entries[i].value) {
			return false
		}
	}
	return true
}

// sameValue reports a == b, or false when either operand would make ==
// panic.
func sameValue(a, b any) bool {
	if reflect.TypeOf(a) != reflect.TypeOf(b) || !valueComparable(a) || !valueComparable(b) {
		return false
	}
	return a == b
}

// valueComparable checks the dynamic contents of v, not only its type: a
// struct with an interface field holding a slice has a comparable type but
// panics under ==.
func valueComparable(v any) bool {
	return v != nil && reflect.ValueOf(v).Comparable()
}

func (m *UserData) hash() uint64 {
	d := xxhash.New()
	var buf [8]byte
	for _, e := range m.entries {
		binary.LittleEndian.PutUint64(buf[:], e.key.id)
		_, _ = d.Write(buf[:])
		binary.LittleEndian.PutUint64(buf[:], valueHash(e.value))
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}

// valueHash hashes the common scalar kinds and pointer identities. Other
// values hash to zero and are told apart by equal.
func valueHash(v any) uint64 {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return xxhash.Sum64String(rv.String())
	case reflect.Bool:
		if rv.Bool() {
			return 1
		}
		return 0
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return uint64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return math.Float64bits(rv.Float())
	case reflect.Pointer, reflect.Chan, reflect.UnsafePointer:
		return uint64(rv.Pointer())
	default:
		return 0
	}
}

const (
	// DefaultUserDataCapacity is the number of maps a UserDataInterner
	// remembers.
	DefaultUserDataCapacity = 20

	// DefaultUserDataMaxEntries is the largest map a UserDataInterner
	// interns.
	DefaultUserDataMaxEntries = 4
)

// UserDataInterner returns a canonical instance for equal small maps.
//
// Interned maps are held through weak pointers in a small LRU: a map that
// is no longer referenced by any file can be collected, and the interner
// forgets old maps as new ones arrive.
type UserDataInterner struct {
	mu         sync.Mutex
	cache      *lru.Cache[uint64, []weak.Pointer[UserData]]
	maxEntries int
	hits       atomic.Uint64
	misses     atomic.Uint64
}

// NewUserDataInterner creates an interner remembering up to capacity maps of
// at most maxEntries entries each.
func NewUserDataInterner(capacity, maxEntries int) (*UserDataInterner, error) {
	if capacity <= 0 {
		capacity = DefaultUserDataCapacity
	}
	if maxEntries <= 0 {
		maxEntries = DefaultUserDataMaxEntries
	}
	cache, err := lru.New[uint64, []weak.Pointer[UserData]](capacity)
	if err != nil {
		return nil, err
	}
	return &UserDataInterner{cache: cache, maxEntries: maxEntries}, nil
}

// Intern returns the canonical instance equal to m, registering m if there
// is none. Maps that are too large or hold non-comparable values are
// returned unchanged.
func (in *UserDataInterner) Intern(m *UserData) *UserData {
	if m == nil || m.Len() == 0 {
		return Empty
	}
	if m.Len() > in.maxEntries || !m.internable() {
		return m
	}

	h := m.hash()

	in.mu.Lock()
	defer in.mu.Unlock()

	bucket, _ := in.cache.Get(h)
	live := bucket[:0:0]
	for _, wp := range bucket {
		existing := wp.Value()
		if existing == nil {
			continue
		}
		if existing.equal(m) {
			in.hits.Add(1)
			return existing
		}
		live = append(live, wp)
	}
	in.misses.Add(1)
	in.cache.Add(h, append(live, weak.Make(m)))
	return m
}

// Stats returns the number of interning hits and misses.
func (in *UserDataInterner) Stats() (hits, misses uint64) {
	return in.hits.Load(), in.misses.Load()
}

// Len returns the number of remembered hash buckets.
func (in *UserDataInterner) Len() int {
	return in.cache.Len()
}

// Clear forgets every interned map.
func (in *UserDataInterner) Clear() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.cache.Purge()
}
