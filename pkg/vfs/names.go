package vfs

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/marmos91/dittovfs/pkg/metrics"
)

// NameStore is the part of the peer that interns names.
type NameStore interface {
	NameID(name string) (int32, error)
	NameByID(nameID int32) (string, error)
}

// DefaultNameCacheSize is the number of decoded names kept by a NameTable.
const DefaultNameCacheSize = 4096

// NameTable interns names to small integer ids through the peer and keeps
// LRU caches of the reverse mapping and of case-folded comparison keys, so
// sorting and binary searches do not decode names from the peer each time.
type NameTable struct {
	store   NameStore
	ids     *lru.Cache[string, int32]
	names   *lru.Cache[int32, string]
	folded  *lru.Cache[int32, string]
	metrics metrics.VFSMetrics
}

// NewNameTable creates a NameTable in front of store with room for size
// names per cache.
func NewNameTable(store NameStore, size int, m metrics.VFSMetrics) (*NameTable, error) {
	if size <= 0 {
		size = DefaultNameCacheSize
	}
	if m == nil {
		m = metrics.NewNoopVFSMetrics()
	}
	ids, err := lru.New[string, int32](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create name id cache: %w", err)
	}
	names, err := lru.New[int32, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create name cache: %w", err)
	}
	folded, err := lru.New[int32, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create folded name cache: %w", err)
	}
	return &NameTable{store: store, ids: ids, names: names, folded: folded, metrics: m}, nil
}

// ID returns the interned id of name.
func (t *NameTable) ID(name string) (int32, error) {
	if id, ok := t.ids.Get(name); ok {
		return id, nil
	}
	id, err := t.store.NameID(name)
	if err != nil {
		return 0, ioError(InvalidID, "intern name "+name, err)
	}
	t.ids.Add(name, id)
	t.names.Add(id, name)
	return id, nil
}

// Name returns the name interned under id.
func (t *NameTable) Name(id int32) (string, error) {
	if name, ok := t.names.Get(id); ok {
		t.metrics.RecordCacheHit("name")
		return name, nil
	}
	t.metrics.RecordCacheMiss("name")
	name, err := t.store.NameByID(id)
	if err != nil {
		return "", ioError(InvalidID, fmt.Sprintf("decode name id %d", id), err)
	}
	t.names.Add(id, name)
	return name, nil
}

// key returns the comparison key of the name interned under id.
func (t *NameTable) key(id int32, caseSensitive bool) (sortKey, error) {
	name, err := t.Name(id)
	if err != nil {
		return sortKey{}, err
	}
	if caseSensitive {
		return sortKey{name: name, key: name}, nil
	}
	if folded, ok := t.folded.Get(id); ok {
		return sortKey{name: name, key: folded}, nil
	}
	folded := foldName(name)
	t.folded.Add(id, folded)
	return sortKey{name: name, key: folded}, nil
}

// Purge drops every cached name.
func (t *NameTable) Purge() {
	t.ids.Purge()
	t.names.Purge()
	t.folded.Purge()
}
