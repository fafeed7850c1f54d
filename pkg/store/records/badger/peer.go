// Package badger implements vfs.Peer on BadgerDB so file ids and names
// survive restarts.
package badger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/google/uuid"
	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/vfs"
)

// Config holds the configuration of a badger-backed peer.
type Config struct {
	// DBPath is the directory holding the database files.
	DBPath string `mapstructure:"db_path"`

	// InMemory keeps the database in memory only. DBPath is ignored.
	InMemory bool `mapstructure:"in_memory"`

	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default: 64)
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb"`

	// IndexCacheSizeMB is BadgerDB's index cache size in MB (default: 32)
	IndexCacheSizeMB int64 `mapstructure:"index_cache_size_mb"`
}

// Peer implements vfs.Peer using BadgerDB for persistence.
//
// Thread Safety:
// Reads run in concurrent badger read transactions. Writes are serialized
// by mu so uniqueness checks and the write that depends on them cannot
// interleave with another writer.
type Peer struct {
	db      *badger.DB
	session string

	mu      sync.Mutex
	records *badger.Sequence
	names   *badger.Sequence
}

var _ vfs.Peer = (*Peer)(nil)

// New opens (or creates) the database described by config.
func New(ctx context.Context, config Config) (*Peer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if config.DBPath == "" {
			return nil, fmt.Errorf("badger peer: db_path is required")
		}
		opts = badger.DefaultOptions(config.DBPath)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)

	blockCacheMB := config.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}
	indexCacheMB := config.IndexCacheSizeMB
	if indexCacheMB == 0 {
		indexCacheMB = 32
	}
	opts = opts.WithBlockCacheSize(blockCacheMB << 20)
	opts = opts.WithIndexCacheSize(indexCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", config.DBPath, err)
	}

	p := &Peer{db: db}
	if err := p.init(); err != nil {
		_ = p.Close()
		return nil, err
	}
	logger.Debug("badger peer opened at %q (session %s)", config.DBPath, p.session)
	return p, nil
}

func (p *Peer) init() error {
	var err error
	if p.records, err = p.db.GetSequence([]byte(keySeqRecords), sequenceLeases); err != nil {
		return fmt.Errorf("failed to open record sequence: %w", err)
	}
	if p.names, err = p.db.GetSequence([]byte(keySeqNames), sequenceLeases); err != nil {
		return fmt.Errorf("failed to open name sequence: %w", err)
	}

	return p.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keySession))
		switch {
		case err == nil:
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			p.session = string(val)
			return nil
		case errors.Is(err, badger.ErrKeyNotFound):
			p.session = uuid.NewString()
			return txn.Set([]byte(keySession), []byte(p.session))
		default:
			return err
		}
	})
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

// next draws the next value of seq as a positive int32.
func next(seq *badger.Sequence) (int32, error) {
	n, err := seq.Next()
	if err != nil {
		return 0, err
	}
	n++
	if n > math.MaxInt32 {
		return 0, fmt.Errorf("id space exhausted")
	}
	return int32(n), nil
}

// ============================================================================
// Transaction helpers
// ============================================================================

func getRecord(txn *badger.Txn, id vfs.FileID) (*recordData, error) {
	item, err := txn.Get(keyRecord(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, err
	}
	var r *recordData
	err = item.Value(func(val []byte) error {
		r, err = decodeRecord(val)
		return err
	})
	return r, err
}

func putRecord(txn *badger.Txn, id vfs.FileID, r *recordData) error {
	data, err := encodeRecord(r)
	if err != nil {
		return err
	}
	return txn.Set(keyRecord(id), data)
}

func getUint32(txn *badger.Txn, key []byte) (uint32, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	var v uint32
	err = item.Value(func(val []byte) error {
		v, err = decodeUint32(val)
		return err
	})
	return v, err == nil, err
}

func lookupName(txn *badger.Txn, name string) (int32, bool, error) {
	v, ok, err := getUint32(txn, keyName(name))
	return int32(v), ok, err
}

// intern returns name's id, allocating one inside txn if needed. Callers
// hold p.mu.
func (p *Peer) intern(txn *badger.Txn, name string) (int32, error) {
	id, ok, err := lookupName(txn, name)
	if err != nil || ok {
		return id, err
	}
	if id, err = next(p.names); err != nil {
		return 0, fmt.Errorf("failed to allocate name id: %w", err)
	}
	if err := txn.Set(keyName(name), encodeUint32(uint32(id))); err != nil {
		return 0, err
	}
	return id, txn.Set(keyNameID(id), []byte(name))
}

// childNamed returns the child of parent named exactly name.
func childNamed(txn *badger.Txn, parent vfs.FileID, name string) (vfs.FileID, bool, error) {
	nameID, ok, err := lookupName(txn, name)
	if err != nil || !ok {
		return vfs.InvalidID, false, err
	}
	v, ok, err := getUint32(txn, keyChildByName(parent, nameID))
	return vfs.FileID(v), ok, err
}

func link(txn *badger.Txn, parent, id vfs.FileID, nameID int32) error {
	if !parent.Valid() {
		return nil
	}
	if err := txn.Set(keyChild(parent, id), []byte{}); err != nil {
		return err
	}
	return txn.Set(keyChildByName(parent, nameID), encodeUint32(uint32(id)))
}

func unlink(txn *badger.Txn, parent, id vfs.FileID, nameID int32) error {
	if !parent.Valid() {
		return nil
	}
	if err := txn.Delete(keyChild(parent, id)); err != nil {
		return err
	}
	return txn.Delete(keyChildByName(parent, nameID))
}

func childIDs(txn *badger.Txn, parent vfs.FileID) ([]vfs.FileID, error) {
	prefix := keyChildPrefix(parent)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []vfs.FileID
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		id, err := childIDFromKey(it.Item().Key(), len(prefix))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (p *Peer) view(fn func(txn *badger.Txn) error) error {
	return p.db.View(fn)
}

func (p *Peer) update(fn func(txn *badger.Txn) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.db.Update(fn)
}

// ============================================================================
// Names
// ============================================================================

func (p *Peer) NameID(name string) (int32, error) {
	var id int32
	var ok bool
	err := p.view(func(txn *badger.Txn) error {
		var err error
		id, ok, err = lookupName(txn, name)
		return err
	})
	if err != nil || ok {
		return id, err
	}

	err = p.update(func(txn *badger.Txn) error {
		var err error
		id, err = p.intern(txn, name)
		return err
	})
	return id, err
}

func (p *Peer) NameByID(nameID int32) (string, error) {
	var name string
	err := p.view(func(txn *badger.Txn) error {
		item, err := txn.Get(keyNameID(nameID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return &vfs.Error{Code: vfs.ErrCodeNotFound, Message: fmt.Sprintf("no name with id %d", nameID)}
		}
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		name = string(val)
		return err
	})
	return name, err
}

// ============================================================================
// Records
// ============================================================================

func (p *Peer) readRecord(id vfs.FileID) (*recordData, error) {
	var r *recordData
	err := p.view(func(txn *badger.Txn) error {
		var err error
		r, err = getRecord(txn, id)
		return err
	})
	return r, err
}

func (p *Peer) Name(id vfs.FileID) (string, error) {
	r, err := p.readRecord(id)
	if err != nil {
		return "", err
	}
	return p.NameByID(r.NameID)
}

func (p *Peer) Parent(id vfs.FileID) (vfs.FileID, error) {
	r, err := p.readRecord(id)
	if err != nil {
		return vfs.InvalidID, err
	}
	return r.Parent, nil
}

func (p *Peer) Attributes(id vfs.FileID) (vfs.Attributes, error) {
	r, err := p.readRecord(id)
	if err != nil {
		return 0, err
	}
	return r.Attributes, nil
}

func (p *Peer) IsDeleted(id vfs.FileID) (bool, error) {
	deleted := false
	err := p.view(func(txn *badger.Txn) error {
		_, err := txn.Get(keyDeleted(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		deleted = err == nil
		return err
	})
	return deleted, err
}

// ListChildren returns dir's children ordered by id, names resolved.
func (p *Peer) ListChildren(dir vfs.FileID) ([]vfs.ChildInfo, error) {
	var infos []vfs.ChildInfo
	err := p.view(func(txn *badger.Txn) error {
		if _, err := getRecord(txn, dir); err != nil {
			return err
		}
		ids, err := childIDs(txn, dir)
		if err != nil {
			return err
		}
		infos = make([]vfs.ChildInfo, 0, len(ids))
		for _, id := range ids {
			r, err := getRecord(txn, id)
			if err != nil {
				return err
			}
			item, err := txn.Get(keyNameID(r.NameID))
			if err != nil {
				return fmt.Errorf("name %d of record %d: %w", r.NameID, id, err)
			}
			name, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			infos = append(infos, vfs.ChildInfo{
				ID:         id,
				NameID:     r.NameID,
				Name:       string(name),
				Attributes: r.Attributes,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(infos, func(a, b vfs.ChildInfo) int { return int(a.ID) - int(b.ID) })
	return infos, nil
}

func (p *Peer) ChildrenCached(dir vfs.FileID) (bool, error) {
	r, err := p.readRecord(dir)
	if err != nil {
		return false, err
	}
	return r.ChildrenCached, nil
}

func (p *Peer) modify(id vfs.FileID, fn func(r *recordData)) error {
	return p.update(func(txn *badger.Txn) error {
		r, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		fn(r)
		return putRecord(txn, id, r)
	})
}

func (p *Peer) SetChildrenCached(dir vfs.FileID) error {
	return p.modify(dir, func(r *recordData) { r.ChildrenCached = true })
}

func (p *Peer) SetAttributes(id vfs.FileID, attrs vfs.Attributes) error {
	return p.modify(id, func(r *recordData) { r.Attributes = attrs })
}

func (p *Peer) create(txn *badger.Txn, parent vfs.FileID, name string, attrs vfs.Attributes) (vfs.FileID, error) {
	nameID, err := p.intern(txn, name)
	if err != nil {
		return vfs.InvalidID, err
	}
	n, err := next(p.records)
	if err != nil {
		return vfs.InvalidID, fmt.Errorf("failed to allocate file id: %w", err)
	}
	id := vfs.FileID(n)
	if err := putRecord(txn, id, &recordData{NameID: nameID, Parent: parent, Attributes: attrs}); err != nil {
		return vfs.InvalidID, err
	}
	return id, link(txn, parent, id, nameID)
}

func (p *Peer) CreateRecord(parent vfs.FileID, name string, attrs vfs.Attributes) (vfs.FileID, error) {
	var id vfs.FileID
	err := p.update(func(txn *badger.Txn) error {
		if _, err := getRecord(txn, parent); err != nil {
			return err
		}
		if _, taken, err := childNamed(txn, parent, name); err != nil {
			return err
		} else if taken {
			return exists(parent, name)
		}
		var err error
		id, err = p.create(txn, parent, name, attrs)
		return err
	})
	return id, err
}

func (p *Peer) FindRoot(path string) (vfs.FileID, error) {
	var id uint32
	err := p.view(func(txn *badger.Txn) error {
		var err error
		id, _, err = getUint32(txn, keyRoot(path))
		return err
	})
	return vfs.FileID(id), err
}

func (p *Peer) CreateRoot(path string, attrs vfs.Attributes) (vfs.FileID, error) {
	var id vfs.FileID
	err := p.update(func(txn *badger.Txn) error {
		if _, ok, err := getUint32(txn, keyRoot(path)); err != nil {
			return err
		} else if ok {
			return &vfs.Error{Code: vfs.ErrCodeAlreadyExists, Message: "root already exists", Path: path}
		}
		var err error
		if id, err = p.create(txn, vfs.InvalidID, path, attrs); err != nil {
			return err
		}
		return txn.Set(keyRoot(path), encodeUint32(uint32(id)))
	})
	return id, err
}

func (p *Peer) SetName(id vfs.FileID, name string) error {
	return p.update(func(txn *badger.Txn) error {
		r, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		if other, taken, err := childNamed(txn, r.Parent, name); err != nil {
			return err
		} else if taken && other != id {
			return exists(r.Parent, name)
		}
		nameID, err := p.intern(txn, name)
		if err != nil {
			return err
		}
		if err := unlink(txn, r.Parent, id, r.NameID); err != nil {
			return err
		}
		r.NameID = nameID
		if err := link(txn, r.Parent, id, nameID); err != nil {
			return err
		}
		return putRecord(txn, id, r)
	})
}

func (p *Peer) SetParent(id vfs.FileID, parent vfs.FileID) error {
	return p.update(func(txn *badger.Txn) error {
		r, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		if _, err := getRecord(txn, parent); err != nil {
			return err
		}
		if other, ok, err := getUint32(txn, keyChildByName(parent, r.NameID)); err != nil {
			return err
		} else if ok && vfs.FileID(other) != id {
			item, err := txn.Get(keyNameID(r.NameID))
			if err != nil {
				return err
			}
			name, _ := item.ValueCopy(nil)
			return exists(parent, string(name))
		}
		if err := unlink(txn, r.Parent, id, r.NameID); err != nil {
			return err
		}
		r.Parent = parent
		if err := link(txn, parent, id, r.NameID); err != nil {
			return err
		}
		return putRecord(txn, id, r)
	})
}

// DeleteRecord removes id and its persisted subtree in one transaction and
// leaves a del: tombstone for every removed id.
func (p *Peer) DeleteRecord(id vfs.FileID) error {
	return p.update(func(txn *badger.Txn) error {
		r, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		if err := unlink(txn, r.Parent, id, r.NameID); err != nil {
			return err
		}
		if !r.Parent.Valid() {
			item, err := txn.Get(keyNameID(r.NameID))
			if err != nil {
				return err
			}
			path, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := txn.Delete(keyRoot(string(path))); err != nil {
				return err
			}
		}

		stack := []vfs.FileID{id}
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			kids, err := childIDs(txn, cur)
			if err != nil {
				return err
			}
			for _, kid := range kids {
				kr, err := getRecord(txn, kid)
				if err != nil {
					return err
				}
				if err := unlink(txn, cur, kid, kr.NameID); err != nil {
					return err
				}
				stack = append(stack, kid)
			}
			if err := txn.Delete(keyRecord(cur)); err != nil {
				return err
			}
			if err := txn.Set(keyDeleted(cur), []byte{}); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close releases the sequences and closes the database.
func (p *Peer) Close() error {
	var errs []error
	for _, seq := range []*badger.Sequence{p.records, p.names} {
		if seq != nil {
			errs = append(errs, seq.Release())
		}
	}
	if p.db != nil {
		errs = append(errs, p.db.Close())
	}
	return errors.Join(errs...)
}
