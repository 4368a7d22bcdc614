// Package testutil provides in-memory storage and a single-node ledger
// harness for tests across the module. Never import this in production code.
package testutil

import (
	"bytes"
	"errors"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/comparer"
	"github.com/syndtr/goleveldb/leveldb/memdb"
	"github.com/syndtr/goleveldb/leveldb/util"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/storage"
)

// MemDB is a storage.DB on LevelDB's in-memory skiplist. It iterates in
// key order exactly like the on-disk LevelDB.
type MemDB struct {
	mu sync.RWMutex // batches exclude readers
	db *memdb.DB
}

// NewMemDB creates an empty MemDB.
func NewMemDB() *MemDB {
	return &MemDB{db: memdb.New(comparer.DefaultComparer, 0)}
}

func (m *MemDB) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, err := m.db.Get(key)
	if errors.Is(err, memdb.ErrNotFound) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return bytes.Clone(v), nil
}

func (m *MemDB) Set(key, value []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.db.Put(key, value)
}

// Delete is a no-op for absent keys, as in LevelDB.
func (m *MemDB) Delete(key []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.db.Delete(key); err != nil && !errors.Is(err, memdb.ErrNotFound) {
		return err
	}
	return nil
}

func (m *MemDB) NewIterator(prefix []byte) storage.Iterator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.db.NewIterator(util.BytesPrefix(prefix))
}

func (m *MemDB) NewBatch() storage.Batch {
	return &memBatch{db: m}
}

func (m *MemDB) Close() error { return nil }

// memBatch records operations in a leveldb.Batch and replays them under
// the write lock.
type memBatch struct {
	db *MemDB
	b  leveldb.Batch
}

func (b *memBatch) Set(key, value []byte) { b.b.Put(key, value) }
func (b *memBatch) Delete(key []byte)     { b.b.Delete(key) }
func (b *memBatch) Reset()                { b.b.Reset() }

func (b *memBatch) Write() error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	r := &replayer{db: b.db.db}
	if err := b.b.Replay(r); err != nil {
		return err
	}
	return r.err
}

// replayer applies a batch to the skiplist, keeping the first failure.
type replayer struct {
	db  *memdb.DB
	err error
}

func (r *replayer) Put(key, value []byte) {
	if r.err == nil {
		r.err = r.db.Put(key, value)
	}
}

func (r *replayer) Delete(key []byte) {
	if err := r.db.Delete(key); r.err == nil && err != nil && !errors.Is(err, memdb.ErrNotFound) {
		r.err = err
	}
}

// NewMemBlockStore is the production block store over a fresh MemDB.
func NewMemBlockStore() *storage.LevelBlockStore {
	return storage.NewLevelBlockStore(NewMemDB())
}

// NewStateDB returns a storage.StateDB backed by a fresh MemDB.
func NewStateDB() *storage.StateDB {
	return storage.NewStateDB(NewMemDB())
}
