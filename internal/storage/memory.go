package storage

import (
	"sort"
	"strings"
	"sync"
)

// MemoryDB implements DB using an in-memory map. Safe for concurrent use.
type MemoryDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates a new in-memory database.
func NewMemory() *MemoryDB {
	return &MemoryDB{
		data: make(map[string][]byte),
	}
}

// Get retrieves a value by key.
func (m *MemoryDB) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(v), nil
}

// Put stores a key-value pair.
func (m *MemoryDB) Put(key, value []byte) error {
	m.mu.Lock()
	m.data[string(key)] = clone(value)
	m.mu.Unlock()
	return nil
}

// Delete removes a key.
func (m *MemoryDB) Delete(key []byte) error {
	m.mu.Lock()
	delete(m.data, string(key))
	m.mu.Unlock()
	return nil
}

// Has checks if a key exists.
func (m *MemoryDB) Has(key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[string(key)]
	return ok, nil
}

// ForEach iterates over all keys with the given prefix. The callback runs
// on a snapshot, so it may write to the database.
func (m *MemoryDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	p := string(prefix)
	type kv struct {
		k string
		v []byte
	}
	m.mu.RLock()
	var items []kv
	for k, v := range m.data {
		if strings.HasPrefix(k, p) {
			items = append(items, kv{k, clone(v)})
		}
	}
	m.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool { return items[i].k < items[j].k })
	for _, it := range items {
		if err := fn([]byte(it.k), it.v); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (m *MemoryDB) Close() error {
	return nil
}

// NewBatch returns a batch applied under one lock on Commit.
func (m *MemoryDB) NewBatch() Batch {
	return &memoryBatch{db: m}
}

type memoryOp struct {
	key   string
	value []byte // nil means delete
}

type memoryBatch struct {
	db  *MemoryDB
	ops []memoryOp
}

func (b *memoryBatch) Put(key, value []byte) error {
	b.ops = append(b.ops, memoryOp{string(key), clone(value)})
	return nil
}

func (b *memoryBatch) Delete(key []byte) error {
	b.ops = append(b.ops, memoryOp{key: string(key)})
	return nil
}

func (b *memoryBatch) Commit() error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	for _, op := range b.ops {
		if op.value == nil {
			delete(b.db.data, op.key)
		} else {
			b.db.data[op.key] = op.value
		}
	}
	b.ops = nil
	return nil
}

func (b *memoryBatch) Discard() {
	b.ops = nil
}
