package storage

// PrefixDB wraps a DB and prepends a fixed prefix to all keys, giving each
// store its own namespace inside one database.
type PrefixDB struct {
	inner  DB
	prefix []byte
}

// NewPrefixDB creates a new PrefixDB wrapping inner with the given prefix.
func NewPrefixDB(inner DB, prefix []byte) *PrefixDB {
	return &PrefixDB{inner: inner, prefix: clone(prefix)}
}

func (p *PrefixDB) prefixed(key []byte) []byte {
	out := make([]byte, len(p.prefix)+len(key))
	copy(out, p.prefix)
	copy(out[len(p.prefix):], key)
	return out
}

// Get retrieves a value by key.
func (p *PrefixDB) Get(key []byte) ([]byte, error) {
	return p.inner.Get(p.prefixed(key))
}

// Put stores a key-value pair.
func (p *PrefixDB) Put(key, value []byte) error {
	return p.inner.Put(p.prefixed(key), value)
}

// Delete removes a key.
func (p *PrefixDB) Delete(key []byte) error {
	return p.inner.Delete(p.prefixed(key))
}

// Has checks if a key exists.
func (p *PrefixDB) Has(key []byte) (bool, error) {
	return p.inner.Has(p.prefixed(key))
}

// ForEach iterates over the keys under prefix within the namespace. The
// callback sees keys with the namespace stripped.
func (p *PrefixDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	return p.inner.ForEach(p.prefixed(prefix), func(key, value []byte) error {
		return fn(key[len(p.prefix):], value)
	})
}

// Close is a no-op; the inner DB manages its own lifecycle.
func (p *PrefixDB) Close() error {
	return nil
}

// NewBatch returns a batch in the namespace.
func (p *PrefixDB) NewBatch() Batch {
	return p.Scoped(p.inner.NewBatch())
}

// Scoped returns a view of b, a batch over the inner DB, that writes in
// this namespace. Writes through several scoped views of one batch commit
// together.
func (p *PrefixDB) Scoped(b Batch) Batch {
	return &prefixBatch{inner: b, db: p}
}

type prefixBatch struct {
	inner Batch
	db    *PrefixDB
}

func (pb *prefixBatch) Put(key, value []byte) error {
	return pb.inner.Put(pb.db.prefixed(key), value)
}

func (pb *prefixBatch) Delete(key []byte) error {
	return pb.inner.Delete(pb.db.prefixed(key))
}

func (pb *prefixBatch) Commit() error {
	return pb.inner.Commit()
}

func (pb *prefixBatch) Discard() {
	pb.inner.Discard()
}
