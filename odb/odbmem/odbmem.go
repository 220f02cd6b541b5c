// Package odbmem provides an in-memory [odb.Database],
// intended for tests and ephemeral nodes.
package odbmem

import (
	"bytes"
	"sync"

	"github.com/google/btree"

	"github.com/obelisk-engine/obelisk/odb"
)

type kv struct {
	key, value []byte
}

func kvLess(a, b kv) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// Database is an in-memory implementation of [odb.Database]
// backed by a copy-on-write B-tree,
// so snapshots are O(1) and fully isolated from later merges.
type Database struct {
	mu   sync.Mutex
	tree *btree.BTreeG[kv]
}

// New returns an empty in-memory database.
func New() *Database {
	return &Database{
		tree: btree.NewG(32, kvLess),
	}
}

// Snapshot returns a read-only point-in-time view.
func (d *Database) Snapshot() odb.Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	return snapshot{tree: d.tree.Clone()}
}

// Merge applies the patch atomically.
func (d *Database) Merge(p *odb.Patch) error {
	return d.merge(p)
}

// MergeSync is identical to Merge for the in-memory backend;
// there is nothing to sync.
func (d *Database) MergeSync(p *odb.Patch) error {
	return d.merge(p)
}

func (d *Database) merge(p *odb.Patch) error {
	changes, err := p.Take()
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// Clone before applying so concurrently held snapshots
	// never observe a partially applied patch.
	next := d.tree.Clone()
	for _, c := range changes {
		if c.Deleted {
			next.Delete(kv{key: c.Key})
			continue
		}
		next.ReplaceOrInsert(kv{key: c.Key, value: c.Value})
	}
	d.tree = next

	return nil
}

// Close is a no-op for the in-memory backend.
func (d *Database) Close() error {
	return nil
}

type snapshot struct {
	tree *btree.BTreeG[kv]
}

func (s snapshot) Get(key []byte) ([]byte, bool) {
	it, ok := s.tree.Get(kv{key: key})
	if !ok {
		return nil, false
	}
	return it.value, true
}

func (s snapshot) Ascend(low, high []byte, fn func(key, value []byte) bool) {
	s.tree.AscendGreaterOrEqual(kv{key: low}, func(it kv) bool {
		if high != nil && bytes.Compare(it.key, high) >= 0 {
			return false
		}
		return fn(it.key, it.value)
	})
}
