// Package odbpebble provides a durable [odb.Database] backed by
// cockroachdb/pebble.
//
// A Patch merge maps to a single pebble batch, which is pebble's
// atomicity boundary: a crash mid-merge exposes either all of the
// patch's changes or none of them.
package odbpebble

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/obelisk-engine/obelisk/odb"
)

// Database is a pebble-backed implementation of [odb.Database].
type Database struct {
	db *pebble.DB
}

// Open opens (creating if necessary) a pebble store rooted at dir.
func Open(dir string) (*Database, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble store at %s: %w", dir, err)
	}
	return &Database{db: db}, nil
}

// Snapshot returns a read-only point-in-time view.
//
// The returned snapshot pins pebble resources until it is closed;
// holders keeping a snapshot beyond a block's lifetime should
// type-assert to io.Closer and close it when done.
func (d *Database) Snapshot() odb.Snapshot {
	return &snapshot{snap: d.db.NewSnapshot()}
}

// Merge applies the patch as one pebble batch without forcing an fsync.
func (d *Database) Merge(p *odb.Patch) error {
	return d.merge(p, pebble.NoSync)
}

// MergeSync applies the patch as one pebble batch and fsyncs before returning.
func (d *Database) MergeSync(p *odb.Patch) error {
	return d.merge(p, pebble.Sync)
}

func (d *Database) merge(p *odb.Patch, opts *pebble.WriteOptions) error {
	changes, err := p.Take()
	if err != nil {
		return err
	}

	b := d.db.NewBatch()
	defer b.Close()

	for _, c := range changes {
		if c.Deleted {
			if err := b.Delete(c.Key, nil); err != nil {
				return fmt.Errorf("failed to stage delete in batch: %w", err)
			}
			continue
		}
		if err := b.Set(c.Key, c.Value, nil); err != nil {
			return fmt.Errorf("failed to stage set in batch: %w", err)
		}
	}

	if err := d.db.Apply(b, opts); err != nil {
		return fmt.Errorf("failed to apply batch: %w", err)
	}
	return nil
}

// Close closes the underlying pebble store.
func (d *Database) Close() error {
	return d.db.Close()
}

type snapshot struct {
	snap *pebble.Snapshot
}

func (s *snapshot) Get(key []byte) ([]byte, bool) {
	v, closer, err := s.snap.Get(key)
	if err != nil {
		if !errors.Is(err, pebble.ErrNotFound) {
			// Read errors other than absence indicate store corruption,
			// which is not recoverable at this layer.
			panic(fmt.Errorf("pebble snapshot read failed: %w", err))
		}
		return nil, false
	}
	out := append([]byte(nil), v...)
	_ = closer.Close()
	return out, true
}

func (s *snapshot) Ascend(low, high []byte, fn func(key, value []byte) bool) {
	iter, err := s.snap.NewIter(&pebble.IterOptions{
		LowerBound: low,
		UpperBound: high,
	})
	if err != nil {
		panic(fmt.Errorf("pebble iterator creation failed: %w", err))
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		k := append([]byte(nil), iter.Key()...)
		v := append([]byte(nil), iter.Value()...)
		if !fn(k, v) {
			return
		}
	}
}

// Close releases the snapshot's pebble resources.
func (s *snapshot) Close() error {
	return s.snap.Close()
}
