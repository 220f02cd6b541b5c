// Package odb defines the versioned key-value layer underlying Obelisk's
// authenticated state: point-in-time Snapshots, copy-on-write Forks,
// and atomic Patches merged into a backing Database.
//
// The concrete backends live in subpackages:
// [github.com/obelisk-engine/obelisk/odb/odbmem] for tests and ephemeral nodes,
// and [github.com/obelisk-engine/obelisk/odb/odbpebble] for durable storage.
package odb

// Reader is the read surface shared by Snapshots and Forks.
//
// All methods operate on raw bytes; key interpretation belongs to
// higher layers such as the oindex package.
type Reader interface {
	// Get returns the value stored under key,
	// or false if the key is absent.
	Get(key []byte) ([]byte, bool)

	// Ascend calls fn for every key-value pair with low <= key < high,
	// in ascending key order.
	// A nil high means no upper bound.
	// Iteration stops early if fn returns false.
	Ascend(low, high []byte, fn func(key, value []byte) bool)
}

// Writer is the mutation surface of a Fork.
type Writer interface {
	// Put stores value under key, replacing any existing value.
	Put(key, value []byte)

	// Delete removes key.
	// Deleting an absent key is a no-op.
	Delete(key []byte)

	// DeleteRange removes every key with low <= key < high.
	// A nil high means no upper bound.
	DeleteRange(low, high []byte)
}

// ReadWriter combines the read and mutation surfaces.
// *Fork is the only implementation in this module,
// but the indexes accept the interface so tests can interpose.
type ReadWriter interface {
	Reader
	Writer
}

// Snapshot is a read-only, point-in-time view of a Database.
// Snapshots are immutable and safe for concurrent use.
type Snapshot interface {
	Reader
}

// Database is the pluggable byte-oriented store.
//
// The backing store is responsible for merge atomicity:
// a Patch applied through Merge or MergeSync must be all-or-nothing,
// with no partially applied state observable after a crash.
type Database interface {
	// Snapshot returns a read-only, point-in-time view.
	Snapshot() Snapshot

	// Merge applies the patch atomically.
	// The patch is consumed: merging the same patch twice
	// fails with [ErrPatchConsumed].
	Merge(p *Patch) error

	// MergeSync behaves like Merge but additionally ensures the write
	// is durable (fsynced) before returning.
	// Callers choose MergeSync when durability must precede acknowledgment,
	// at a latency cost.
	MergeSync(p *Patch) error

	// Close releases backend resources.
	Close() error
}
