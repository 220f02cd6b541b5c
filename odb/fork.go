package odb

import (
	"bytes"
	"sort"
)

// change is a single buffered mutation.
// A nil value with deleted=true is a tombstone.
type change struct {
	value   []byte
	deleted bool
}

// Fork is a copy-on-write mutable view layered over a Snapshot.
//
// Writes are buffered in the fork and are invisible to the underlying
// Database, to concurrent Snapshots, and to other Forks.
// A Fork is owned by exactly one goroutine at a time and is not safe
// for concurrent use.
//
// Forks support a single level of checkpointing:
// [*Fork.Checkpoint] confirms the work since the previous checkpoint,
// and [*Fork.Rollback] discards it.
// The commit pipeline uses this to isolate the effects of a failed
// transaction without abandoning the whole block.
type Fork struct {
	base Snapshot

	// Changes confirmed by a checkpoint.
	committed map[string]change

	// Changes since the last checkpoint.
	working map[string]change
}

// NewFork returns a Fork layered over the given snapshot.
func NewFork(base Snapshot) *Fork {
	return &Fork{
		base:      base,
		committed: make(map[string]change),
		working:   make(map[string]change),
	}
}

// Get returns the value under key, consulting the working layer,
// then the checkpointed layer, then the base snapshot.
func (f *Fork) Get(key []byte) ([]byte, bool) {
	if c, ok := f.working[string(key)]; ok {
		if c.deleted {
			return nil, false
		}
		return c.value, true
	}
	if c, ok := f.committed[string(key)]; ok {
		if c.deleted {
			return nil, false
		}
		return c.value, true
	}
	return f.base.Get(key)
}

// Put stores value under key in the working layer.
func (f *Fork) Put(key, value []byte) {
	f.working[string(key)] = change{value: append([]byte(nil), value...)}
}

// Delete writes a tombstone for key in the working layer.
func (f *Fork) Delete(key []byte) {
	f.working[string(key)] = change{deleted: true}
}

// DeleteRange tombstones every key with low <= key < high,
// in both the fork's own layers and the base snapshot.
func (f *Fork) DeleteRange(low, high []byte) {
	var doomed []string
	f.Ascend(low, high, func(key, _ []byte) bool {
		doomed = append(doomed, string(key))
		return true
	})
	for _, k := range doomed {
		f.working[k] = change{deleted: true}
	}
}

// Ascend iterates the merged view of the base snapshot and both change
// layers, in ascending key order, for low <= key < high.
func (f *Fork) Ascend(low, high []byte, fn func(key, value []byte) bool) {
	// Collect overlay entries in range, working layer shadowing committed.
	overlay := make(map[string]change, len(f.working)+len(f.committed))
	for k, c := range f.committed {
		if inRange(k, low, high) {
			overlay[k] = c
		}
	}
	for k, c := range f.working {
		if inRange(k, low, high) {
			overlay[k] = c
		}
	}

	keys := make([]string, 0, len(overlay))
	for k := range overlay {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Merge-walk the base and the sorted overlay.
	i := 0
	stopped := false
	f.base.Ascend(low, high, func(key, value []byte) bool {
		// Emit overlay entries that sort before the base key.
		for i < len(keys) && keys[i] < string(key) {
			c := overlay[keys[i]]
			if !c.deleted {
				if !fn([]byte(keys[i]), c.value) {
					stopped = true
					return false
				}
			}
			i++
		}
		if i < len(keys) && keys[i] == string(key) {
			// Overlay shadows the base entry.
			c := overlay[keys[i]]
			i++
			if c.deleted {
				return true
			}
			if !fn(key, c.value) {
				stopped = true
				return false
			}
			return true
		}
		if !fn(key, value) {
			stopped = true
			return false
		}
		return true
	})
	if stopped {
		return
	}
	for ; i < len(keys); i++ {
		c := overlay[keys[i]]
		if c.deleted {
			continue
		}
		if !fn([]byte(keys[i]), c.value) {
			return
		}
	}
}

// Checkpoint confirms all changes made since the previous checkpoint.
// Confirmed changes survive a subsequent Rollback.
func (f *Fork) Checkpoint() {
	for k, c := range f.working {
		f.committed[k] = c
	}
	clear(f.working)
}

// Rollback discards all changes made since the previous checkpoint.
func (f *Fork) Rollback() {
	clear(f.working)
}

// IntoPatch confirms any working changes and freezes the accumulated
// change set into an immutable Patch.
// The fork must not be used after IntoPatch returns.
func (f *Fork) IntoPatch() *Patch {
	f.Checkpoint()

	changes := make([]Change, 0, len(f.committed))
	for k, c := range f.committed {
		changes = append(changes, Change{
			Key:     []byte(k),
			Value:   c.value,
			Deleted: c.deleted,
		})
	}
	sort.Slice(changes, func(i, j int) bool {
		return bytes.Compare(changes[i].Key, changes[j].Key) < 0
	})

	f.base = nil
	f.committed = nil
	f.working = nil

	return &Patch{changes: changes}
}

func inRange(k string, low, high []byte) bool {
	if bytes.Compare([]byte(k), low) < 0 {
		return false
	}
	if high != nil && bytes.Compare([]byte(k), high) >= 0 {
		return false
	}
	return true
}
