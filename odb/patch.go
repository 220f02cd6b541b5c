package odb

// Change is a single key mutation within a Patch.
// Deleted changes carry a nil Value.
type Change struct {
	Key     []byte
	Value   []byte
	Deleted bool
}

// Patch is an immutable, atomically mergeable change set
// produced by [*Fork.IntoPatch].
//
// A patch may be merged into a Database exactly once;
// the store's perspective of a merge is indivisible.
type Patch struct {
	changes []Change

	consumed bool
}

// Len returns the number of changes in the patch.
func (p *Patch) Len() int {
	return len(p.changes)
}

// Take hands the patch's changes to a Database backend for application.
// It marks the patch consumed so a second merge attempt fails with
// [ErrPatchConsumed] instead of silently reapplying stale changes.
//
// Take is intended for Database implementations, not general callers.
func (p *Patch) Take() ([]Change, error) {
	if p.consumed {
		return nil, ErrPatchConsumed
	}
	p.consumed = true
	return p.changes, nil
}
