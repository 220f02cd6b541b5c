// Package bftapp defines the application layer consumed by the commit
// pipeline: transaction execution against a fork, and the application's
// contributions to the aggregate state hash.
package bftapp

import (
	"github.com/obelisk-engine/obelisk/odb"
)

// App is the application logic executed by the consensus engine.
//
// Implementations must be deterministic: given the same fork contents
// and the same transaction, every validator must produce identical
// writes, or the validators' state hashes diverge and consensus halts.
type App interface {
	// ExecuteTx applies one transaction to the fork.
	//
	// A returned error is an application-level failure: the engine
	// rolls the fork back to the transaction's start, the transaction
	// becomes a no-op, and the rest of the block still executes.
	ExecuteTx(f *odb.Fork, tx []byte) error

	// StateHashContributions returns the application's Merkle roots
	// over the given state, in a fixed, documented order.
	// The engine folds them into the block's aggregate state hash.
	StateHashContributions(r odb.Reader) ([][]byte, error)
}
