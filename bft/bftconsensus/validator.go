package bftconsensus

import (
	"fmt"

	"github.com/obelisk-engine/obelisk/ocrypto"
)

// Validator is one member of the validator set.
type Validator struct {
	PubKey ocrypto.PubKey
}

// ValidatorSet is the fixed, height-scoped set of validators.
// A validator's ID is its index into the set.
type ValidatorSet struct {
	vals []Validator
}

// NewValidatorSet returns a set over the given validators.
// The order is significant: it determines validator IDs
// and leader rotation, so it must be identical on every node.
func NewValidatorSet(vals []Validator) (ValidatorSet, error) {
	if len(vals) == 0 {
		return ValidatorSet{}, fmt.Errorf("validator set must not be empty")
	}
	for i, v := range vals {
		if v.PubKey == nil {
			return ValidatorSet{}, fmt.Errorf("validator %d has nil public key", i)
		}
		for j := 0; j < i; j++ {
			if vals[j].PubKey.Equal(v.PubKey) {
				return ValidatorSet{}, fmt.Errorf("validators %d and %d share a public key", j, i)
			}
		}
	}
	return ValidatorSet{vals: append([]Validator(nil), vals...)}, nil
}

// Len returns the number of validators.
func (s ValidatorSet) Len() uint64 {
	return uint64(len(s.vals))
}

// Quorum returns the byzantine quorum threshold for this set.
func (s ValidatorSet) Quorum() uint64 {
	return ByzantineQuorum(s.Len())
}

// Leader returns the validator ID of the round's leader:
// (height + round) modulo the set size.
func (s ValidatorSet) Leader(height uint64, round uint32) uint32 {
	return uint32((height + uint64(round)) % s.Len())
}

// ByID returns the validator with the given ID,
// or false if the ID is out of range.
func (s ValidatorSet) ByID(id uint32) (Validator, bool) {
	if uint64(id) >= s.Len() {
		return Validator{}, false
	}
	return s.vals[id], true
}

// IDOf returns the ID of the validator holding the given public key,
// or false if the key is not in the set.
func (s ValidatorSet) IDOf(key ocrypto.PubKey) (uint32, bool) {
	for i, v := range s.vals {
		if v.PubKey.Equal(key) {
			return uint32(i), true
		}
	}
	return 0, false
}
