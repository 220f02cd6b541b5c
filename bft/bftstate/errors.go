package bftstate

import "fmt"

// DoubleProposeError indicates a validator offered a second, different
// propose for a round that already has one. This is byzantine behavior
// by the round's leader; the original propose stands.
type DoubleProposeError struct {
	Round        uint32
	ExistingHash []byte
	OfferedHash  []byte
	ValidatorID  uint32
}

func (e DoubleProposeError) Error() string {
	return fmt.Sprintf(
		"double propose from validator %d at round %d: round already has propose %x, offered %x",
		e.ValidatorID, e.Round, e.ExistingHash, e.OfferedHash,
	)
}
