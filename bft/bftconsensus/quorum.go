package bftconsensus

import "fmt"

// ByzantineQuorum returns the exact number of distinct-validator votes
// required for agreement among n validators: floor(2n/3) + 1.
//
// The threshold is a single integer expression on purpose.
// Any floating point or ceiling variant can disagree across
// implementations for particular n, and validators that disagree on
// the quorum size will fork.
func ByzantineQuorum(n uint64) uint64 {
	if n == 0 {
		panic(fmt.Errorf("ByzantineQuorum: validator count must be positive"))
	}
	return 2*n/3 + 1
}
