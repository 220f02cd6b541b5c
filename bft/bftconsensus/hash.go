package bftconsensus

import "golang.org/x/crypto/blake2b"

// HashSize is the width of every consensus-level hash.
const HashSize = blake2b.Size256

// Signing-input domain prefixes. Each signed message type gets its own
// prefix so a signature over one type can never be replayed as another.
const (
	domainPropose   = "obelisk/v1/propose\n"
	domainPrevote   = "obelisk/v1/prevote\n"
	domainPrecommit = "obelisk/v1/precommit\n"
)

func consensusHash(b []byte) []byte {
	h := blake2b.Sum256(b)
	return h[:]
}

// AggregateStateHash folds application Merkle roots, in order, into the
// single state hash recorded in a block.
func AggregateStateHash(roots [][]byte) []byte {
	b := []byte("obelisk/v1/state\n")
	b = appendUint32(b, uint32(len(roots)))
	for _, r := range roots {
		b = appendBytes(b, r)
	}
	return consensusHash(b)
}
