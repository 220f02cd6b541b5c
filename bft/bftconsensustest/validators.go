// Package bftconsensustest provides deterministic consensus fixtures
// for tests: reproducible validator sets whose keys depend only on the
// validator index, so hashes and signatures are stable across runs.
package bftconsensustest

import (
	"crypto/ed25519"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/obelisk-engine/obelisk/bft/bftconsensus"
	"github.com/obelisk-engine/obelisk/ocrypto"
)

// DeterministicSigner returns the well-known test signer for the given
// validator index. The key is derived from the index alone.
func DeterministicSigner(i int) ocrypto.Ed25519Signer {
	seed := blake2b.Sum256([]byte(fmt.Sprintf("obelisk-test-validator-%d", i)))
	return ocrypto.NewEd25519Signer(ed25519.NewKeyFromSeed(seed[:]))
}

// DeterministicValidators returns a validator set of size n and the
// matching signers, indexed by validator ID.
func DeterministicValidators(n int) (bftconsensus.ValidatorSet, []ocrypto.Ed25519Signer) {
	signers := make([]ocrypto.Ed25519Signer, n)
	vals := make([]bftconsensus.Validator, n)
	for i := range signers {
		signers[i] = DeterministicSigner(i)
		vals[i] = bftconsensus.Validator{PubKey: signers[i].PubKey()}
	}

	vs, err := bftconsensus.NewValidatorSet(vals)
	if err != nil {
		panic(fmt.Errorf("building deterministic validator set: %w", err))
	}
	return vs, signers
}
