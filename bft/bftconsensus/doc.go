// Package bftconsensus defines the data types exchanged between
// validators during block agreement: proposals, prevotes, precommits,
// blocks, and commit proofs, together with their canonical hashing,
// signing input, and bounds-checked wire codec.
//
// The types here are pure data. Tallying lives in bftstate and the
// protocol itself is driven by bftengine.
package bftconsensus
