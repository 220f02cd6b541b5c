package oindex

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// HashSize is the size in bytes of every hash produced by this package.
const HashSize = blake2b.Size256

// Domain-separation tags.
// Every hash in an authenticated index is prefixed with one of these,
// so a leaf hash can never be confused with a node hash
// (second-preimage ambiguity between tree levels).
const (
	tagBlob      byte = 0 // raw list values
	tagListNode  byte = 1 // interior binary-merkle-list nodes
	tagListRoot  byte = 2 // list root, binding the element count
	tagMapLeaf   byte = 3 // patricia map leaf values
	tagMapBranch byte = 4 // patricia map branches
	tagMapRoot   byte = 5 // map root, binding the root node path
)

func hashTagged(tag byte, parts ...[]byte) []byte {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only fails with a non-nil key.
		panic(err)
	}
	h.Write([]byte{tag})
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func leafHash(value []byte) []byte {
	return hashTagged(tagBlob, value)
}

func listNodeHash(left, right []byte) []byte {
	if right == nil {
		return hashTagged(tagListNode, left)
	}
	return hashTagged(tagListNode, left, right)
}

func listRootHash(length uint64, top []byte) []byte {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], length)
	return hashTagged(tagListRoot, lenBuf[:], top)
}

// EmptyListHash returns the well-known root hash of a list with zero elements.
func EmptyListHash() []byte {
	return hashTagged(tagListRoot)
}

func mapLeafHash(value []byte) []byte {
	return hashTagged(tagMapLeaf, value)
}

func mapBranchHash(leftPath BitPath, leftHash []byte, rightPath BitPath, rightHash []byte) []byte {
	return hashTagged(tagMapBranch, leftHash, leftPath.Encode(), rightHash, rightPath.Encode())
}

func mapRootHash(rootPath BitPath, rootNodeHash []byte) []byte {
	return hashTagged(tagMapRoot, rootPath.Encode(), rootNodeHash)
}

// EmptyMapHash returns the well-known root hash of a map with zero entries.
func EmptyMapHash() []byte {
	return hashTagged(tagMapRoot)
}
