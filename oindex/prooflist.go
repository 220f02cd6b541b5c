package oindex

import (
	"encoding/binary"
	"fmt"

	"github.com/obelisk-engine/obelisk/odb"
)

// ProofList is an authenticated append-only list of byte values.
//
// Elements are stored as Merkle tree leaves; every level of the tree
// is persisted, so appends, lookups, and proofs are all O(log n).
//
// A ProofList opened over a read-only access supports reads and proofs;
// calling Push on it panics, since that is a programming error,
// not a runtime condition.
type ProofList struct {
	rd odb.Reader
	wr odb.Writer // nil when opened read-only

	prefix []byte
	addr   Address
}

// NewProofList opens the list at addr for reading and writing.
// The address is claimed for the proof-list type if it is unset;
// a type mismatch returns [WrongIndexTypeError].
func NewProofList(rw odb.ReadWriter, addr Address) (*ProofList, error) {
	if err := pinType(rw, addr, TypeProofList); err != nil {
		return nil, err
	}
	return &ProofList{rd: rw, wr: rw, prefix: addr.dataPrefix(), addr: addr}, nil
}

// NewReadonlyProofList opens the list at addr over a read-only access.
func NewReadonlyProofList(r odb.Reader, addr Address) (*ProofList, error) {
	if err := pinType(r, addr, TypeProofList); err != nil {
		return nil, err
	}
	return &ProofList{rd: r, prefix: addr.dataPrefix(), addr: addr}, nil
}

// Key layout within the list's data prefix:
//
//	0x00                      -> big-endian element count
//	0x01 || level || index    -> level 0: raw values; level >= 1: hashes
func (l *ProofList) lenKey() []byte {
	return append(append([]byte(nil), l.prefix...), 0x00)
}

func (l *ProofList) itemKey(level uint8, index uint64) []byte {
	out := append(append([]byte(nil), l.prefix...), 0x01, level)
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], index)
	return append(out, idx[:]...)
}

// Len returns the number of elements in the list.
func (l *ProofList) Len() uint64 {
	raw, ok := l.rd.Get(l.lenKey())
	if !ok {
		return 0
	}
	return binary.BigEndian.Uint64(raw)
}

// levels returns the number of hash levels for a list of n elements:
// level 1 holds the leaf hashes and the top level holds the lone root node.
func levels(n uint64) int {
	if n == 0 {
		return 0
	}
	lv := 1
	for c := n; c > 1; c = (c + 1) / 2 {
		lv++
	}
	return lv
}

// countAtLevel returns how many nodes exist at the given hash level
// for a list of n elements.
func countAtLevel(level int, n uint64) uint64 {
	c := n
	for i := 1; i < level; i++ {
		c = (c + 1) / 2
	}
	return c
}

// Get returns the element at index i, or false if i is out of bounds.
func (l *ProofList) Get(i uint64) ([]byte, bool) {
	if i >= l.Len() {
		return nil, false
	}
	return l.rd.Get(l.itemKey(0, i))
}

// Push appends v to the list, updating the hash path from the new leaf
// to the root.
func (l *ProofList) Push(v []byte) {
	if l.wr == nil {
		panic(fmt.Errorf("Push called on read-only proof list %s", l.addr))
	}

	i := l.Len()
	n := i + 1

	l.wr.Put(l.itemKey(0, i), v)
	l.wr.Put(l.itemKey(1, i), leafHash(v))

	cur := i
	for h := 1; h < levels(n); h++ {
		parent := cur / 2
		left := l.mustHash(uint8(h), 2*parent)
		var right []byte
		if 2*parent+1 < countAtLevel(h, n) {
			right = l.mustHash(uint8(h), 2*parent+1)
		}
		l.wr.Put(l.itemKey(uint8(h+1), parent), listNodeHash(left, right))
		cur = parent
	}

	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], n)
	l.wr.Put(l.lenKey(), lenBuf[:])
}

func (l *ProofList) mustHash(level uint8, index uint64) []byte {
	h, ok := l.rd.Get(l.itemKey(level, index))
	if !ok {
		panic(fmt.Errorf(
			"proof list %s corrupted: missing hash at level %d index %d",
			l.addr, level, index,
		))
	}
	return h
}

// RootHash returns the list's Merkle root,
// binding both the element set and the element count.
// An empty list has the well-known [EmptyListHash].
func (l *ProofList) RootHash() []byte {
	n := l.Len()
	if n == 0 {
		return EmptyListHash()
	}
	return listRootHash(n, l.mustHash(uint8(levels(n)), 0))
}

// CreateProof returns a proof for the single element at index i.
// If i is out of bounds, the returned proof carries no entries;
// verifying it against the list's root proves the absence.
func (l *ProofList) CreateProof(i uint64) ListProof {
	return l.CreateRangeProof(i, i+1)
}

// CreateRangeProof returns a proof for the elements in [start, end).
// The range is clamped to [0, Len()); an empty or out-of-bounds range
// yields a proof with no entries that still verifies against the root.
func (l *ProofList) CreateRangeProof(start, end uint64) ListProof {
	n := l.Len()
	if end > n {
		end = n
	}

	if n == 0 {
		return ListProof{Length: 0}
	}
	if start >= end {
		return ListProof{Length: n, TopHash: l.mustHash(uint8(levels(n)), 0)}
	}

	p := ListProof{Length: n}
	for i := start; i < end; i++ {
		v, _ := l.rd.Get(l.itemKey(0, i))
		p.Entries = append(p.Entries, ListEntry{Index: i, Value: v})
	}

	// At each level, only the boundary siblings are needed:
	// the left sibling when the range's low edge is odd,
	// and the right sibling when the high edge is even and present.
	// Everything between the edges is recomputable from the entries.
	lo, hi := start, end-1
	for h := 1; h < levels(n); h++ {
		if lo%2 == 1 {
			p.Hashes = append(p.Hashes, ListHash{
				Level: uint8(h), Index: lo - 1, Hash: l.mustHash(uint8(h), lo-1),
			})
		}
		if hi%2 == 0 && hi+1 < countAtLevel(h, n) {
			p.Hashes = append(p.Hashes, ListHash{
				Level: uint8(h), Index: hi + 1, Hash: l.mustHash(uint8(h), hi+1),
			})
		}
		lo /= 2
		hi /= 2
	}

	return p
}
