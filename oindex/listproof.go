package oindex

import (
	"bytes"
	"sort"
)

// ListEntry is one proven element of a proof list.
type ListEntry struct {
	Index uint64
	Value []byte
}

// ListHash is one opaque sibling hash included in a list proof.
type ListHash struct {
	Level uint8
	Index uint64
	Hash  []byte
}

// ListProof proves the presence of a contiguous range of elements
// in a proof list with a given root hash, or, when Entries is empty,
// proves the list's length (and therefore the absence of any index
// at or beyond it).
type ListProof struct {
	// Length is the claimed element count of the list.
	Length uint64

	// Entries are the proven elements, in ascending index order.
	Entries []ListEntry

	// Hashes are the sibling hashes needed to recompute the root
	// from the entries.
	Hashes []ListHash

	// TopHash is the root node hash; set only on entry-less proofs
	// of a non-empty list.
	TopHash []byte
}

// Check verifies the proof against expectedRoot and returns the proven
// entries. A proof with no entries verifies only the list length.
// Any structural defect or hash mismatch is reported as
// [ProofInvalidError].
func (p ListProof) Check(expectedRoot []byte) ([]ListEntry, error) {
	if p.Length == 0 {
		if len(p.Entries) != 0 || len(p.Hashes) != 0 || p.TopHash != nil {
			return nil, proofInvalidf("empty list proof carries entries or hashes")
		}
		if !bytes.Equal(EmptyListHash(), expectedRoot) {
			return nil, proofInvalidf("root mismatch for empty list")
		}
		return nil, nil
	}

	if len(p.Entries) == 0 {
		if len(p.Hashes) != 0 {
			return nil, proofInvalidf("entry-less proof carries sibling hashes")
		}
		if len(p.TopHash) != HashSize {
			return nil, proofInvalidf("entry-less proof has malformed top hash")
		}
		if !bytes.Equal(listRootHash(p.Length, p.TopHash), expectedRoot) {
			return nil, proofInvalidf("root mismatch")
		}
		return nil, nil
	}

	for i, e := range p.Entries {
		if e.Index >= p.Length {
			return nil, proofInvalidf("entry index %d out of range for length %d", e.Index, p.Length)
		}
		if i > 0 && e.Index <= p.Entries[i-1].Index {
			return nil, proofInvalidf("entries not in strictly ascending index order")
		}
	}

	// Sibling hashes are looked up by (level, index); each must be
	// consumed exactly once while folding the entries up to the root.
	type pos struct {
		level uint8
		index uint64
	}
	siblings := make(map[pos][]byte, len(p.Hashes))
	for _, h := range p.Hashes {
		if len(h.Hash) != HashSize {
			return nil, proofInvalidf("malformed sibling hash at level %d index %d", h.Level, h.Index)
		}
		if h.Level == 0 || int(h.Level) >= levels(p.Length) {
			return nil, proofInvalidf("sibling hash at invalid level %d", h.Level)
		}
		if h.Index >= countAtLevel(int(h.Level), p.Length) {
			return nil, proofInvalidf("sibling hash index %d out of range at level %d", h.Index, h.Level)
		}
		key := pos{h.Level, h.Index}
		if _, dup := siblings[key]; dup {
			return nil, proofInvalidf("duplicate sibling hash at level %d index %d", h.Level, h.Index)
		}
		siblings[key] = h.Hash
	}

	computed := make(map[uint64][]byte, len(p.Entries))
	for _, e := range p.Entries {
		computed[e.Index] = leafHash(e.Value)
	}

	for h := 1; h < levels(p.Length); h++ {
		next := make(map[uint64][]byte)

		idxs := make([]uint64, 0, len(computed))
		for i := range computed {
			idxs = append(idxs, i)
		}
		sort.Slice(idxs, func(a, b int) bool { return idxs[a] < idxs[b] })

		for _, i := range idxs {
			parent := i / 2
			if _, done := next[parent]; done {
				continue
			}

			resolve := func(idx uint64) ([]byte, bool) {
				if hash, ok := computed[idx]; ok {
					return hash, true
				}
				if hash, ok := siblings[pos{uint8(h), idx}]; ok {
					delete(siblings, pos{uint8(h), idx})
					return hash, true
				}
				return nil, false
			}

			left, ok := resolve(2 * parent)
			if !ok {
				return nil, proofInvalidf("missing left child at level %d index %d", h, 2*parent)
			}
			var right []byte
			if 2*parent+1 < countAtLevel(h, p.Length) {
				right, ok = resolve(2*parent + 1)
				if !ok {
					return nil, proofInvalidf("missing right child at level %d index %d", h, 2*parent+1)
				}
			}
			next[parent] = listNodeHash(left, right)
		}

		computed = next
	}

	if len(siblings) != 0 {
		return nil, proofInvalidf("proof carries hashes unrelated to the proven entries")
	}

	top, ok := computed[0]
	if !ok || len(computed) != 1 {
		return nil, proofInvalidf("proof did not fold to a single root node")
	}
	if !bytes.Equal(listRootHash(p.Length, top), expectedRoot) {
		return nil, proofInvalidf("root mismatch")
	}

	return p.Entries, nil
}
