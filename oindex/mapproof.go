package oindex

import (
	"bytes"
	"sort"
)

// MapEntry is one key resolved by a map proof:
// either present with its value, or proven absent.
type MapEntry struct {
	Key     []byte
	Value   []byte
	Present bool
}

// MapProofNode is a pruned subtree in a map proof:
// the subtree's absolute root path and its hash.
type MapProofNode struct {
	Path BitPath
	Hash []byte
}

// MapProof proves the presence or absence of a set of keys
// in a proof map with a given root hash.
//
// The proof is the trie's contour around the requested keys:
// every leaf on a requested path appears as an entry, and every
// subtree off those paths is pruned to a single [MapProofNode].
type MapProof struct {
	Entries []MapEntry
	Nodes   []MapProofNode
}

// contourItem is one element of the reconstructed trie frontier.
type contourItem struct {
	path BitPath
	hash []byte
}

// Check verifies the proof against expectedRoot and returns the
// resolved entries. Any structural defect or hash mismatch is
// reported as [ProofInvalidError].
//
// Absence is established by the contour: a key is proven absent only
// when no contour path is a prefix of the key's path, so the verified
// root could not contain a leaf for it.
func (p MapProof) Check(expectedRoot []byte) ([]MapEntry, error) {
	items := make([]contourItem, 0, len(p.Nodes)+len(p.Entries))

	for _, n := range p.Nodes {
		if len(n.Hash) != HashSize {
			return nil, proofInvalidf("malformed node hash at path %s", n.Path)
		}
		if n.Path.Len() > 8*HashSize {
			return nil, proofInvalidf("node path longer than key width: %d bits", n.Path.Len())
		}
		items = append(items, contourItem{path: n.Path, hash: n.Hash})
	}

	seen := make(map[string]struct{}, len(p.Entries))
	var absent []BitPath
	for _, e := range p.Entries {
		if _, dup := seen[string(e.Key)]; dup {
			return nil, proofInvalidf("duplicate entry for key %x", e.Key)
		}
		seen[string(e.Key)] = struct{}{}

		kp := mapKeyPath(e.Key)
		if e.Present {
			items = append(items, contourItem{path: kp, hash: mapLeafHash(e.Value)})
		} else {
			absent = append(absent, kp)
		}
	}

	sort.Slice(items, func(a, b int) bool {
		return items[a].path.Compare(items[b].path) < 0
	})
	for i := 1; i < len(items); i++ {
		if items[i-1].path.IsPrefixOf(items[i].path) {
			return nil, proofInvalidf("contour path %s is a prefix of %s", items[i-1].path, items[i].path)
		}
	}

	for _, kp := range absent {
		for _, it := range items {
			if it.path.IsPrefixOf(kp) {
				return nil, proofInvalidf("contour cannot attest absence: path %s covers an absent key", it.path)
			}
		}
	}

	var root []byte
	switch len(items) {
	case 0:
		root = EmptyMapHash()
	case 1:
		root = mapRootHash(items[0].path, items[0].hash)
	default:
		top := foldContour(items)
		root = mapRootHash(top.path, top.hash)
	}

	if !bytes.Equal(root, expectedRoot) {
		return nil, proofInvalidf("root mismatch")
	}

	return p.Entries, nil
}

// foldContour rebuilds the subtree covering a sorted, prefix-free
// contour slice of length >= 2, returning its root path and hash.
//
// The items' shared prefix is the subtree's path, and the bit just
// past it splits the slice into the left and right children;
// recursion reproduces the exact branch structure of the source trie.
func foldContour(items []contourItem) contourItem {
	if len(items) == 1 {
		return items[0]
	}

	cpl := items[0].path.CommonPrefixLen(items[len(items)-1].path)
	split := sort.Search(len(items), func(i int) bool {
		return items[i].path.Bit(cpl) == 1
	})

	left := foldContour(items[:split])
	right := foldContour(items[split:])
	return contourItem{
		path: items[0].path.Prefix(cpl),
		hash: mapBranchHash(left.path, left.hash, right.path, right.hash),
	}
}
