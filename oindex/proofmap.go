package oindex

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/obelisk-engine/obelisk/odb"
)

// ProofMap is an authenticated key-value mapping backed by a binary
// Patricia trie with compressed bit-paths.
//
// User keys are hashed to a fixed 256-bit path before insertion,
// so every leaf sits at full path depth and trie shape depends only
// on the key set, never on insertion order.
type ProofMap struct {
	rd odb.Reader
	wr odb.Writer // nil when opened read-only

	prefix []byte
	addr   Address
}

// NewProofMap opens the map at addr for reading and writing.
// The address is claimed for the proof-map type if it is unset;
// a type mismatch returns [WrongIndexTypeError].
func NewProofMap(rw odb.ReadWriter, addr Address) (*ProofMap, error) {
	if err := pinType(rw, addr, TypeProofMap); err != nil {
		return nil, err
	}
	return &ProofMap{rd: rw, wr: rw, prefix: addr.dataPrefix(), addr: addr}, nil
}

// NewReadonlyProofMap opens the map at addr over a read-only access.
func NewReadonlyProofMap(r odb.Reader, addr Address) (*ProofMap, error) {
	if err := pinType(r, addr, TypeProofMap); err != nil {
		return nil, err
	}
	return &ProofMap{rd: r, prefix: addr.dataPrefix(), addr: addr}, nil
}

// mapKeyPath returns the fixed-width trie path for a user key.
func mapKeyPath(key []byte) BitPath {
	h := blake2b.Sum256(key)
	return KeyBitPath(h[:])
}

// Key layout within the map's data prefix:
//
//	0x00                    -> encoded path of the trie root (absent when empty)
//	0x01 || path encoding   -> node record
//
// Node records:
//
//	0x00 || be32(len(key)) || key || value                        (leaf)
//	0x01 || leftPath || leftHash || rightPath || rightHash        (branch)
func (m *ProofMap) rootKey() []byte {
	return append(append([]byte(nil), m.prefix...), 0x00)
}

func (m *ProofMap) nodeKey(p BitPath) []byte {
	out := append(append([]byte(nil), m.prefix...), 0x01)
	return append(out, p.Encode()...)
}

type mapNode struct {
	isBranch bool

	// Leaf fields. The original key is retained so iteration
	// can yield user keys, not hashed paths.
	key   []byte
	value []byte

	// Branch fields. Child paths are absolute paths from the trie root.
	leftPath  BitPath
	leftHash  []byte
	rightPath BitPath
	rightHash []byte
}

func (n *mapNode) hash() []byte {
	if n.isBranch {
		return mapBranchHash(n.leftPath, n.leftHash, n.rightPath, n.rightHash)
	}
	return mapLeafHash(n.value)
}

func (n *mapNode) encode() []byte {
	if !n.isBranch {
		out := make([]byte, 0, 1+4+len(n.key)+len(n.value))
		out = append(out, 0x00)
		var kl [4]byte
		binary.BigEndian.PutUint32(kl[:], uint32(len(n.key)))
		out = append(out, kl[:]...)
		out = append(out, n.key...)
		return append(out, n.value...)
	}
	out := []byte{0x01}
	out = append(out, n.leftPath.Encode()...)
	out = append(out, n.leftHash...)
	out = append(out, n.rightPath.Encode()...)
	return append(out, n.rightHash...)
}

func decodeMapNode(raw []byte) (*mapNode, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty map node record")
	}
	switch raw[0] {
	case 0x00:
		if len(raw) < 5 {
			return nil, fmt.Errorf("leaf record too short: %d bytes", len(raw))
		}
		kl := int(binary.BigEndian.Uint32(raw[1:5]))
		if len(raw) < 5+kl {
			return nil, fmt.Errorf("leaf record truncated: key length %d", kl)
		}
		return &mapNode{
			key:   append([]byte(nil), raw[5:5+kl]...),
			value: append([]byte(nil), raw[5+kl:]...),
		}, nil
	case 0x01:
		lp, rest, err := DecodeBitPath(raw[1:])
		if err != nil {
			return nil, fmt.Errorf("branch left path: %w", err)
		}
		if len(rest) < HashSize {
			return nil, fmt.Errorf("branch record truncated at left hash")
		}
		lh := append([]byte(nil), rest[:HashSize]...)
		rp, rest, err := DecodeBitPath(rest[HashSize:])
		if err != nil {
			return nil, fmt.Errorf("branch right path: %w", err)
		}
		if len(rest) != HashSize {
			return nil, fmt.Errorf("branch record has %d trailing bytes, want %d", len(rest), HashSize)
		}
		return &mapNode{
			isBranch:  true,
			leftPath:  lp,
			leftHash:  lh,
			rightPath: rp,
			rightHash: append([]byte(nil), rest...),
		}, nil
	default:
		return nil, fmt.Errorf("unknown map node marker 0x%02x", raw[0])
	}
}

func (m *ProofMap) loadNode(p BitPath) *mapNode {
	raw, ok := m.rd.Get(m.nodeKey(p))
	if !ok {
		panic(fmt.Errorf("proof map %s corrupted: missing node at path %s", m.addr, p))
	}
	n, err := decodeMapNode(raw)
	if err != nil {
		panic(fmt.Errorf("proof map %s corrupted: %w", m.addr, err))
	}
	return n
}

func (m *ProofMap) storeNode(p BitPath, n *mapNode) {
	m.wr.Put(m.nodeKey(p), n.encode())
}

func (m *ProofMap) rootPath() (BitPath, bool) {
	raw, ok := m.rd.Get(m.rootKey())
	if !ok {
		return BitPath{}, false
	}
	p, rest, err := DecodeBitPath(raw)
	if err != nil || len(rest) != 0 {
		panic(fmt.Errorf("proof map %s corrupted: bad root path record", m.addr))
	}
	return p, true
}

// Get returns the value stored under key, or false if the key is absent.
func (m *ProofMap) Get(key []byte) ([]byte, bool) {
	// Leaves live at their full path, so lookup needs no trie walk.
	raw, ok := m.rd.Get(m.nodeKey(mapKeyPath(key)))
	if !ok {
		return nil, false
	}
	n, err := decodeMapNode(raw)
	if err != nil || n.isBranch {
		panic(fmt.Errorf("proof map %s corrupted: bad leaf at key %x", m.addr, key))
	}
	return n.value, true
}

// Contains reports whether key is present.
func (m *ProofMap) Contains(key []byte) bool {
	_, ok := m.Get(key)
	return ok
}

// Put sets the value stored under key.
func (m *ProofMap) Put(key, value []byte) {
	if m.wr == nil {
		panic(fmt.Errorf("Put called on read-only proof map %s", m.addr))
	}

	kp := mapKeyPath(key)
	leaf := &mapNode{key: append([]byte(nil), key...), value: append([]byte(nil), value...)}

	root, ok := m.rootPath()
	if !ok {
		m.storeNode(kp, leaf)
		m.wr.Put(m.rootKey(), kp.Encode())
		return
	}

	newRoot, _ := m.insert(root, kp, leaf)
	if !newRoot.Equal(root) {
		m.wr.Put(m.rootKey(), newRoot.Encode())
	}
}

// insert places leaf (at path kp) into the subtree rooted at nodePath,
// returning the subtree's new root path and hash.
func (m *ProofMap) insert(nodePath, kp BitPath, leaf *mapNode) (BitPath, []byte) {
	cpl := nodePath.CommonPrefixLen(kp)

	if cpl < nodePath.Len() {
		// The key diverges above this node: fork a new branch at the
		// divergence bit, with the existing subtree and the new leaf
		// as its children.
		existing := m.loadNode(nodePath)
		m.storeNode(kp, leaf)

		branch := &mapNode{isBranch: true}
		if kp.Bit(cpl) == 0 {
			branch.leftPath, branch.leftHash = kp, leaf.hash()
			branch.rightPath, branch.rightHash = nodePath, existing.hash()
		} else {
			branch.leftPath, branch.leftHash = nodePath, existing.hash()
			branch.rightPath, branch.rightHash = kp, leaf.hash()
		}
		fork := kp.Prefix(cpl)
		m.storeNode(fork, branch)
		return fork, branch.hash()
	}

	node := m.loadNode(nodePath)
	if !node.isBranch {
		// Fixed-width paths: a leaf whose path prefixes kp equals kp.
		m.storeNode(kp, leaf)
		return kp, leaf.hash()
	}

	if kp.Bit(nodePath.Len()) == 0 {
		p, h := m.insert(node.leftPath, kp, leaf)
		node.leftPath, node.leftHash = p, h
	} else {
		p, h := m.insert(node.rightPath, kp, leaf)
		node.rightPath, node.rightHash = p, h
	}
	m.storeNode(nodePath, node)
	return nodePath, node.hash()
}

// Remove deletes key from the map. Removing an absent key is a no-op.
func (m *ProofMap) Remove(key []byte) {
	if m.wr == nil {
		panic(fmt.Errorf("Remove called on read-only proof map %s", m.addr))
	}

	root, ok := m.rootPath()
	if !ok {
		return
	}

	kp := mapKeyPath(key)
	switch st, p, _ := m.remove(root, kp); st {
	case removeMissing:
		// no-op
	case removeEmptied:
		m.wr.Delete(m.rootKey())
	case removeUpdated:
		if !p.Equal(root) {
			m.wr.Put(m.rootKey(), p.Encode())
		}
	}
}

type removeStatus int

const (
	removeMissing removeStatus = iota
	removeEmptied
	removeUpdated
)

func (m *ProofMap) remove(nodePath, kp BitPath) (removeStatus, BitPath, []byte) {
	if !nodePath.IsPrefixOf(kp) {
		return removeMissing, BitPath{}, nil
	}

	node := m.loadNode(nodePath)
	if !node.isBranch {
		m.wr.Delete(m.nodeKey(nodePath))
		return removeEmptied, BitPath{}, nil
	}

	childPath := node.leftPath
	if kp.Bit(nodePath.Len()) == 1 {
		childPath = node.rightPath
	}

	st, p, h := m.remove(childPath, kp)
	switch st {
	case removeMissing:
		return removeMissing, BitPath{}, nil

	case removeEmptied:
		// A branch with one child collapses into that child.
		m.wr.Delete(m.nodeKey(nodePath))
		if kp.Bit(nodePath.Len()) == 1 {
			return removeUpdated, node.leftPath, node.leftHash
		}
		return removeUpdated, node.rightPath, node.rightHash

	default:
		if kp.Bit(nodePath.Len()) == 1 {
			node.rightPath, node.rightHash = p, h
		} else {
			node.leftPath, node.leftHash = p, h
		}
		m.storeNode(nodePath, node)
		return removeUpdated, nodePath, node.hash()
	}
}

// Clear removes every entry with a single range delete over the map's
// data space. The address stays pinned to the proof-map type.
func (m *ProofMap) Clear() {
	if m.wr == nil {
		panic(fmt.Errorf("Clear called on read-only proof map %s", m.addr))
	}
	m.wr.DeleteRange(m.prefix, prefixUpperBound(m.prefix))
}

// RootHash returns the map's Merkle root. An empty map has the
// well-known [EmptyMapHash].
func (m *ProofMap) RootHash() []byte {
	root, ok := m.rootPath()
	if !ok {
		return EmptyMapHash()
	}
	return mapRootHash(root, m.loadNode(root).hash())
}

// Ascend calls fn for every entry in hashed-path order,
// stopping early if fn returns false.
func (m *ProofMap) Ascend(fn func(key, value []byte) bool) {
	// Branch paths encode shorter bit lengths and therefore sort
	// before every full-width leaf, but they are interleaved by the
	// length-major encoding only at the very front; filtering on the
	// record marker is still required.
	low := append(append([]byte(nil), m.prefix...), 0x01)
	m.rd.Ascend(low, prefixUpperBound(low), func(k, v []byte) bool {
		n, err := decodeMapNode(v)
		if err != nil {
			panic(fmt.Errorf("proof map %s corrupted: %w", m.addr, err))
		}
		if n.isBranch {
			return true
		}
		return fn(n.key, n.value)
	})
}

// CreateProof returns a proof of presence or absence for each
// of the given keys against the map's current root.
func (m *ProofMap) CreateProof(keys ...[]byte) MapProof {
	var proof MapProof

	root, ok := m.rootPath()
	if !ok {
		for _, k := range keys {
			proof.Entries = append(proof.Entries, MapEntry{Key: append([]byte(nil), k...)})
		}
		return proof
	}

	paths := make([]BitPath, len(keys))
	for i, k := range keys {
		paths[i] = mapKeyPath(k)
	}

	m.collectProof(root, keys, paths, &proof)
	return proof
}

// collectProof walks the subtree at nodePath. Keys routed into the
// subtree are resolved to present or absent entries; subtrees with no
// requested key are pruned to a single (path, hash) pair.
func (m *ProofMap) collectProof(nodePath BitPath, keys [][]byte, paths []BitPath, proof *MapProof) {
	var inKeys [][]byte
	var inPaths []BitPath
	for i, p := range paths {
		if nodePath.IsPrefixOf(p) {
			inKeys = append(inKeys, keys[i])
			inPaths = append(inPaths, p)
		} else {
			// Diverges before this node: absent, and this subtree's
			// inclusion in the proof witnesses the divergence.
			proof.Entries = append(proof.Entries, MapEntry{Key: append([]byte(nil), keys[i]...)})
		}
	}

	node := m.loadNode(nodePath)

	if len(inKeys) == 0 {
		proof.Nodes = append(proof.Nodes, MapProofNode{Path: nodePath, Hash: node.hash()})
		return
	}

	if !node.isBranch {
		for _, k := range inKeys {
			proof.Entries = append(proof.Entries, MapEntry{
				Key:     append([]byte(nil), k...),
				Value:   append([]byte(nil), node.value...),
				Present: true,
			})
		}
		return
	}

	var lk, rk [][]byte
	var lp, rp []BitPath
	for i, p := range inPaths {
		if p.Bit(nodePath.Len()) == 0 {
			lk, lp = append(lk, inKeys[i]), append(lp, p)
		} else {
			rk, rp = append(rk, inKeys[i]), append(rp, p)
		}
	}

	m.collectProof(node.leftPath, lk, lp, proof)
	m.collectProof(node.rightPath, rk, rp, proof)
}
