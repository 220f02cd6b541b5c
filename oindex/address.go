package oindex

import (
	"bytes"
	"fmt"

	"github.com/obelisk-engine/obelisk/odb"
)

// IndexType identifies the kind of authenticated structure
// stored at an address.
type IndexType byte

const (
	// TypeUnset is the zero value; no index has been created at the address.
	TypeUnset IndexType = 0

	// TypeProofList marks a binary Merkle list.
	TypeProofList IndexType = 1

	// TypeProofMap marks a Merkle Patricia map.
	TypeProofMap IndexType = 2
)

func (t IndexType) String() string {
	switch t {
	case TypeUnset:
		return "unset"
	case TypeProofList:
		return "proof_list"
	case TypeProofMap:
		return "proof_map"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

// Address identifies one authenticated index instance within a store.
// Two indexes sharing a store must never collide on address,
// and an address is pinned to one index type for the store's lifetime.
type Address struct {
	// Name of the index. Must be non-empty and must not contain a NUL byte.
	Name string

	// Optional group key, for families of indexes sharing a name
	// (for example, per-account wallets).
	Group []byte
}

// String renders the address for error messages and logs.
func (a Address) String() string {
	if len(a.Group) == 0 {
		return a.Name
	}
	return fmt.Sprintf("%s/%x", a.Name, a.Group)
}

func (a Address) validate() error {
	if a.Name == "" {
		return fmt.Errorf("index address must have a non-empty name")
	}
	if bytes.IndexByte([]byte(a.Name), 0) >= 0 {
		return fmt.Errorf("index name %q must not contain a NUL byte", a.Name)
	}
	return nil
}

// encoded returns the canonical byte form of the address:
// name, NUL, group. The NUL separator cannot occur in the name,
// so distinct addresses never share an encoding.
func (a Address) encoded() []byte {
	out := make([]byte, 0, len(a.Name)+1+len(a.Group))
	out = append(out, a.Name...)
	out = append(out, 0)
	out = append(out, a.Group...)
	return out
}

// Key-space layout within a store:
//
//	0x00 || address  ->  index type byte (metadata)
//	0x01 || address || 0x00 || suffix  ->  index data
const (
	spaceMeta byte = 0x00
	spaceData byte = 0x01
)

func (a Address) metaKey() []byte {
	return append([]byte{spaceMeta}, a.encoded()...)
}

func (a Address) dataPrefix() []byte {
	out := append([]byte{spaceData}, a.encoded()...)
	return append(out, 0)
}

// prefixUpperBound returns the smallest key greater than every key
// beginning with prefix, or nil if no such key exists.
func prefixUpperBound(prefix []byte) []byte {
	out := append([]byte(nil), prefix...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xFF {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}

// pinType verifies or records the index type stored at addr.
//
// On a writable access, an unset address is claimed for typ.
// On a read-only access, an unset address is treated as an empty index.
// A mismatch in either mode is a usage error reported as
// [WrongIndexTypeError].
func pinType(access odb.Reader, addr Address, typ IndexType) error {
	if err := addr.validate(); err != nil {
		return err
	}

	raw, ok := access.Get(addr.metaKey())
	if ok {
		if len(raw) != 1 || IndexType(raw[0]) != typ {
			got := TypeUnset
			if len(raw) == 1 {
				got = IndexType(raw[0])
			}
			return WrongIndexTypeError{Address: addr, Want: typ, Got: got}
		}
		return nil
	}

	if w, isWriter := access.(odb.Writer); isWriter {
		w.Put(addr.metaKey(), []byte{byte(typ)})
	}
	return nil
}
