package oindex

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// BitPath is a sequence of bits addressing a position in a Patricia trie.
// Bits are ordered most significant first within each byte.
// Unused trailing bits are always zero, so equal paths are
// byte-comparable.
type BitPath struct {
	b []byte
	n int
}

// KeyBitPath returns the full bit path for a map key.
func KeyBitPath(key []byte) BitPath {
	return BitPath{b: append([]byte(nil), key...), n: len(key) * 8}
}

// Len returns the number of bits in the path.
func (p BitPath) Len() int { return p.n }

// Bit returns the i'th bit (0 or 1).
func (p BitPath) Bit(i int) byte {
	return (p.b[i/8] >> (7 - uint(i%8))) & 1
}

// Prefix returns the first n bits of p, with trailing bits zeroed.
func (p BitPath) Prefix(n int) BitPath {
	if n > p.n {
		panic(fmt.Errorf("BitPath.Prefix: %d exceeds path length %d", n, p.n))
	}
	nb := (n + 7) / 8
	b := append([]byte(nil), p.b[:nb]...)
	if rem := n % 8; rem != 0 && nb > 0 {
		b[nb-1] &= 0xFF << (8 - uint(rem))
	}
	return BitPath{b: b, n: n}
}

// CommonPrefixLen returns the number of leading bits shared by p and o.
func (p BitPath) CommonPrefixLen(o BitPath) int {
	max := p.n
	if o.n < max {
		max = o.n
	}

	n := 0
	for ; n+8 <= max; n += 8 {
		if p.b[n/8] != o.b[n/8] {
			break
		}
	}
	for ; n < max; n++ {
		if p.Bit(n) != o.Bit(n) {
			break
		}
	}
	return n
}

// Equal reports whether p and o are the same path.
func (p BitPath) Equal(o BitPath) bool {
	return p.n == o.n && bytes.Equal(p.b, o.b)
}

// IsPrefixOf reports whether p is a (possibly equal) prefix of o.
func (p BitPath) IsPrefixOf(o BitPath) bool {
	return p.n <= o.n && p.CommonPrefixLen(o) == p.n
}

// Compare orders paths bitwise-lexicographically,
// with a strict prefix ordering before any extension of it.
func (p BitPath) Compare(o BitPath) int {
	max := p.n
	if o.n < max {
		max = o.n
	}
	for i := 0; i < max; i++ {
		pb, ob := p.Bit(i), o.Bit(i)
		if pb != ob {
			if pb < ob {
				return -1
			}
			return 1
		}
	}
	switch {
	case p.n < o.n:
		return -1
	case p.n > o.n:
		return 1
	default:
		return 0
	}
}

// Encode returns the canonical byte form: 2-byte big-endian bit length,
// then the packed bits.
func (p BitPath) Encode() []byte {
	out := make([]byte, 2+len(p.b))
	binary.BigEndian.PutUint16(out, uint16(p.n))
	copy(out[2:], p.b)
	return out
}

// DecodeBitPath parses an encoded path from the front of raw,
// returning the path and the remaining bytes.
func DecodeBitPath(raw []byte) (BitPath, []byte, error) {
	if len(raw) < 2 {
		return BitPath{}, nil, fmt.Errorf("bit path encoding too short: %d bytes", len(raw))
	}
	n := int(binary.BigEndian.Uint16(raw))
	nb := (n + 7) / 8
	if len(raw) < 2+nb {
		return BitPath{}, nil, fmt.Errorf("bit path encoding truncated: need %d bytes, have %d", 2+nb, len(raw))
	}
	p := BitPath{b: append([]byte(nil), raw[2:2+nb]...), n: n}
	if rem := n % 8; rem != 0 && nb > 0 {
		if trailing := p.b[nb-1] & ^(byte(0xFF) << (8 - uint(rem))); trailing != 0 {
			return BitPath{}, nil, fmt.Errorf("bit path encoding has nonzero trailing bits")
		}
	}
	return p, raw[2+nb:], nil
}

// String renders the path as a bit string, for debugging.
func (p BitPath) String() string {
	var sb bytes.Buffer
	for i := 0; i < p.n; i++ {
		sb.WriteByte('0' + p.Bit(i))
	}
	return sb.String()
}
