package oindex_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/obelisk-engine/obelisk/oindex"
)

func TestBitPath_bitsAndPrefix(t *testing.T) {
	t.Parallel()

	p := oindex.KeyBitPath([]byte{0b1010_0001})
	require.Equal(t, 8, p.Len())
	require.Equal(t, byte(1), p.Bit(0))
	require.Equal(t, byte(0), p.Bit(1))
	require.Equal(t, byte(1), p.Bit(2))
	require.Equal(t, byte(1), p.Bit(7))

	pre := p.Prefix(3)
	require.Equal(t, 3, pre.Len())
	require.Equal(t, "101", pre.String())
	require.True(t, pre.IsPrefixOf(p))
	require.False(t, p.IsPrefixOf(pre))
}

func TestBitPath_commonPrefixLen(t *testing.T) {
	t.Parallel()

	a := oindex.KeyBitPath([]byte{0xFF, 0b1100_0000})
	b := oindex.KeyBitPath([]byte{0xFF, 0b1010_0000})
	require.Equal(t, 9, a.CommonPrefixLen(b))

	require.Equal(t, 16, a.CommonPrefixLen(a))
	require.Equal(t, 0, a.CommonPrefixLen(oindex.KeyBitPath([]byte{0x00, 0x00})))
}

func TestBitPath_compare(t *testing.T) {
	t.Parallel()

	a := oindex.KeyBitPath([]byte{0b0100_0000})
	b := oindex.KeyBitPath([]byte{0b1000_0000})
	require.Negative(t, a.Compare(b))
	require.Positive(t, b.Compare(a))
	require.Zero(t, a.Compare(a))

	// A strict prefix orders before any extension of it.
	pre := a.Prefix(3)
	require.Negative(t, pre.Compare(a))
	require.Positive(t, a.Compare(pre))
}

func TestBitPath_encodeDecode(t *testing.T) {
	t.Parallel()

	orig := oindex.KeyBitPath([]byte{0xAB, 0xCD, 0xEF}).Prefix(13)
	enc := orig.Encode()

	dec, rest, err := oindex.DecodeBitPath(append(enc, 0x99))
	require.NoError(t, err)
	require.Equal(t, []byte{0x99}, rest)
	require.True(t, orig.Equal(dec))
}

func TestBitPath_decodeRejectsMalformed(t *testing.T) {
	t.Parallel()

	_, _, err := oindex.DecodeBitPath([]byte{0x00})
	require.Error(t, err)

	// Length says 13 bits but only one byte of payload follows.
	_, _, err = oindex.DecodeBitPath([]byte{0x00, 0x0D, 0xFF})
	require.Error(t, err)

	// Nonzero trailing bits break byte-comparability of equal paths.
	_, _, err = oindex.DecodeBitPath([]byte{0x00, 0x04, 0x0F})
	require.Error(t, err)
}
