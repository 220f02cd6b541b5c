package ocrypto_test

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/obelisk-engine/obelisk/ocrypto"
)

func TestRegistry_marshalRoundTrip(t *testing.T) {
	t.Parallel()

	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	reg := new(ocrypto.Registry)
	ocrypto.RegisterEd25519(reg)

	orig := ocrypto.Ed25519PubKey(pub)
	b := reg.Marshal(orig)

	back, err := reg.Unmarshal(b)
	require.NoError(t, err)
	require.True(t, orig.Equal(back))
	require.Equal(t, orig.PubKeyBytes(), back.PubKeyBytes())
}

func TestRegistry_unmarshalUnknownPrefix(t *testing.T) {
	t.Parallel()

	reg := new(ocrypto.Registry)
	ocrypto.RegisterEd25519(reg)

	_, err := reg.Unmarshal([]byte("abcd\x00\x00\x00\x00111222333"))
	require.ErrorContains(t, err, `no registered public key type for prefix "abcd"`)
}

func TestRegistry_unmarshalShortInput(t *testing.T) {
	t.Parallel()

	reg := new(ocrypto.Registry)
	ocrypto.RegisterEd25519(reg)

	_, err := reg.Unmarshal([]byte("abc"))
	require.ErrorContains(t, err, "too short")
}

func TestRegistry_decodeByTypeName(t *testing.T) {
	t.Parallel()

	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	reg := new(ocrypto.Registry)
	ocrypto.RegisterEd25519(reg)

	key, err := reg.Decode("ed25519", pub)
	require.NoError(t, err)
	require.True(t, key.Equal(ocrypto.Ed25519PubKey(pub)))

	_, err = reg.Decode("sr25519", pub)
	require.ErrorContains(t, err, `no registered public key type for name "sr25519"`)
}
