package ocrypto_test

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/obelisk-engine/obelisk/ocrypto"
)

func TestEd25519_signAndVerify(t *testing.T) {
	t.Parallel()

	_, priv1, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_, priv2, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	s1 := ocrypto.NewEd25519Signer(priv1)
	s2 := ocrypto.NewEd25519Signer(priv2)

	msg := []byte("hello")
	sig, err := s1.Sign(context.Background(), msg)
	require.NoError(t, err)

	require.True(t, s1.PubKey().Verify(msg, sig))
	require.False(t, s1.PubKey().Verify([]byte("other"), sig))
	require.False(t, s2.PubKey().Verify(msg, sig))

	require.True(t, s1.PubKey().Equal(s1.PubKey()))
	require.False(t, s1.PubKey().Equal(s2.PubKey()))
}

func TestNewEd25519PubKey(t *testing.T) {
	t.Parallel()

	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	key, err := ocrypto.NewEd25519PubKey(pub)
	require.NoError(t, err)
	require.Equal(t, []byte(pub), key.PubKeyBytes())
	require.Equal(t, "ed25519", key.TypeName())

	var sizeErr ocrypto.WrongPubKeySizeError
	_, err = ocrypto.NewEd25519PubKey(pub[:16])
	require.ErrorAs(t, err, &sizeErr)
	require.Equal(t, ed25519.PublicKeySize, sizeErr.Want)
	require.Equal(t, 16, sizeErr.Got)
}
