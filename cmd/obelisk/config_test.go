package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/obelisk-engine/obelisk/ocrypto"
)

func TestLoadConfig(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = 7
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)

	doc := `
[node]
db_path = "/tmp/obelisk-test"
signer_seed = "` + hex.EncodeToString(seed) + `"

[consensus]
validators = ["` + hex.EncodeToString(pub) + `"]
propose_timeout_ms = 250
max_txs_per_block = 64

[p2p]
listen = ["/ip4/0.0.0.0/tcp/26656"]

[http]
listen = "127.0.0.1:26657"
`
	path := filepath.Join(t.TempDir(), "node.toml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/obelisk-test", cfg.Node.DBPath)
	require.Equal(t, "127.0.0.1:26657", cfg.HTTP.Listen)
	require.Equal(t, 64, cfg.Consensus.MaxTxsPerBlock)
	require.Equal(t, 250*time.Millisecond, durationOr(cfg.Consensus.ProposeTimeoutMs, time.Second))
	require.Equal(t, 3*time.Second, durationOr(cfg.Consensus.RoundTimeoutBaseMs, 3*time.Second))

	vs, err := cfg.validatorSet()
	require.NoError(t, err)
	require.Equal(t, uint64(1), vs.Len())

	signer, err := cfg.signer()
	require.NoError(t, err)
	require.NotNil(t, signer)

	// The configured signer must be a member of the validator set.
	id, ok := vs.IDOf(signer.PubKey())
	require.True(t, ok)
	require.Equal(t, uint32(0), id)
}

func TestValidatorKeyDecoding(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	reg := keyRegistry()

	bare, err := decodeValidatorKey(reg, hex.EncodeToString(pub))
	require.NoError(t, err)
	require.Equal(t, []byte(pub), bare.PubKeyBytes())

	// An explicit type prefix resolves to the same key.
	prefixed, err := decodeValidatorKey(reg, "ed25519:"+hex.EncodeToString(pub))
	require.NoError(t, err)
	require.True(t, bare.Equal(prefixed))

	_, err = decodeValidatorKey(reg, "sr25519:"+hex.EncodeToString(pub))
	require.ErrorContains(t, err, "no registered public key type")

	var sizeErr ocrypto.WrongPubKeySizeError
	_, err = decodeValidatorKey(reg, "abcd12")
	require.ErrorAs(t, err, &sizeErr)
	require.Equal(t, ed25519.PublicKeySize, sizeErr.Want)

	_, err = decodeValidatorKey(reg, "not-hex")
	require.Error(t, err)
}

func TestLoadConfig_requiresValidators(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.toml")
	require.NoError(t, os.WriteFile(path, []byte("[node]\n"), 0o600))

	_, err := loadConfig(path)
	require.Error(t, err)
}
