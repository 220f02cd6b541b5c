package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/obelisk-engine/obelisk/bft/bftconsensus"
	"github.com/obelisk-engine/obelisk/ocrypto"
)

// Config is the node configuration file, in TOML.
type Config struct {
	Node      NodeConfig      `toml:"node"`
	Consensus ConsensusConfig `toml:"consensus"`
	P2P       P2PConfig       `toml:"p2p"`
	HTTP      HTTPConfig      `toml:"http"`
}

type NodeConfig struct {
	// DBPath is the pebble database directory.
	// Empty selects an in-memory database, for ephemeral nodes.
	DBPath string `toml:"db_path"`

	// SignerSeed is the node's hex-encoded 32-byte ed25519 seed.
	// Empty makes the node a non-voting observer.
	SignerSeed string `toml:"signer_seed"`
}

type ConsensusConfig struct {
	// Validators are the validator public keys, in ID order.
	// Each entry is "type:hexbytes"; a bare hex value means ed25519.
	// The order must be identical on every node.
	Validators []string `toml:"validators"`

	ProposeTimeoutMs   int64 `toml:"propose_timeout_ms"`
	RoundTimeoutBaseMs int64 `toml:"round_timeout_base_ms"`
	RoundTimeoutStepMs int64 `toml:"round_timeout_step_ms"`

	MaxTxsPerBlock int `toml:"max_txs_per_block"`
}

type P2PConfig struct {
	// Listen holds libp2p listen multiaddrs.
	Listen []string `toml:"listen"`

	// Peers holds multiaddrs of peers to dial at startup,
	// each including a /p2p/<id> component.
	Peers []string `toml:"peers"`
}

type HTTPConfig struct {
	// Listen is the explorer API's host:port. Empty disables it.
	Listen string `toml:"listen"`
}

func loadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if len(cfg.Consensus.Validators) == 0 {
		return Config{}, fmt.Errorf("config names no validators")
	}
	return cfg, nil
}

// keyRegistry returns the registry of public key types accepted in
// config files. ed25519 is the only registered type today.
func keyRegistry() *ocrypto.Registry {
	reg := new(ocrypto.Registry)
	ocrypto.RegisterEd25519(reg)
	return reg
}

func (c Config) validatorSet() (bftconsensus.ValidatorSet, error) {
	reg := keyRegistry()
	vals := make([]bftconsensus.Validator, len(c.Consensus.Validators))
	for i, s := range c.Consensus.Validators {
		key, err := decodeValidatorKey(reg, s)
		if err != nil {
			return bftconsensus.ValidatorSet{}, fmt.Errorf("validator %d: %w", i, err)
		}
		vals[i] = bftconsensus.Validator{PubKey: key}
	}
	return bftconsensus.NewValidatorSet(vals)
}

// decodeValidatorKey resolves a "type:hexbytes" config entry through
// the registry. A bare hex value is treated as ed25519.
func decodeValidatorKey(reg *ocrypto.Registry, s string) (ocrypto.PubKey, error) {
	typeName := "ed25519"
	if prefix, rest, ok := strings.Cut(s, ":"); ok {
		typeName, s = prefix, rest
	}

	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("key is not hex: %w", err)
	}
	return reg.Decode(typeName, raw)
}

// signer returns the node's signer, or nil for an observer.
func (c Config) signer() (ocrypto.Signer, error) {
	if c.Node.SignerSeed == "" {
		return nil, nil
	}

	seed, err := hex.DecodeString(c.Node.SignerSeed)
	if err != nil {
		return nil, fmt.Errorf("signer seed is not hex: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signer seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return ocrypto.NewEd25519Signer(ed25519.NewKeyFromSeed(seed)), nil
}

func durationOr(ms int64, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
