package bftapp

import (
	"bytes"
	"fmt"

	"github.com/obelisk-engine/obelisk/odb"
	"github.com/obelisk-engine/obelisk/oindex"
)

// KVApp is a minimal reference application: a single authenticated
// key-value namespace driven by two transaction kinds.
//
// Transaction wire format, all fields text:
//
//	set\x00<key>\x00<value>
//	del\x00<key>
//
// Keys must be non-empty. Anything else is an application error and
// rolls back to a no-op.
type KVApp struct{}

// KVAddress is the authenticated index holding KVApp state.
var KVAddress = oindex.Address{Name: "app.kv"}

func (KVApp) ExecuteTx(f *odb.Fork, tx []byte) error {
	parts := bytes.SplitN(tx, []byte{0}, 3)

	m, err := oindex.NewProofMap(f, KVAddress)
	if err != nil {
		return fmt.Errorf("opening kv state: %w", err)
	}

	switch {
	case len(parts) == 3 && string(parts[0]) == "set" && len(parts[1]) > 0:
		m.Put(parts[1], parts[2])
		return nil
	case len(parts) == 2 && string(parts[0]) == "del" && len(parts[1]) > 0:
		m.Remove(parts[1])
		return nil
	default:
		return fmt.Errorf("malformed kv transaction (%d bytes)", len(tx))
	}
}

func (KVApp) StateHashContributions(r odb.Reader) ([][]byte, error) {
	m, err := oindex.NewReadonlyProofMap(r, KVAddress)
	if err != nil {
		return nil, fmt.Errorf("opening kv state: %w", err)
	}
	return [][]byte{m.RootHash()}, nil
}

// SetTx builds a well-formed set transaction.
func SetTx(key, value []byte) []byte {
	tx := append([]byte("set\x00"), key...)
	tx = append(tx, 0)
	return append(tx, value...)
}

// DelTx builds a well-formed delete transaction.
func DelTx(key []byte) []byte {
	return append([]byte("del\x00"), key...)
}
