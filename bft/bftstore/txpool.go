package bftstore

import (
	"fmt"
	"sync"

	"lukechampine.com/blake3"

	"github.com/obelisk-engine/obelisk/odb"
	"github.com/obelisk-engine/obelisk/oindex"
)

// TxHash returns the content address of a raw transaction.
//
// Transactions are hashed with blake3 rather than the blake2b used for
// Merkle nodes; tx hashing is the hot path during gossip and blake3's
// throughput matters there, while the two domains never mix.
func TxHash(tx []byte) []byte {
	h := blake3.Sum256(tx)
	return h[:]
}

// TxPool holds transactions known to this node: a pending in-memory
// set not yet referenced by a committed block, layered over the
// durable transaction index.
//
// Mutation happens on the engine's event loop, but lookups also come
// from transport goroutines serving peers' transaction requests, so
// the pool locks internally.
type TxPool struct {
	db odb.Database

	mu      sync.RWMutex
	pending map[string][]byte
	order   []string
}

func NewTxPool(db odb.Database) *TxPool {
	return &TxPool{
		db:      db,
		pending: make(map[string][]byte),
	}
}

// Add registers a raw transaction and returns its hash.
// Duplicates, pending or durable, are absorbed silently.
func (p *TxPool) Add(raw []byte) []byte {
	hash := TxHash(raw)
	key := string(hash)

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.pending[key]; ok {
		return hash
	}
	if _, ok := p.durableGet(hash); ok {
		return hash
	}

	p.pending[key] = append([]byte(nil), raw...)
	p.order = append(p.order, key)
	return hash
}

// Get resolves a transaction hash against the pending set first,
// then the durable index.
func (p *TxPool) Get(hash []byte) ([]byte, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.get(hash)
}

func (p *TxPool) get(hash []byte) ([]byte, bool) {
	if raw, ok := p.pending[string(hash)]; ok {
		return raw, true
	}
	return p.durableGet(hash)
}

// Have reports whether the pool can resolve every given hash.
// Missing hashes are returned for the caller to request from peers.
func (p *TxPool) Have(hashes [][]byte) (missing [][]byte) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, h := range hashes {
		if _, ok := p.get(h); !ok {
			missing = append(missing, h)
		}
	}
	return missing
}

// PendingHashes returns up to max pending transaction hashes in
// arrival order, for building a propose.
func (p *TxPool) PendingHashes(max int) [][]byte {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out [][]byte
	for _, key := range p.order {
		if _, still := p.pending[key]; !still {
			continue
		}
		out = append(out, []byte(key))
		if len(out) == max {
			break
		}
	}
	return out
}

// PendingLen returns the number of pending transactions.
func (p *TxPool) PendingLen() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.pending)
}

// MarkCommitted writes the given transactions into the durable index
// within the commit fork and drops them from the pending set.
// Called by the commit pipeline so the transactions become durable in
// the same atomic patch as the block that references them.
func (p *TxPool) MarkCommitted(f *odb.Fork, hashes [][]byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	m, err := oindex.NewProofMap(f, TxsAddress)
	if err != nil {
		return err
	}
	for _, h := range hashes {
		raw, ok := p.get(h)
		if !ok {
			return fmt.Errorf("transaction %x not resolvable at commit", h)
		}
		m.Put(h, raw)
		delete(p.pending, string(h))
	}
	return nil
}

// Flush persists every pending transaction into the durable index
// with a synced merge. Used on shutdown so known transactions survive
// restart even if never committed.
func (p *TxPool) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.pending) == 0 {
		return nil
	}

	f := odb.NewFork(p.db.Snapshot())
	m, err := oindex.NewProofMap(f, TxsAddress)
	if err != nil {
		return err
	}
	for _, key := range p.order {
		raw, still := p.pending[key]
		if !still {
			continue
		}
		m.Put([]byte(key), raw)
	}

	if err := p.db.MergeSync(f.IntoPatch()); err != nil {
		return fmt.Errorf("flushing transaction pool: %w", err)
	}

	p.pending = make(map[string][]byte)
	p.order = nil
	return nil
}

func (p *TxPool) durableGet(hash []byte) ([]byte, bool) {
	m, err := oindex.NewReadonlyProofMap(p.db.Snapshot(), TxsAddress)
	if err != nil {
		panic(fmt.Errorf("transaction index corrupted: %w", err))
	}
	return m.Get(hash)
}
