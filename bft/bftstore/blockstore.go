// Package bftstore persists the consensus engine's durable output:
// committed blocks with their commit proofs, and the transaction pool.
// Everything is stored in authenticated indexes, so block and
// transaction presence is provable against the store's Merkle roots.
package bftstore

import (
	"encoding/binary"
	"fmt"

	"github.com/obelisk-engine/obelisk/bft/bftconsensus"
	"github.com/obelisk-engine/obelisk/odb"
	"github.com/obelisk-engine/obelisk/oindex"
)

// Index addresses owned by the block store. Application indexes must
// not reuse the core. prefix.
var (
	// BlocksAddress is a proof list of encoded blocks;
	// list index i holds the block at height i+1.
	BlocksAddress = oindex.Address{Name: "core.blocks"}

	// HeightsAddress maps block hash to big-endian height.
	HeightsAddress = oindex.Address{Name: "core.block_heights"}

	// ProofsAddress maps block hash to its encoded commit proof.
	ProofsAddress = oindex.Address{Name: "core.commit_proofs"}

	// TxsAddress maps transaction hash to raw transaction bytes.
	TxsAddress = oindex.Address{Name: "core.transactions"}
)

// GenesisHash is the previous-block hash of the height-1 block.
func GenesisHash() []byte {
	return make([]byte, bftconsensus.HashSize)
}

// BlockStore reads committed chain data from the base store.
// Writes go through [AppendBlock] inside the commit pipeline's fork,
// so a block and its state land in one atomic patch.
type BlockStore struct {
	db odb.Database
}

func NewBlockStore(db odb.Database) *BlockStore {
	return &BlockStore{db: db}
}

// Height returns the last committed height, zero before any commit.
func (s *BlockStore) Height() uint64 {
	l, err := oindex.NewReadonlyProofList(s.db.Snapshot(), BlocksAddress)
	if err != nil {
		panic(fmt.Errorf("block store corrupted: %w", err))
	}
	return l.Len()
}

// LastHash returns the hash of the last committed block,
// or [GenesisHash] before any commit.
func (s *BlockStore) LastHash() []byte {
	snap := s.db.Snapshot()
	l, err := oindex.NewReadonlyProofList(snap, BlocksAddress)
	if err != nil {
		panic(fmt.Errorf("block store corrupted: %w", err))
	}
	n := l.Len()
	if n == 0 {
		return GenesisHash()
	}
	b, err := blockAt(l, n)
	if err != nil {
		panic(err)
	}
	return b.Hash()
}

// BlockAt returns the block committed at the given height along with
// its commit proof, or false if the height has not been committed.
func (s *BlockStore) BlockAt(height uint64) (bftconsensus.Block, bftconsensus.CommitProof, bool) {
	snap := s.db.Snapshot()
	l, err := oindex.NewReadonlyProofList(snap, BlocksAddress)
	if err != nil {
		panic(fmt.Errorf("block store corrupted: %w", err))
	}
	if height == 0 || height > l.Len() {
		return bftconsensus.Block{}, bftconsensus.CommitProof{}, false
	}

	b, err := blockAt(l, height)
	if err != nil {
		panic(err)
	}
	proof, err := s.proofFor(snap, b.Hash())
	if err != nil {
		panic(err)
	}
	return b, proof, true
}

// BlockByHash resolves a block hash to its committed block and proof.
func (s *BlockStore) BlockByHash(hash []byte) (bftconsensus.Block, bftconsensus.CommitProof, bool) {
	snap := s.db.Snapshot()
	heights, err := oindex.NewReadonlyProofMap(snap, HeightsAddress)
	if err != nil {
		panic(fmt.Errorf("block store corrupted: %w", err))
	}
	raw, ok := heights.Get(hash)
	if !ok {
		return bftconsensus.Block{}, bftconsensus.CommitProof{}, false
	}
	return s.BlockAt(binary.BigEndian.Uint64(raw))
}

// Tx returns the raw bytes of a committed (durably pooled) transaction.
func (s *BlockStore) Tx(hash []byte) ([]byte, bool) {
	m, err := oindex.NewReadonlyProofMap(s.db.Snapshot(), TxsAddress)
	if err != nil {
		panic(fmt.Errorf("block store corrupted: %w", err))
	}
	return m.Get(hash)
}

func blockAt(l *oindex.ProofList, height uint64) (bftconsensus.Block, error) {
	raw, ok := l.Get(height - 1)
	if !ok {
		return bftconsensus.Block{}, fmt.Errorf("block store corrupted: missing block at height %d", height)
	}
	b, err := bftconsensus.DecodeBlock(raw)
	if err != nil {
		return bftconsensus.Block{}, fmt.Errorf("block store corrupted at height %d: %w", height, err)
	}
	return b, nil
}

func (s *BlockStore) proofFor(r odb.Reader, blockHash []byte) (bftconsensus.CommitProof, error) {
	proofs, err := oindex.NewReadonlyProofMap(r, ProofsAddress)
	if err != nil {
		return bftconsensus.CommitProof{}, fmt.Errorf("block store corrupted: %w", err)
	}
	raw, ok := proofs.Get(blockHash)
	if !ok {
		return bftconsensus.CommitProof{}, fmt.Errorf("block store corrupted: no commit proof for block %x", blockHash)
	}
	return bftconsensus.DecodeCommitProof(raw)
}

// AppendBlock writes a committed block and its proof into the fork.
// The block must extend the chain by exactly one height.
func AppendBlock(f *odb.Fork, b bftconsensus.Block, proof bftconsensus.CommitProof) error {
	l, err := oindex.NewProofList(f, BlocksAddress)
	if err != nil {
		return err
	}
	if b.Height != l.Len()+1 {
		return fmt.Errorf(
			"block height %d does not extend chain at height %d", b.Height, l.Len(),
		)
	}
	l.Push(bftconsensus.EncodeBlock(b))

	hash := b.Hash()

	heights, err := oindex.NewProofMap(f, HeightsAddress)
	if err != nil {
		return err
	}
	var hbuf [8]byte
	binary.BigEndian.PutUint64(hbuf[:], b.Height)
	heights.Put(hash, hbuf[:])

	proofs, err := oindex.NewProofMap(f, ProofsAddress)
	if err != nil {
		return err
	}
	proofs.Put(hash, bftconsensus.EncodeCommitProof(proof))
	return nil
}

// ChainRoot returns the Merkle root of the block list,
// which a light client can use to verify block-inclusion proofs.
func (s *BlockStore) ChainRoot() []byte {
	l, err := oindex.NewReadonlyProofList(s.db.Snapshot(), BlocksAddress)
	if err != nil {
		panic(fmt.Errorf("block store corrupted: %w", err))
	}
	return l.RootHash()
}

// BlockProof returns a Merkle proof that the block at the given height
// is part of the chain, verifiable against [ChainRoot].
func (s *BlockStore) BlockProof(height uint64) oindex.ListProof {
	l, err := oindex.NewReadonlyProofList(s.db.Snapshot(), BlocksAddress)
	if err != nil {
		panic(fmt.Errorf("block store corrupted: %w", err))
	}
	if height == 0 {
		return l.CreateProof(l.Len()) // provably absent
	}
	return l.CreateProof(height - 1)
}
