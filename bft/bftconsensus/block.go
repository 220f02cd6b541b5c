package bftconsensus

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

// Block is the persisted, hash-chained record of one committed height.
type Block struct {
	Height uint64

	PrevBlockHash []byte

	// TxSetHash commits to the ordered transaction hashes of the block.
	TxSetHash []byte

	// StateHash is the aggregate Merkle root over application state
	// after executing the block.
	StateHash []byte

	// Time is the proposer's unix timestamp in seconds.
	// Informational only; it carries no consensus weight.
	Time int64
}

// Hash returns the block's content address.
func (b Block) Hash() []byte {
	var buf []byte
	buf = append(buf, "obelisk/v1/block\n"...)
	buf = appendUint64(buf, b.Height)
	buf = appendBytes(buf, b.PrevBlockHash)
	buf = appendBytes(buf, b.TxSetHash)
	buf = appendBytes(buf, b.StateHash)
	buf = appendUint64(buf, uint64(b.Time))
	return consensusHash(buf)
}

// TxSetHash computes the commitment over an ordered transaction hash list.
func TxSetHash(txHashes [][]byte) []byte {
	var buf []byte
	buf = append(buf, "obelisk/v1/txset\n"...)
	buf = appendUint32(buf, uint32(len(txHashes)))
	for _, tx := range txHashes {
		buf = appendBytes(buf, tx)
	}
	return consensusHash(buf)
}

func (b Block) encodeBody() []byte {
	var buf []byte
	buf = appendUint64(buf, b.Height)
	buf = appendBytes(buf, b.PrevBlockHash)
	buf = appendBytes(buf, b.TxSetHash)
	buf = appendBytes(buf, b.StateHash)
	return appendUint64(buf, uint64(b.Time))
}

func decodeBlock(r *wireReader) (Block, error) {
	var b Block
	var err error
	if b.Height, err = r.uint64(); err != nil {
		return b, err
	}
	if b.PrevBlockHash, err = r.bytes(); err != nil {
		return b, err
	}
	if b.TxSetHash, err = r.bytes(); err != nil {
		return b, err
	}
	if b.StateHash, err = r.bytes(); err != nil {
		return b, err
	}
	t, err := r.uint64()
	if err != nil {
		return b, err
	}
	b.Time = int64(t)
	return b, nil
}

// EncodeBlock returns the canonical wire form of a block,
// as stored in the block store.
func EncodeBlock(b Block) []byte {
	return b.encodeBody()
}

// DecodeBlock parses a block encoded with [EncodeBlock].
func DecodeBlock(raw []byte) (Block, error) {
	r := &wireReader{buf: raw}
	b, err := decodeBlock(r)
	if err != nil {
		return b, err
	}
	return b, r.done()
}

// CommitProof is the quorum of precommits persisted alongside a block
// as its proof of agreement. The Validators bitset records which
// validator IDs signed; Signatures holds their signatures in ascending
// ID order.
type CommitProof struct {
	Round uint32

	ProposeHash []byte
	BlockHash   []byte

	Validators *bitset.BitSet
	Signatures [][]byte
}

// NewCommitProof assembles a proof from a quorum of precommits,
// which must all agree on round, propose hash, and block hash.
func NewCommitProof(precommits []Precommit) (CommitProof, error) {
	if len(precommits) == 0 {
		return CommitProof{}, fmt.Errorf("commit proof requires at least one precommit")
	}

	first := precommits[0]
	p := CommitProof{
		Round:       first.Round,
		ProposeHash: first.ProposeHash,
		BlockHash:   first.BlockHash,
		Validators:  bitset.New(uint(len(precommits))),
	}

	byID := make(map[uint32][]byte, len(precommits))
	for _, pc := range precommits {
		if pc.Round != first.Round ||
			string(pc.ProposeHash) != string(first.ProposeHash) ||
			string(pc.BlockHash) != string(first.BlockHash) {
			return CommitProof{}, fmt.Errorf("precommit from validator %d disagrees with the quorum", pc.ValidatorID)
		}
		if _, dup := byID[pc.ValidatorID]; dup {
			return CommitProof{}, fmt.Errorf("duplicate precommit from validator %d", pc.ValidatorID)
		}
		byID[pc.ValidatorID] = pc.Signature
		p.Validators.Set(uint(pc.ValidatorID))
	}

	// Signatures are laid out in ascending validator ID order,
	// matching bitset iteration order.
	for id, ok := p.Validators.NextSet(0); ok; id, ok = p.Validators.NextSet(id + 1) {
		p.Signatures = append(p.Signatures, byID[uint32(id)])
	}
	return p, nil
}

// SignerCount returns how many validators signed the proof.
func (p CommitProof) SignerCount() uint64 {
	return uint64(p.Validators.Count())
}

// Verify checks that the proof carries a byzantine quorum of valid
// precommit signatures for the given height over its block hash.
func (p CommitProof) Verify(vs ValidatorSet, height uint64) error {
	if p.SignerCount() < vs.Quorum() {
		return fmt.Errorf(
			"commit proof has %d signers, need quorum of %d",
			p.SignerCount(), vs.Quorum(),
		)
	}
	if uint64(len(p.Signatures)) != p.SignerCount() {
		return fmt.Errorf(
			"commit proof has %d signatures for %d signers",
			len(p.Signatures), p.SignerCount(),
		)
	}

	i := 0
	for id, ok := p.Validators.NextSet(0); ok; id, ok = p.Validators.NextSet(id + 1) {
		pc := Precommit{
			ValidatorID: uint32(id),
			Height:      height,
			Round:       p.Round,
			ProposeHash: p.ProposeHash,
			BlockHash:   p.BlockHash,
			Signature:   p.Signatures[i],
		}
		if err := pc.Verify(vs); err != nil {
			return fmt.Errorf("commit proof signer %d: %w", id, err)
		}
		i++
	}
	return nil
}

// EncodeCommitProof returns the canonical wire form of a commit proof.
func EncodeCommitProof(p CommitProof) []byte {
	var buf []byte
	buf = appendUint32(buf, p.Round)
	buf = appendBytes(buf, p.ProposeHash)
	buf = appendBytes(buf, p.BlockHash)

	bs, err := p.Validators.MarshalBinary()
	if err != nil {
		// MarshalBinary on a bitset writes to a memory buffer only.
		panic(err)
	}
	buf = appendBytes(buf, bs)

	buf = appendUint32(buf, uint32(len(p.Signatures)))
	for _, sig := range p.Signatures {
		buf = appendBytes(buf, sig)
	}
	return buf
}

// DecodeCommitProof parses a proof encoded with [EncodeCommitProof].
func DecodeCommitProof(raw []byte) (CommitProof, error) {
	r := &wireReader{buf: raw}
	var p CommitProof
	var err error
	if p.Round, err = r.uint32(); err != nil {
		return p, err
	}
	if p.ProposeHash, err = r.bytes(); err != nil {
		return p, err
	}
	if p.BlockHash, err = r.bytes(); err != nil {
		return p, err
	}

	bs, err := r.bytes()
	if err != nil {
		return p, err
	}
	p.Validators = bitset.New(0)
	if err := p.Validators.UnmarshalBinary(bs); err != nil {
		return p, fmt.Errorf("commit proof validator bitset: %w", err)
	}

	n, err := r.uint32()
	if err != nil {
		return p, err
	}
	if n > maxWireBytes/HashSize {
		return p, fmt.Errorf("commit proof claims %d signatures, over limit", n)
	}
	for i := uint32(0); i < n; i++ {
		sig, err := r.bytes()
		if err != nil {
			return p, err
		}
		p.Signatures = append(p.Signatures, sig)
	}
	return p, r.done()
}
