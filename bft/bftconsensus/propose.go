package bftconsensus

import (
	"context"
	"fmt"

	"github.com/obelisk-engine/obelisk/ocrypto"
)

// Propose is a leader's candidate block descriptor for one
// (height, round): the previous block hash it chains from and the
// ordered transaction hashes it wants included.
type Propose struct {
	ValidatorID uint32
	Height      uint64
	Round       uint32

	PrevBlockHash []byte

	// TxHashes is the ordered transaction set. Execution order during
	// commit is exactly this order.
	TxHashes [][]byte

	// Time is the leader's unix timestamp in seconds. It is carried
	// into the committed block so every validator derives an identical
	// block hash without consulting its own clock.
	Time int64

	Signature []byte
}

// SignBytes returns the canonical signing input for the propose,
// excluding the signature itself.
func (p Propose) SignBytes() []byte {
	b := []byte(domainPropose)
	b = appendUint32(b, p.ValidatorID)
	b = appendUint64(b, p.Height)
	b = appendUint32(b, p.Round)
	b = appendBytes(b, p.PrevBlockHash)
	b = appendUint32(b, uint32(len(p.TxHashes)))
	for _, tx := range p.TxHashes {
		b = appendBytes(b, tx)
	}
	return appendUint64(b, uint64(p.Time))
}

// Hash returns the propose's content address.
// Two proposes with identical content from the same validator
// hash identically regardless of signature malleability.
func (p Propose) Hash() []byte {
	return consensusHash(p.SignBytes())
}

// Sign fills in the signature using the given signer.
func (p *Propose) Sign(ctx context.Context, s ocrypto.Signer) error {
	sig, err := s.Sign(ctx, p.SignBytes())
	if err != nil {
		return fmt.Errorf("signing propose: %w", err)
	}
	p.Signature = sig
	return nil
}

// Verify checks the signature against the claimed validator's key
// in the given set.
func (p Propose) Verify(vs ValidatorSet) error {
	v, ok := vs.ByID(p.ValidatorID)
	if !ok {
		return UnknownValidatorError{ID: p.ValidatorID}
	}
	if !v.PubKey.Verify(p.SignBytes(), p.Signature) {
		return SignatureError{Msg: "propose", ValidatorID: p.ValidatorID}
	}
	return nil
}

func (p Propose) encodeBody() []byte {
	var b []byte
	b = appendUint32(b, p.ValidatorID)
	b = appendUint64(b, p.Height)
	b = appendUint32(b, p.Round)
	b = appendBytes(b, p.PrevBlockHash)
	b = appendUint32(b, uint32(len(p.TxHashes)))
	for _, tx := range p.TxHashes {
		b = appendBytes(b, tx)
	}
	b = appendUint64(b, uint64(p.Time))
	return appendBytes(b, p.Signature)
}

func decodePropose(r *wireReader) (Propose, error) {
	var p Propose
	var err error
	if p.ValidatorID, err = r.uint32(); err != nil {
		return p, err
	}
	if p.Height, err = r.uint64(); err != nil {
		return p, err
	}
	if p.Round, err = r.uint32(); err != nil {
		return p, err
	}
	if p.PrevBlockHash, err = r.bytes(); err != nil {
		return p, err
	}
	n, err := r.uint32()
	if err != nil {
		return p, err
	}
	if n > maxWireBytes/HashSize {
		return p, fmt.Errorf("propose claims %d transactions, over limit", n)
	}
	for i := uint32(0); i < n; i++ {
		tx, err := r.bytes()
		if err != nil {
			return p, err
		}
		p.TxHashes = append(p.TxHashes, tx)
	}
	ts, err := r.uint64()
	if err != nil {
		return p, err
	}
	p.Time = int64(ts)
	if p.Signature, err = r.bytes(); err != nil {
		return p, err
	}
	return p, nil
}
