package bftconsensus

import (
	"context"
	"fmt"

	"github.com/obelisk-engine/obelisk/ocrypto"
)

// Prevote endorses a specific propose hash at one (height, round).
type Prevote struct {
	ValidatorID uint32
	Height      uint64
	Round       uint32

	ProposeHash []byte

	Signature []byte
}

// SignBytes returns the canonical signing input for the prevote.
func (v Prevote) SignBytes() []byte {
	b := []byte(domainPrevote)
	b = appendUint32(b, v.ValidatorID)
	b = appendUint64(b, v.Height)
	b = appendUint32(b, v.Round)
	return appendBytes(b, v.ProposeHash)
}

// Sign fills in the signature using the given signer.
func (v *Prevote) Sign(ctx context.Context, s ocrypto.Signer) error {
	sig, err := s.Sign(ctx, v.SignBytes())
	if err != nil {
		return fmt.Errorf("signing prevote: %w", err)
	}
	v.Signature = sig
	return nil
}

// Verify checks the signature against the claimed validator's key.
func (v Prevote) Verify(vs ValidatorSet) error {
	val, ok := vs.ByID(v.ValidatorID)
	if !ok {
		return UnknownValidatorError{ID: v.ValidatorID}
	}
	if !val.PubKey.Verify(v.SignBytes(), v.Signature) {
		return SignatureError{Msg: "prevote", ValidatorID: v.ValidatorID}
	}
	return nil
}

func (v Prevote) encodeBody() []byte {
	var b []byte
	b = appendUint32(b, v.ValidatorID)
	b = appendUint64(b, v.Height)
	b = appendUint32(b, v.Round)
	b = appendBytes(b, v.ProposeHash)
	return appendBytes(b, v.Signature)
}

func decodePrevote(r *wireReader) (Prevote, error) {
	var v Prevote
	var err error
	if v.ValidatorID, err = r.uint32(); err != nil {
		return v, err
	}
	if v.Height, err = r.uint64(); err != nil {
		return v, err
	}
	if v.Round, err = r.uint32(); err != nil {
		return v, err
	}
	if v.ProposeHash, err = r.bytes(); err != nil {
		return v, err
	}
	if v.Signature, err = r.bytes(); err != nil {
		return v, err
	}
	return v, nil
}

// Precommit endorses both a propose hash and the block hash that
// executing the propose produced, at one (height, round).
type Precommit struct {
	ValidatorID uint32
	Height      uint64
	Round       uint32

	ProposeHash []byte
	BlockHash   []byte

	Signature []byte
}

// SignBytes returns the canonical signing input for the precommit.
func (c Precommit) SignBytes() []byte {
	b := []byte(domainPrecommit)
	b = appendUint32(b, c.ValidatorID)
	b = appendUint64(b, c.Height)
	b = appendUint32(b, c.Round)
	b = appendBytes(b, c.ProposeHash)
	return appendBytes(b, c.BlockHash)
}

// Sign fills in the signature using the given signer.
func (c *Precommit) Sign(ctx context.Context, s ocrypto.Signer) error {
	sig, err := s.Sign(ctx, c.SignBytes())
	if err != nil {
		return fmt.Errorf("signing precommit: %w", err)
	}
	c.Signature = sig
	return nil
}

// Verify checks the signature against the claimed validator's key.
func (c Precommit) Verify(vs ValidatorSet) error {
	val, ok := vs.ByID(c.ValidatorID)
	if !ok {
		return UnknownValidatorError{ID: c.ValidatorID}
	}
	if !val.PubKey.Verify(c.SignBytes(), c.Signature) {
		return SignatureError{Msg: "precommit", ValidatorID: c.ValidatorID}
	}
	return nil
}

func (c Precommit) encodeBody() []byte {
	var b []byte
	b = appendUint32(b, c.ValidatorID)
	b = appendUint64(b, c.Height)
	b = appendUint32(b, c.Round)
	b = appendBytes(b, c.ProposeHash)
	b = appendBytes(b, c.BlockHash)
	return appendBytes(b, c.Signature)
}

func decodePrecommit(r *wireReader) (Precommit, error) {
	var c Precommit
	var err error
	if c.ValidatorID, err = r.uint32(); err != nil {
		return c, err
	}
	if c.Height, err = r.uint64(); err != nil {
		return c, err
	}
	if c.Round, err = r.uint32(); err != nil {
		return c, err
	}
	if c.ProposeHash, err = r.bytes(); err != nil {
		return c, err
	}
	if c.BlockHash, err = r.bytes(); err != nil {
		return c, err
	}
	if c.Signature, err = r.bytes(); err != nil {
		return c, err
	}
	return c, nil
}
