package bftconsensus

import "fmt"

// Message is a consensus message deliverable over the wire:
// [Propose], [Prevote], or [Precommit].
type Message interface {
	// MessageHeight is the height the message addresses,
	// used by the engine's height gating before any other handling.
	MessageHeight() uint64

	// MessageRound is the round the message addresses. The engine
	// buffers messages for rounds it has not reached yet.
	MessageRound() uint32

	encodeBody() []byte
	kind() byte
}

// Wire kind tags.
const (
	kindPropose   byte = 1
	kindPrevote   byte = 2
	kindPrecommit byte = 3
)

func (p Propose) MessageHeight() uint64   { return p.Height }
func (v Prevote) MessageHeight() uint64   { return v.Height }
func (c Precommit) MessageHeight() uint64 { return c.Height }

func (p Propose) MessageRound() uint32   { return p.Round }
func (v Prevote) MessageRound() uint32   { return v.Round }
func (c Precommit) MessageRound() uint32 { return c.Round }

func (Propose) kind() byte   { return kindPropose }
func (Prevote) kind() byte   { return kindPrevote }
func (Precommit) kind() byte { return kindPrecommit }

// EncodeMessage returns the wire form of a consensus message:
// one kind byte followed by the message body.
func EncodeMessage(m Message) []byte {
	return append([]byte{m.kind()}, m.encodeBody()...)
}

// DecodeMessage parses a message encoded with [EncodeMessage].
// Decoding performs no signature verification.
func DecodeMessage(raw []byte) (Message, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty wire message")
	}

	r := &wireReader{buf: raw[1:]}

	var m Message
	var err error
	switch raw[0] {
	case kindPropose:
		m, err = decodePropose(r)
	case kindPrevote:
		m, err = decodePrevote(r)
	case kindPrecommit:
		m, err = decodePrecommit(r)
	default:
		return nil, fmt.Errorf("unknown message kind 0x%02x", raw[0])
	}
	if err != nil {
		return nil, err
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return m, nil
}
