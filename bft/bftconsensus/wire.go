package bftconsensus

import (
	"encoding/binary"
	"fmt"
)

// Low-level wire primitives. Everything on the wire is either a
// fixed-width big-endian integer or a u32-length-prefixed byte string;
// decoding is bounds-checked and never indexes past the input.

const maxWireBytes = 1 << 20 // hard cap on any single length-prefixed field

func appendUint32(b []byte, v uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return append(b, buf[:]...)
}

func appendUint64(b []byte, v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return append(b, buf[:]...)
}

func appendBytes(b, v []byte) []byte {
	b = appendUint32(b, uint32(len(v)))
	return append(b, v...)
}

type wireReader struct {
	buf []byte
}

func (r *wireReader) uint32() (uint32, error) {
	if len(r.buf) < 4 {
		return 0, fmt.Errorf("wire truncated: need 4 bytes, have %d", len(r.buf))
	}
	v := binary.BigEndian.Uint32(r.buf)
	r.buf = r.buf[4:]
	return v, nil
}

func (r *wireReader) uint64() (uint64, error) {
	if len(r.buf) < 8 {
		return 0, fmt.Errorf("wire truncated: need 8 bytes, have %d", len(r.buf))
	}
	v := binary.BigEndian.Uint64(r.buf)
	r.buf = r.buf[8:]
	return v, nil
}

func (r *wireReader) bytes() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if n > maxWireBytes {
		return nil, fmt.Errorf("wire field length %d exceeds limit %d", n, maxWireBytes)
	}
	if uint32(len(r.buf)) < n {
		return nil, fmt.Errorf("wire truncated: need %d bytes, have %d", n, len(r.buf))
	}
	v := append([]byte(nil), r.buf[:n]...)
	r.buf = r.buf[n:]
	return v, nil
}

func (r *wireReader) done() error {
	if len(r.buf) != 0 {
		return fmt.Errorf("wire message has %d trailing bytes", len(r.buf))
	}
	return nil
}
