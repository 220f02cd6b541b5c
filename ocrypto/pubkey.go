package ocrypto

// PubKey is the public key abstraction used throughout Obelisk.
// Concrete implementations must be registered with a [Registry]
// for wire-level encoding and decoding.
type PubKey interface {
	// PubKeyBytes returns the raw bytes of the public key.
	PubKeyBytes() []byte

	// Equal reports whether other represents the same key.
	Equal(other PubKey) bool

	// Verify reports whether sig is a valid signature of msg under this key.
	Verify(msg, sig []byte) bool

	// TypeName returns the registered type name for this key.
	TypeName() string
}
