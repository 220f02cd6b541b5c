package ocrypto

import "fmt"

// WrongPubKeySizeError indicates raw key bytes of an unexpected length.
type WrongPubKeySizeError struct {
	Want, Got int
}

func (e WrongPubKeySizeError) Error() string {
	return fmt.Sprintf("wrong public key size: want %d bytes, got %d", e.Want, e.Got)
}
