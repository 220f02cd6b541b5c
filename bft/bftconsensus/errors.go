package bftconsensus

import "fmt"

// UnknownValidatorError indicates a message claiming a validator ID
// outside the validator set.
type UnknownValidatorError struct {
	ID uint32
}

func (e UnknownValidatorError) Error() string {
	return fmt.Sprintf("validator id %d is not in the validator set", e.ID)
}

// SignatureError indicates a message whose signature does not verify
// under the claimed validator's key.
type SignatureError struct {
	Msg         string
	ValidatorID uint32
}

func (e SignatureError) Error() string {
	return fmt.Sprintf("invalid %s signature from validator %d", e.Msg, e.ValidatorID)
}
