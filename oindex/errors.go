package oindex

import "fmt"

// WrongIndexTypeError indicates an attempt to open an address
// as a different index type than it was created with.
type WrongIndexTypeError struct {
	Address Address
	Want    IndexType
	Got     IndexType
}

func (e WrongIndexTypeError) Error() string {
	return fmt.Sprintf(
		"index %s already open as %s, cannot reopen as %s",
		e.Address, e.Got, e.Want,
	)
}

// ProofInvalidError indicates a proof that failed verification.
// The Reason is a stable, human-readable description of the failure.
type ProofInvalidError struct {
	Reason string
}

func (e ProofInvalidError) Error() string {
	return "proof invalid: " + e.Reason
}

func proofInvalidf(format string, args ...any) error {
	return ProofInvalidError{Reason: fmt.Sprintf(format, args...)}
}
