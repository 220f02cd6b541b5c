package owatchdog

import (
	"context"
	"errors"
)

// IsTermination reports whether ctx was canceled by a watchdog,
// either through a stalled subsystem or a forced termination.
func IsTermination(ctx context.Context) bool {
	cause := context.Cause(ctx)
	if cause == nil {
		return false
	}

	var stalled StalledSubsystemError
	if errors.As(cause, &stalled) {
		return true
	}

	var forced ForcedTerminationError
	return errors.As(cause, &forced)
}

// StalledSubsystemError is the cancellation cause when a subsystem
// misses its watchdog response timeout.
type StalledSubsystemError struct {
	Name string
}

func (e StalledSubsystemError) Error() string {
	return e.Name + " failed to respond to watchdog poll within its response timeout"
}

// ForcedTerminationError is the cancellation cause for [*Watchdog.Terminate].
type ForcedTerminationError struct {
	Reason string
}

func (e ForcedTerminationError) Error() string {
	return "watchdog forced termination: " + e.Reason
}
