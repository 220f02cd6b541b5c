package otest

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// TimeFactor is a multiplier that can be controlled by the
// OBELISK_TEST_TIME_FACTOR environment variable
// to increase test-related timeouts.
//
// While a flat 100ms timer usually suffices on a workstation,
// that duration may not suffice on a contended CI machine.
// Rather than requiring tests to be changed to use a longer timeout,
// the operator can set e.g. OBELISK_TEST_TIME_FACTOR=3
// to triple how long the timeouts are.
//
// The variable is exported in case programmatic control
// outside of environment variables is needed.
var TimeFactor ScaledDuration = 1

func init() {
	f := os.Getenv("OBELISK_TEST_TIME_FACTOR")
	if f == "" {
		return
	}

	n, err := strconv.Atoi(f)
	if err != nil {
		panic(fmt.Errorf(
			"failed to parse OBELISK_TEST_TIME_FACTOR (%q) into an integer: %w",
			f, err,
		))
	}

	if n <= 0 {
		panic(fmt.Errorf("OBELISK_TEST_TIME_FACTOR must be positive; got %d", n))
	}

	TimeFactor = ScaledDuration(n)
}

// ScaledDuration is a duration multiplied by [TimeFactor].
// Use [ScaleMs] to produce one.
type ScaledDuration time.Duration

// ScaleMs returns a ScaledDuration of the given number of milliseconds,
// multiplied by [TimeFactor].
func ScaleMs(ms int64) ScaledDuration {
	return ScaledDuration(ms) * ScaledDuration(time.Millisecond) * TimeFactor
}

// Sleep sleeps for the given scaled duration.
// Prefer channel-based synchronization over sleeping wherever possible.
func Sleep(d ScaledDuration) {
	time.Sleep(time.Duration(d))
}
