package otest

import (
	"time"
)

// TestingFatalHelper is a subset of [testing.TB] to satisfy the requirements of
// [ReceiveOrTimeout],
// and to allow the helper to itself be easily tested.
type TestingFatalHelper interface {
	Helper()

	Fatalf(format string, args ...any)
}

// ReceiveSoon attempts to receive a value from ch.
// If the receive is blocked for a reasonable default timeout, tb.Fatal is called.
func ReceiveSoon[T any](tb TestingFatalHelper, ch <-chan T) T {
	tb.Helper()
	return ReceiveOrTimeout(tb, ch, ScaleMs(100))
}

// ReceiveOrTimeout attempts to receive a value from ch.
// If the value cannot be received within the given timeout, tb.Fatal is called.
// Use [ScaleMs] to produce the ScaledDuration value;
// this offers flexibility for slower machines without modifying tests.
//
// Most tests should use [ReceiveSoon]; ReceiveOrTimeout should be reserved for exceptional cases.
func ReceiveOrTimeout[T any](tb TestingFatalHelper, ch <-chan T, timeout ScaledDuration) T {
	tb.Helper()

	if ch == nil {
		tb.Fatalf("immediate failure to avoid blocking receive from nil channel %T %v", ch, ch)
		panic("unreachable")
	}

	timer := time.NewTimer(time.Duration(timeout))
	defer timer.Stop()

	select {
	case <-timer.C:
		tb.Fatalf(
			"timed out while blocked receiving from channel %T %v; if this is flaky on only one machine, set the environment variable OBELISK_TEST_TIME_FACTOR to a value greater than the current value of %d",
			ch, ch, TimeFactor,
		)
		// tb.Fatalf would typically stop the testing goroutine,
		// but since we are mocking tb in tests,
		// we panic here, also to avoid a return value.
		panic("unreachable")
	case x := <-ch:
		return x
	}
}
