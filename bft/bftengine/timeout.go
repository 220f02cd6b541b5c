package bftengine

import "time"

// TimeoutStrategy determines how long the engine waits in a round
// before giving up and advancing to the next one.
type TimeoutStrategy interface {
	// RoundTimeout returns the deadline duration for the given round.
	// Rounds are 1-based.
	RoundTimeout(round uint32) time.Duration
}

// LinearTimeoutStrategy grows the round deadline linearly:
// Base + Step*(round-1). Linear growth keeps late rounds from
// ballooning the way doubling does, while still giving a slow network
// progressively more time to deliver a quorum.
type LinearTimeoutStrategy struct {
	Base time.Duration
	Step time.Duration
}

// DefaultTimeoutStrategy returns the linear strategy used when the
// engine config leaves the strategy nil.
func DefaultTimeoutStrategy() TimeoutStrategy {
	return LinearTimeoutStrategy{
		Base: 3 * time.Second,
		Step: 500 * time.Millisecond,
	}
}

func (s LinearTimeoutStrategy) RoundTimeout(round uint32) time.Duration {
	if round == 0 {
		round = 1
	}
	return s.Base + time.Duration(round-1)*s.Step
}
