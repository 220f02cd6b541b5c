package bftengine

import "github.com/obelisk-engine/obelisk/bft/bftconsensus"

// event is anything the kernel loop consumes. All state mutation
// happens by handling events in arrival order on a single goroutine;
// producers (transport goroutines, timers, API callers) only ever
// send into the events channel.
type event interface {
	isEvent()
}

// msgEvent carries a decoded, signature-verified consensus message.
type msgEvent struct {
	Msg bftconsensus.Message
}

// txEvent carries a raw transaction received from gossip or a peer
// response to a transaction request.
type txEvent struct {
	Raw []byte
}

// submitTxEvent is an API-originated transaction submission.
// The hash of the admitted transaction is sent on Resp.
type submitTxEvent struct {
	Raw  []byte
	Resp chan []byte
}

// timeoutEvent fires when a round deadline elapses. The kernel
// compares it against the current height and round; a stale timeout
// is a no-op.
type timeoutEvent struct {
	Height uint64
	Round  uint32
}

// txRetryEvent fires when a pending commit has waited long enough for
// requested transactions and should re-request or give up.
type txRetryEvent struct {
	Height uint64
}

// proposeEvent fires when a leader with an empty pool has waited the
// propose timeout and should propose an empty block rather than keep
// the round idle.
type proposeEvent struct {
	Height uint64
	Round  uint32
}

func (msgEvent) isEvent()      {}
func (txEvent) isEvent()       {}
func (submitTxEvent) isEvent() {}
func (timeoutEvent) isEvent()  {}
func (txRetryEvent) isEvent()  {}
func (proposeEvent) isEvent()  {}
