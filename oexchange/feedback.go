// Package oexchange defines the vocabulary shared between the consensus
// engine and the peer-to-peer layer for reporting the outcome of
// handling a received message.
package oexchange

// Feedback tells the p2p layer what the engine concluded about
// a message it delivered.
//
// Implementations may use the feedback to adjust peer scoring:
// rejected messages count against the sender, while ignored
// messages do not.
type Feedback uint8

const (
	// FeedbackUnspecified is the zero value.
	// Returning FeedbackUnspecified from a handler is a bug.
	FeedbackUnspecified Feedback = iota

	// FeedbackAccepted means the message was valid and acted upon;
	// it should continue to propagate.
	FeedbackAccepted

	// FeedbackQueued means the message was valid on its face but
	// addressed a future height, so it was stored for later replay.
	// It should still propagate.
	FeedbackQueued

	// FeedbackStale means the message addressed an already committed
	// height. It was discarded without effect and should not propagate,
	// but the sender may simply be catching up, so it is not penalized.
	FeedbackStale

	// FeedbackRejected means the message was invalid
	// (bad signature, unknown validator, malformed payload).
	// It should not propagate and the sender should be penalized.
	FeedbackRejected

	// FeedbackRejectAndDisconnect means the message demonstrated
	// byzantine behavior, such as a second proposal for the same
	// round from the same leader. No further messages should be
	// accepted from the sender.
	FeedbackRejectAndDisconnect
)

func (f Feedback) String() string {
	switch f {
	case FeedbackUnspecified:
		return "unspecified"
	case FeedbackAccepted:
		return "accepted"
	case FeedbackQueued:
		return "queued"
	case FeedbackStale:
		return "stale"
	case FeedbackRejected:
		return "rejected"
	case FeedbackRejectAndDisconnect:
		return "reject_and_disconnect"
	default:
		return "unknown"
	}
}

// Propagate reports whether a message with this feedback
// should continue to gossip to other peers.
func (f Feedback) Propagate() bool {
	return f == FeedbackAccepted || f == FeedbackQueued
}
