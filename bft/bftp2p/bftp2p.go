// Package bftp2p defines the contract between the consensus engine and
// its peer-to-peer transport.
//
// A transport delivers two inbound flows to a [Handler]: encoded
// consensus messages and raw transactions. The handler's feedback tells
// the transport whether to propagate the payload further; transports
// that support per-message validation (gossipsub does) map the feedback
// onto their propagation decision. Outbound flows go through the
// engine-side Transport interface in the bftengine package.
//
// The concrete transports are
// [github.com/obelisk-engine/obelisk/bft/bftp2p/bftlibp2p] for real
// networks and
// [github.com/obelisk-engine/obelisk/bft/bftp2p/bftp2ptest] for
// in-process tests.
package bftp2p

import (
	"context"

	"github.com/obelisk-engine/obelisk/oexchange"
)

// Topic names shared by all transports, so nodes built against
// different transports still meet on the wire.
const (
	TopicConsensus = "obelisk/v1/consensus"
	TopicTxs       = "obelisk/v1/txs"
)

// Handler is the inbound surface a transport delivers to.
// Implementations must be safe for concurrent calls; transports call
// from their own receive goroutines.
type Handler interface {
	// HandleMessage delivers one encoded consensus message.
	HandleMessage(ctx context.Context, raw []byte) oexchange.Feedback

	// HandleTx delivers one raw transaction.
	HandleTx(ctx context.Context, raw []byte) oexchange.Feedback
}

// TxSource lets a transport serve peers' requests for transactions it
// has seen. Implementations must be safe for concurrent calls.
type TxSource interface {
	// Tx returns the raw transaction with the given hash, if known.
	Tx(hash []byte) ([]byte, bool)
}
