package bftlibp2p

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/obelisk-engine/obelisk/bft/bftp2p"
	"github.com/obelisk-engine/obelisk/oexchange"
)

// Framing bytes on the tx topic. Consensus messages carry their own
// kind byte, so the consensus topic needs no framing.
const (
	txFramePayload = 0x00
	txFrameRequest = 0x01
)

// Connection joins the consensus and transaction topics on a host and
// bridges them to a [bftp2p.Handler].
//
// Inbound messages are processed inside gossipsub topic validators, so
// the handler's feedback decides propagation: accepted and queued
// messages propagate, stale ones are ignored, rejected ones stop and
// penalize the sender.
type Connection struct {
	log *slog.Logger

	h *Host

	// handler and source are bound after construction through
	// SetHandler; the engine needs the connection as its transport
	// before it can serve as the connection's handler.
	handler atomic.Pointer[boundHandler]

	consensusTopic *pubsub.Topic
	txTopic        *pubsub.Topic

	consensusSub *pubsub.Subscription
	txSub        *pubsub.Subscription

	wg sync.WaitGroup

	disconnectOnce sync.Once
	disconnected   chan struct{}
}

type boundHandler struct {
	handler bftp2p.Handler
	source  bftp2p.TxSource
}

// NewConnection joins the topics on a host that is already part of a
// network. Messages arriving before [Connection.SetHandler] are
// ignored without propagating.
func NewConnection(ctx context.Context, log *slog.Logger, h *Host) (*Connection, error) {
	c := &Connection{
		log:          log,
		h:            h,
		disconnected: make(chan struct{}),
	}

	if err := h.PubSub().RegisterTopicValidator(bftp2p.TopicConsensus, c.validateConsensus); err != nil {
		return nil, fmt.Errorf("registering consensus topic validator: %w", err)
	}
	if err := h.PubSub().RegisterTopicValidator(bftp2p.TopicTxs, c.validateTx); err != nil {
		return nil, fmt.Errorf("registering tx topic validator: %w", err)
	}

	var err error
	if c.consensusTopic, err = h.PubSub().Join(bftp2p.TopicConsensus); err != nil {
		return nil, fmt.Errorf("joining consensus topic: %w", err)
	}
	if c.txTopic, err = h.PubSub().Join(bftp2p.TopicTxs); err != nil {
		return nil, fmt.Errorf("joining tx topic: %w", err)
	}

	// Without a subscription gossipsub never reports the topic joined,
	// and peers cannot see this node as a topic member.
	if c.consensusSub, err = c.consensusTopic.Subscribe(); err != nil {
		return nil, fmt.Errorf("subscribing to consensus topic: %w", err)
	}
	if c.txSub, err = c.txTopic.Subscribe(); err != nil {
		return nil, fmt.Errorf("subscribing to tx topic: %w", err)
	}

	c.wg.Add(2)
	go c.drainSub(ctx, c.consensusSub)
	go c.drainSub(ctx, c.txSub)

	return c, nil
}

// Broadcast publishes an encoded consensus message.
func (c *Connection) Broadcast(ctx context.Context, raw []byte) error {
	return c.consensusTopic.Publish(ctx, raw)
}

// BroadcastTx publishes a raw transaction.
func (c *Connection) BroadcastTx(ctx context.Context, raw []byte) error {
	framed := make([]byte, 1+len(raw))
	framed[0] = txFramePayload
	copy(framed[1:], raw)
	return c.txTopic.Publish(ctx, framed)
}

// RequestTxs publishes a request for the given transaction hashes.
// Peers that know them re-gossip the raw transactions.
func (c *Connection) RequestTxs(ctx context.Context, hashes [][]byte) error {
	framed := []byte{txFrameRequest}
	for _, h := range hashes {
		framed = append(framed, byte(len(h)))
		framed = append(framed, h...)
	}
	return c.txTopic.Publish(ctx, framed)
}

// SetHandler binds the inbound surface. The source may be nil for
// nodes that never serve transaction requests. Must be called exactly
// once, before the node is expected to participate.
func (c *Connection) SetHandler(h bftp2p.Handler, src bftp2p.TxSource) {
	c.handler.Store(&boundHandler{handler: h, source: src})
}

func (c *Connection) validateConsensus(ctx context.Context, id peer.ID, msg *pubsub.Message) pubsub.ValidationResult {
	if id == c.h.Libp2pHost().ID() {
		// Local state was consistent with this message before sending.
		return pubsub.ValidationAccept
	}
	b := c.handler.Load()
	if b == nil {
		return pubsub.ValidationIgnore
	}
	return feedbackToValidation(c.log, b.handler.HandleMessage(ctx, msg.Data))
}

func (c *Connection) validateTx(ctx context.Context, id peer.ID, msg *pubsub.Message) pubsub.ValidationResult {
	self := id == c.h.Libp2pHost().ID()
	if len(msg.Data) == 0 {
		return pubsub.ValidationReject
	}

	b := c.handler.Load()
	if b == nil {
		return pubsub.ValidationIgnore
	}

	switch msg.Data[0] {
	case txFramePayload:
		if self {
			return pubsub.ValidationAccept
		}
		return feedbackToValidation(c.log, b.handler.HandleTx(ctx, msg.Data[1:]))

	case txFrameRequest:
		hashes, err := decodeTxRequest(msg.Data[1:])
		if err != nil {
			c.log.Debug("Dropping malformed tx request", "err", err)
			return pubsub.ValidationReject
		}
		if !self && b.source != nil {
			// Serving happens off the validator goroutine; validators
			// must stay fast or gossipsub throttles the peer.
			go c.serveTxRequest(ctx, b.source, hashes)
		}
		return pubsub.ValidationAccept

	default:
		return pubsub.ValidationReject
	}
}

func (c *Connection) serveTxRequest(ctx context.Context, source bftp2p.TxSource, hashes [][]byte) {
	for _, h := range hashes {
		raw, ok := source.Tx(h)
		if !ok {
			continue
		}
		if err := c.BroadcastTx(ctx, raw); err != nil {
			c.log.Debug("Failed to serve requested transaction", "err", err)
		}
	}
}

func decodeTxRequest(raw []byte) ([][]byte, error) {
	var hashes [][]byte
	for len(raw) > 0 {
		n := int(raw[0])
		raw = raw[1:]
		if n == 0 || n > len(raw) {
			return nil, errors.New("hash length prefix out of range")
		}
		hashes = append(hashes, raw[:n])
		raw = raw[n:]
	}
	if len(hashes) == 0 {
		return nil, errors.New("empty request")
	}
	return hashes, nil
}

func feedbackToValidation(log *slog.Logger, f oexchange.Feedback) pubsub.ValidationResult {
	switch f {
	case oexchange.FeedbackAccepted, oexchange.FeedbackQueued:
		return pubsub.ValidationAccept
	case oexchange.FeedbackStale:
		return pubsub.ValidationIgnore
	case oexchange.FeedbackRejected, oexchange.FeedbackRejectAndDisconnect:
		return pubsub.ValidationReject
	default:
		log.Info("Handler returned unknown feedback value", "f", f)
		return pubsub.ValidationIgnore
	}
}

// drainSub continually reads the subscription; message handling
// happens in the topic validators, so delivered messages are dropped.
func (c *Connection) drainSub(ctx context.Context, sub *pubsub.Subscription) {
	defer c.wg.Done()

	for {
		if _, err := sub.Next(ctx); err != nil {
			if err != context.Canceled && !errors.Is(err, pubsub.ErrSubscriptionCancelled) {
				c.log.Info("Stopping subscription drain", "err", err)
			}
			return
		}
	}
}

// Disconnect leaves the topics and closes the host. Safe to call more
// than once.
func (c *Connection) Disconnect() {
	c.disconnectOnce.Do(func() {
		_ = c.h.PubSub().UnregisterTopicValidator(bftp2p.TopicConsensus)
		_ = c.h.PubSub().UnregisterTopicValidator(bftp2p.TopicTxs)

		c.consensusSub.Cancel()
		c.txSub.Cancel()
		if err := c.consensusTopic.Close(); err != nil && err != context.Canceled {
			c.log.Info("Error closing consensus topic", "err", err)
		}
		if err := c.txTopic.Close(); err != nil && err != context.Canceled {
			c.log.Info("Error closing tx topic", "err", err)
		}

		if err := c.h.Close(); err != nil {
			c.log.Info("Error closing host", "err", err)
		}

		close(c.disconnected)
	})
}

// Disconnected is closed once Disconnect has completed.
func (c *Connection) Disconnected() <-chan struct{} {
	return c.disconnected
}
