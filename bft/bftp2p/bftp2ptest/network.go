// Package bftp2ptest provides an in-process transport for wiring
// multiple consensus engines together in tests, with the same
// delivery semantics the real transport provides: per-sender ordered
// delivery on a dedicated receive goroutine per node.
package bftp2ptest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/obelisk-engine/obelisk/bft/bftp2p"
)

// Network is a full mesh of in-process nodes. Every broadcast reaches
// every other node, so gossipsub's propagation feedback has no effect
// here; the handler still sees the same call surface as on a real
// network.
type Network struct {
	ctx context.Context
	log *slog.Logger

	mu    sync.Mutex
	conns []*Conn
}

func NewNetwork(ctx context.Context, log *slog.Logger) *Network {
	return &Network{ctx: ctx, log: log}
}

type delivery struct {
	consensus bool
	raw       []byte
}

// Conn is one node's attachment to the network. It satisfies the
// engine's Transport interface.
//
// The engine needs its transport at construction and the transport
// needs the engine as its handler, so attachment happens in two steps:
// Join first, then [Conn.SetHandler] once the engine exists.
// Deliveries buffer in the inbox until the handler is set.
type Conn struct {
	n    *Network
	name string

	handler bftp2p.Handler
	source  bftp2p.TxSource
	ready   chan struct{}

	inbox chan delivery
}

// Join attaches a node to the network.
func (n *Network) Join(name string) *Conn {
	c := &Conn{
		n:     n,
		name:  name,
		ready: make(chan struct{}),
		inbox: make(chan delivery, 1024),
	}
	go c.run(n.ctx)

	n.mu.Lock()
	defer n.mu.Unlock()
	n.conns = append(n.conns, c)
	return c
}

// SetHandler binds the node's inbound surface and starts delivery.
// The source may be nil for nodes that never serve transaction
// requests. Must be called exactly once.
func (c *Conn) SetHandler(h bftp2p.Handler, src bftp2p.TxSource) {
	c.handler = h
	c.source = src
	close(c.ready)
}

func (c *Conn) run(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-c.ready:
	}

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-c.inbox:
			if d.consensus {
				c.handler.HandleMessage(ctx, d.raw)
			} else {
				c.handler.HandleTx(ctx, d.raw)
			}
		}
	}
}

func (c *Conn) Broadcast(ctx context.Context, raw []byte) error {
	c.n.deliver(c, delivery{consensus: true, raw: raw})
	return nil
}

func (c *Conn) BroadcastTx(ctx context.Context, raw []byte) error {
	c.n.deliver(c, delivery{consensus: false, raw: raw})
	return nil
}

// RequestTxs resolves each hash against the other nodes' sources and
// feeds the first hit back to the requester as ordinary tx gossip.
func (c *Conn) RequestTxs(ctx context.Context, hashes [][]byte) error {
	c.n.mu.Lock()
	peers := append([]*Conn(nil), c.n.conns...)
	c.n.mu.Unlock()

	var missing int
	for _, hash := range hashes {
		found := false
		for _, peer := range peers {
			if peer == c || !peer.bound() || peer.source == nil {
				continue
			}
			if raw, ok := peer.source.Tx(hash); ok {
				c.enqueue(delivery{consensus: false, raw: raw})
				found = true
				break
			}
		}
		if !found {
			missing++
		}
	}
	if missing > 0 {
		return fmt.Errorf("%d of %d requested transactions unknown to all peers", missing, len(hashes))
	}
	return nil
}

func (n *Network) deliver(from *Conn, d delivery) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, c := range n.conns {
		if c == from {
			continue
		}
		c.enqueue(d)
	}
}

// bound reports whether SetHandler has run, with the happens-before
// edge needed to read the handler fields.
func (c *Conn) bound() bool {
	select {
	case <-c.ready:
		return true
	default:
		return false
	}
}

func (c *Conn) enqueue(d delivery) {
	select {
	case c.inbox <- d:
	default:
		// An inbox this far behind means the receiving node is wedged;
		// dropping mimics a real network under backpressure.
		c.n.log.Warn("Dropping delivery to backlogged test node", "node", c.name)
	}
}
