// Package bftlibp2p connects a consensus engine to a libp2p network,
// carrying consensus messages and transactions over gossipsub topics.
package bftlibp2p

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	p2phost "github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Host is a libp2p host with a gossipsub router attached.
type Host struct {
	h  p2phost.Host
	ps *pubsub.PubSub
}

// HostOptions holds configuration for the underlying libp2p host and
// its gossipsub router.
type HostOptions struct {
	Options       []libp2p.Option
	PubSubOptions []pubsub.Option
}

func NewHost(ctx context.Context, opts HostOptions) (*Host, error) {
	h, err := libp2p.New(opts.Options...)
	if err != nil {
		return nil, fmt.Errorf("creating libp2p host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h, opts.PubSubOptions...)
	if err != nil {
		return nil, fmt.Errorf("creating gossipsub router: %w", err)
	}

	return &Host{h: h, ps: ps}, nil
}

// Libp2pHost returns the underlying libp2p host value.
func (h *Host) Libp2pHost() p2phost.Host {
	return h.h
}

// PubSub returns the underlying gossipsub value.
func (h *Host) PubSub() *pubsub.PubSub {
	return h.ps
}

// Connect dials the given peer. Nodes find each other by explicit
// dialing; there is no discovery layer.
func (h *Host) Connect(ctx context.Context, ai peer.AddrInfo) error {
	return h.h.Connect(ctx, ai)
}

// Close closes the underlying libp2p host.
func (h *Host) Close() error {
	return h.h.Close()
}
