// Package bftengine drives block agreement: it owns the single-threaded
// consensus kernel that consumes network messages, timeouts, and API
// requests from one ordered channel, mutates the bftstate bookkeeping,
// and runs the commit pipeline when a round reaches precommit quorum.
package bftengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/obelisk-engine/obelisk/bft/bftapp"
	"github.com/obelisk-engine/obelisk/bft/bftconsensus"
	"github.com/obelisk-engine/obelisk/bft/bftstore"
	"github.com/obelisk-engine/obelisk/internal/ochan"
	"github.com/obelisk-engine/obelisk/ocrypto"
	"github.com/obelisk-engine/obelisk/odb"
	"github.com/obelisk-engine/obelisk/oexchange"
	"github.com/obelisk-engine/obelisk/owatchdog"
)

// Transport is the engine's outbound view of the p2p layer.
// Inbound traffic reaches the engine through [*Engine.HandleMessage]
// and [*Engine.HandleTx], called from the transport's own goroutines.
type Transport interface {
	// Broadcast gossips an encoded consensus message to all peers.
	Broadcast(ctx context.Context, raw []byte) error

	// BroadcastTx gossips a raw transaction to all peers.
	BroadcastTx(ctx context.Context, raw []byte) error

	// RequestTxs asks peers to re-gossip the transactions with the
	// given hashes. Responses arrive as ordinary tx gossip.
	RequestTxs(ctx context.Context, hashes [][]byte) error
}

// Config assembles an engine's collaborators.
type Config struct {
	// Validators is the fixed validator set. Required.
	Validators bftconsensus.ValidatorSet

	// Signer is this node's validator key. Nil makes the node a
	// non-voting observer that still follows consensus and commits.
	Signer ocrypto.Signer

	// DB is the base store holding all authenticated state. Required.
	DB odb.Database

	// App executes transactions and contributes state roots. Required.
	App bftapp.App

	// Transport delivers outbound messages. Required.
	Transport Transport

	// Watchdog, when set, polls the kernel loop for liveness.
	Watchdog *owatchdog.Watchdog

	// TimeoutStrategy controls round deadlines.
	// Nil selects [DefaultTimeoutStrategy].
	TimeoutStrategy TimeoutStrategy

	// ProposeTimeout is how long a leader with no pending transactions
	// waits before proposing an empty block. Without it an idle network
	// would commit empty blocks as fast as rounds complete.
	// Zero means 500ms.
	ProposeTimeout time.Duration

	// MaxTxsPerBlock bounds how many pending transactions a propose
	// from this node references. Zero means 1024.
	MaxTxsPerBlock int

	// MaxTxRequestRetries bounds how many times a commit blocked on
	// unknown transactions re-requests them before logging an error
	// and stalling. Zero means 5.
	MaxTxRequestRetries int
}

func (c Config) validate() error {
	var err error
	if c.Validators.Len() == 0 {
		err = errors.Join(err, errors.New("Config.Validators must not be empty"))
	}
	if c.DB == nil {
		err = errors.Join(err, errors.New("Config.DB must not be nil"))
	}
	if c.App == nil {
		err = errors.Join(err, errors.New("Config.App must not be nil"))
	}
	if c.Transport == nil {
		err = errors.Join(err, errors.New("Config.Transport must not be nil"))
	}
	return err
}

// Engine is one validator node's consensus driver.
type Engine struct {
	log *slog.Logger
	cfg Config

	db    odb.Database
	store *bftstore.BlockStore
	pool  *bftstore.TxPool

	// valID is this node's validator ID; voting is false for observers.
	valID  uint32
	voting bool

	events chan event

	// height mirrors the kernel's current height for height gating of
	// inbound feedback without crossing into kernel-owned state.
	height atomic.Uint64

	done chan struct{}
}

// New starts an engine. The kernel goroutine runs until ctx is
// canceled; use [*Engine.Wait] to block for a clean exit.
func New(ctx context.Context, log *slog.Logger, cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if cfg.TimeoutStrategy == nil {
		cfg.TimeoutStrategy = DefaultTimeoutStrategy()
	}
	if cfg.MaxTxsPerBlock == 0 {
		cfg.MaxTxsPerBlock = 1024
	}
	if cfg.ProposeTimeout == 0 {
		cfg.ProposeTimeout = 500 * time.Millisecond
	}
	if cfg.MaxTxRequestRetries == 0 {
		cfg.MaxTxRequestRetries = 5
	}

	e := &Engine{
		log:    log,
		cfg:    cfg,
		db:     cfg.DB,
		store:  bftstore.NewBlockStore(cfg.DB),
		pool:   bftstore.NewTxPool(cfg.DB),
		events: make(chan event, 32),
		done:   make(chan struct{}),
	}

	if cfg.Signer != nil {
		id, ok := cfg.Validators.IDOf(cfg.Signer.PubKey())
		if !ok {
			return nil, fmt.Errorf("engine signer's key is not in the validator set")
		}
		e.valID = id
		e.voting = true
	}

	var wdSignals <-chan owatchdog.Signal
	if cfg.Watchdog != nil {
		wdSignals = cfg.Watchdog.Register(ctx, watchdogConfig())
	}

	go e.kernel(ctx, wdSignals)
	return e, nil
}

// Wait blocks until the kernel goroutine has exited.
func (e *Engine) Wait() {
	<-e.done
}

// Height returns the last committed height as seen by the kernel.
// Safe for concurrent use.
func (e *Engine) Height() uint64 {
	return e.height.Load()
}

// Store returns the engine's read view of committed chain data.
// Snapshots are immutable, so reads are safe alongside the kernel.
func (e *Engine) Store() *bftstore.BlockStore {
	return e.store
}

// Tx returns the raw transaction with the given hash, pending or
// committed. Safe for concurrent use; transports call this to serve
// peers' transaction requests.
func (e *Engine) Tx(hash []byte) ([]byte, bool) {
	return e.pool.Get(hash)
}

// HandleMessage verifies a raw consensus message and admits it to the
// kernel's event queue. It is called concurrently from transport
// goroutines; the expensive signature check runs here, on the caller,
// so verification parallelizes while state mutation stays single-
// threaded.
func (e *Engine) HandleMessage(ctx context.Context, raw []byte) oexchange.Feedback {
	msg, err := bftconsensus.DecodeMessage(raw)
	if err != nil {
		e.log.Debug("Dropping malformed consensus message", "err", err)
		return oexchange.FeedbackRejected
	}

	var verr error
	switch m := msg.(type) {
	case bftconsensus.Propose:
		verr = m.Verify(e.cfg.Validators)
	case bftconsensus.Prevote:
		verr = m.Verify(e.cfg.Validators)
	case bftconsensus.Precommit:
		verr = m.Verify(e.cfg.Validators)
	}
	if verr != nil {
		e.log.Debug("Dropping consensus message with bad signature", "err", verr)
		return oexchange.FeedbackRejected
	}

	// Gate on the height mirror: messages for committed heights are
	// stale echoes and not worth a kernel event. The kernel re-checks
	// against its authoritative height on receipt.
	current := e.height.Load() + 1
	switch {
	case msg.MessageHeight() < current:
		return oexchange.FeedbackStale
	case msg.MessageHeight() > current:
		if !ochan.SendC(ctx, e.log, e.events, event(msgEvent{Msg: msg}), "queueing future consensus message") {
			return oexchange.FeedbackStale
		}
		return oexchange.FeedbackQueued
	default:
		if !ochan.SendC(ctx, e.log, e.events, event(msgEvent{Msg: msg}), "delivering consensus message") {
			return oexchange.FeedbackStale
		}
		return oexchange.FeedbackAccepted
	}
}

// HandleTx admits a gossiped raw transaction to the kernel's queue.
func (e *Engine) HandleTx(ctx context.Context, raw []byte) oexchange.Feedback {
	if len(raw) == 0 {
		return oexchange.FeedbackRejected
	}
	if !ochan.SendC(ctx, e.log, e.events, event(txEvent{Raw: append([]byte(nil), raw...)}), "delivering transaction") {
		return oexchange.FeedbackStale
	}
	return oexchange.FeedbackAccepted
}

// SubmitTx admits a transaction on behalf of a local API caller and
// returns its hash once the kernel has pooled and gossiped it.
func (e *Engine) SubmitTx(ctx context.Context, raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("transaction must not be empty")
	}

	req := submitTxEvent{
		Raw:  append([]byte(nil), raw...),
		Resp: make(chan []byte, 1),
	}
	hash, ok := ochan.ReqResp(ctx, e.log, e.events, event(req), req.Resp, "transaction submission")
	if !ok {
		return nil, fmt.Errorf("engine shutting down: %w", context.Cause(ctx))
	}
	return hash, nil
}
