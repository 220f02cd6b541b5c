package bftengine

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/obelisk-engine/obelisk/bft/bftconsensus"
	"github.com/obelisk-engine/obelisk/bft/bftstate"
	"github.com/obelisk-engine/obelisk/internal/ochan"
	"github.com/obelisk-engine/obelisk/internal/olog"
	"github.com/obelisk-engine/obelisk/owatchdog"
)

func watchdogConfig() owatchdog.SubsystemConfig {
	return owatchdog.SubsystemConfig{
		Name:            "bftengine-kernel",
		Interval:        10 * time.Second,
		Jitter:          time.Second,
		ResponseTimeout: 5 * time.Second,
	}
}

// loop is the kernel's mutable state. It lives on the kernel goroutine
// only; nothing here is safe to touch from outside.
type loop struct {
	e   *Engine
	ctx context.Context

	s *bftstate.State

	// executed caches blocks produced by running a propose, keyed by
	// propose hash, so the precommit path reuses the fork built at
	// lock time. Cleared on height advance.
	executed map[string]executedBlock

	// pending tracks the single quorum action blocked on a propose or
	// transactions this node does not yet have.
	pending *pendingQuorum

	// One propose, one prevote, and one precommit per round from this
	// node.
	sentPropose   map[uint32]bool
	sentPrevote   map[uint32]bool
	sentPrecommit map[uint32]bool

	// proposeTimerArmed dedups the empty-block propose timer within a
	// round.
	proposeTimerArmed bool

	halted bool
}

// pendingQuorum is a quorum whose follow-up action is blocked on
// missing data. A nil BlockHash means the prevote path (precommit
// broadcast) is blocked; otherwise the commit itself is.
type pendingQuorum struct {
	Round       uint32
	ProposeHash []byte
	BlockHash   []byte

	Missing [][]byte
	Retries int
}

func (e *Engine) kernel(ctx context.Context, wdSignals <-chan owatchdog.Signal) {
	defer close(e.done)

	committed := e.store.Height()
	e.height.Store(committed)

	l := &loop{
		e:             e,
		ctx:           ctx,
		s:             bftstate.New(e.cfg.Validators, committed+1, e.store.LastHash()),
		executed:      make(map[string]executedBlock),
		sentPropose:   make(map[uint32]bool),
		sentPrevote:   make(map[uint32]bool),
		sentPrecommit: make(map[uint32]bool),
	}

	e.log.Info(
		"Starting consensus kernel",
		"height", l.s.Height(),
		"validators", e.cfg.Validators.Len(),
		"voting", e.voting,
	)

	l.scheduleRoundTimeout()
	l.maybePropose()

	for !l.halted {
		select {
		case <-ctx.Done():
			e.log.Info("Kernel stopping", "cause", context.Cause(ctx))
			e.flushPool()
			return

		case sig := <-wdSignals:
			close(sig.Alive)

		case ev := <-e.events:
			switch v := ev.(type) {
			case msgEvent:
				l.handleMessage(v.Msg)
			case txEvent:
				e.pool.Add(v.Raw)
				l.resumePending()
				l.maybePropose()
			case submitTxEvent:
				hash := e.pool.Add(v.Raw)
				if err := e.cfg.Transport.BroadcastTx(ctx, v.Raw); err != nil {
					e.log.Warn("Failed to gossip submitted transaction", "err", err)
				}
				v.Resp <- hash
				l.maybePropose()
			case timeoutEvent:
				l.handleTimeout(v)
			case txRetryEvent:
				l.handleTxRetry(v)
			case proposeEvent:
				l.handleProposeTimer(v)
			}
		}
	}

	e.log.Error("Consensus halted after fatal storage failure; operator intervention required")
	e.flushPool()
	if e.cfg.Watchdog != nil {
		e.cfg.Watchdog.Terminate("consensus kernel halted on storage failure")
	}
}

func (e *Engine) flushPool() {
	if err := e.pool.Flush(); err != nil {
		e.log.Warn("Failed to flush transaction pool on shutdown", "err", err)
	}
}

func (l *loop) handleMessage(msg bftconsensus.Message) {
	h := msg.MessageHeight()
	switch {
	case h < l.s.Height():
		// Stale echo; expected under churn, not an error.
		l.e.log.Debug("Ignoring stale consensus message", "msgHeight", h, "height", l.s.Height())
		return
	case h > l.s.Height():
		l.s.Queue(msg)
		return
	}

	// Messages for unreached rounds of the current height buffer until
	// the round timeout brings this node there; acting on them early
	// would lock and vote for rounds the node never entered.
	if msg.MessageRound() > l.s.Round() {
		l.s.Queue(msg)
		return
	}

	switch m := msg.(type) {
	case bftconsensus.Propose:
		l.handlePropose(m)
	case bftconsensus.Prevote:
		l.handlePrevote(m)
	case bftconsensus.Precommit:
		l.handlePrecommit(m)
	}
}

func (l *loop) handlePropose(p bftconsensus.Propose) {
	log := olog.HR(l.e.log, p.Height, p.Round)

	// Proposes for rounds already left are still registered: a pending
	// quorum at that round may be waiting for exactly this propose.
	if want := l.e.cfg.Validators.Leader(p.Height, p.Round); p.ValidatorID != want {
		log.Warn("Dropping propose from non-leader", "validator", p.ValidatorID, "leader", want)
		return
	}
	if !bytes.Equal(p.PrevBlockHash, l.s.LastHash()) {
		log.Warn(
			"Dropping propose that does not chain from the last committed block",
			"prev", olog.Hex(p.PrevBlockHash), "last", olog.Hex(l.s.LastHash()),
		)
		return
	}

	hash, err := l.s.AddPropose(p)
	if err != nil {
		var dbl bftstate.DoubleProposeError
		if errors.As(err, &dbl) {
			// Byzantine leader. The original propose stands.
			log.Error("Protocol anomaly: double propose", "err", err)
		} else {
			log.Warn("Rejecting propose", "err", err)
		}
		return
	}

	// A quorum may have formed before its propose arrived.
	l.resumePending()

	if !l.e.voting || l.sentPrevote[p.Round] || p.Round < l.s.Round() {
		return
	}

	// Vote for the proposed content, unless locked: a locked node
	// keeps prevoting its locked propose hash in later rounds.
	voteHash := hash
	if _, lockHash, ok := l.s.Locked(); ok {
		voteHash = lockHash
	}

	pv := bftconsensus.Prevote{
		ValidatorID: l.e.valID,
		Height:      p.Height,
		Round:       p.Round,
		ProposeHash: voteHash,
	}
	if err := pv.Sign(l.ctx, l.e.cfg.Signer); err != nil {
		log.Warn("Failed to sign prevote", "err", err)
		return
	}
	l.sentPrevote[p.Round] = true
	l.broadcast(pv)
	l.handlePrevote(pv)
}

func (l *loop) handlePrevote(v bftconsensus.Prevote) {
	// Votes for any round of the current height count. A quorum at a
	// round this node already left is still a lock, and still leads to
	// a commit; bftstate buckets tallies per round.
	if l.s.AddPrevote(v) {
		olog.HR(l.e.log, v.Height, v.Round).Info(
			"Prevote quorum reached; locking",
			"propose", olog.Hex(v.ProposeHash),
		)
		l.s.Lock(v.Round, v.ProposeHash)
		l.finishLock(v.Round, v.ProposeHash)
	}
}

// finishLock broadcasts this node's precommit for the locked propose,
// executing the propose first to learn the resulting block hash.
func (l *loop) finishLock(round uint32, proposeHash []byte) {
	if !l.e.voting || l.sentPrecommit[round] {
		return
	}

	ex, ok := l.ensureExecuted(round, proposeHash, nil)
	if !ok {
		return
	}

	pc := bftconsensus.Precommit{
		ValidatorID: l.e.valID,
		Height:      l.s.Height(),
		Round:       round,
		ProposeHash: proposeHash,
		BlockHash:   ex.Block.Hash(),
	}
	if err := pc.Sign(l.ctx, l.e.cfg.Signer); err != nil {
		l.e.log.Warn("Failed to sign precommit", "err", err)
		return
	}
	l.sentPrecommit[round] = true
	l.broadcast(pc)
	l.handlePrecommit(pc)
}

func (l *loop) handlePrecommit(c bftconsensus.Precommit) {
	if l.s.AddPrecommit(c) {
		olog.HR(l.e.log, c.Height, c.Round).Info(
			"Precommit quorum reached; committing",
			"block", olog.Hex(c.BlockHash),
		)
		l.finishCommit(c.Round, c.ProposeHash, c.BlockHash)
	}
}

// ensureExecuted returns the executed block for a propose hash,
// running the commit pipeline's execution stage on first use.
// If the propose or its transactions are not yet known, the quorum
// action is parked in l.pending and ok is false.
func (l *loop) ensureExecuted(round uint32, proposeHash, blockHash []byte) (executedBlock, bool) {
	if ex, ok := l.executed[string(proposeHash)]; ok {
		return ex, true
	}

	p, ok := l.s.ProposeByHash(proposeHash)
	if !ok {
		// The quorum references a propose this node has not seen;
		// it arrives by gossip eventually.
		l.pending = &pendingQuorum{Round: round, ProposeHash: proposeHash, BlockHash: blockHash}
		return executedBlock{}, false
	}

	if missing := l.e.pool.Have(p.TxHashes); len(missing) > 0 {
		l.pending = &pendingQuorum{
			Round:       round,
			ProposeHash: proposeHash,
			BlockHash:   blockHash,
			Missing:     missing,
		}
		l.requestMissingTxs(missing)
		return executedBlock{}, false
	}

	ex, err := l.execute(p)
	if err != nil {
		// Infrastructure failure, not a tx error; tx errors are
		// isolated inside execute.
		l.e.log.Error("Failed to execute propose", "err", err)
		return executedBlock{}, false
	}
	l.executed[string(proposeHash)] = ex
	return ex, true
}

// resumePending retries the parked quorum action, if any.
// Called whenever a propose registers or a transaction arrives.
func (l *loop) resumePending() {
	pq := l.pending
	if pq == nil {
		return
	}

	if len(pq.Missing) > 0 && len(l.e.pool.Have(pq.Missing)) > 0 {
		return // still incomplete
	}

	l.pending = nil
	if pq.BlockHash == nil {
		l.finishLock(pq.Round, pq.ProposeHash)
	} else {
		l.finishCommit(pq.Round, pq.ProposeHash, pq.BlockHash)
	}
}

func (l *loop) requestMissingTxs(missing [][]byte) {
	l.e.log.Info("Requesting missing transactions from peers", "count", len(missing))
	if err := l.e.cfg.Transport.RequestTxs(l.ctx, missing); err != nil {
		l.e.log.Warn("Failed to request transactions", "err", err)
	}

	height := l.s.Height()
	go func() {
		timer := time.NewTimer(l.e.cfg.TimeoutStrategy.RoundTimeout(1) / 2)
		defer timer.Stop()
		select {
		case <-l.ctx.Done():
		case <-timer.C:
			ochan.SendC(l.ctx, l.e.log, l.e.events, event(txRetryEvent{Height: height}), "scheduling tx re-request")
		}
	}()
}

func (l *loop) handleTxRetry(ev txRetryEvent) {
	pq := l.pending
	if pq == nil || ev.Height != l.s.Height() || len(pq.Missing) == 0 {
		return
	}

	missing := l.e.pool.Have(pq.Missing)
	if len(missing) == 0 {
		l.resumePending()
		return
	}

	pq.Retries++
	if pq.Retries > l.e.cfg.MaxTxRequestRetries {
		// Bounded re-requesting is exhausted. The node stays blocked
		// at this height; ordinary gossip can still unblock it.
		l.e.log.Error(
			"Giving up re-requesting missing transactions",
			"missing", len(missing), "retries", pq.Retries-1,
		)
		return
	}
	pq.Missing = missing
	l.requestMissingTxs(missing)
}

func (l *loop) handleTimeout(to timeoutEvent) {
	// Stale timeouts for rounds already left are expected;
	// cancellation is best-effort.
	if to.Height != l.s.Height() || to.Round != l.s.Round() {
		return
	}

	round, replay := l.s.NextRound()
	olog.HR(l.e.log, l.s.Height(), round).Info("Round timeout; advancing round")
	l.proposeTimerArmed = false
	l.scheduleRoundTimeout()

	// A locked node reminds peers of its lock.
	if lockRound, lockHash, ok := l.s.Locked(); ok && l.e.voting {
		pv := bftconsensus.Prevote{
			ValidatorID: l.e.valID,
			Height:      l.s.Height(),
			Round:       lockRound,
			ProposeHash: lockHash,
		}
		if err := pv.Sign(l.ctx, l.e.cfg.Signer); err != nil {
			l.e.log.Warn("Failed to re-sign lock prevote", "err", err)
		} else {
			l.broadcast(pv)
		}
	}

	l.maybePropose()

	// Messages that arrived for the just-reached round dispatch now.
	for _, m := range replay {
		l.handleMessage(m)
	}
}

// maybePropose creates and gossips a propose if this node leads the
// current round and has something to propose. A leader with an empty
// pool and no lock defers to the propose timer so an idle network does
// not commit empty blocks back to back.
func (l *loop) maybePropose() {
	if !l.e.voting || l.sentPropose[l.s.Round()] {
		return
	}
	if l.e.cfg.Validators.Leader(l.s.Height(), l.s.Round()) != l.e.valID {
		return
	}

	_, _, locked := l.s.Locked()
	if !locked && l.e.pool.PendingLen() == 0 {
		l.scheduleProposeTimer()
		return
	}
	l.propose()
}

func (l *loop) handleProposeTimer(ev proposeEvent) {
	if ev.Height != l.s.Height() || ev.Round != l.s.Round() {
		return
	}
	if !l.e.voting || l.sentPropose[ev.Round] {
		return
	}
	l.propose()
}

// propose builds, signs, and gossips this node's propose for the
// current round. A locked leader re-proposes the locked content.
func (l *loop) propose() {
	height, round := l.s.Height(), l.s.Round()

	var txs [][]byte
	now := time.Now().Unix()
	if _, lockHash, ok := l.s.Locked(); ok {
		if locked, ok := l.s.ProposeByHash(lockHash); ok {
			txs = locked.TxHashes
			now = locked.Time
		}
	} else {
		txs = l.e.pool.PendingHashes(l.e.cfg.MaxTxsPerBlock)
	}

	p := bftconsensus.Propose{
		ValidatorID:   l.e.valID,
		Height:        height,
		Round:         round,
		PrevBlockHash: l.s.LastHash(),
		TxHashes:      txs,
		Time:          now,
	}
	if err := p.Sign(l.ctx, l.e.cfg.Signer); err != nil {
		l.e.log.Warn("Failed to sign propose", "err", err)
		return
	}

	olog.HR(l.e.log, height, round).Info("Proposing", "txs", len(txs))
	l.sentPropose[round] = true
	l.broadcast(p)
	l.handlePropose(p)
}

func (l *loop) scheduleProposeTimer() {
	if l.proposeTimerArmed {
		return
	}
	l.proposeTimerArmed = true

	height, round := l.s.Height(), l.s.Round()
	go func() {
		timer := time.NewTimer(l.e.cfg.ProposeTimeout)
		defer timer.Stop()
		select {
		case <-l.ctx.Done():
		case <-timer.C:
			ochan.SendC(
				l.ctx, l.e.log, l.e.events,
				event(proposeEvent{Height: height, Round: round}),
				"firing propose timeout",
			)
		}
	}()
}

func (l *loop) scheduleRoundTimeout() {
	height, round := l.s.Height(), l.s.Round()
	d := l.e.cfg.TimeoutStrategy.RoundTimeout(round)

	go func() {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-l.ctx.Done():
		case <-timer.C:
			ochan.SendC(
				l.ctx, l.e.log, l.e.events,
				event(timeoutEvent{Height: height, Round: round}),
				"firing round timeout",
			)
		}
	}()
}

func (l *loop) broadcast(m bftconsensus.Message) {
	if err := l.e.cfg.Transport.Broadcast(l.ctx, bftconsensus.EncodeMessage(m)); err != nil {
		l.e.log.Warn("Failed to broadcast consensus message", "err", err)
	}
}
