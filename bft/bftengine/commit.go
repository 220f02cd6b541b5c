package bftengine

import (
	"bytes"
	"fmt"

	"github.com/obelisk-engine/obelisk/bft/bftconsensus"
	"github.com/obelisk-engine/obelisk/bft/bftstore"
	"github.com/obelisk-engine/obelisk/internal/olog"
	"github.com/obelisk-engine/obelisk/odb"
)

// executedBlock is the outcome of running a propose's transactions:
// the derived block and the fork holding every write the block made.
// The same fork later receives the block record itself, so application
// state and chain metadata land in one atomic merge.
type executedBlock struct {
	Block    bftconsensus.Block
	Fork     *odb.Fork
	TxHashes [][]byte
}

// execute runs a propose's transactions in order against a fresh fork
// and derives the resulting block.
//
// Each transaction runs between a checkpoint and, on error, a rollback:
// a failing transaction becomes a no-op without poisoning the rest of
// the block. Only infrastructure failures escape as errors.
func (l *loop) execute(p bftconsensus.Propose) (executedBlock, error) {
	f := odb.NewFork(l.e.db.Snapshot())

	for _, hash := range p.TxHashes {
		raw, ok := l.e.pool.Get(hash)
		if !ok {
			// Callers check pool.Have before executing.
			return executedBlock{}, fmt.Errorf("transaction %x vanished from the pool", hash)
		}

		f.Checkpoint()
		if err := l.e.cfg.App.ExecuteTx(f, raw); err != nil {
			f.Rollback()
			olog.HR(l.e.log, p.Height, p.Round).Info(
				"Transaction failed; executed as no-op",
				"tx", olog.Hex(hash), "err", err,
			)
		}
	}

	roots, err := l.e.cfg.App.StateHashContributions(f)
	if err != nil {
		return executedBlock{}, fmt.Errorf("computing state hash: %w", err)
	}
	stateHash := bftconsensus.AggregateStateHash(roots)

	return executedBlock{
		Block: bftconsensus.Block{
			Height:        p.Height,
			PrevBlockHash: p.PrevBlockHash,
			TxSetHash:     bftconsensus.TxSetHash(p.TxHashes),
			StateHash:     stateHash,
			Time:          p.Time,
		},
		Fork:     f,
		TxHashes: p.TxHashes,
	}, nil
}

// finishCommit persists the block a precommit quorum agreed on,
// advances to the next height, and replays queued messages.
//
// The merge is the commit point. If it fails, the height must not
// advance: the kernel halts rather than diverge from durable state.
func (l *loop) finishCommit(round uint32, proposeHash, blockHash []byte) {
	ex, ok := l.ensureExecuted(round, proposeHash, blockHash)
	if !ok {
		return
	}

	log := olog.HR(l.e.log, ex.Block.Height, round)

	if !bytes.Equal(ex.Block.Hash(), blockHash) {
		// A quorum agreed on a block this node cannot reproduce.
		// Either the app is non-deterministic or the quorum is corrupt;
		// committing their hash over different state would be worse
		// than stopping.
		log.Error(
			"Quorum block hash differs from locally executed block",
			"quorum", olog.Hex(blockHash), "local", olog.Hex(ex.Block.Hash()),
		)
		l.halted = true
		return
	}

	proof, err := bftconsensus.NewCommitProof(l.s.PrecommitsFor(round, proposeHash, blockHash))
	if err != nil {
		log.Error("Failed to assemble commit proof", "err", err)
		return
	}

	if err := bftstore.AppendBlock(ex.Fork, ex.Block, proof); err != nil {
		log.Error("Failed to append block to chain index", "err", err)
		l.halted = true
		return
	}
	if err := l.e.pool.MarkCommitted(ex.Fork, ex.TxHashes); err != nil {
		log.Error("Failed to persist committed transactions", "err", err)
		l.halted = true
		return
	}

	if err := l.e.db.MergeSync(ex.Fork.IntoPatch()); err != nil {
		log.Error("Failed to merge committed block; height not advanced", "err", err)
		l.halted = true
		return
	}

	log.Info(
		"Committed block",
		"block", olog.Hex(blockHash), "txs", len(ex.TxHashes),
	)

	replay := l.s.NewHeight(ex.Block.Hash())
	l.e.height.Store(ex.Block.Height)
	l.executed = make(map[string]executedBlock)
	l.pending = nil
	l.sentPropose = make(map[uint32]bool)
	l.sentPrevote = make(map[uint32]bool)
	l.sentPrecommit = make(map[uint32]bool)
	l.proposeTimerArmed = false

	l.scheduleRoundTimeout()
	l.maybePropose()
	for _, m := range replay {
		l.handleMessage(m)
	}
}

