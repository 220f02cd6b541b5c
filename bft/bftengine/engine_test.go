package bftengine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/obelisk-engine/obelisk/bft/bftapp"
	"github.com/obelisk-engine/obelisk/bft/bftconsensus"
	"github.com/obelisk-engine/obelisk/bft/bftconsensustest"
	"github.com/obelisk-engine/obelisk/bft/bftengine"
	"github.com/obelisk-engine/obelisk/bft/bftstore"
	"github.com/obelisk-engine/obelisk/internal/otest"
	"github.com/obelisk-engine/obelisk/ocrypto"
	"github.com/obelisk-engine/obelisk/odb"
	"github.com/obelisk-engine/obelisk/odb/odbmem"
	"github.com/obelisk-engine/obelisk/oexchange"
)

// recordTransport records outbound calls and otherwise goes nowhere.
type recordTransport struct {
	mu         sync.Mutex
	broadcasts [][]byte
	txs        int
	requests   int
}

func (r *recordTransport) Broadcast(ctx context.Context, raw []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcasts = append(r.broadcasts, raw)
	return nil
}

func (r *recordTransport) BroadcastTx(ctx context.Context, raw []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs++
	return nil
}

func (r *recordTransport) RequestTxs(ctx context.Context, hashes [][]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests++
	return nil
}

func (r *recordTransport) broadcastCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.broadcasts)
}

func (r *recordTransport) allBroadcasts() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.broadcasts...)
}

func waitForHeight(t *testing.T, e *bftengine.Engine, want uint64) {
	t.Helper()

	deadline := time.Now().Add(time.Duration(otest.ScaleMs(5000)))
	for time.Now().Before(deadline) {
		if e.Height() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("engine did not reach height %d within deadline; at %d", want, e.Height())
}

// emptyStateHash is the aggregate state hash of a KVApp with no state,
// which is the state hash of every empty block in these tests.
func emptyStateHash(t *testing.T) []byte {
	t.Helper()

	roots, err := bftapp.KVApp{}.StateHashContributions(odbmem.New().Snapshot())
	require.NoError(t, err)
	return bftconsensus.AggregateStateHash(roots)
}

func signedPropose(
	t *testing.T,
	signer ocrypto.Ed25519Signer,
	id uint32,
	height uint64,
	prev []byte,
	txs [][]byte,
	unix int64,
) bftconsensus.Propose {
	t.Helper()

	p := bftconsensus.Propose{
		ValidatorID:   id,
		Height:        height,
		Round:         1,
		PrevBlockHash: prev,
		TxHashes:      txs,
		Time:          unix,
	}
	require.NoError(t, p.Sign(context.Background(), signer))
	return p
}

// deliverQuorum sends a propose plus prevote and precommit quorums for
// it from the given validator IDs, in order.
func deliverQuorum(
	t *testing.T,
	ctx context.Context,
	e *bftengine.Engine,
	signers []ocrypto.Ed25519Signer,
	ids []uint32,
	p bftconsensus.Propose,
	blockHash []byte,
) {
	t.Helper()

	e.HandleMessage(ctx, bftconsensus.EncodeMessage(p))

	for _, id := range ids {
		pv := bftconsensus.Prevote{
			ValidatorID: id,
			Height:      p.Height,
			Round:       p.Round,
			ProposeHash: p.Hash(),
		}
		require.NoError(t, pv.Sign(ctx, signers[id]))
		e.HandleMessage(ctx, bftconsensus.EncodeMessage(pv))
	}
	for _, id := range ids {
		pc := bftconsensus.Precommit{
			ValidatorID: id,
			Height:      p.Height,
			Round:       p.Round,
			ProposeHash: p.Hash(),
			BlockHash:   blockHash,
		}
		require.NoError(t, pc.Sign(ctx, signers[id]))
		e.HandleMessage(ctx, bftconsensus.EncodeMessage(pc))
	}
}

func TestEngine_singleValidatorCommitsSubmittedTx(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	vs, signers := bftconsensustest.DeterministicValidators(1)
	db := odbmem.New()

	e, err := bftengine.New(ctx, otest.NewLogger(t), bftengine.Config{
		Validators: vs,
		Signer:     signers[0],
		DB:         db,
		App:        bftapp.KVApp{},
		Transport:  new(recordTransport),
		// A long propose timeout pins the first block to the submitted
		// transaction; only a non-empty pool triggers an early propose.
		ProposeTimeout:  time.Minute,
		TimeoutStrategy: bftengine.LinearTimeoutStrategy{Base: time.Minute},
	})
	require.NoError(t, err)
	defer func() {
		cancel()
		e.Wait()
	}()

	tx := bftapp.SetTx([]byte("greeting"), []byte("hello"))
	hash, err := e.SubmitTx(ctx, tx)
	require.NoError(t, err)
	require.Equal(t, bftstore.TxHash(tx), hash)

	waitForHeight(t, e, 1)

	// The committed chain must carry the transaction durably.
	got, ok := e.Store().Tx(hash)
	require.True(t, ok)
	require.Equal(t, tx, got)

	b, proof, ok := e.Store().BlockAt(1)
	require.True(t, ok)
	require.Equal(t, bftconsensus.TxSetHash([][]byte{hash}), b.TxSetHash)
	require.NoError(t, proof.Verify(vs, 1))
}

func TestEngine_commitsExternalQuorumAndRejectsDoublePropose(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	vs, signers := bftconsensustest.DeterministicValidators(4)
	db := odbmem.New()
	tr := new(recordTransport)

	// Observer node: follows the quorum without voting.
	e, err := bftengine.New(ctx, otest.NewLogger(t), bftengine.Config{
		Validators:      vs,
		DB:              db,
		App:             bftapp.KVApp{},
		Transport:       tr,
		TimeoutStrategy: bftengine.LinearTimeoutStrategy{Base: time.Minute},
	})
	require.NoError(t, err)
	defer func() {
		cancel()
		e.Wait()
	}()

	leader := vs.Leader(1, 1)
	pA := signedPropose(t, signers[leader], leader, 1, bftstore.GenesisHash(), nil, 1700000000)
	pB := signedPropose(t, signers[leader], leader, 1, bftstore.GenesisHash(), nil, 1700000099)

	blockA := bftconsensus.Block{
		Height:        1,
		PrevBlockHash: bftstore.GenesisHash(),
		TxSetHash:     bftconsensus.TxSetHash(nil),
		StateHash:     emptyStateHash(t),
		Time:          pA.Time,
	}
	blockB := blockA
	blockB.Time = pB.Time

	// The double propose must not displace the first.
	require.Equal(t, oexchange.FeedbackAccepted, e.HandleMessage(ctx, bftconsensus.EncodeMessage(pA)))
	require.Equal(t, oexchange.FeedbackAccepted, e.HandleMessage(ctx, bftconsensus.EncodeMessage(pB)))

	// A full quorum referencing the displaced propose cannot commit:
	// the node never registered it.
	deliverQuorum(t, ctx, e, signers, []uint32{0, 1, 2}, pB, blockB.Hash())
	otest.Sleep(otest.ScaleMs(100))
	require.Zero(t, e.Height())

	deliverQuorum(t, ctx, e, signers, []uint32{0, 1, 2}, pA, blockA.Hash())
	waitForHeight(t, e, 1)

	b, _, ok := e.Store().BlockAt(1)
	require.True(t, ok)
	require.Equal(t, blockA.Hash(), b.Hash())

	// Stale messages for the committed height change nothing and, on an
	// observer, provoke no broadcasts.
	before := tr.broadcastCount()
	require.Equal(t, oexchange.FeedbackStale, e.HandleMessage(ctx, bftconsensus.EncodeMessage(pA)))
	pv := bftconsensus.Prevote{ValidatorID: 0, Height: 1, Round: 1, ProposeHash: pA.Hash()}
	require.NoError(t, pv.Sign(ctx, signers[0]))
	require.Equal(t, oexchange.FeedbackStale, e.HandleMessage(ctx, bftconsensus.EncodeMessage(pv)))
	otest.Sleep(otest.ScaleMs(50))
	require.Equal(t, uint64(1), e.Height())
	require.Equal(t, before, tr.broadcastCount())
}

func TestEngine_queuesAndReplaysFutureHeightMessages(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	vs, signers := bftconsensustest.DeterministicValidators(4)
	db := odbmem.New()

	e, err := bftengine.New(ctx, otest.NewLogger(t), bftengine.Config{
		Validators:      vs,
		DB:              db,
		App:             bftapp.KVApp{},
		Transport:       new(recordTransport),
		TimeoutStrategy: bftengine.LinearTimeoutStrategy{Base: time.Minute},
	})
	require.NoError(t, err)
	defer func() {
		cancel()
		e.Wait()
	}()

	stateHash := emptyStateHash(t)

	leader1 := vs.Leader(1, 1)
	p1 := signedPropose(t, signers[leader1], leader1, 1, bftstore.GenesisHash(), nil, 1700000001)
	block1 := bftconsensus.Block{
		Height:        1,
		PrevBlockHash: bftstore.GenesisHash(),
		TxSetHash:     bftconsensus.TxSetHash(nil),
		StateHash:     stateHash,
		Time:          p1.Time,
	}

	leader2 := vs.Leader(2, 1)
	p2 := signedPropose(t, signers[leader2], leader2, 2, block1.Hash(), nil, 1700000002)
	block2 := bftconsensus.Block{
		Height:        2,
		PrevBlockHash: block1.Hash(),
		TxSetHash:     bftconsensus.TxSetHash(nil),
		StateHash:     stateHash,
		Time:          p2.Time,
	}

	// Height 2 arrives first and must be queued, not dropped.
	require.Equal(t, oexchange.FeedbackQueued, e.HandleMessage(ctx, bftconsensus.EncodeMessage(p2)))
	deliverQuorum(t, ctx, e, signers, []uint32{0, 1, 2}, p2, block2.Hash())
	otest.Sleep(otest.ScaleMs(100))
	require.Zero(t, e.Height())

	// Committing height 1 replays the queue and drives height 2 home.
	deliverQuorum(t, ctx, e, signers, []uint32{0, 1, 2}, p1, block1.Hash())
	waitForHeight(t, e, 2)

	b, proof, ok := e.Store().BlockAt(2)
	require.True(t, ok)
	require.Equal(t, block2.Hash(), b.Hash())
	require.NoError(t, proof.Verify(vs, 2))
	require.Equal(t, block2.Hash(), e.Store().LastHash())
}

func TestEngine_buffersFutureRoundUntilReached(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	vs, signers := bftconsensustest.DeterministicValidators(4)
	tr := new(recordTransport)

	// Validator 0 leads neither round 1 nor round 2 of height 1, and
	// with an empty pool it never proposes, so the only broadcast this
	// test can see is a prevote.
	e, err := bftengine.New(ctx, otest.NewLogger(t), bftengine.Config{
		Validators:      vs,
		Signer:          signers[0],
		DB:              odbmem.New(),
		App:             bftapp.KVApp{},
		Transport:       tr,
		ProposeTimeout:  time.Minute,
		TimeoutStrategy: bftengine.LinearTimeoutStrategy{Base: time.Duration(otest.ScaleMs(200))},
	})
	require.NoError(t, err)
	defer func() {
		cancel()
		e.Wait()
	}()

	leader2 := vs.Leader(1, 2)
	p := bftconsensus.Propose{
		ValidatorID:   leader2,
		Height:        1,
		Round:         2,
		PrevBlockHash: bftstore.GenesisHash(),
		Time:          1700000000,
	}
	require.NoError(t, p.Sign(ctx, signers[leader2]))
	require.Equal(t, oexchange.FeedbackAccepted, e.HandleMessage(ctx, bftconsensus.EncodeMessage(p)))

	// While the node is still in round 1 the propose sits buffered:
	// no prevote goes out for a round the node has not entered.
	otest.Sleep(otest.ScaleMs(50))
	require.Zero(t, tr.broadcastCount())

	// The round timeout brings the node into round 2; the buffered
	// propose replays and the node votes for it.
	deadline := time.Now().Add(time.Duration(otest.ScaleMs(5000)))
	for tr.broadcastCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	raws := tr.allBroadcasts()
	require.NotEmpty(t, raws)
	m, err := bftconsensus.DecodeMessage(raws[0])
	require.NoError(t, err)
	pv, ok := m.(bftconsensus.Prevote)
	require.True(t, ok)
	require.Equal(t, uint32(0), pv.ValidatorID)
	require.Equal(t, uint32(2), pv.Round)
	require.Equal(t, p.Hash(), pv.ProposeHash)
}

// failingDB refuses synced merges, simulating a storage fault at the
// commit point.
type failingDB struct {
	*odbmem.Database
}

func (failingDB) MergeSync(p *odb.Patch) error {
	return context.DeadlineExceeded
}

func TestEngine_failedMergeDoesNotAdvanceHeight(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	vs, signers := bftconsensustest.DeterministicValidators(1)
	db := failingDB{Database: odbmem.New()}

	e, err := bftengine.New(ctx, otest.NewLogger(t), bftengine.Config{
		Validators:      vs,
		Signer:          signers[0],
		DB:              db,
		App:             bftapp.KVApp{},
		Transport:       new(recordTransport),
		ProposeTimeout:  10 * time.Millisecond,
		TimeoutStrategy: bftengine.LinearTimeoutStrategy{Base: time.Minute},
	})
	require.NoError(t, err)

	// The solo validator reaches precommit quorum alone, the merge
	// fails, and the kernel halts instead of advancing.
	e.Wait()

	require.Zero(t, e.Height())
	require.Zero(t, e.Store().Height())
}
