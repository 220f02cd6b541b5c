package bftp2ptest_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/obelisk-engine/obelisk/bft/bftapp"
	"github.com/obelisk-engine/obelisk/bft/bftconsensustest"
	"github.com/obelisk-engine/obelisk/bft/bftengine"
	"github.com/obelisk-engine/obelisk/bft/bftp2p/bftp2ptest"
	"github.com/obelisk-engine/obelisk/internal/otest"
	"github.com/obelisk-engine/obelisk/odb/odbmem"
)

func TestNetwork_fourValidatorsCommitOneBlock(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := otest.NewLogger(t)
	vs, signers := bftconsensustest.DeterministicValidators(4)
	n := bftp2ptest.NewNetwork(ctx, log)

	engines := make([]*bftengine.Engine, 4)
	for i := range engines {
		conn := n.Join(fmt.Sprintf("node-%d", i))
		e, err := bftengine.New(ctx, log.With("node", i), bftengine.Config{
			Validators: vs,
			Signer:     signers[i],
			DB:         odbmem.New(),
			App:        bftapp.KVApp{},
			Transport:  conn,
			// Leaders only propose once they hold a transaction, so the
			// first block deterministically carries the submitted one.
			ProposeTimeout:  time.Minute,
			TimeoutStrategy: bftengine.LinearTimeoutStrategy{Base: time.Minute},
		})
		require.NoError(t, err)
		conn.SetHandler(e, e)
		engines[i] = e
	}
	defer func() {
		cancel()
		for _, e := range engines {
			e.Wait()
		}
	}()

	tx := bftapp.SetTx([]byte("ledger"), []byte("open"))
	hash, err := engines[0].SubmitTx(ctx, tx)
	require.NoError(t, err)

	deadline := time.Now().Add(time.Duration(otest.ScaleMs(10000)))
	for _, e := range engines {
		for e.Height() < 1 {
			if !time.Now().Before(deadline) {
				t.Fatalf("an engine never reached height 1")
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	// Every node must hold the identical block and the transaction.
	canonical, proof, ok := engines[0].Store().BlockAt(1)
	require.True(t, ok)
	require.NoError(t, proof.Verify(vs, 1))

	for i, e := range engines {
		b, _, ok := e.Store().BlockAt(1)
		require.True(t, ok, "node %d has no block at height 1", i)
		require.Equal(t, canonical.Hash(), b.Hash(), "node %d committed a different block", i)

		got, ok := e.Store().Tx(hash)
		require.True(t, ok, "node %d did not persist the transaction", i)
		require.Equal(t, tx, got)
	}
}
