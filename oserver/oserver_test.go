package oserver_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/obelisk-engine/obelisk/bft/bftapp"
	"github.com/obelisk-engine/obelisk/bft/bftconsensustest"
	"github.com/obelisk-engine/obelisk/bft/bftengine"
	"github.com/obelisk-engine/obelisk/internal/otest"
	"github.com/obelisk-engine/obelisk/odb/odbmem"
	"github.com/obelisk-engine/obelisk/oserver"
)

type nopTransport struct{}

func (nopTransport) Broadcast(ctx context.Context, raw []byte) error      { return nil }
func (nopTransport) BroadcastTx(ctx context.Context, raw []byte) error    { return nil }
func (nopTransport) RequestTxs(ctx context.Context, hashes [][]byte) error { return nil }

func TestServer_submitAndExplore(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := otest.NewLogger(t)
	vs, signers := bftconsensustest.DeterministicValidators(1)

	e, err := bftengine.New(ctx, log, bftengine.Config{
		Validators:      vs,
		Signer:          signers[0],
		DB:              odbmem.New(),
		App:             bftapp.KVApp{},
		Transport:       nopTransport{},
		ProposeTimeout:  time.Minute,
		TimeoutStrategy: bftengine.LinearTimeoutStrategy{Base: time.Minute},
	})
	require.NoError(t, err)
	defer func() {
		cancel()
		e.Wait()
	}()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := oserver.New(ctx, log, oserver.Config{
		Listener:   ln,
		Engine:     e,
		Validators: vs,
	})
	defer func() {
		cancel()
		srv.Wait()
	}()

	base := "http://" + ln.Addr().String()
	tx := bftapp.SetTx([]byte("name"), []byte("obelisk"))

	resp, err := http.Post(base+"/v1/transactions", "application/octet-stream", bytes.NewReader(tx))
	require.NoError(t, err)
	var submitted struct {
		Hash string `json:"hash"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&submitted))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, submitted.Hash)

	// The solo validator commits the transaction at height 1.
	deadline := time.Now().Add(time.Duration(otest.ScaleMs(5000)))
	for e.Height() < 1 {
		require.True(t, time.Now().Before(deadline), "node never committed")
		time.Sleep(5 * time.Millisecond)
	}

	resp, err = http.Get(base + "/v1/status")
	require.NoError(t, err)
	var status struct {
		Height        uint64 `json:"height"`
		LastBlockHash string `json:"lastBlockHash"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	require.GreaterOrEqual(t, status.Height, uint64(1))
	require.NotEmpty(t, status.LastBlockHash)

	resp, err = http.Get(base + "/v1/blocks/1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var block struct {
		Height uint64 `json:"height"`
		Hash   string `json:"hash"`
		Commit struct {
			Signers []uint32 `json:"signers"`
		} `json:"commit"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&block))
	resp.Body.Close()
	require.Equal(t, uint64(1), block.Height)
	require.Equal(t, []uint32{0}, block.Commit.Signers)

	resp, err = http.Get(base + "/v1/transactions/" + submitted.Hash)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var gotTx struct {
		Raw string `json:"raw"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&gotTx))
	resp.Body.Close()
	require.Equal(t, hex.EncodeToString(tx), gotTx.Raw)

	// Unknown resources come back as structured errors.
	resp, err = http.Get(base + fmt.Sprintf("/v1/blocks/%d", status.Height+10))
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	var apiErr struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&apiErr))
	resp.Body.Close()
	require.NotEmpty(t, apiErr.Error)
}
