package bftapp_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/obelisk-engine/obelisk/bft/bftapp"
	"github.com/obelisk-engine/obelisk/odb"
	"github.com/obelisk-engine/obelisk/odb/odbmem"
	"github.com/obelisk-engine/obelisk/oindex"
)

func TestKVApp_setAndDelete(t *testing.T) {
	t.Parallel()

	db := odbmem.New()
	defer db.Close()
	f := odb.NewFork(db.Snapshot())

	var app bftapp.KVApp
	require.NoError(t, app.ExecuteTx(f, bftapp.SetTx([]byte("k1"), []byte("v1"))))
	require.NoError(t, app.ExecuteTx(f, bftapp.SetTx([]byte("k2"), []byte("v2"))))
	require.NoError(t, app.ExecuteTx(f, bftapp.DelTx([]byte("k1"))))

	m, err := oindex.NewProofMap(f, bftapp.KVAddress)
	require.NoError(t, err)
	require.False(t, m.Contains([]byte("k1")))
	v, ok := m.Get([]byte("k2"))
	require.True(t, ok)
	require.Equal(t, "v2", string(v))

	// Values may contain the separator byte; only the first two
	// separators delimit fields.
	require.NoError(t, app.ExecuteTx(f, bftapp.SetTx([]byte("k3"), []byte("a\x00b"))))
	v, ok = m.Get([]byte("k3"))
	require.True(t, ok)
	require.Equal(t, "a\x00b", string(v))
}

func TestKVApp_malformedTxErrors(t *testing.T) {
	t.Parallel()

	db := odbmem.New()
	defer db.Close()
	f := odb.NewFork(db.Snapshot())

	var app bftapp.KVApp
	for _, tx := range [][]byte{
		nil,
		[]byte("set"),
		[]byte("set\x00\x00v"), // empty key
		[]byte("del\x00"),
		[]byte("bump\x00k\x00v"),
	} {
		require.Error(t, app.ExecuteTx(f, tx))
	}
}

func TestKVApp_stateHashTracksContent(t *testing.T) {
	t.Parallel()

	db := odbmem.New()
	defer db.Close()
	f := odb.NewFork(db.Snapshot())

	var app bftapp.KVApp
	empty, err := app.StateHashContributions(f)
	require.NoError(t, err)
	require.Len(t, empty, 1)

	require.NoError(t, app.ExecuteTx(f, bftapp.SetTx([]byte("k"), []byte("v"))))
	after, err := app.StateHashContributions(f)
	require.NoError(t, err)
	require.NotEqual(t, empty, after)

	require.NoError(t, app.ExecuteTx(f, bftapp.DelTx([]byte("k"))))
	again, err := app.StateHashContributions(f)
	require.NoError(t, err)
	require.Equal(t, empty, again)
}
