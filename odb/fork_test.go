package odb_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/obelisk-engine/obelisk/odb"
	"github.com/obelisk-engine/obelisk/odb/odbmem"
)

func seeded(t *testing.T, pairs map[string]string) odb.Database {
	t.Helper()

	db := odbmem.New()
	fork := odb.NewFork(db.Snapshot())
	for k, v := range pairs {
		fork.Put([]byte(k), []byte(v))
	}
	require.NoError(t, db.Merge(fork.IntoPatch()))
	return db
}

func TestFork_readsThroughToBase(t *testing.T) {
	t.Parallel()

	db := seeded(t, map[string]string{"a": "base"})

	fork := odb.NewFork(db.Snapshot())
	v, ok := fork.Get([]byte("a"))
	require.True(t, ok)
	require.Equal(t, []byte("base"), v)

	fork.Put([]byte("a"), []byte("overlay"))
	v, ok = fork.Get([]byte("a"))
	require.True(t, ok)
	require.Equal(t, []byte("overlay"), v)

	// The base database is untouched until a merge.
	v, ok = db.Snapshot().Get([]byte("a"))
	require.True(t, ok)
	require.Equal(t, []byte("base"), v)
}

func TestFork_deleteShadowsBase(t *testing.T) {
	t.Parallel()

	db := seeded(t, map[string]string{"a": "base"})

	fork := odb.NewFork(db.Snapshot())
	fork.Delete([]byte("a"))

	_, ok := fork.Get([]byte("a"))
	require.False(t, ok)

	var seen int
	fork.Ascend(nil, nil, func(_, _ []byte) bool {
		seen++
		return true
	})
	require.Zero(t, seen)
}

func TestFork_checkpointAndRollback(t *testing.T) {
	t.Parallel()

	db := seeded(t, map[string]string{"keep": "1"})

	fork := odb.NewFork(db.Snapshot())
	fork.Put([]byte("confirmed"), []byte("yes"))
	fork.Checkpoint()

	fork.Put([]byte("doomed"), []byte("no"))
	fork.Delete([]byte("keep"))
	fork.Rollback()

	// The checkpointed write survives; the rolled-back ones do not.
	_, ok := fork.Get([]byte("confirmed"))
	require.True(t, ok)
	_, ok = fork.Get([]byte("doomed"))
	require.False(t, ok)
	_, ok = fork.Get([]byte("keep"))
	require.True(t, ok)
}

func TestFork_ascendMergesOverlayAndBase(t *testing.T) {
	t.Parallel()

	db := seeded(t, map[string]string{"b": "base", "d": "base"})

	fork := odb.NewFork(db.Snapshot())
	fork.Put([]byte("a"), []byte("fork"))
	fork.Put([]byte("c"), []byte("fork"))
	fork.Put([]byte("d"), []byte("fork")) // shadows base
	fork.Put([]byte("e"), []byte("fork"))

	var keys []string
	fork.Ascend(nil, nil, func(k, v []byte) bool {
		keys = append(keys, string(k)+"="+string(v))
		return true
	})
	require.Equal(t, []string{"a=fork", "b=base", "c=fork", "d=fork", "e=fork"}, keys)
}

func TestFork_deleteRange(t *testing.T) {
	t.Parallel()

	db := seeded(t, map[string]string{"p1": "x", "p2": "x", "q1": "x"})

	fork := odb.NewFork(db.Snapshot())
	fork.Put([]byte("p3"), []byte("x"))
	fork.DeleteRange([]byte("p"), []byte("q"))

	var keys []string
	fork.Ascend(nil, nil, func(k, _ []byte) bool {
		keys = append(keys, string(k))
		return true
	})
	require.Equal(t, []string{"q1"}, keys)
}

func TestPatch_singleUse(t *testing.T) {
	t.Parallel()

	fork := odb.NewFork(odbmem.New().Snapshot())
	fork.Put([]byte("k"), []byte("v"))
	p := fork.IntoPatch()
	require.Equal(t, 1, p.Len())

	_, err := p.Take()
	require.NoError(t, err)
	_, err = p.Take()
	require.ErrorIs(t, err, odb.ErrPatchConsumed)
}
