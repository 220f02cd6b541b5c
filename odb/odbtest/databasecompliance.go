// Package odbtest contains a reusable compliance test
// for implementations of [odb.Database].
package odbtest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/obelisk-engine/obelisk/odb"
)

// Factory returns a fresh, empty Database for a single test.
// Cleanup is registered with t by the factory as needed.
type Factory func(t *testing.T) odb.Database

// TestDatabaseCompliance runs the standard compliance suite
// against the database produced by f.
func TestDatabaseCompliance(t *testing.T, f Factory) {
	t.Run("empty snapshot has no keys", func(t *testing.T) {
		db := f(t)

		s := db.Snapshot()
		_, ok := s.Get([]byte("anything"))
		require.False(t, ok)

		var n int
		s.Ascend(nil, nil, func(_, _ []byte) bool {
			n++
			return true
		})
		require.Zero(t, n)
	})

	t.Run("merged patch visible in later snapshots only", func(t *testing.T) {
		db := f(t)

		before := db.Snapshot()

		fork := odb.NewFork(db.Snapshot())
		fork.Put([]byte("k1"), []byte("v1"))
		fork.Put([]byte("k2"), []byte("v2"))
		require.NoError(t, db.Merge(fork.IntoPatch()))

		// The pre-merge snapshot must not observe the patch.
		_, ok := before.Get([]byte("k1"))
		require.False(t, ok)

		after := db.Snapshot()
		v, ok := after.Get([]byte("k1"))
		require.True(t, ok)
		require.Equal(t, []byte("v1"), v)
	})

	t.Run("deletes apply", func(t *testing.T) {
		db := f(t)

		fork := odb.NewFork(db.Snapshot())
		fork.Put([]byte("a"), []byte("1"))
		fork.Put([]byte("b"), []byte("2"))
		require.NoError(t, db.Merge(fork.IntoPatch()))

		fork = odb.NewFork(db.Snapshot())
		fork.Delete([]byte("a"))
		require.NoError(t, db.Merge(fork.IntoPatch()))

		s := db.Snapshot()
		_, ok := s.Get([]byte("a"))
		require.False(t, ok)
		_, ok = s.Get([]byte("b"))
		require.True(t, ok)
	})

	t.Run("ascend respects bounds and order", func(t *testing.T) {
		db := f(t)

		fork := odb.NewFork(db.Snapshot())
		for _, k := range []string{"ab", "aa", "ba", "ac", "bb"} {
			fork.Put([]byte(k), []byte("x"))
		}
		require.NoError(t, db.Merge(fork.IntoPatch()))

		var got []string
		db.Snapshot().Ascend([]byte("aa"), []byte("ba"), func(k, _ []byte) bool {
			got = append(got, string(k))
			return true
		})
		require.Equal(t, []string{"aa", "ab", "ac"}, got)
	})

	t.Run("patch cannot merge twice", func(t *testing.T) {
		db := f(t)

		fork := odb.NewFork(db.Snapshot())
		fork.Put([]byte("k"), []byte("v"))
		p := fork.IntoPatch()

		require.NoError(t, db.Merge(p))
		require.ErrorIs(t, db.Merge(p), odb.ErrPatchConsumed)
	})

	t.Run("merge sync is durable-equivalent", func(t *testing.T) {
		db := f(t)

		fork := odb.NewFork(db.Snapshot())
		fork.Put([]byte("k"), []byte("v"))
		require.NoError(t, db.MergeSync(fork.IntoPatch()))

		v, ok := db.Snapshot().Get([]byte("k"))
		require.True(t, ok)
		require.Equal(t, []byte("v"), v)
	})
}
