package oindex_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/obelisk-engine/obelisk/odb"
	"github.com/obelisk-engine/obelisk/odb/odbmem"
	"github.com/obelisk-engine/obelisk/oindex"
)

func newFork(t *testing.T) *odb.Fork {
	t.Helper()

	db := odbmem.New()
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	return odb.NewFork(db.Snapshot())
}

func TestProofList_pushGetLen(t *testing.T) {
	t.Parallel()

	f := newFork(t)
	l, err := oindex.NewProofList(f, oindex.Address{Name: "items"})
	require.NoError(t, err)

	require.Zero(t, l.Len())
	_, ok := l.Get(0)
	require.False(t, ok)

	for i := 0; i < 7; i++ {
		l.Push([]byte(fmt.Sprintf("value-%d", i)))
	}

	require.Equal(t, uint64(7), l.Len())
	for i := uint64(0); i < 7; i++ {
		v, ok := l.Get(i)
		require.True(t, ok)
		require.Equal(t, fmt.Sprintf("value-%d", i), string(v))
	}

	_, ok = l.Get(7)
	require.False(t, ok)
}

func TestProofList_emptyRoot(t *testing.T) {
	t.Parallel()

	f := newFork(t)
	l, err := oindex.NewProofList(f, oindex.Address{Name: "items"})
	require.NoError(t, err)

	require.Equal(t, oindex.EmptyListHash(), l.RootHash())

	// Absence of index 0 in an empty list is provable.
	entries, err := l.CreateProof(0).Check(l.RootHash())
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestProofList_rootDeterminism(t *testing.T) {
	t.Parallel()

	buildRoot := func(n int) []byte {
		f := newFork(t)
		l, err := oindex.NewProofList(f, oindex.Address{Name: "items"})
		require.NoError(t, err)
		for i := 0; i < n; i++ {
			l.Push([]byte(fmt.Sprintf("value-%d", i)))
		}
		return l.RootHash()
	}

	require.Equal(t, buildRoot(5), buildRoot(5))

	// The root binds the length: a prefix list must not collide.
	require.NotEqual(t, buildRoot(5), buildRoot(6))
}

func TestProofList_singleElementProofs(t *testing.T) {
	t.Parallel()

	for _, n := range []uint64{1, 2, 3, 4, 5, 8, 13} {
		n := n
		t.Run(fmt.Sprintf("len_%d", n), func(t *testing.T) {
			t.Parallel()

			f := newFork(t)
			l, err := oindex.NewProofList(f, oindex.Address{Name: "items"})
			require.NoError(t, err)
			for i := uint64(0); i < n; i++ {
				l.Push([]byte(fmt.Sprintf("value-%d", i)))
			}
			root := l.RootHash()

			for i := uint64(0); i < n; i++ {
				entries, err := l.CreateProof(i).Check(root)
				require.NoError(t, err)
				require.Len(t, entries, 1)
				require.Equal(t, i, entries[0].Index)
				require.Equal(t, fmt.Sprintf("value-%d", i), string(entries[0].Value))
			}

			// One past the end: the proof carries no entries but still
			// verifies, proving the length and therefore the absence.
			entries, err := l.CreateProof(n).Check(root)
			require.NoError(t, err)
			require.Empty(t, entries)
		})
	}
}

func TestProofList_rangeProofs(t *testing.T) {
	t.Parallel()

	const n = 10

	f := newFork(t)
	l, err := oindex.NewProofList(f, oindex.Address{Name: "items"})
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		l.Push([]byte(fmt.Sprintf("value-%d", i)))
	}
	root := l.RootHash()

	for _, tc := range []struct {
		start, end uint64
		wantCount  int
	}{
		{0, n, n},
		{0, 1, 1},
		{9, 10, 1},
		{3, 7, 4},
		{5, 5, 0},   // empty range
		{10, 12, 0}, // fully out of bounds
		{8, 25, 2},  // clamped to the list length
	} {
		entries, err := l.CreateRangeProof(tc.start, tc.end).Check(root)
		require.NoErrorf(t, err, "range [%d, %d)", tc.start, tc.end)
		require.Lenf(t, entries, tc.wantCount, "range [%d, %d)", tc.start, tc.end)
		for i, e := range entries {
			require.Equal(t, tc.start+uint64(i), e.Index)
			require.Equal(t, fmt.Sprintf("value-%d", e.Index), string(e.Value))
		}
	}
}

func TestProofList_proofRejectsTampering(t *testing.T) {
	t.Parallel()

	f := newFork(t)
	l, err := oindex.NewProofList(f, oindex.Address{Name: "items"})
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		l.Push([]byte(fmt.Sprintf("value-%d", i)))
	}
	root := l.RootHash()

	t.Run("modified value", func(t *testing.T) {
		p := l.CreateProof(2)
		p.Entries[0].Value = []byte("forged")
		_, err := p.Check(root)
		require.ErrorAs(t, err, new(oindex.ProofInvalidError))
	})

	t.Run("modified index", func(t *testing.T) {
		p := l.CreateProof(2)
		p.Entries[0].Index = 3
		_, err := p.Check(root)
		require.ErrorAs(t, err, new(oindex.ProofInvalidError))
	})

	t.Run("modified length", func(t *testing.T) {
		p := l.CreateProof(2)
		p.Length = 7
		_, err := p.Check(root)
		require.ErrorAs(t, err, new(oindex.ProofInvalidError))
	})

	t.Run("wrong root", func(t *testing.T) {
		_, err := l.CreateProof(2).Check(oindex.EmptyListHash())
		require.ErrorAs(t, err, new(oindex.ProofInvalidError))
	})

	t.Run("dropped sibling hash", func(t *testing.T) {
		p := l.CreateProof(2)
		require.NotEmpty(t, p.Hashes)
		p.Hashes = p.Hashes[1:]
		_, err := p.Check(root)
		require.ErrorAs(t, err, new(oindex.ProofInvalidError))
	})
}

func TestProofList_survivesMerge(t *testing.T) {
	t.Parallel()

	db := odbmem.New()
	defer db.Close()

	f := odb.NewFork(db.Snapshot())
	l, err := oindex.NewProofList(f, oindex.Address{Name: "items"})
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		l.Push([]byte(fmt.Sprintf("value-%d", i)))
	}
	root := l.RootHash()

	require.NoError(t, db.Merge(f.IntoPatch()))

	reopened, err := oindex.NewReadonlyProofList(db.Snapshot(), oindex.Address{Name: "items"})
	require.NoError(t, err)
	require.Equal(t, uint64(4), reopened.Len())
	require.Equal(t, root, reopened.RootHash())

	entries, err := reopened.CreateProof(3).Check(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "value-3", string(entries[0].Value))
}
