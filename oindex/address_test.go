package oindex_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/obelisk-engine/obelisk/odb"
	"github.com/obelisk-engine/obelisk/odb/odbmem"
	"github.com/obelisk-engine/obelisk/oindex"
)

func TestAddress_typePinning(t *testing.T) {
	t.Parallel()

	f := newFork(t)
	addr := oindex.Address{Name: "ledger"}

	_, err := oindex.NewProofList(f, addr)
	require.NoError(t, err)

	// Reopening with the same type is fine.
	_, err = oindex.NewProofList(f, addr)
	require.NoError(t, err)

	// Reopening as a different type is not.
	_, err = oindex.NewProofMap(f, addr)
	var typeErr oindex.WrongIndexTypeError
	require.ErrorAs(t, err, &typeErr)
	require.Equal(t, oindex.TypeProofList, typeErr.Got)
	require.Equal(t, oindex.TypeProofMap, typeErr.Want)
}

func TestAddress_pinSurvivesMerge(t *testing.T) {
	t.Parallel()

	db := odbmem.New()
	defer db.Close()

	f := odb.NewFork(db.Snapshot())
	addr := oindex.Address{Name: "ledger"}
	_, err := oindex.NewProofMap(f, addr)
	require.NoError(t, err)
	require.NoError(t, db.Merge(f.IntoPatch()))

	f2 := odb.NewFork(db.Snapshot())
	_, err = oindex.NewProofList(f2, addr)
	require.ErrorAs(t, err, new(oindex.WrongIndexTypeError))
}

func TestAddress_readonlyUnsetIsEmpty(t *testing.T) {
	t.Parallel()

	db := odbmem.New()
	defer db.Close()

	// A read-only open of a never-created index acts as an empty index
	// and does not claim the address.
	l, err := oindex.NewReadonlyProofList(db.Snapshot(), oindex.Address{Name: "ledger"})
	require.NoError(t, err)
	require.Zero(t, l.Len())
	require.Equal(t, oindex.EmptyListHash(), l.RootHash())

	f := odb.NewFork(db.Snapshot())
	_, err = oindex.NewProofMap(f, oindex.Address{Name: "ledger"})
	require.NoError(t, err)
}

func TestAddress_groupsAreDistinct(t *testing.T) {
	t.Parallel()

	f := newFork(t)

	a, err := oindex.NewProofList(f, oindex.Address{Name: "wallet", Group: []byte{1}})
	require.NoError(t, err)
	b, err := oindex.NewProofList(f, oindex.Address{Name: "wallet", Group: []byte{2}})
	require.NoError(t, err)

	a.Push([]byte("only-in-a"))
	require.Equal(t, uint64(1), a.Len())
	require.Zero(t, b.Len())
	require.NotEqual(t, a.RootHash(), b.RootHash())
}

func TestAddress_invalidNames(t *testing.T) {
	t.Parallel()

	f := newFork(t)

	_, err := oindex.NewProofList(f, oindex.Address{Name: ""})
	require.Error(t, err)

	_, err = oindex.NewProofList(f, oindex.Address{Name: "bad\x00name"})
	require.Error(t, err)
}

func TestAddress_indexesDoNotCollide(t *testing.T) {
	t.Parallel()

	f := newFork(t)

	// Names chosen so that naive concatenation with the group
	// would collide; the NUL separator keeps them apart.
	a, err := oindex.NewProofList(f, oindex.Address{Name: "ab", Group: []byte("c")})
	require.NoError(t, err)
	b, err := oindex.NewProofList(f, oindex.Address{Name: "a", Group: []byte("bc")})
	require.NoError(t, err)

	a.Push([]byte("x"))
	require.Zero(t, b.Len())
}
