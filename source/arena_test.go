package source

import (
	"testing"

	"github.com/dh1tw/gaplessAudio/audioerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArenaBindAndLookup(t *testing.T) {
	ar := NewArena()
	a, b := &Actor{}, &Actor{}
	ia := ar.insert(a)
	ib := ar.insert(b)
	assert.NotEqual(t, Index(0), ia)
	assert.NotEqual(t, ia, ib)
	assert.Equal(t, 2, ar.Len())

	require.NoError(t, ar.Bind(7, ia))
	got, ok := ar.Lookup(7)
	require.True(t, ok)
	assert.Same(t, a, got)

	id, ok := ar.IDOf(ia)
	assert.True(t, ok)
	assert.Equal(t, SourceID(7), id)
	_, ok = ar.IDOf(ib)
	assert.False(t, ok)

	err := ar.Bind(7, ib)
	assert.True(t, audioerr.Is(err, audioerr.ProgrammerInvariant))
	err = ar.Bind(8, Index(99))
	assert.True(t, audioerr.Is(err, audioerr.ProgrammerInvariant))
}

func TestArenaTransferID(t *testing.T) {
	ar := NewArena()
	parent := ar.insert(&Actor{})
	child := ar.insert(&Actor{})
	require.NoError(t, ar.Bind(3, parent))

	id, ok := ar.TransferID(parent, child)
	require.True(t, ok)
	assert.Equal(t, SourceID(3), id)

	got, ok := ar.IDOf(child)
	assert.True(t, ok)
	assert.Equal(t, SourceID(3), got)
	_, ok = ar.IDOf(parent)
	assert.False(t, ok)

	// removing the former owner keeps the binding of the new one
	ar.Remove(parent)
	a, ok := ar.Lookup(3)
	require.True(t, ok)
	c, _ := ar.Get(child)
	assert.Same(t, c, a)

	_, ok = ar.TransferID(parent, child)
	assert.False(t, ok)
}

func TestArenaRemove(t *testing.T) {
	ar := NewArena()
	idx := ar.insert(&Actor{})
	ar.insert(&Actor{})
	require.NoError(t, ar.Bind(1, idx))
	require.NoError(t, ar.Bind(-4, ar.insert(&Actor{})))
	assert.Equal(t, []SourceID{-4, 1}, ar.Bound())

	ar.Remove(idx)
	_, ok := ar.Get(idx)
	assert.False(t, ok)
	_, ok = ar.Lookup(1)
	assert.False(t, ok)
	assert.Equal(t, []SourceID{-4}, ar.Bound())
	assert.Equal(t, 2, ar.Len())
}

func TestArenaWatchRemovesDestroyed(t *testing.T) {
	ar := NewArena()
	idx := ar.insert(&Actor{})
	ch := make(chan interface{}, 1)
	ar.watch(idx, ch)

	ch <- DestroyEvent{Index: idx}
	close(ch)
	assert.Eventually(t, func() bool { return ar.Len() == 0 }, waitFor, tick)
}
