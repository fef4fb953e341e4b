package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushEvictsOldestWhenFull(t *testing.T) {
	b := New[int](3)
	for i := 1; i <= 3; i++ {
		_, evicted := b.Push(i)
		require.False(t, evicted)
	}

	old, evicted := b.Push(4)
	require.True(t, evicted)
	assert.Equal(t, 1, old)
	assert.Equal(t, []int{2, 3, 4}, b.Snapshot())
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, 3, b.Cap())
}

func TestEvictWhile(t *testing.T) {
	b := New[int](5)
	for i := 1; i <= 5; i++ {
		b.Push(i)
	}

	removed := b.EvictWhile(func(v int) bool { return v < 3 })
	assert.Equal(t, 2, removed)
	assert.Equal(t, []int{3, 4, 5}, b.Snapshot())

	b.Push(6)
	b.Push(7)
	assert.Equal(t, []int{3, 4, 5, 6, 7}, b.Snapshot())
	last, ok := b.Last()
	require.True(t, ok)
	assert.Equal(t, 7, last)
	assert.Equal(t, 3, b.At(0))
}

func TestReverseStopsEarly(t *testing.T) {
	b := New[string](4)
	for _, v := range []string{"a", "b", "c", "d", "e"} {
		b.Push(v)
	}

	var seen []string
	b.Reverse(func(_ int, v string) bool {
		seen = append(seen, v)
		return len(seen) < 2
	})
	assert.Equal(t, []string{"e", "d"}, seen)
}

func TestPopFrontAndReset(t *testing.T) {
	b := New[int](0)
	assert.Equal(t, 1, b.Cap())

	_, ok := b.PopFront()
	assert.False(t, ok)

	b.Push(9)
	v, ok := b.PopFront()
	require.True(t, ok)
	assert.Equal(t, 9, v)

	b.Push(1)
	b.Reset()
	assert.Equal(t, 0, b.Len())
	_, ok = b.Last()
	assert.False(t, ok)
}

func TestInsertKeepsOrder(t *testing.T) {
	less := func(a, b int) bool { return a < b }
	b := New[int](4)
	assert.Equal(t, 0, b.Insert(5, less))
	assert.Equal(t, 1, b.Insert(9, less))
	assert.Equal(t, 1, b.Insert(7, less))
	assert.Equal(t, 0, b.Insert(1, less))
	assert.Equal(t, []int{1, 5, 7, 9}, b.Snapshot())

	// Full: the oldest is evicted to make room for a middle value.
	assert.Equal(t, 1, b.Insert(6, less))
	assert.Equal(t, []int{5, 6, 7, 9}, b.Snapshot())

	// Full and older than everything: not stored.
	assert.Equal(t, -1, b.Insert(2, less))
	assert.Equal(t, []int{5, 6, 7, 9}, b.Snapshot())
}
