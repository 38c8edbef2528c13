package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBufferKeepsNewestInOrder(t *testing.T) {
	rb := NewRingBuffer[int](200)
	for i := 1; i <= 200; i++ {
		require.False(t, rb.Push(i))
	}
	require.True(t, rb.Push(201))

	got := rb.Snapshot()
	require.Len(t, got, 200)
	assert.Equal(t, 2, got[0])
	assert.Equal(t, 201, got[199])
	for i := 1; i < len(got); i++ {
		assert.Equal(t, got[i-1]+1, got[i])
	}
}

func TestRingBufferPartial(t *testing.T) {
	rb := NewRingBuffer[string](3)
	assert.Empty(t, rb.Snapshot())
	rb.Push("a")
	rb.Push("b")
	assert.Equal(t, []string{"a", "b"}, rb.Snapshot())
	assert.Equal(t, 2, rb.Len())
	assert.Equal(t, 3, rb.Cap())
}

func TestRingBufferZeroCapacity(t *testing.T) {
	rb := NewRingBuffer[int](0)
	rb.Push(1)
	rb.Push(2)
	assert.Equal(t, []int{2}, rb.Snapshot())
}
