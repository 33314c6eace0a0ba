package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingRoundsCapacityToPowerOfTwo(t *testing.T) {
	assert.Equal(t, 8192, New(8192).Capacity())
	assert.Equal(t, 8, New(5).Capacity())
	assert.Equal(t, 1, New(0).Capacity())
}

func TestRingWriteRead(t *testing.T) {
	r := New(8)
	r.Write([]float32{1, 2, 3})

	dst := make([]float32, 8)
	n := r.Read(dst)
	require.Equal(t, 3, n)
	assert.Equal(t, []float32{1, 2, 3}, dst[:3])
	assert.Equal(t, 0, r.Len())
}

func TestRingOverwritesOldestWhenFull(t *testing.T) {
	r := New(4)
	r.Write([]float32{1, 2, 3, 4})
	r.Write([]float32{5, 6})

	dst := make([]float32, 4)
	n := r.Read(dst)
	require.Equal(t, 4, n)
	assert.Equal(t, []float32{3, 4, 5, 6}, dst[:4])
}

func TestRingWriteLargerThanCapacity(t *testing.T) {
	r := New(4)
	r.Write([]float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})

	dst := make([]float32, 4)
	n := r.Read(dst)
	require.Equal(t, 4, n)
	assert.Equal(t, []float32{7, 8, 9, 10}, dst[:4])
}

func TestRingPartialRead(t *testing.T) {
	r := New(8)
	r.Write([]float32{1, 2, 3, 4})

	dst := make([]float32, 2)
	assert.Equal(t, 2, r.Read(dst))
	assert.Equal(t, []float32{1, 2}, dst)
	assert.Equal(t, 2, r.Len())

	assert.Equal(t, 2, r.Read(dst))
	assert.Equal(t, []float32{3, 4}, dst)
}

func TestRingDrain(t *testing.T) {
	r := New(8)
	r.Write([]float32{1, 2, 3})
	r.Drain()

	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0, r.Read(make([]float32, 4)))
}
