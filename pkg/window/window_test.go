package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowMeanEmpty(t *testing.T) {
	w := New(30)
	assert.Equal(t, time.Duration(0), w.Mean())
	assert.Equal(t, 0, w.Count())
}

func TestWindowMean(t *testing.T) {
	w := New(4)
	w.Add(10 * time.Millisecond)
	w.Add(20 * time.Millisecond)
	w.Add(30 * time.Millisecond)

	assert.Equal(t, 3, w.Count())
	assert.Equal(t, 20*time.Millisecond, w.Mean())
}

func TestWindowEvictsOldest(t *testing.T) {
	w := New(2)
	w.Add(100 * time.Millisecond)
	w.Add(10 * time.Millisecond)
	w.Add(20 * time.Millisecond) // evicts 100ms

	assert.Equal(t, 2, w.Count())
	assert.Equal(t, 15*time.Millisecond, w.Mean())
}

func TestWindowReset(t *testing.T) {
	w := New(8)
	for i := 0; i < 20; i++ {
		w.Add(time.Millisecond)
	}
	assert.Equal(t, 8, w.Count())

	w.Reset()
	assert.Equal(t, 0, w.Count())
	assert.Equal(t, time.Duration(0), w.Mean())
}
