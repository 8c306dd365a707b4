package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckpoint_StartsAtZero(t *testing.T) {
	assert.Equal(t, uint64(0), NewCheckpoint().Current())
	assert.Equal(t, uint64(100), NewCheckpointAt(100).Current())
}

func TestCheckpoint_AdvanceIsMonotonic(t *testing.T) {
	c := NewCheckpoint()

	assert.True(t, c.Advance(1))
	assert.True(t, c.Advance(5))
	assert.False(t, c.Advance(3), "lower seq must be ignored")
	assert.False(t, c.Advance(5))
	assert.Equal(t, uint64(5), c.Current())

	c.Reset(2)
	assert.Equal(t, uint64(2), c.Current())
}

func TestCheckpoint_ConcurrentReaders(t *testing.T) {
	c := NewCheckpoint()
	const n = 1000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint64(1); i <= n; i++ {
			c.Advance(i)
		}
	}()
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last uint64
			for i := 0; i < n; i++ {
				cur := c.Current()
				assert.GreaterOrEqual(t, cur, last)
				last = cur
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(n), c.Current())
}
