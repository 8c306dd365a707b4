package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupWindow_InFlightThenCompleted(t *testing.T) {
	d := newDedupWindow(4)

	cached, inflight := d.begin("a")
	assert.Nil(t, cached)
	assert.False(t, inflight)

	_, inflight = d.begin("a")
	assert.True(t, inflight)

	d.finish("a", "result", 7, true)
	cached, inflight = d.begin("a")
	assert.False(t, inflight)
	if assert.NotNil(t, cached) {
		assert.Equal(t, "result", cached.result)
		assert.Equal(t, uint64(7), cached.seq)
	}
}

func TestDedupWindow_FailureIsForgotten(t *testing.T) {
	d := newDedupWindow(4)
	d.begin("a")
	d.finish("a", nil, 0, false)

	cached, inflight := d.begin("a")
	assert.Nil(t, cached, "a failed command may be retried")
	assert.False(t, inflight)
}

func TestDedupWindow_EvictsOldest(t *testing.T) {
	d := newDedupWindow(2)
	d.seed("a", 1, 1)
	d.seed("b", 2, 2)
	d.seed("c", 3, 3)

	cached, _ := d.begin("a")
	assert.Nil(t, cached)
	for _, id := range []string{"b", "c"} {
		cached, _ := d.begin(id)
		assert.NotNil(t, cached, id)
	}
	assert.Len(t, d.completed, 2)
	assert.Len(t, d.order, 2)
}

func TestDedupWindow_Disabled(t *testing.T) {
	d := newDedupWindow(0)
	d.begin("a")
	_, inflight := d.begin("a")
	assert.False(t, inflight)

	d.seed("b", 1, 1)
	cached, _ := d.begin("b")
	assert.Nil(t, cached)
}

func TestDedupWindow_EmptyIDNeverTracked(t *testing.T) {
	d := newDedupWindow(4)
	d.begin("")
	_, inflight := d.begin("")
	assert.False(t, inflight)
}
