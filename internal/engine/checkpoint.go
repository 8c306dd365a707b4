package engine

import "sync/atomic"

// Checkpoint tracks the sequence number of the last record applied to the
// live model (LastRecordNumber).
//
// Thread-safety: safe for concurrent use. Only the executor goroutine
// advances it; any goroutine may read it.
type Checkpoint struct {
	seq atomic.Uint64
}

// NewCheckpoint creates a checkpoint at 0 (nothing applied).
func NewCheckpoint() *Checkpoint {
	return &Checkpoint{}
}

// NewCheckpointAt creates a checkpoint at a specific sequence number.
func NewCheckpointAt(seq uint64) *Checkpoint {
	c := &Checkpoint{}
	c.seq.Store(seq)
	return c
}

// Advance moves the checkpoint to seq. Sequence numbers never go backwards;
// a lower seq is ignored and Advance returns false.
func (c *Checkpoint) Advance(seq uint64) bool {
	for {
		cur := c.seq.Load()
		if seq <= cur {
			return false
		}
		if c.seq.CompareAndSwap(cur, seq) {
			return true
		}
	}
}

// Reset sets the checkpoint unconditionally. Used when the model is rebuilt.
func (c *Checkpoint) Reset(seq uint64) {
	c.seq.Store(seq)
}

// Current returns the last applied sequence number.
func (c *Checkpoint) Current() uint64 {
	return c.seq.Load()
}
