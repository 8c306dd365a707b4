package engine

import "sync"

type dedupEntry struct {
	result any
	seq    uint64
}

// dedupWindow remembers in-flight command IDs and the outcomes of the most
// recent completed ones. Only successful outcomes are remembered, so a
// command that failed to persist can be retried under the same ID.
type dedupWindow struct {
	mu        sync.Mutex
	size      int
	inflight  map[string]struct{}
	completed map[string]dedupEntry
	order     []string // completed IDs, oldest first
}

func newDedupWindow(size int) *dedupWindow {
	return &dedupWindow{
		size:      size,
		inflight:  make(map[string]struct{}),
		completed: make(map[string]dedupEntry),
	}
}

func (d *dedupWindow) enabled(id string) bool {
	return d.size > 0 && id != ""
}

// begin marks id in flight. It returns the cached entry for a completed id,
// or inflight=true if id is already in flight.
func (d *dedupWindow) begin(id string) (cached *dedupEntry, inflight bool) {
	if !d.enabled(id) {
		return nil, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.inflight[id]; ok {
		return nil, true
	}
	if e, ok := d.completed[id]; ok {
		return &e, false
	}
	d.inflight[id] = struct{}{}
	return nil, false
}

// finish clears id from the in-flight set and, when remember is true,
// caches its outcome.
func (d *dedupWindow) finish(id string, result any, seq uint64, remember bool) {
	if !d.enabled(id) {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.inflight, id)
	if remember {
		d.rememberLocked(id, dedupEntry{result: result, seq: seq})
	}
}

// seed records a completed id without an in-flight phase. Used by replay.
func (d *dedupWindow) seed(id string, result any, seq uint64) {
	if !d.enabled(id) {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rememberLocked(id, dedupEntry{result: result, seq: seq})
}

func (d *dedupWindow) rememberLocked(id string, e dedupEntry) {
	if _, ok := d.completed[id]; !ok {
		d.order = append(d.order, id)
	}
	d.completed[id] = e
	for len(d.order) > d.size {
		oldest := d.order[0]
		d.order[0] = ""
		d.order = d.order[1:]
		delete(d.completed, oldest)
	}
}
