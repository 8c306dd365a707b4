// Package memory provides an in-process storage backend.
//
// Logs live in a process-wide table keyed by location, so reopening the
// same location after Close sees the entries appended earlier. This makes
// the backend usable for restart tests without touching disk.
//
// The Log type exposes fault injection hooks for tests.
package memory

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/roach88/memstate/internal/storage"
)

// Backend is the name this provider registers under.
const Backend = "memory"

func init() {
	storage.Register(Backend, Default)
}

// Provider hands out in-memory logs. The zero value is not usable; use
// NewProvider.
type Provider struct {
	mu   sync.Mutex
	logs map[string]*data
}

// Default is the process-wide provider used by the registry.
var Default = NewProvider()

// NewProvider returns a provider with an empty location table.
func NewProvider() *Provider {
	return &Provider{logs: make(map[string]*data)}
}

// data is the backing store shared by every handle on one location.
type data struct {
	mu      sync.RWMutex
	entries [][]byte

	// fault injection
	failOn   map[int]error
	calls    int
	batchLog []int
}

// OpenOrCreate implements storage.Provider.
func (p *Provider) OpenOrCreate(_ context.Context, location string) (storage.Log, error) {
	return p.Open(location), nil
}

// Open returns a handle on location, creating it when absent. It returns the
// concrete type so tests can reach the fault injection hooks.
func (p *Provider) Open(location string) *Log {
	p.mu.Lock()
	defer p.mu.Unlock()

	d, ok := p.logs[location]
	if !ok {
		d = &data{failOn: make(map[int]error)}
		p.logs[location] = d
	}
	return &Log{d: d}
}

// Drop forgets location entirely.
func (p *Provider) Drop(location string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.logs, location)
}

// Log is a handle on an in-memory log.
type Log struct {
	d *data

	closeMu sync.RWMutex
	closed  bool
}

var _ storage.Log = (*Log)(nil)

// AppendBatch implements storage.Log.
func (l *Log) AppendBatch(ctx context.Context, expected uint64, entries [][]byte) error {
	if l.isClosed() {
		return storage.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	d := l.d
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls++
	d.batchLog = append(d.batchLog, len(entries))

	if err, ok := d.failOn[d.calls]; ok {
		return err
	}
	if expected != uint64(len(d.entries)) {
		return fmt.Errorf("%w: expected %d, log has %d", storage.ErrConflict, expected, len(d.entries))
	}

	for _, e := range entries {
		cp := make([]byte, len(e))
		copy(cp, e)
		d.entries = append(d.entries, cp)
	}
	return nil
}

// ReadAll implements storage.Log. It iterates over a snapshot taken when
// iteration starts.
func (l *Log) ReadAll(ctx context.Context) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		if l.isClosed() {
			yield(nil, storage.ErrClosed)
			return
		}

		l.d.mu.RLock()
		snapshot := l.d.entries[:len(l.d.entries):len(l.d.entries)]
		l.d.mu.RUnlock()

		for _, e := range snapshot {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

// Len implements storage.Log.
func (l *Log) Len() uint64 {
	l.d.mu.RLock()
	defer l.d.mu.RUnlock()
	return uint64(len(l.d.entries))
}

// Close implements storage.Log.
func (l *Log) Close() error {
	l.closeMu.Lock()
	defer l.closeMu.Unlock()
	l.closed = true
	return nil
}

func (l *Log) isClosed() bool {
	l.closeMu.RLock()
	defer l.closeMu.RUnlock()
	return l.closed
}

// FailAppend makes the n-th AppendBatch call (1-based, counted across all
// handles on this location) return err without writing anything.
func (l *Log) FailAppend(n int, err error) {
	l.d.mu.Lock()
	defer l.d.mu.Unlock()
	l.d.failOn[n] = err
}

// BatchSizes returns the entry count of every AppendBatch call so far,
// including failed ones.
func (l *Log) BatchSizes() []int {
	l.d.mu.RLock()
	defer l.d.mu.RUnlock()
	out := make([]int, len(l.d.batchLog))
	copy(out, l.d.batchLog)
	return out
}

// Corrupt overwrites the entry at index i. Used to simulate bit rot.
func (l *Log) Corrupt(i int, b []byte) {
	l.d.mu.Lock()
	defer l.d.mu.Unlock()
	l.d.entries[i] = b
}

// Entries returns a copy of the stored entries.
func (l *Log) Entries() [][]byte {
	l.d.mu.RLock()
	defer l.d.mu.RUnlock()
	out := make([][]byte, len(l.d.entries))
	copy(out, l.d.entries)
	return out
}
