// Package storage defines the durable append-only byte log the journal
// writes to.
//
// A Provider opens a Log at a location. A Log is a sequence of opaque
// entries with two operations: append-with-expected-position and
// sequential read from the beginning. Providers never interpret entry
// contents.
//
// # Contract
//
//   - AppendBatch is atomic: either every entry of the call is durable or
//     none is.
//   - AppendBatch takes the position the caller believes is the current end
//     of the log. A mismatch returns ErrConflict and writes nothing. This
//     enforces the single-writer assumption.
//   - ReadAll yields entries in append order. It may end with ErrTornTail
//     when the provider can prove that the final entry is a partial write;
//     any other error is a corruption the caller must treat as fatal.
package storage

import (
	"context"
	"errors"
	"iter"
)

var (
	// ErrConflict is returned by AppendBatch when the expected position is not
	// the current end of the log.
	ErrConflict = errors.New("append position conflict")

	// ErrClosed is returned by operations on a closed log.
	ErrClosed = errors.New("log is closed")

	// ErrTornTail marks a partially written final entry. Readers may treat it
	// as the end of the valid log.
	ErrTornTail = errors.New("torn write at end of log")

	// ErrCorrupt marks an entry that fails integrity checks and is not a torn
	// tail.
	ErrCorrupt = errors.New("log entry corrupted")

	// ErrUnknownBackend is returned by Open for an unregistered backend name.
	ErrUnknownBackend = errors.New("unknown storage backend")
)

// Provider opens logs for one storage backend.
type Provider interface {
	// OpenOrCreate opens the log at location, creating it when absent.
	OpenOrCreate(ctx context.Context, location string) (Log, error)
}

// Log is an open append-only log handle.
//
// Thread-safety: implementations must allow ReadAll to run concurrently with
// AppendBatch, but only one goroutine appends.
type Log interface {
	// AppendBatch durably appends entries at position expected (the number of
	// entries already in the log).
	AppendBatch(ctx context.Context, expected uint64, entries [][]byte) error

	// ReadAll yields every entry from the beginning, in append order.
	ReadAll(ctx context.Context) iter.Seq2[[]byte, error]

	// Len returns the number of entries in the log.
	Len() uint64

	// Close releases the handle. Further operations return ErrClosed.
	Close() error
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, location string) (Log, error)

// OpenOrCreate calls f.
func (f ProviderFunc) OpenOrCreate(ctx context.Context, location string) (Log, error) {
	return f(ctx, location)
}
