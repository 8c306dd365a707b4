// Package badger provides a BadgerDB storage backend.
//
// Key schema:
//
//	entry:{pos:016d} -> entry bytes
//	meta:next        -> big-endian uint64 position of the next entry
//
// Zero-padded positions keep lexicographic key order equal to log order.
// Each AppendBatch is one read-write transaction.
package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/roach88/memstate/internal/storage"
)

// Backend is the name this provider registers under.
const Backend = "badger"

// InMemoryLocation opens a throwaway in-memory database.
const InMemoryLocation = ":memory:"

const entryPrefix = "entry:"

var metaNextKey = []byte("meta:next")

func init() {
	storage.Register(Backend, NewProvider(nil))
}

// NewProvider returns a provider that opens DefaultConfig databases at a
// directory path, or in memory for InMemoryLocation. logger may be nil.
func NewProvider(logger *slog.Logger) storage.Provider {
	return storage.ProviderFunc(func(ctx context.Context, location string) (storage.Log, error) {
		cfg := DefaultConfig()
		cfg.Logger = logger
		if location == InMemoryLocation {
			cfg.InMemory = true
			cfg.SyncWrites = false
		} else {
			cfg.Path = location
		}
		return Open(ctx, cfg)
	})
}

// Config configures a badger-backed log.
type Config struct {
	// Path is the database directory. Required unless InMemory.
	Path string

	// InMemory keeps everything in RAM. Nothing survives Close.
	InMemory bool

	// SyncWrites fsyncs every transaction commit.
	SyncWrites bool

	// Logger receives badger's internal logging. Nil silences it.
	Logger *slog.Logger
}

// DefaultConfig returns durable settings.
func DefaultConfig() Config {
	return Config{SyncWrites: true}
}

// badgerLogger adapts slog to badger's logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Log is a badger-backed log.
type Log struct {
	db *badger.DB

	mu     sync.Mutex
	count  uint64
	closed bool
}

var _ storage.Log = (*Log)(nil)

// Open opens or creates the database described by cfg.
func Open(ctx context.Context, cfg Config) (*Log, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	count, err := verify(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Log{db: db, count: count}, nil
}

// AppendBatch implements storage.Log.
func (l *Log) AppendBatch(ctx context.Context, expected uint64, entries [][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return storage.ErrClosed
	}

	err := l.db.Update(func(txn *badger.Txn) error {
		next, err := readNext(txn)
		if err != nil {
			return err
		}
		if next != expected {
			return fmt.Errorf("%w: expected %d, log has %d", storage.ErrConflict, expected, next)
		}
		for i, e := range entries {
			if err := txn.Set(entryKey(expected+uint64(i)), e); err != nil {
				return fmt.Errorf("set entry %d: %w", expected+uint64(i), err)
			}
		}
		return txn.Set(metaNextKey, binary.BigEndian.AppendUint64(nil, expected+uint64(len(entries))))
	})
	if err != nil {
		return err
	}

	l.count = expected + uint64(len(entries))
	return nil
}

// ReadAll implements storage.Log. Iteration runs inside one read
// transaction, so it sees a consistent snapshot.
func (l *Log) ReadAll(ctx context.Context) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		l.mu.Lock()
		closed := l.closed
		l.mu.Unlock()
		if closed {
			yield(nil, storage.ErrClosed)
			return
		}

		stopped := false
		err := l.db.View(func(txn *badger.Txn) error {
			it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(entryPrefix)})
			defer it.Close()

			var want uint64
			for it.Rewind(); it.Valid(); it.Next() {
				if err := ctx.Err(); err != nil {
					return err
				}
				item := it.Item()
				if string(item.Key()) != string(entryKey(want)) {
					return fmt.Errorf("%w: expected key %s, found %s", storage.ErrCorrupt, entryKey(want), item.Key())
				}
				val, err := item.ValueCopy(nil)
				if err != nil {
					return fmt.Errorf("read entry %d: %w", want, err)
				}
				if !yield(val, nil) {
					stopped = true
					return nil
				}
				want++
			}
			return nil
		})
		if err != nil && !stopped {
			yield(nil, err)
		}
	}
}

// Len implements storage.Log.
func (l *Log) Len() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Close implements storage.Log.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.db.Close()
}

func entryKey(pos uint64) []byte {
	return []byte(fmt.Sprintf("%s%016d", entryPrefix, pos))
}

func readNext(txn *badger.Txn) (uint64, error) {
	item, err := txn.Get(metaNextKey)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read log end: %w", err)
	}
	var next uint64
	err = item.Value(func(v []byte) error {
		if len(v) != 8 {
			return fmt.Errorf("%w: meta:next has %d bytes", storage.ErrCorrupt, len(v))
		}
		next = binary.BigEndian.Uint64(v)
		return nil
	})
	return next, err
}

// verify checks that the entry keys are contiguous from zero and agree with
// meta:next.
func verify(ctx context.Context, db *badger.DB) (uint64, error) {
	var count uint64
	err := db.View(func(txn *badger.Txn) error {
		next, err := readNext(txn)
		if err != nil {
			return err
		}

		opts := badger.IteratorOptions{Prefix: []byte(entryPrefix)}
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if string(it.Item().Key()) != string(entryKey(count)) {
				return fmt.Errorf("%w: gap before key %s", storage.ErrCorrupt, it.Item().Key())
			}
			count++
		}
		if count != next {
			return fmt.Errorf("%w: %d entries but meta:next is %d", storage.ErrCorrupt, count, next)
		}
		return nil
	})
	return count, err
}
