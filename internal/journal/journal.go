package journal

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/memstate/internal/command"
	"github.com/roach88/memstate/internal/serializer"
	"github.com/roach88/memstate/internal/storage"
)

// Journal appends commands to a storage.Log as sequenced records.
//
// Thread-safety: Append calls are serialized internally. ReadFrom may run
// concurrently with Append and sees a prefix of the log.
type Journal struct {
	log    storage.Log
	ser    serializer.Serializer
	now    func() time.Time
	logger *slog.Logger

	mu   sync.Mutex // serializes Append
	last atomic.Uint64
}

// Option configures a Journal.
type Option func(*Journal)

// WithClock sets the timestamp source. Default: time.Now.
func WithClock(now func() time.Time) Option {
	return func(j *Journal) {
		j.now = now
	}
}

// WithLogger sets the journal logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(j *Journal) {
		j.logger = l
	}
}

// Open wraps log. The log length is taken as the last sequence number, so
// the next Append starts at Len()+1.
func Open(_ context.Context, log storage.Log, ser serializer.Serializer, opts ...Option) (*Journal, error) {
	if log == nil {
		return nil, errors.New("journal: nil log")
	}
	if ser == nil {
		return nil, errors.New("journal: nil serializer")
	}

	j := &Journal{
		log:    log,
		ser:    ser,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(j)
	}
	j.logger = j.logger.With("component", "journal")
	j.last.Store(log.Len())
	return j, nil
}

// Append binds the next len(cmds) sequence numbers to cmds, in order, and
// writes them with one storage append. On error nothing is durable and no
// numbers are consumed.
func (j *Journal) Append(ctx context.Context, cmds []command.Command) ([]Record, error) {
	if len(cmds) == 0 {
		return nil, nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	last := j.last.Load()
	ctx, span := otel.Tracer("memstate").Start(ctx, "journal.Append",
		trace.WithAttributes(
			attribute.Int("batch_size", len(cmds)),
			attribute.Int64("first_seq", int64(last+1)),
		),
	)
	defer span.End()

	ts := j.now().UTC()
	records := make([]Record, len(cmds))
	entries := make([][]byte, len(cmds))
	for i, cmd := range cmds {
		records[i] = Record{Seq: last + 1 + uint64(i), Timestamp: ts, Command: cmd}
		data, err := encodeRecord(records[i], j.ser)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "encode failed")
			batchesTotal.WithLabelValues("encode_error").Inc()
			return nil, fmt.Errorf("encode record %d: %w", records[i].Seq, err)
		}
		entries[i] = data
	}

	start := time.Now()
	err := j.log.AppendBatch(ctx, last, entries)
	appendDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		batchesTotal.WithLabelValues("error").Inc()
		j.logger.Error("batch append failed",
			"error", err,
			"batch_size", len(cmds),
			"first_seq", last+1,
			"last_seq", last+uint64(len(cmds)))
		return nil, fmt.Errorf("append batch: %w", err)
	}

	j.last.Store(last + uint64(len(cmds)))
	batchesTotal.WithLabelValues("ok").Inc()
	batchSize.Observe(float64(len(cmds)))

	j.logger.Debug("batch appended",
		"batch_size", len(cmds),
		"first_seq", last+1,
		"last_seq", last+uint64(len(cmds)))

	return records, nil
}

// OnCommandBatch implements BatchHandler by appending the batch.
func (j *Journal) OnCommandBatch(ctx context.Context, cmds []command.Command) ([]Record, error) {
	return j.Append(ctx, cmds)
}

// ReadFrom yields records with Seq >= seq in strictly increasing order.
//
// A torn final entry ends the sequence without error. Undecodable entries
// and sequence gaps yield ErrCorrupt and stop iteration.
func (j *Journal) ReadFrom(ctx context.Context, seq uint64) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		ctx, span := otel.Tracer("memstate").Start(ctx, "journal.ReadFrom",
			trace.WithAttributes(attribute.Int64("from_seq", int64(seq))),
		)
		defer span.End()

		var want uint64 = 1
		for data, err := range j.log.ReadAll(ctx) {
			if errors.Is(err, storage.ErrTornTail) {
				j.logger.Warn("ignoring torn tail", "after_seq", want-1)
				break
			}
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "read failed")
				if errors.Is(err, storage.ErrCorrupt) {
					err = fmt.Errorf("%w: %w", ErrCorrupt, err)
				}
				yield(Record{}, err)
				return
			}

			if want < seq {
				want++
				continue
			}

			rec, err := decodeRecord(data, j.ser)
			if err == nil && rec.Seq != want {
				err = fmt.Errorf("%w: expected seq %d, found %d", ErrCorrupt, want, rec.Seq)
			}
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "decode failed")
				yield(Record{}, fmt.Errorf("record %d: %w", want, err))
				return
			}
			if !yield(rec, nil) {
				return
			}
			want++
		}
		span.SetAttributes(attribute.Int64("last_seq", int64(want-1)))
	}
}

// LastSeq returns the sequence number of the last durable record, 0 when
// empty.
func (j *Journal) LastSeq() uint64 {
	return j.last.Load()
}

// Serializer returns the codec records are encoded with.
func (j *Journal) Serializer() serializer.Serializer {
	return j.ser
}

// Close closes the underlying log.
func (j *Journal) Close() error {
	return j.log.Close()
}
