package engine

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/roach88/memstate/internal/command"
	"github.com/roach88/memstate/internal/journal"
)

// replay applies every journaled mutation to model in sequence order and
// returns the last sequence number and the record count.
//
// Results are discarded except for seeding the dedup window. Query records
// are counted but not applied: they cannot change state.
//
// Any decode failure is CORRUPT_JOURNAL; an Apply error is REPLAY. Both are
// fatal because the model would otherwise diverge from the journal.
func (e *Engine) replay(ctx context.Context, model Model, seedDedup bool) (uint64, int, error) {
	ctx, span := otel.Tracer("memstate").Start(ctx, "engine.replay")
	defer span.End()

	var last uint64
	var n int
	for rec, err := range e.journal.ReadFrom(ctx, 1) {
		if err != nil {
			code := ErrCodeReplay
			if errors.Is(err, journal.ErrCorrupt) {
				code = ErrCodeCorruptJournal
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "read failed")
			return 0, n, newError(code, "replay", err)
		}

		if rec.Command.Kind() == command.Mutating {
			res, err := Replay(model, rec)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "apply failed")
				return 0, n, newCommandError(ErrCodeReplay, "replay", rec.Command.CommandID(), err)
			}
			if seedDedup {
				e.dedup.seed(rec.Command.CommandID(), res, rec.Seq)
			}
		}
		last = rec.Seq
		n++
		replayedRecords.Inc()
	}

	if want := e.journal.LastSeq(); last != want {
		err := fmt.Errorf("log holds %d records but only %d could be replayed", want, last)
		span.RecordError(err)
		return 0, n, newError(ErrCodeCorruptJournal, "replay", err)
	}

	span.SetAttributes(attribute.Int64("last_seq", int64(last)), attribute.Int("records", n))
	return last, n, nil
}

// Replay applies one record to model, turning a model panic into an error.
// Exported for tools that rebuild models outside an engine.
func Replay(model Model, rec journal.Record) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("model panicked at seq %d: %v", rec.Seq, r)
		}
	}()
	res, err = model.Apply(rec.Command)
	if err != nil {
		return nil, fmt.Errorf("apply seq %d: %w", rec.Seq, err)
	}
	return res, nil
}
