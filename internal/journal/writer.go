package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/memstate/internal/command"
	"github.com/roach88/memstate/internal/queue"
)

// Defaults for WriterConfig zero values.
const (
	DefaultMaxBatchSize = 100
	DefaultMaxBatchWait = 5 * time.Millisecond
)

// BatchHandler durably records one batch of commands. It is the only
// extension point of the Writer: a handler must either persist every
// command of the batch or none of them.
type BatchHandler interface {
	OnCommandBatch(ctx context.Context, cmds []command.Command) ([]Record, error)
}

// BatchHandlerFunc adapts a function to BatchHandler.
type BatchHandlerFunc func(ctx context.Context, cmds []command.Command) ([]Record, error)

// OnCommandBatch calls f.
func (f BatchHandlerFunc) OnCommandBatch(ctx context.Context, cmds []command.Command) ([]Record, error) {
	return f(ctx, cmds)
}

// Outcome reports what happened to a run of commands, in submission order.
// On success Records[i] is the record for Commands[i].
type Outcome struct {
	Commands []command.Command
	Records  []Record
	Err      error
}

// WriterConfig configures a Writer.
type WriterConfig struct {
	// MaxBatchSize cuts a batch once this many commands are buffered.
	MaxBatchSize int

	// MaxBatchWait cuts a batch this long after its first command arrived.
	MaxBatchWait time.Duration

	// HaltOnFailure makes the writer fail every command it receives after a
	// failed append until Resume is called.
	HaltOnFailure bool

	// OutcomeBuffer sizes the outcome channel. Default 64.
	OutcomeBuffer int

	Logger *slog.Logger
}

type writerOp int

const (
	opCommand writerOp = iota
	opFlush
	opResume
)

type writerItem struct {
	op  writerOp
	cmd command.Command
}

// Writer batches commands and hands each batch to a BatchHandler from a
// single goroutine.
//
// Thread-safety: Submit, Flush, Resume and Close may be called from any
// goroutine. Outcomes must be drained by exactly one consumer.
type Writer struct {
	handler  BatchHandler
	cfg      WriterConfig
	logger   *slog.Logger
	in       *queue.FIFO[writerItem]
	outcomes chan Outcome
	done     chan struct{}

	// owned by the run goroutine
	buf      []command.Command
	timer    *time.Timer
	timerC   <-chan time.Time
	poisoned bool
}

// NewWriter creates a writer. Call Run to start it.
func NewWriter(handler BatchHandler, cfg WriterConfig) *Writer {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = DefaultMaxBatchWait
	}
	if cfg.OutcomeBuffer <= 0 {
		cfg.OutcomeBuffer = 64
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Writer{
		handler:  handler,
		cfg:      cfg,
		logger:   logger.With("component", "writer"),
		in:       queue.New[writerItem](cfg.MaxBatchSize),
		outcomes: make(chan Outcome, cfg.OutcomeBuffer),
		done:     make(chan struct{}),
		buf:      make([]command.Command, 0, cfg.MaxBatchSize),
	}
}

// Submit queues cmd for the next batch. It never blocks.
func (w *Writer) Submit(cmd command.Command) error {
	if !w.in.Enqueue(writerItem{op: opCommand, cmd: cmd}) {
		return ErrWriterClosed
	}
	return nil
}

// Flush cuts the current batch as soon as the writer reaches this call in
// its input order.
func (w *Writer) Flush() {
	w.in.Enqueue(writerItem{op: opFlush})
}

// Resume clears a halt caused by a failed append. Commands submitted before
// Resume still fail with ErrPoisoned.
func (w *Writer) Resume() {
	w.in.Enqueue(writerItem{op: opResume})
}

// Close stops accepting commands. Run writes whatever is buffered as a final
// batch, closes the outcome channel and returns.
func (w *Writer) Close() {
	w.in.Close()
}

// Outcomes returns the channel outcomes are delivered on. It is closed when
// Run returns.
func (w *Writer) Outcomes() <-chan Outcome {
	return w.outcomes
}

// Done is closed when Run has returned.
func (w *Writer) Done() <-chan struct{} {
	return w.done
}

// Run processes input until Close. If ctx is cancelled first, buffered and
// queued commands fail with the context error.
//
// CRITICAL: must be called from exactly one goroutine.
func (w *Writer) Run(ctx context.Context) {
	defer close(w.done)
	defer close(w.outcomes)
	defer w.stopTimer()

	for {
		for item, ok := w.in.TryDequeue(); ok; item, ok = w.in.TryDequeue() {
			w.accept(ctx, item)
		}
		if w.in.Drained() {
			w.cut(ctx)
			return
		}

		select {
		case <-ctx.Done():
			w.abort(ctx.Err())
			return
		case <-w.in.Wait():
		case <-w.timerC:
			w.timerC = nil
			w.cut(ctx)
		}
	}
}

func (w *Writer) accept(ctx context.Context, item writerItem) {
	switch item.op {
	case opFlush:
		w.cut(ctx)
	case opResume:
		if w.poisoned {
			w.logger.Info("writer resumed")
		}
		w.poisoned = false
	case opCommand:
		if w.poisoned {
			poisonedTotal.Inc()
			w.emit(Outcome{Commands: []command.Command{item.cmd}, Err: ErrPoisoned})
			return
		}
		w.buf = append(w.buf, item.cmd)
		if len(w.buf) == 1 {
			w.startTimer()
		}
		if len(w.buf) >= w.cfg.MaxBatchSize {
			w.cut(ctx)
		}
	}
}

// cut hands the buffered commands to the handler as one batch.
func (w *Writer) cut(ctx context.Context) {
	w.stopTimer()
	if len(w.buf) == 0 {
		return
	}

	batch := make([]command.Command, len(w.buf))
	copy(batch, w.buf)
	clear(w.buf)
	w.buf = w.buf[:0]

	records, err := w.handler.OnCommandBatch(ctx, batch)
	if err == nil && len(records) != len(batch) {
		err = fmt.Errorf("handler returned %d records for %d commands", len(records), len(batch))
	}
	if err != nil {
		if w.cfg.HaltOnFailure {
			w.poisoned = true
			w.logger.Warn("writer halted after failed append", "error", err)
		}
		w.emit(Outcome{Commands: batch, Err: err})
		return
	}
	w.emit(Outcome{Commands: batch, Records: records})
}

// abort fails everything still buffered or queued with err.
func (w *Writer) abort(err error) {
	if len(w.buf) > 0 {
		w.emit(Outcome{Commands: w.buf, Err: err})
		w.buf = nil
	}
	w.in.Close()
	for item, ok := w.in.TryDequeue(); ok; item, ok = w.in.TryDequeue() {
		if item.op == opCommand {
			w.emit(Outcome{Commands: []command.Command{item.cmd}, Err: err})
		}
	}
}

func (w *Writer) emit(o Outcome) {
	w.outcomes <- o
}

func (w *Writer) startTimer() {
	if w.timer == nil {
		w.timer = time.NewTimer(w.cfg.MaxBatchWait)
	} else {
		w.timer.Reset(w.cfg.MaxBatchWait)
	}
	w.timerC = w.timer.C
}

func (w *Writer) stopTimer() {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timerC = nil
}

// IsPoisoned reports whether err came from a halted writer.
func IsPoisoned(err error) bool {
	return errors.Is(err, ErrPoisoned)
}
