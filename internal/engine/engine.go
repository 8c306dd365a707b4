package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/memstate/internal/command"
	"github.com/roach88/memstate/internal/journal"
	"github.com/roach88/memstate/internal/queue"
	"github.com/roach88/memstate/internal/serializer"
	"github.com/roach88/memstate/internal/storage"
)

type lifecycle int

const (
	stateRunning lifecycle = iota
	stateDisposing
	stateDisposed
)

// Engine owns one model and the journal that makes it durable.
//
// CRITICAL: the model is only touched by the executor goroutine. Callers
// reach it through Submit/Execute, which enqueue into a FIFO in call order.
//
// Thread-safety model:
//   - Submit, Execute, Flush, LastRecordNumber: safe from any goroutine
//   - Dispose: safe from any goroutine; the second call fails
type Engine struct {
	cfg        Config
	logger     *slog.Logger
	journal    *journal.Journal
	writer     *journal.Writer
	stopWriter context.CancelFunc
	inbox      *queue.FIFO[event]
	checkpoint *Checkpoint
	dedup      *dedupWindow
	stopped    chan struct{}

	admitMu sync.Mutex
	state   lifecycle
	halted  atomic.Bool

	// executor-owned
	model   Model
	pending []*op
	haltErr error
}

// Start opens the journal described by cfg, rebuilds the model by replaying
// it and starts the executor. On failure no engine is returned and the error
// is an *Error with code INITIALIZATION, CORRUPT_JOURNAL or REPLAY.
func Start(ctx context.Context, cfg Config) (*Engine, error) {
	ctx, span := otel.Tracer("memstate").Start(ctx, "engine.Start",
		trace.WithAttributes(
			attribute.String("backend", cfg.Backend),
			attribute.String("durability", string(cfg.Durability)),
		),
	)
	defer span.End()

	e, err := start(ctx, cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "start failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int64("last_seq", int64(e.checkpoint.Current())))
	return e, nil
}

func start(ctx context.Context, cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, newError(ErrCodeInitialization, "start", err)
	}
	logger := cfg.Logger.With("component", "engine")

	log, err := cfg.Provider.OpenOrCreate(ctx, cfg.Location)
	if err != nil {
		code := ErrCodeInitialization
		if errors.Is(err, storage.ErrCorrupt) {
			code = ErrCodeCorruptJournal
		}
		return nil, newError(code, "open storage", err)
	}

	ser, err := serializer.New(cfg.Serializer, cfg.Registry)
	if err != nil {
		log.Close()
		return nil, newError(ErrCodeInitialization, "start", err)
	}

	j, err := journal.Open(ctx, log, ser, journal.WithClock(cfg.Clock), journal.WithLogger(cfg.Logger))
	if err != nil {
		log.Close()
		return nil, newError(ErrCodeInitialization, "open journal", err)
	}

	e := &Engine{
		cfg:        cfg,
		logger:     logger,
		journal:    j,
		inbox:      queue.New[event](cfg.QueueCapacity),
		checkpoint: NewCheckpoint(),
		dedup:      newDedupWindow(cfg.DedupWindow),
		stopped:    make(chan struct{}),
	}

	begin := time.Now()
	model := cfg.NewModel()
	last, n, err := e.replay(ctx, model, true)
	if err != nil {
		j.Close()
		return nil, err
	}
	e.model = model
	e.checkpoint.Reset(last)
	logger.Info("replay finished",
		"records", n,
		"last_seq", last,
		"duration", time.Since(begin))

	e.writer = journal.NewWriter(j, journal.WriterConfig{
		MaxBatchSize:  cfg.MaxBatchSize,
		MaxBatchWait:  cfg.MaxBatchWait,
		HaltOnFailure: cfg.Durability == DurabilityRelaxed,
		Logger:        cfg.Logger,
	})
	writerCtx, cancel := context.WithCancel(context.Background())
	e.stopWriter = cancel
	go e.writer.Run(writerCtx)
	go e.run()

	logger.Info("engine started",
		"backend", cfg.Backend,
		"location", cfg.Location,
		"serializer", cfg.Serializer,
		"durability", cfg.Durability,
		"max_batch_size", cfg.MaxBatchSize,
		"max_batch_wait", cfg.MaxBatchWait)
	return e, nil
}

// Submit admits cmd and returns its future. The order of Submit calls is the
// execution order.
//
// Submit fails immediately with DOMAIN for commands that fail Validate or
// whose type is not registered, INVALID_STATE once Dispose has begun, and
// DUPLICATE when a mutating command with the same ID is still in flight. A
// mutating command whose ID completed recently resolves to its cached
// outcome without being applied again.
func (e *Engine) Submit(cmd command.Command) (*Pending, error) {
	if cmd == nil {
		return nil, newError(ErrCodeDomain, "submit", errors.New("nil command"))
	}
	id := cmd.CommandID()
	kind := cmd.Kind()
	if kind != command.Mutating && kind != command.Query {
		return nil, newCommandError(ErrCodeDomain, "submit", id, fmt.Errorf("invalid command kind %s", kind))
	}
	if err := command.Validate(cmd); err != nil {
		commandsTotal.WithLabelValues(kind.String(), string(ErrCodeDomain)).Inc()
		return nil, newCommandError(ErrCodeDomain, "validate", id, err)
	}

	journaled := kind == command.Mutating || e.cfg.JournalQueries
	if journaled {
		if _, err := e.cfg.Registry.NameOf(cmd); err != nil {
			return nil, newCommandError(ErrCodeDomain, "submit", id, err)
		}
	}

	e.admitMu.Lock()
	defer e.admitMu.Unlock()

	if e.state != stateRunning {
		return nil, newCommandError(ErrCodeInvalidState, "submit", id, errors.New("engine is disposed"))
	}
	if e.halted.Load() {
		return nil, newCommandError(ErrCodeInvalidState, "submit", id, errors.New("engine halted"))
	}

	if kind == command.Mutating {
		cached, inflight := e.dedup.begin(id)
		if inflight {
			commandsTotal.WithLabelValues(kind.String(), string(ErrCodeDuplicate)).Inc()
			return nil, newCommandError(ErrCodeDuplicate, "submit", id, errors.New("command already in flight"))
		}
		if cached != nil {
			return resolvedPending(id, cached.result, cached.seq, nil), nil
		}
	}

	p := newPending(id)
	e.inbox.Enqueue(event{typ: evSubmit, cmd: cmd, p: p, journaled: journaled})
	return p, nil
}

// Execute submits cmd and waits for its result.
func (e *Engine) Execute(ctx context.Context, cmd command.Command) (any, error) {
	p, err := e.Submit(cmd)
	if err != nil {
		return nil, err
	}
	return p.Wait(ctx)
}

// ExecuteAs executes cmd and asserts the result to T.
func ExecuteAs[T any](ctx context.Context, e *Engine, cmd command.Command) (T, error) {
	var zero T
	res, err := e.Execute(ctx, cmd)
	if err != nil {
		return zero, err
	}
	v, ok := res.(T)
	if !ok {
		return zero, fmt.Errorf("result of %s is %T, not %T", cmd.CommandID(), res, zero)
	}
	return v, nil
}

// Flush asks the writer to cut the current batch without waiting for the
// size or time limit.
func (e *Engine) Flush() {
	e.admitMu.Lock()
	defer e.admitMu.Unlock()
	if e.state == stateRunning {
		e.inbox.Enqueue(event{typ: evFlush})
	}
}

// LastRecordNumber returns the sequence number of the last record applied
// to the model.
func (e *Engine) LastRecordNumber() uint64 {
	return e.checkpoint.Current()
}

// Durability returns the configured durability mode.
func (e *Engine) Durability() Durability {
	return e.cfg.Durability
}

// Dispose stops admission, lets every admitted command resolve, writes the
// final partial batch and closes storage. If ctx ends first, commands still
// waiting for the writer fail with PERSISTENCE.
//
// Calling Dispose a second time returns INVALID_STATE.
func (e *Engine) Dispose(ctx context.Context) error {
	e.admitMu.Lock()
	if e.state != stateRunning {
		e.admitMu.Unlock()
		return newError(ErrCodeInvalidState, "dispose", errors.New("engine already disposed"))
	}
	e.state = stateDisposing
	e.inbox.Close()
	e.admitMu.Unlock()

	var waitErr error
	select {
	case <-e.stopped:
	case <-ctx.Done():
		waitErr = ctx.Err()
		e.stopWriter()
		<-e.stopped
	}
	e.stopWriter()

	closeErr := e.journal.Close()

	e.admitMu.Lock()
	e.state = stateDisposed
	e.admitMu.Unlock()

	e.logger.Info("engine disposed", "last_seq", e.checkpoint.Current())

	if err := errors.Join(waitErr, closeErr); err != nil {
		return newError(ErrCodePersistence, "dispose", err)
	}
	return nil
}
