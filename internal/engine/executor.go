package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/memstate/internal/command"
	"github.com/roach88/memstate/internal/journal"
)

type eventType int

const (
	evSubmit eventType = iota + 1
	evFlush
)

// event is one admission-queue entry.
type event struct {
	typ       eventType
	cmd       command.Command
	p         *Pending
	journaled bool
}

// op is a command waiting in the executor's pending FIFO.
type op struct {
	cmd       command.Command
	p         *Pending
	journaled bool

	// result computed at admission (relaxed durability)
	applied bool
	result  any
	err     error
}

// run is the single-writer executor loop. It consumes admitted commands and
// writer outcomes until the admission queue is drained and the writer has
// delivered its last outcome.
func (e *Engine) run() {
	defer close(e.stopped)

	inboxC := e.inbox.Wait()
	outcomes := e.writer.Outcomes()
	for {
		select {
		case <-inboxC:
			for ev, ok := e.inbox.TryDequeue(); ok; ev, ok = e.inbox.TryDequeue() {
				e.handleEvent(ev)
			}
			if e.inbox.Drained() {
				e.writer.Close()
				inboxC = nil
			}

		case out, ok := <-outcomes:
			if !ok {
				// The writer only stops after the inbox is closed, so this
				// drains the last admissions; their writer submits fail.
				for ev, ok := e.inbox.TryDequeue(); ok; ev, ok = e.inbox.TryDequeue() {
					e.handleEvent(ev)
				}
				e.failRemaining(errors.New("journal writer stopped"))
				return
			}
			e.handleOutcome(out)
		}
	}
}

func (e *Engine) handleEvent(ev event) {
	switch ev.typ {
	case evFlush:
		e.writer.Flush()
	case evSubmit:
		e.admit(&op{cmd: ev.cmd, p: ev.p, journaled: ev.journaled})
	}
}

func (e *Engine) admit(o *op) {
	if e.haltErr != nil {
		e.resolve(o, nil, 0, e.haltedError(o))
		return
	}

	if !o.journaled {
		if len(e.pending) > 0 {
			switch {
			case e.cfg.Durability == DurabilityStrict:
				e.pending = append(e.pending, o)
				return
			case e.cfg.QueryIsolation:
				// Read now, release once every earlier mutation is durable.
				o.result, o.err = e.query(o)
				o.applied = true
				e.pending = append(e.pending, o)
				return
			}
		}
		e.applyQuery(o)
		return
	}

	if e.cfg.Durability == DurabilityRelaxed {
		res, err := e.apply(o.cmd)
		if err != nil {
			e.resolve(o, nil, 0, newCommandError(ErrCodeDomain, "apply", o.cmd.CommandID(), err))
			return
		}
		o.applied, o.result = true, res
	}

	if err := e.writer.Submit(o.cmd); err != nil {
		e.resolve(o, nil, 0, newCommandError(ErrCodePersistence, "journal", o.cmd.CommandID(), err))
		return
	}
	e.pending = append(e.pending, o)
	pendingDepth.Inc()
}

// handleOutcome resolves the commands of one writer outcome. Outcomes arrive
// in the order commands were handed to the writer, which is the order of
// the journaled ops in the pending FIFO.
func (e *Engine) handleOutcome(out journal.Outcome) {
	// Rebuild first so held queries are recomputed before any is released.
	if out.Err != nil && e.cfg.Durability == DurabilityRelaxed && !journal.IsPoisoned(out.Err) {
		e.rebuild()
	}

	for i, cmd := range out.Commands {
		e.drainQueries()
		if len(e.pending) == 0 {
			e.logger.Error("outcome for unknown command", "command_id", cmd.CommandID())
			continue
		}
		o := e.pending[0]
		e.pending[0] = nil
		e.pending = e.pending[1:]
		pendingDepth.Dec()

		if o.cmd.CommandID() != cmd.CommandID() {
			e.logger.Error("outcome out of order",
				"expected", o.cmd.CommandID(),
				"got", cmd.CommandID())
		}

		if out.Err != nil {
			e.resolve(o, nil, 0, newCommandError(ErrCodePersistence, "journal", cmd.CommandID(), out.Err))
			continue
		}

		rec := out.Records[i]
		if e.haltErr != nil {
			e.resolve(o, nil, rec.Seq, e.haltedError(o))
			continue
		}

		res, err := o.result, o.err
		if !o.applied {
			res, err = e.apply(o.cmd)
			if err != nil && o.cmd.Kind() == command.Mutating {
				// The record is durable but the model rejected it, so the
				// journal can no longer be replayed. Stop before more state
				// builds on it.
				e.logger.Error("journaled command failed to apply; engine halted",
					"seq", rec.Seq,
					"command_id", cmd.CommandID(),
					"error", err)
				e.halt(fmt.Errorf("apply seq %d: %w", rec.Seq, err))
				e.resolve(o, nil, rec.Seq, newCommandError(ErrCodeDomain, "apply", cmd.CommandID(), err))
				continue
			}
			if err != nil {
				err = newCommandError(ErrCodeDomain, "apply", cmd.CommandID(), err)
			}
		}
		e.checkpoint.Advance(rec.Seq)
		e.resolve(o, res, rec.Seq, err)
	}
	e.drainQueries()
}

// halt stops the engine from admitting or applying anything further.
func (e *Engine) halt(cause error) {
	e.haltErr = cause
	e.halted.Store(true)
}

func (e *Engine) haltedError(o *op) error {
	return newCommandError(ErrCodeInvalidState, "execute", o.cmd.CommandID(), e.haltErr)
}

// drainQueries runs queries that no longer wait behind a mutation.
func (e *Engine) drainQueries() {
	for len(e.pending) > 0 && !e.pending[0].journaled {
		o := e.pending[0]
		e.pending[0] = nil
		e.pending = e.pending[1:]
		switch {
		case e.haltErr != nil:
			e.resolve(o, nil, 0, e.haltedError(o))
		case o.applied:
			e.resolve(o, o.result, 0, o.err)
		default:
			e.applyQuery(o)
		}
	}
}

func (e *Engine) applyQuery(o *op) {
	res, err := e.query(o)
	e.resolve(o, res, 0, err)
}

func (e *Engine) query(o *op) (any, error) {
	res, err := e.apply(o.cmd)
	if err != nil {
		return nil, newCommandError(ErrCodeDomain, "apply", o.cmd.CommandID(), err)
	}
	return res, nil
}

// rebuild replaces the model with a fresh replay of the journal, dropping
// effects of mutations whose batch failed. The writer is halted while this
// runs, so the journal is stable.
func (e *Engine) rebuild() {
	rebuildsTotal.Inc()
	model := e.cfg.NewModel()
	last, n, err := e.replay(context.Background(), model, false)
	if err != nil {
		e.logger.Error("model rebuild failed; engine halted", "error", err)
		e.halt(err)
		return
	}
	e.model = model
	e.checkpoint.Reset(last)

	// Every journaled op still pending was handed to the writer before this
	// failure and will be poisoned, so held queries read the rebuilt state.
	for _, o := range e.pending {
		if !o.journaled && o.applied {
			o.result, o.err = e.query(o)
		}
	}
	e.writer.Resume()
	e.logger.Warn("model rebuilt after failed batch", "records", n, "last_seq", last)
}

// apply runs cmd against the live model. A panic in the model becomes an
// error so one bad command cannot kill the executor.
func (e *Engine) apply(cmd command.Command) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("model panicked: %v", r)
		}
	}()
	return e.model.Apply(cmd)
}

func (e *Engine) resolve(o *op, res any, seq uint64, err error) {
	if o.cmd.Kind() == command.Mutating {
		e.dedup.finish(o.cmd.CommandID(), res, seq, err == nil)
	}
	commandsTotal.WithLabelValues(o.cmd.Kind().String(), outcomeLabel(err)).Inc()
	o.p.resolve(res, seq, err)
}

// failRemaining resolves anything still pending when the writer is gone.
func (e *Engine) failRemaining(cause error) {
	for _, o := range e.pending {
		if !o.journaled {
			switch {
			case e.haltErr != nil:
				e.resolve(o, nil, 0, e.haltedError(o))
			case o.applied:
				e.resolve(o, o.result, 0, o.err)
			default:
				e.applyQuery(o)
			}
			continue
		}
		pendingDepth.Dec()
		e.resolve(o, nil, 0, newCommandError(ErrCodePersistence, "journal", o.cmd.CommandID(), cause))
	}
	e.pending = nil
}
