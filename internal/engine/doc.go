// Package engine runs a deterministic in-memory model behind an append-only
// command journal.
//
// ARCHITECTURE:
//
// Single-Writer Executor:
// Every command passes through one FIFO and one goroutine. That goroutine is
// the only code that touches the model, which gives:
//   - a single global execution order equal to admission order
//   - no locking inside models
//   - a journal whose order is the execution order
//
// Command Flow (strict durability):
//  1. Submit validates the command and enqueues it (admission)
//  2. The executor hands mutating commands to the journal writer
//  3. The writer cuts batches by size or age and appends each batch once
//  4. On the batch outcome the executor applies the commands in order and
//     resolves their futures
//
// Queries that arrive while mutations are waiting for durability queue
// behind them, so a query never observes state that is not durable.
//
// Relaxed durability applies mutations at admission and only holds back the
// result. If a batch then fails, the writer halts, the executor rebuilds the
// model from the journal and resumes the writer.
//
// Recovery:
// Start replays the whole journal into a fresh model before accepting
// commands. Replay is strictly sequential and any failure is fatal.
package engine
