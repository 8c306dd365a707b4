// Package journal is the durable, totally ordered command log.
//
// A Journal binds dense sequence numbers (first record is 1) to commands at
// append time and writes each batch with a single storage append, so the
// durable log never has gaps: a failed append consumes no numbers.
//
// A Writer batches commands in arrival order and hands each batch to a
// BatchHandler, normally the Journal itself. Outcomes come back on a channel
// in the same order the commands went in.
//
// Record wire format (all integers big-endian):
//
//	| version (1 byte) | seq (8 bytes) | unix nanos (8 bytes) | payload |
//
// The payload is whatever the configured serializer produced.
package journal
