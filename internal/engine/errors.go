package engine

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeInitialization indicates Start could not open storage or build
	// its components.
	ErrCodeInitialization ErrorCode = "INITIALIZATION"

	// ErrCodeCorruptJournal indicates the journal holds undecodable or
	// out-of-sequence records.
	ErrCodeCorruptJournal ErrorCode = "CORRUPT_JOURNAL"

	// ErrCodeReplay indicates a journaled command failed to apply during
	// replay.
	ErrCodeReplay ErrorCode = "REPLAY"

	// ErrCodePersistence indicates the batch holding the command could not be
	// made durable. The command had no effect.
	ErrCodePersistence ErrorCode = "PERSISTENCE"

	// ErrCodeDomain indicates the model or the command itself rejected the
	// command. Nothing was journaled.
	ErrCodeDomain ErrorCode = "DOMAIN"

	// ErrCodeInvalidState indicates the engine is disposing, disposed or
	// halted.
	ErrCodeInvalidState ErrorCode = "INVALID_STATE"

	// ErrCodeDuplicate indicates a command with the same ID is still in
	// flight.
	ErrCodeDuplicate ErrorCode = "DUPLICATE"
)

// Error is the error type returned by every engine operation.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op names the operation that failed ("start", "submit", "apply", ...).
	Op string

	// CommandID identifies the affected command, when there is one.
	CommandID string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.CommandID != "" {
		return fmt.Sprintf("%s: %s (command=%s): %v", e.Code, e.Op, e.CommandID, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

func newCommandError(code ErrorCode, op, id string, err error) *Error {
	return &Error{Code: code, Op: op, CommandID: id, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsPersistenceError reports whether err is a PERSISTENCE failure.
func IsPersistenceError(err error) bool {
	return CodeOf(err) == ErrCodePersistence
}

// IsDomainError reports whether err is a DOMAIN rejection.
func IsDomainError(err error) bool {
	return CodeOf(err) == ErrCodeDomain
}

// IsInvalidStateError reports whether err is an INVALID_STATE error.
func IsInvalidStateError(err error) bool {
	return CodeOf(err) == ErrCodeInvalidState
}

// IsDuplicateError reports whether err is a DUPLICATE error.
func IsDuplicateError(err error) bool {
	return CodeOf(err) == ErrCodeDuplicate
}

// IsCorruptJournalError reports whether err is a CORRUPT_JOURNAL error.
func IsCorruptJournalError(err error) bool {
	return CodeOf(err) == ErrCodeCorruptJournal
}

// IsReplayError reports whether err is a REPLAY error.
func IsReplayError(err error) bool {
	return CodeOf(err) == ErrCodeReplay
}

// IsInitializationError reports whether err is an INITIALIZATION error.
func IsInitializationError(err error) bool {
	return CodeOf(err) == ErrCodeInitialization
}
