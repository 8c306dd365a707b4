package command

import "fmt"

// Kind tags a command as mutating or read-only.
type Kind int

const (
	// Mutating commands change model state and must be journaled.
	Mutating Kind = iota + 1
	// Query commands read model state and are never journaled by default.
	Query
)

// String returns the kind as a lowercase word.
func (k Kind) String() string {
	switch k {
	case Mutating:
		return "mutating"
	case Query:
		return "query"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Command is an immutable, uniquely identified unit of intent against a model.
//
// CommandID is used for de-duplication and for correlating a submission with
// its result. It must be stable across encode/decode.
type Command interface {
	CommandID() string
	Kind() Kind
}

// Validator is implemented by commands that can reject themselves without
// looking at model state. Validate is called before a mutating command is
// journaled; a non-nil error is returned to the caller and nothing is
// written.
type Validator interface {
	Validate() error
}

// Base carries the identifier shared by every command variant.
// Embed it in concrete command structs.
type Base struct {
	ID string `json:"id" cbor:"id"`
}

// CommandID returns the command's identifier.
func (b Base) CommandID() string {
	return b.ID
}

// Validate runs the command's Validator if it has one.
func Validate(cmd Command) error {
	if v, ok := cmd.(Validator); ok {
		return v.Validate()
	}
	return nil
}
