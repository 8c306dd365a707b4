// Package serializer encodes commands to bytes and back.
//
// Every encoding wraps the command in an envelope that records the
// registered type name, so Decode can rebuild the exact concrete variant
// from the command.Registry. Round-trip fidelity is required for every
// registered type: replay depends on it.
package serializer

import (
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/memstate/internal/command"
)

// Serializer is the pluggable command codec used by the journal.
// Implementations must be stateless and safe for concurrent use.
type Serializer interface {
	// Name identifies the encoding (e.g. "json", "cbor").
	Name() string

	// Encode converts a registered command to bytes.
	Encode(cmd command.Command) ([]byte, error)

	// Decode rebuilds a command from bytes produced by Encode.
	Decode(data []byte) (command.Command, error)
}

var (
	// ErrUnknownSerializer is returned by New for an unrecognized name.
	ErrUnknownSerializer = errors.New("unknown serializer")

	// ErrMalformed is returned when bytes cannot be decoded into an envelope.
	ErrMalformed = errors.New("malformed command encoding")
)

// Default is the serializer used when configuration leaves it empty.
const Default = "json"

type factory func(reg *command.Registry) (Serializer, error)

var factories = map[string]factory{
	"json": func(reg *command.Registry) (Serializer, error) { return NewJSON(reg), nil },
	"cbor": func(reg *command.Registry) (Serializer, error) { return NewCBOR(reg) },
}

// New returns the serializer registered under name, bound to reg.
func New(name string, reg *command.Registry) (Serializer, error) {
	if name == "" {
		name = Default
	}
	if reg == nil {
		return nil, errors.New("serializer: nil command registry")
	}
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownSerializer, name, Names())
	}
	return f(reg)
}

// Names returns the available serializer names in sorted order.
func Names() []string {
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
