// Package kv is a key-value model for the engine: a map of versioned nodes
// driven by Set, Get, Remove, Count and Keys commands.
//
// Keys are normalized to Unicode NFC before use, so visually identical keys
// typed with different combining sequences address the same node.
package kv

import (
	"errors"
	"fmt"
	"sort"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/memstate/internal/command"
)

// Registered command type names.
const (
	TypeSet    = "kv.set"
	TypeGet    = "kv.get"
	TypeRemove = "kv.remove"
	TypeCount  = "kv.count"
	TypeKeys   = "kv.keys"
)

var (
	// ErrEmptyKey rejects commands without a key.
	ErrEmptyKey = errors.New("key is empty")

	// ErrInvalidKey rejects keys that are not valid UTF-8.
	ErrInvalidKey = errors.New("key is not valid UTF-8")

	// ErrUnsupported is returned by Apply for commands this model does not
	// handle.
	ErrUnsupported = errors.New("unsupported command")
)

// Node is a stored value and the number of times its key has been set.
// Version is 0 only for a key that does not exist.
type Node[V any] struct {
	Value   V      `json:"value" yaml:"value"`
	Version uint64 `json:"version" yaml:"version"`
}

// Exists reports whether the node was found.
func (n Node[V]) Exists() bool {
	return n.Version > 0
}

// Set stores Value under Key and bumps the key's version.
type Set[V any] struct {
	command.Base
	Key   string `json:"key" cbor:"key"`
	Value V      `json:"value" cbor:"value"`
}

// Kind implements command.Command.
func (Set[V]) Kind() command.Kind { return command.Mutating }

// Validate implements command.Validator.
func (c Set[V]) Validate() error { return validateKey(c.Key) }

// Remove deletes Key. Removing a missing key is not an error.
type Remove struct {
	command.Base
	Key string `json:"key" cbor:"key"`
}

// Kind implements command.Command.
func (Remove) Kind() command.Kind { return command.Mutating }

// Validate implements command.Validator.
func (c Remove) Validate() error { return validateKey(c.Key) }

// Get reads the node stored under Key.
type Get struct {
	command.Base
	Key string `json:"key" cbor:"key"`
}

// Kind implements command.Command.
func (Get) Kind() command.Kind { return command.Query }

// Validate implements command.Validator.
func (c Get) Validate() error { return validateKey(c.Key) }

// Count returns the number of keys.
type Count struct {
	command.Base
}

// Kind implements command.Command.
func (Count) Kind() command.Kind { return command.Query }

// Keys returns every key in sorted order.
type Keys struct {
	command.Base
}

// Kind implements command.Command.
func (Keys) Kind() command.Kind { return command.Query }

// RemoveResult reports whether Remove found the key.
type RemoveResult struct {
	Removed bool `json:"removed"`
}

// Register adds the kv command types for value type V to reg.
func Register[V any](reg *command.Registry) error {
	types := []struct {
		name   string
		sample command.Command
	}{
		{TypeSet, Set[V]{}},
		{TypeGet, Get{}},
		{TypeRemove, Remove{}},
		{TypeCount, Count{}},
		{TypeKeys, Keys{}},
	}
	for _, t := range types {
		if err := reg.Register(t.name, t.sample); err != nil {
			return fmt.Errorf("register %s: %w", t.name, err)
		}
	}
	return nil
}

// Store is the model. It is not safe for concurrent use; the engine applies
// commands from a single goroutine.
type Store[V any] struct {
	nodes map[string]*Node[V]
}

// New returns an empty store.
func New[V any]() *Store[V] {
	return &Store[V]{nodes: make(map[string]*Node[V])}
}

// Apply executes cmd against the store.
func (s *Store[V]) Apply(cmd command.Command) (any, error) {
	switch c := cmd.(type) {
	case Set[V]:
		key := normalize(c.Key)
		n, ok := s.nodes[key]
		if !ok {
			n = &Node[V]{}
			s.nodes[key] = n
		}
		n.Value = c.Value
		n.Version++
		return *n, nil

	case Remove:
		key := normalize(c.Key)
		_, ok := s.nodes[key]
		delete(s.nodes, key)
		return RemoveResult{Removed: ok}, nil

	case Get:
		if n, ok := s.nodes[normalize(c.Key)]; ok {
			return *n, nil
		}
		return Node[V]{}, nil

	case Count:
		return len(s.nodes), nil

	case Keys:
		keys := make([]string, 0, len(s.nodes))
		for k := range s.nodes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return keys, nil

	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupported, cmd)
	}
}

// Snapshot returns a copy of every node keyed by normalized key.
func (s *Store[V]) Snapshot() map[string]Node[V] {
	out := make(map[string]Node[V], len(s.nodes))
	for k, n := range s.nodes {
		out[k] = *n
	}
	return out
}

func validateKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if !utf8.ValidString(key) {
		return ErrInvalidKey
	}
	return nil
}

func normalize(key string) string {
	return norm.NFC.String(key)
}
