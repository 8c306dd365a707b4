package command

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// ErrUnknownType is returned when a type name or Go type is not registered.
var ErrUnknownType = errors.New("unknown command type")

// Registry maps stable type names to concrete command types.
//
// Serializers record the type name next to the payload and use the registry
// to allocate the right value on decode. Names must never change once data
// has been journaled under them.
//
// Thread-safety: Registry is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]reflect.Type
	byType map[reflect.Type]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]reflect.Type),
		byType: make(map[reflect.Type]string),
	}
}

// Register adds a command type under name.
// The type must be a non-pointer struct type implementing Command.
func (r *Registry) Register(name string, sample Command) error {
	if name == "" {
		return errors.New("register command: empty type name")
	}
	if sample == nil {
		return fmt.Errorf("register command %q: nil sample", name)
	}
	t := reflect.TypeOf(sample)
	if t.Kind() == reflect.Pointer {
		return fmt.Errorf("register command %q: pointer type %s not allowed", name, t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byName[name]; ok && existing != t {
		return fmt.Errorf("register command %q: already bound to %s", name, existing)
	}
	if existing, ok := r.byType[t]; ok && existing != name {
		return fmt.Errorf("register command %s: already registered as %q", t, existing)
	}
	r.byName[name] = t
	r.byType[t] = name
	return nil
}

// MustRegister is like Register but panics on error.
// Intended for package-level registration of fixed command sets.
func (r *Registry) MustRegister(name string, sample Command) {
	if err := r.Register(name, sample); err != nil {
		panic(err)
	}
}

// NameOf returns the registered name of cmd's concrete type.
func (r *Registry) NameOf(cmd Command) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t := reflect.TypeOf(cmd)
	name, ok := r.byType[t]
	if !ok {
		return "", fmt.Errorf("%w: %v", ErrUnknownType, t)
	}
	return name, nil
}

// New returns a pointer to a fresh zero value of the type registered as name.
// Decoders unmarshal into the pointer and then call Deref.
func (r *Registry) New(name string) (any, error) {
	r.mu.RLock()
	t, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
	return reflect.New(t).Interface(), nil
}

// Deref turns a pointer produced by New back into the registered value type.
func Deref(ptr any) (Command, error) {
	v := reflect.ValueOf(ptr)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return nil, fmt.Errorf("deref command: expected non-nil pointer, got %T", ptr)
	}
	cmd, ok := v.Elem().Interface().(Command)
	if !ok {
		return nil, fmt.Errorf("deref command: %s does not implement Command", v.Elem().Type())
	}
	return cmd, nil
}

// Names returns all registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
