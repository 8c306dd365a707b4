package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]Provider)
)

// Register makes a provider available to Open under name.
// Backend packages call it from init. Registering a name twice panics.
func Register(name string, p Provider) {
	backendsMu.Lock()
	defer backendsMu.Unlock()

	if p == nil {
		panic("storage: Register provider is nil")
	}
	if _, dup := backends[name]; dup {
		panic("storage: Register called twice for backend " + name)
	}
	backends[name] = p
}

// Lookup returns the provider registered under name.
func Lookup(name string) (Provider, error) {
	backendsMu.RLock()
	defer backendsMu.RUnlock()

	p, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownBackend, name, backendNamesLocked())
	}
	return p, nil
}

// Open looks up backend and opens location with it.
func Open(ctx context.Context, backend, location string) (Log, error) {
	p, err := Lookup(backend)
	if err != nil {
		return nil, err
	}
	log, err := p.OpenOrCreate(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("open %s log %q: %w", backend, location, err)
	}
	return log, nil
}

// Backends returns registered backend names in sorted order.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	return backendNamesLocked()
}

func backendNamesLocked() []string {
	names := make([]string, 0, len(backends))
	for n := range backends {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
