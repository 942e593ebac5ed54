// Package registry provides the name-to-implementation tables behind every
// pluggable pipeline stage: filters, objectives, decision rules, production
// methods, demand-share methods, and interactions. Registration happens at
// process start; lookup failures are configuration errors.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownName reports a lookup of a name nobody registered.
var ErrUnknownName = errors.New("unknown name")

// Registry maps names to implementations of one pluggable category.
type Registry[T any] struct {
	kind    string
	entries map[string]T
}

func New[T any](kind string) *Registry[T] {
	return &Registry[T]{kind: kind, entries: make(map[string]T)}
}

// Register adds an implementation under one or more names. Registering a
// name twice is a programming error and panics.
func (r *Registry[T]) Register(v T, names ...string) {
	for _, name := range names {
		if _, dup := r.entries[name]; dup {
			panic(fmt.Sprintf("%s %q registered twice", r.kind, name))
		}
		r.entries[name] = v
	}
}

// Lookup resolves a name, failing with ErrUnknownName for strangers.
func (r *Registry[T]) Lookup(name string) (T, error) {
	v, ok := r.entries[name]
	if !ok {
		return v, fmt.Errorf("%w: no %s %q (known: %s)",
			ErrUnknownName, r.kind, name, strings.Join(r.Names(), ", "))
	}
	return v, nil
}

// Has reports whether a name is registered.
func (r *Registry[T]) Has(name string) bool {
	_, ok := r.entries[name]
	return ok
}

// Names lists every registered name in sorted order.
func (r *Registry[T]) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
