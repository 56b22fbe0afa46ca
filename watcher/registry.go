// Package watcher keeps the table of file watching backends a daemon can use.
//
// The table is built once at startup from a list of entries and never changes
// afterwards, so lookups need no locking.
package watcher

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrDuplicate is returned by [NewRegistry] when two entries share a name.
	ErrDuplicate = errors.New("watcher: duplicate watcher name")
	// ErrNotFound is returned when a named watcher is not registered.
	ErrNotFound = errors.New("watcher: no such watcher")
	// ErrNoWatcher is returned by [Registry.Init] when no backend could be started.
	ErrNoWatcher = errors.New("watcher: no usable watcher")
)

// Watcher is a running backend watching one root.
type Watcher interface {
	Name() string
	Close() error
}

// Factory starts a backend for root.
type Factory func(root string) (Watcher, error)

// Entry describes one backend. Higher Priority wins when a backend is chosen
// automatically.
type Entry struct {
	Name     string
	Factory  Factory
	Priority int
}

// Registry is an immutable set of backends ordered by preference.
type Registry struct {
	byName map[string]Entry
	order  []Entry
}

// NewRegistry builds a registry from entries.
func NewRegistry(entries ...Entry) (*Registry, error) {
	r := &Registry{byName: make(map[string]Entry, len(entries))}

	for _, e := range entries {
		if e.Name == "" || e.Factory == nil {
			return nil, fmt.Errorf("watcher: entry %q needs a name and a factory", e.Name)
		}

		if _, ok := r.byName[e.Name]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicate, e.Name)
		}

		r.byName[e.Name] = e
		r.order = append(r.order, e)
	}

	slices.SortFunc(r.order, func(a, b Entry) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}

		return cmp.Compare(a.Name, b.Name)
	})

	return r, nil
}

// Lookup returns the entry registered under name.
func (r *Registry) Lookup(name string) (Entry, bool) {
	e, ok := r.byName[name]
	return e, ok
}

// Detect returns the preferred entry: highest priority, ties broken by name.
func (r *Registry) Detect() (Entry, bool) {
	if len(r.order) == 0 {
		return Entry{}, false
	}

	return r.order[0], true
}

// Names returns every registered name in order of preference.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	for i, e := range r.order {
		names[i] = e.Name
	}

	return names
}

// Init starts a backend for root.
//
// If name is empty or "auto" every backend is tried in order of preference
// and the first that starts is returned; otherwise only the named one is tried.
func (r *Registry) Init(root, name string) (Watcher, error) {
	if name != "" && name != "auto" {
		e, ok := r.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
		}

		return e.Factory(root)
	}

	var errs []error

	for _, e := range r.order {
		w, err := e.Factory(root)
		if err == nil {
			return w, nil
		}

		errs = append(errs, fmt.Errorf("%s: %w", e.Name, err))
	}

	return nil, errors.Join(append([]error{ErrNoWatcher}, errs...)...)
}
