package prefs

import (
	"fmt"
	"strings"
	"sync"

	"github.com/krmanik/ankiaddons/internal/manifest"
)

// Key returns the store key holding enabled addons of kind.
func Key(kind manifest.Kind) string {
	return strings.ReplaceAll(string(kind), "-", "_") + "_addon"
}

// Enabled tracks enabled addon names per kind on top of a Store.
type Enabled struct {
	store Store
	// mu serializes read-modify-write for stores that are not Updaters.
	mu sync.Mutex
}

// NewEnabled wraps store.
func NewEnabled(store Store) *Enabled {
	return &Enabled{store: store}
}

// Enable marks name enabled for kind.
func (e *Enabled) Enable(kind manifest.Kind, name string) error {
	if !kind.Valid() {
		return fmt.Errorf("unsupported addon kind %q", kind)
	}
	return e.update(Key(kind), func(values []string) []string {
		return append(values, name)
	})
}

// Disable marks name disabled for kind.
func (e *Enabled) Disable(kind manifest.Kind, name string) error {
	if !kind.Valid() {
		return fmt.Errorf("unsupported addon kind %q", kind)
	}
	return e.update(Key(kind), func(values []string) []string {
		return without(values, name)
	})
}

// DisableEverywhere removes name from every kind.
func (e *Enabled) DisableEverywhere(name string) error {
	for _, kind := range manifest.Kinds {
		if err := e.Disable(kind, name); err != nil {
			return err
		}
	}
	return nil
}

// IsEnabled reports whether name is enabled for kind.
func (e *Enabled) IsEnabled(kind manifest.Kind, name string) (bool, error) {
	values, err := e.store.Get(Key(kind))
	if err != nil {
		return false, err
	}
	for _, v := range values {
		if v == name {
			return true, nil
		}
	}
	return false, nil
}

// List returns the names enabled for kind, sorted.
func (e *Enabled) List(kind manifest.Kind) ([]string, error) {
	return e.store.Get(Key(kind))
}

func (e *Enabled) update(key string, fn func([]string) []string) error {
	if u, ok := e.store.(Updater); ok {
		return u.Update(key, fn)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	values, err := e.store.Get(key)
	if err != nil {
		return err
	}
	return e.store.Set(key, fn(values))
}

func without(values []string, name string) []string {
	out := values[:0]
	for _, v := range values {
		if v != name {
			out = append(out, v)
		}
	}
	return out
}
