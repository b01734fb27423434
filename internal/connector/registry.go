package connector

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"ingest-connector/internal/config"
	"ingest-connector/internal/mapping"
)

// ErrUnknownConnector is returned by Resolve for keys that are not registered.
var ErrUnknownConnector = errors.New("unknown connector")

// Factory builds a connector from the shared options.
type Factory func(Options) Connector

// Registration binds a registry key to its factory.
type Registration struct {
	Key     string
	Factory Factory
}

// Registry resolves connector keys case-insensitively.
type Registry struct {
	opts      Options
	factories map[string]Factory
	keys      []string
}

// NewRegistry builds a registry from regs. Empty and duplicate keys
// (compared case-insensitively) are rejected.
func NewRegistry(opts Options, regs ...Registration) (*Registry, error) {
	r := &Registry{opts: opts, factories: make(map[string]Factory, len(regs))}
	for _, reg := range regs {
		key := strings.ToUpper(strings.TrimSpace(reg.Key))
		if key == "" {
			return nil, fmt.Errorf("connector registration has an empty key")
		}
		if reg.Factory == nil {
			return nil, fmt.Errorf("connector '%s' has no factory", key)
		}
		if _, dup := r.factories[key]; dup {
			return nil, fmt.Errorf("duplicate connector key '%s'", key)
		}
		r.factories[key] = reg.Factory
		r.keys = append(r.keys, key)
	}
	sort.Strings(r.keys)
	return r, nil
}

// Builtin lists the ten built-in variants: every source kind for both targets.
func Builtin() []Registration {
	kinds := []string{config.KindCSV, config.KindExcel, config.KindJSON, config.KindXML, config.KindSQL}
	regs := make([]Registration, 0, 2*len(kinds))
	for _, kind := range kinds {
		for _, target := range []mapping.Target{mapping.Golden, mapping.Scheme} {
			kind, target := kind, target
			regs = append(regs, Registration{
				Key: Key(kind, target),
				Factory: func(opts Options) Connector {
					return newDriver(kind, target, opts)
				},
			})
		}
	}
	return regs
}

// NewDefaultRegistry returns a registry of the built-in connectors.
func NewDefaultRegistry(opts Options) (*Registry, error) {
	return NewRegistry(opts, Builtin()...)
}

// Resolve returns a new connector for key.
func (r *Registry) Resolve(key string) (Connector, error) {
	factory, ok := r.factories[strings.ToUpper(strings.TrimSpace(key))]
	if !ok {
		return nil, fmt.Errorf("%w '%s' (known: %s)", ErrUnknownConnector, key, strings.Join(r.keys, ", "))
	}
	return factory(r.opts), nil
}

// Keys returns the registered keys in sorted order.
func (r *Registry) Keys() []string {
	return append([]string(nil), r.keys...)
}
