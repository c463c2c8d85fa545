// Package variables implements the per-run variable space: a map from key or
// alias to value, seeded at run start and mutated by user input and block/hook
// outputs. Unknown keys resolve to nil, never an error. The store does no
// locking of its own; writes within one phase are serialized by the engine,
// and cross-run stores are fully independent.
package variables

import (
	"dario.cat/mergo"
)

// Store is the per-run map from key or alias to value.
type Store struct {
	values  map[string]any
	aliases map[string]string // alias to canonical key
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		values:  make(map[string]any),
		aliases: make(map[string]string),
	}
}

// Seed creates a Store initialized from defaults with an optional snapshot
// deep-merged on top (snapshot values win).
func Seed(defaults, snapshot map[string]any) (*Store, error) {
	values := make(map[string]any, len(defaults))
	for k, v := range defaults {
		values[k] = v
	}
	if len(snapshot) > 0 {
		if err := mergo.Merge(&values, snapshot, mergo.WithOverride); err != nil {
			return nil, err
		}
	}
	return &Store{values: values, aliases: make(map[string]string)}, nil
}

// Get returns the value at key, resolving aliases. Unknown keys return nil.
func (s *Store) Get(key string) any {
	return s.values[s.ResolveAlias(key)]
}

// Has reports whether key (or its aliased target) holds a value.
func (s *Store) Has(key string) bool {
	_, ok := s.values[s.ResolveAlias(key)]
	return ok
}

// Set writes value at key, resolving aliases.
func (s *Store) Set(key string, value any) {
	s.values[s.ResolveAlias(key)] = value
}

// Delete removes key from the store.
func (s *Store) Delete(key string) {
	delete(s.values, s.ResolveAlias(key))
}

// GetAll returns a stable snapshot of the current values. The snapshot is a
// shallow copy: callers treat contained values as read-only.
func (s *Store) GetAll() map[string]any {
	snapshot := make(map[string]any, len(s.values))
	for k, v := range s.values {
		snapshot[k] = v
	}
	return snapshot
}

// RegisterAlias maps alias to a canonical key (e.g. a step's human-readable
// variable name to its step ID).
func (s *Store) RegisterAlias(alias, key string) {
	if alias == "" || alias == key {
		return
	}
	s.aliases[alias] = key
}

// ResolveAlias returns the canonical key for alias, or alias itself when no
// mapping exists.
func (s *Store) ResolveAlias(alias string) string {
	if key, ok := s.aliases[alias]; ok {
		return key
	}
	return alias
}

// Merge applies a batch of writes as one logical unit. A nil partial is a no-op.
func (s *Store) Merge(partial map[string]any) {
	for k, v := range partial {
		s.values[s.ResolveAlias(k)] = v
	}
}

// Len returns the number of stored values.
func (s *Store) Len() int {
	return len(s.values)
}
