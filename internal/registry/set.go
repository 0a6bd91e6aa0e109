package registry

import (
	"fmt"
	"sort"
)

// Set is a named collection of independent registries, one per purpose.
// Registries in a Set never share state.
type Set struct {
	byName map[string]*Registry
	names  []string
}

// NewSet builds a Set. Names must be unique.
func NewSet(regs ...*Registry) (*Set, error) {
	s := &Set{byName: make(map[string]*Registry, len(regs))}
	for _, r := range regs {
		if _, dup := s.byName[r.Name()]; dup {
			return nil, fmt.Errorf("duplicate registry name %q", r.Name())
		}
		s.byName[r.Name()] = r
		s.names = append(s.names, r.Name())
	}
	sort.Strings(s.names)
	return s, nil
}

// Get returns the named registry or ErrUnknownRegistry.
func (s *Set) Get(name string) (*Registry, error) {
	r, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRegistry, name)
	}
	return r, nil
}

// Names returns the registry names in sorted order.
func (s *Set) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// All returns the registries sorted by name.
func (s *Set) All() []*Registry {
	out := make([]*Registry, 0, len(s.names))
	for _, n := range s.names {
		out = append(out, s.byName[n])
	}
	return out
}
