package core

import (
	"fmt"
	"sort"
)

// ParamStore holds the resolved invocation parameters of a run. It is built
// once from the pipeline's declared defaults and the caller's overrides, and
// is read-only afterwards.
type ParamStore struct {
	values map[string]string
}

// NewParamStore resolves declared parameter defaults against overrides.
// Overriding a parameter the pipeline does not declare is an error: the run
// must fail during setup, before any stage produces side effects.
func NewParamStore(declared, overrides map[string]string) (*ParamStore, error) {
	values := make(map[string]string, len(declared))
	for name, def := range declared {
		values[name] = def
	}
	for name, v := range overrides {
		if _, ok := values[name]; !ok {
			return nil, fmt.Errorf("unknown parameter %q: pipeline declares %v", name, sortedKeys(declared))
		}
		values[name] = v
	}
	return &ParamStore{values: values}, nil
}

// Get returns a parameter value and whether it is declared.
func (p *ParamStore) Get(name string) (string, bool) {
	v, ok := p.values[name]
	return v, ok
}

// Names returns the declared parameter names in sorted order.
func (p *ParamStore) Names() []string {
	return sortedKeys(p.values)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
