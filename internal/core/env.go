package core

import (
	"os"
)

// Env is the run's environment context: the explicit variables a run carries
// on top of the process environment. Stages read it, capture steps write it.
// Insertion order is preserved so external commands see later writes win.
type Env struct {
	names []string
	vals  map[string]string
}

// NewEnv returns an empty environment context.
func NewEnv() *Env {
	return &Env{vals: make(map[string]string)}
}

// Set adds or overwrites an explicit variable.
func (e *Env) Set(name, value string) {
	if _, ok := e.vals[name]; !ok {
		e.names = append(e.names, name)
	}
	e.vals[name] = value
}

// Get returns an explicit variable. It does not consult the process
// environment.
func (e *Env) Get(name string) (string, bool) {
	v, ok := e.vals[name]
	return v, ok
}

// Lookup resolves a name against the explicit variables first, then the
// process environment. Unknown names resolve to "".
func (e *Env) Lookup(name string) string {
	if v, ok := e.vals[name]; ok {
		return v
	}
	return os.Getenv(name)
}

// Pairs returns the explicit variables as KEY=VALUE strings in insertion
// order, suitable for appending to an exec environment.
func (e *Env) Pairs() []string {
	pairs := make([]string, 0, len(e.names))
	for _, name := range e.names {
		pairs = append(pairs, name+"="+e.vals[name])
	}
	return pairs
}

// Expand substitutes $NAME and ${NAME} references using Lookup.
func (e *Env) Expand(s string) string {
	return os.Expand(s, e.Lookup)
}

// Snapshot returns a copy of the explicit variables.
func (e *Env) Snapshot() map[string]string {
	out := make(map[string]string, len(e.vals))
	for k, v := range e.vals {
		out[k] = v
	}
	return out
}
