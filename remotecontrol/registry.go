// Package remotecontrol is the named parameter surface an operator
// (or an automated agent) uses to inspect and adjust a running
// modulator: gains, frequency, muting, static delay, and the
// read-only counters and predistorter state. A fixed set of named,
// described operations is bound to concrete handlers, rather than a
// generic reflection-based RPC surface.
package remotecontrol

import (
	"fmt"
	"sort"
	"sync"
)

// Param is one named, remotely addressable value. Get always works;
// Set is nil for read-only parameters (the counters, ncoefs).
type Param struct {
	Name        string
	Description string
	Get         func() string
	Set         func(value string) error // nil => read-only
}

// ReadOnly reports whether the parameter rejects Set.
func (p *Param) ReadOnly() bool { return p.Set == nil }

// Registry is the set of parameters a Transmitter/Predistorter/
// GainControl exposes for remote control. It is safe for concurrent
// use; Param.Get/Set are expected to do their own synchronization
// against whatever they wrap.
type Registry struct {
	mu     sync.RWMutex
	params map[string]*Param
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{params: make(map[string]*Param)}
}

// Register adds p to the registry, replacing any existing parameter
// of the same name.
func (r *Registry) Register(p Param) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.params[p.Name] = &p
}

// Names returns every registered parameter name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.params))
	for name := range r.params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns the parameter's description and read-only flag.
func (r *Registry) Describe(name string) (desc string, readOnly bool, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.params[name]
	if !ok {
		return "", false, &UnknownParamError{Name: name}
	}
	return p.Description, p.ReadOnly(), nil
}

// GetValue reads the current string representation of a parameter.
func (r *Registry) GetValue(name string) (string, error) {
	r.mu.RLock()
	p, ok := r.params[name]
	r.mu.RUnlock()
	if !ok {
		return "", &UnknownParamError{Name: name}
	}
	return p.Get(), nil
}

// SetValue writes a parameter. It returns an error for unknown or
// read-only parameters, or whatever error the parameter's own setter
// returns (e.g. a malformed coefficients file).
func (r *Registry) SetValue(name, value string) error {
	r.mu.RLock()
	p, ok := r.params[name]
	r.mu.RUnlock()
	if !ok {
		return &UnknownParamError{Name: name}
	}
	if p.Set == nil {
		return &ReadOnlyParamError{Name: name}
	}
	return p.Set(value)
}

// UnknownParamError is returned for a name not present in the
// registry.
type UnknownParamError struct{ Name string }

func (e *UnknownParamError) Error() string {
	return fmt.Sprintf("remotecontrol: unknown parameter %q", e.Name)
}

// ReadOnlyParamError is returned when Set is attempted on a
// read-only parameter (a counter, or the predistorter's coefficient
// count).
type ReadOnlyParamError struct{ Name string }

func (e *ReadOnlyParamError) Error() string {
	return fmt.Sprintf("remotecontrol: parameter %q is read-only", e.Name)
}
