package backend

import (
	"errors"
	"sort"
	"sync"
)

// Systems keeps the context of each named linear system. Defining a name
// again replaces its context, destroying the previous one.
type Systems struct {
	mu     sync.Mutex
	reg    *Registry
	byName map[string]*Context
}

// NewSystems binds named systems to reg, DefaultRegistry when nil
func NewSystems(reg *Registry) *Systems {
	if reg == nil {
		reg = DefaultRegistry()
	}
	return &Systems{reg: reg, byName: make(map[string]*Context)}
}

// Define creates the context of system name with the given solver and
// preconditioner types
func (s *Systems) Define(name string, solver, precond Type, hook SetupHook, hookCtx any) (c *Context, err error) {
	if c, err = Create(s.reg, solver, precond, hook, hookCtx); err != nil {
		return
	}
	s.mu.Lock()
	old := s.byName[name]
	s.byName[name] = c
	s.mu.Unlock()
	if old != nil {
		err = old.Destroy()
	}
	return
}

// Find returns the context of system name, nil if it was never defined
func (s *Systems) Find(name string) *Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byName[name]
}

func (s *Systems) Names() (names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range s.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return
}

// Remove destroys the context of system name
func (s *Systems) Remove(name string) error {
	s.mu.Lock()
	c := s.byName[name]
	delete(s.byName, name)
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Destroy()
}

// Destroy destroys every context, in name order
func (s *Systems) Destroy() error {
	var errs []error
	for _, name := range s.Names() {
		errs = append(errs, s.Remove(name))
	}
	return errors.Join(errs...)
}
