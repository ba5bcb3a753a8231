package sil

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Module owns the functions of one compilation unit. Function lookup and
// insertion are safe for concurrent use; function bodies are not.
type Module struct {
	Name string

	mu    sync.RWMutex
	funcs map[string]*Function
	order []string
}

func NewModule(name string) *Module {
	return &Module{Name: name, funcs: make(map[string]*Function)}
}

// AddFunction registers f. Names must be unique.
func (m *Module) AddFunction(f *Function) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.funcs[f.Name]; ok {
		return fmt.Errorf("sil: duplicate function %q in module %s", f.Name, m.Name)
	}
	m.funcs[f.Name] = f
	m.order = append(m.order, f.Name)
	return nil
}

// AddFunctionIfAbsent registers f unless a function with the same name is
// already present, and returns whichever function the module now holds.
func (m *Module) AddFunctionIfAbsent(f *Function) (*Function, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.funcs[f.Name]; ok {
		return existing, false
	}
	m.funcs[f.Name] = f
	m.order = append(m.order, f.Name)
	return f, true
}

// GetOrCreate returns the function named name, building it with create
// under the module lock when it is missing. create must not call back into
// the module.
func (m *Module) GetOrCreate(name string, create func() *Function) (*Function, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.funcs[name]; ok {
		return existing, false
	}
	f := create()
	if f.Name != name {
		panic(fmt.Sprintf("sil: GetOrCreate(%q) built %q", name, f.Name))
	}
	m.funcs[name] = f
	m.order = append(m.order, name)
	return f, true
}

func (m *Module) LookupFunction(name string) (*Function, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.funcs[name]
	return f, ok
}

// RemoveFunction drops f from the module.
func (m *Module) RemoveFunction(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.funcs[name]; !ok {
		return
	}
	delete(m.funcs, name)
	m.order = slices.DeleteFunc(m.order, func(n string) bool { return n == name })
}

// Functions returns a snapshot in insertion order.
func (m *Module) Functions() []*Function {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Function, 0, len(m.order))
	for _, n := range m.order {
		out = append(out, m.funcs[n])
	}
	return out
}

// SortedFunctions returns a snapshot ordered by name.
func (m *Module) SortedFunctions() []*Function {
	fns := m.Functions()
	slices.SortFunc(fns, func(a, b *Function) int { return strings.Compare(a.Name, b.Name) })
	return fns
}

func (m *Module) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.funcs)
}
