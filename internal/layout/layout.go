package layout

import (
	"genspec/internal/mangle"
	"genspec/internal/typeref"
)

// TypeLayout is the ABI layout of a type for a specific Target.
type TypeLayout struct {
	Size  int
	Align int

	// Loadable types have a register representation; the rest are
	// address-only and always passed indirectly.
	Loadable bool
	// Trivial types need no retain, release or destroy.
	Trivial bool

	// Struct and tuple only.
	FieldOffsets []int
}

func addressOnly() TypeLayout {
	return TypeLayout{Size: 0, Align: 1}
}

// LayoutEngine computes memory layout for type references.
type LayoutEngine struct {
	Target Target
	Facts  *Facts

	cache *cache
}

// New creates a new LayoutEngine for the specified target.
func New(target Target, facts *Facts) *LayoutEngine {
	if facts == nil {
		facts = DefaultFacts()
	}
	return &LayoutEngine{
		Target: target,
		Facts:  facts,
		cache:  newCache(),
	}
}

type layoutState struct {
	stack []string
	index map[string]int
}

func newLayoutState() *layoutState {
	return &layoutState{
		stack: nil,
		index: make(map[string]int, 32),
	}
}

// LayoutOf computes and caches the layout of a type.
func (e *LayoutEngine) LayoutOf(t *typeref.TypeRef) (TypeLayout, error) {
	if e == nil || t == nil {
		return addressOnly(), nil
	}
	if e.cache == nil {
		e.cache = newCache()
	}
	layout, err := e.layoutOf(t, newLayoutState())
	if err != nil {
		return layout, err
	}
	return layout, nil
}

func (e *LayoutEngine) layoutOf(t *typeref.TypeRef, state *layoutState) (TypeLayout, *LayoutError) {
	key := mangle.Type(t)
	if cached, ok := e.cache.get(key); ok {
		return cached.Layout, cached.Err
	}

	if idx, ok := state.index[key]; ok {
		cycle := make([]string, 0, len(state.stack)-idx+1)
		for _, k := range state.stack[idx:] {
			cycle = append(cycle, displayKey(k))
		}
		cycle = append(cycle, t.String())
		err := &LayoutError{Kind: LayoutErrRecursive, Type: t.String(), Cycle: cycle}
		e.cache.put(key, cacheEntry{Layout: addressOnly(), Err: err})
		return addressOnly(), err
	}

	state.index[key] = len(state.stack)
	state.stack = append(state.stack, key)
	layout, err := e.computeLayout(t, state)
	state.stack = state.stack[:len(state.stack)-1]
	delete(state.index, key)

	if err != nil {
		layout = addressOnly()
	}
	e.cache.put(key, cacheEntry{Layout: layout, Err: err})
	return layout, err
}

func displayKey(key string) string {
	if t, err := mangle.DecodeType(key); err == nil {
		return t.String()
	}
	return key
}

// SizeOf returns the size of a type in bytes.
func (e *LayoutEngine) SizeOf(t *typeref.TypeRef) (int, error) {
	l, err := e.LayoutOf(t)
	return l.Size, err
}

// AlignOf returns the alignment requirement of a type in bytes.
func (e *LayoutEngine) AlignOf(t *typeref.TypeRef) (int, error) {
	l, err := e.LayoutOf(t)
	return l.Align, err
}

// IsLoadable reports whether t can be passed in registers. Types whose
// layout fails are treated as address-only.
func (e *LayoutEngine) IsLoadable(t *typeref.TypeRef) bool {
	l, err := e.LayoutOf(t)
	return err == nil && l.Loadable
}

// IsTrivial reports whether t carries no ownership.
func (e *LayoutEngine) IsTrivial(t *typeref.TypeRef) bool {
	l, err := e.LayoutOf(t)
	return err == nil && l.Trivial
}

// CachedTypes reports how many distinct types have been laid out.
func (e *LayoutEngine) CachedTypes() int {
	if e == nil {
		return 0
	}
	return e.cache.len()
}
