package typeref

import (
	"fmt"
	"slices"
	"sort"
)

// DepthIndex identifies a generic parameter.
type DepthIndex struct {
	Depth uint32
	Index uint32
}

func (d DepthIndex) String() string { return fmt.Sprintf("τ_%d_%d", d.Depth, d.Index) }

// Less orders by depth, then index.
func (d DepthIndex) Less(o DepthIndex) bool {
	if d.Depth != o.Depth {
		return d.Depth < o.Depth
	}
	return d.Index < o.Index
}

// GenericArgumentMap binds generic parameters to replacement types.
type GenericArgumentMap map[DepthIndex]*TypeRef

// SortedKeys returns the keys ordered by (depth, index).
func (m GenericArgumentMap) SortedKeys() []DepthIndex {
	keys := make([]DepthIndex, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// Clone returns a shallow copy; the bound trees are immutable.
func (m GenericArgumentMap) Clone() GenericArgumentMap {
	out := make(GenericArgumentMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// IsConcrete reports whether every replacement is concrete.
func (m GenericArgumentMap) IsConcrete() bool {
	for _, v := range m {
		if !v.IsConcrete() {
			return false
		}
	}
	return true
}

// Equal compares two maps by key set and structural value equality.
func (m GenericArgumentMap) Equal(o GenericArgumentMap) bool {
	if len(m) != len(o) {
		return false
	}
	for k, v := range m {
		w, ok := o[k]
		if !ok || !Equal(v, w) {
			return false
		}
	}
	return true
}

func (m GenericArgumentMap) String() string {
	keys := m.SortedKeys()
	out := make([]byte, 0, 16*len(keys))
	out = append(out, '{')
	for i, k := range keys {
		if i > 0 {
			out = append(out, ", "...)
		}
		out = append(out, k.String()...)
		out = append(out, " := "...)
		out = append(out, m[k].String()...)
	}
	out = append(out, '}')
	return string(out)
}

// WitnessResolver answers associated type lookups: the type that a nominal
// type binds to member when conforming to proto.
type WitnessResolver interface {
	LookupWitness(typeName, member string, proto ProtocolRef) (*TypeRef, bool)
}

// MissingBindingError is raised via panic when a generic parameter has no
// binding in the argument map. Callers are required to pass a complete map.
type MissingBindingError struct {
	Param DepthIndex
}

func (e *MissingBindingError) Error() string {
	return fmt.Sprintf("typeref: no binding for generic parameter %s", e.Param)
}

// Subst rewrites type trees under a fixed argument map.
type Subst struct {
	Args     GenericArgumentMap
	Resolver WitnessResolver

	cache map[*TypeRef]substResult
	// resolving holds the witness lookups whose result is being
	// substituted. Entering one again means the witnesses form a cycle.
	resolving map[witnessLookup]bool
}

type witnessLookup struct {
	typeName string
	member   string
	proto    ProtocolRef
}

type substResult struct {
	t  *TypeRef
	ok bool
}

// NewSubst builds a substitutor. A nil resolver leaves every dependent
// member unresolved.
func NewSubst(args GenericArgumentMap, resolver WitnessResolver) *Subst {
	return &Subst{Args: args, Resolver: resolver, cache: make(map[*TypeRef]substResult)}
}

// Substitute is a convenience wrapper around a throwaway Subst.
func Substitute(t *TypeRef, args GenericArgumentMap, resolver WitnessResolver) (*TypeRef, bool) {
	return NewSubst(args, resolver).Type(t)
}

// Type returns the substituted tree, or ok=false when some dependent member
// cannot be resolved. Failure is atomic: no partial tree is returned.
// Subtrees with nothing to replace are returned as-is.
func (s *Subst) Type(t *TypeRef) (*TypeRef, bool) {
	if s == nil || t == nil {
		return t, true
	}
	if s.cache == nil {
		s.cache = make(map[*TypeRef]substResult)
	}
	if r, hit := s.cache[t]; hit {
		return r.t, r.ok
	}
	out, ok := s.typeNoCache(t)
	if !ok {
		out = nil
	}
	s.cache[t] = substResult{t: out, ok: ok}
	return out, ok
}

// MustType panics if substitution fails.
func (s *Subst) MustType(t *TypeRef) *TypeRef {
	out, ok := s.Type(t)
	if !ok {
		panic(fmt.Sprintf("typeref: cannot substitute %s under %s", t, s.Args))
	}
	return out
}

func (s *Subst) typeNoCache(t *TypeRef) (*TypeRef, bool) {
	switch t.Kind {
	case KindBuiltin, KindProtocol, KindProtocolComposition,
		KindForeignClass, KindObjCClass, KindOpaque, KindInvalid:
		return t, true

	case KindGenericParam:
		key := DepthIndex{Depth: t.Depth, Index: t.Index}
		repl, ok := s.Args[key]
		if !ok {
			panic(&MissingBindingError{Param: key})
		}
		return repl, true

	case KindNominal:
		if t.Nominal.Parent == nil {
			return t, true
		}
		parent, ok := s.Type(t.Nominal.Parent)
		if !ok {
			return nil, false
		}
		if parent == t.Nominal.Parent {
			return t, true
		}
		return Nominal(t.Nominal.Name, parent), true

	case KindBoundGeneric:
		args, ok, changed := s.list(t.Elems)
		if !ok {
			return nil, false
		}
		parent, ok := s.Type(t.Nominal.Parent)
		if !ok {
			return nil, false
		}
		if !changed && parent == t.Nominal.Parent {
			return t, true
		}
		return &TypeRef{
			Kind:    KindBoundGeneric,
			Nominal: NominalInfo{Name: t.Nominal.Name, Parent: parent},
			Elems:   args,
		}, true

	case KindTuple:
		elems, ok, changed := s.list(t.Elems)
		if !ok {
			return nil, false
		}
		if !changed {
			return t, true
		}
		return &TypeRef{Kind: KindTuple, Elems: elems}, true

	case KindFunction:
		args, ok, changed := s.list(t.Elems)
		if !ok {
			return nil, false
		}
		result, ok := s.Type(t.Result)
		if !ok {
			return nil, false
		}
		if !changed && result == t.Result {
			return t, true
		}
		return &TypeRef{Kind: KindFunction, Elems: args, Result: result}, true

	case KindMetatype:
		inner, ok := s.Type(t.Inner)
		if !ok {
			return nil, false
		}
		if inner == t.Inner {
			return t, true
		}
		return Metatype(inner), true

	case KindExistentialMetatype:
		// Stays existential: the instance of "any P.Type" is a protocol
		// type whatever the substitution binds.
		inner, ok := s.Type(t.Inner)
		if !ok {
			return nil, false
		}
		if inner == t.Inner {
			return t, true
		}
		return ExistentialMetatype(inner), true

	case KindDependentMember:
		return s.dependentMember(t)

	default:
		panic(fmt.Sprintf("typeref: unhandled kind %s", t.Kind))
	}
}

func (s *Subst) dependentMember(t *TypeRef) (*TypeRef, bool) {
	base, ok := s.Type(t.Inner)
	if !ok || !base.IsConcrete() {
		return nil, false
	}
	name, isNominal := base.NominalName()
	if !isNominal || s.Resolver == nil {
		return nil, false
	}
	key := witnessLookup{typeName: name, member: t.Name, proto: t.Protocol}
	if s.resolving[key] {
		return nil, false
	}
	witness, found := s.Resolver.LookupWitness(name, t.Name, t.Protocol)
	if !found || witness == nil {
		return nil, false
	}
	if s.resolving == nil {
		s.resolving = make(map[witnessLookup]bool)
	}
	s.resolving[key] = true
	defer delete(s.resolving, key)
	return s.Type(witness)
}

// list substitutes each element. The returned slice aliases the input when
// nothing changed.
func (s *Subst) list(in []*TypeRef) ([]*TypeRef, bool, bool) {
	var out []*TypeRef
	for i, e := range in {
		r, ok := s.Type(e)
		if !ok {
			return nil, false, false
		}
		if r != e && out == nil {
			out = slices.Clone(in[:i])
		}
		if out != nil {
			out = append(out, r)
		}
	}
	if out == nil {
		return in, true, false
	}
	return out, true, true
}
