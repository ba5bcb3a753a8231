package typeref

import (
	"fmt"
	"slices"
	"strings"
)

// Kind enumerates all type reference variants.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindBuiltin
	KindNominal
	KindBoundGeneric
	KindTuple
	KindFunction
	KindProtocol
	KindProtocolComposition
	KindMetatype
	KindExistentialMetatype
	KindGenericParam
	KindDependentMember
	KindForeignClass
	KindObjCClass
	KindOpaque
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindBuiltin:
		return "builtin"
	case KindNominal:
		return "nominal"
	case KindBoundGeneric:
		return "bound_generic"
	case KindTuple:
		return "tuple"
	case KindFunction:
		return "function"
	case KindProtocol:
		return "protocol"
	case KindProtocolComposition:
		return "protocol_composition"
	case KindMetatype:
		return "metatype"
	case KindExistentialMetatype:
		return "existential_metatype"
	case KindGenericParam:
		return "generic_param"
	case KindDependentMember:
		return "dependent_member"
	case KindForeignClass:
		return "foreign_class"
	case KindObjCClass:
		return "objc_class"
	case KindOpaque:
		return "opaque"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// NominalInfo is shared by nominal and bound generic references.
type NominalInfo struct {
	Name   string
	Parent *TypeRef
}

// ProtocolRef names a protocol. Equality is by module and name.
type ProtocolRef struct {
	Module string
	Name   string
}

func (p ProtocolRef) String() string {
	if p.Module == "" {
		return p.Name
	}
	return p.Module + "." + p.Name
}

// Less orders protocol refs by module, then name.
func (p ProtocolRef) Less(o ProtocolRef) bool {
	if p.Module != o.Module {
		return p.Module < o.Module
	}
	return p.Name < o.Name
}

// TypeRef is an immutable type expression. Nodes are never mutated after
// construction and may be shared freely between trees and goroutines.
// Use the constructors below; they copy their slice arguments.
type TypeRef struct {
	Kind Kind

	// Builtin, ForeignClass, ObjCClass: the type name.
	// DependentMember: the member name.
	Name string

	// Nominal, BoundGeneric.
	Nominal NominalInfo

	// BoundGeneric: generic arguments. Tuple: elements. Function: arguments.
	Elems []*TypeRef
	// Function result.
	Result *TypeRef

	// Protocol; DependentMember owner.
	Protocol ProtocolRef
	// ProtocolComposition members, sorted and deduplicated.
	Protocols []ProtocolRef

	// Metatype, ExistentialMetatype: instance type. DependentMember: base.
	Inner *TypeRef

	// GenericParam.
	Depth uint32
	Index uint32
}

func Builtin(name string) *TypeRef {
	return &TypeRef{Kind: KindBuiltin, Name: name}
}

func Nominal(name string, parent *TypeRef) *TypeRef {
	return &TypeRef{Kind: KindNominal, Nominal: NominalInfo{Name: name, Parent: parent}}
}

func BoundGeneric(name string, args []*TypeRef, parent *TypeRef) *TypeRef {
	return &TypeRef{
		Kind:    KindBoundGeneric,
		Nominal: NominalInfo{Name: name, Parent: parent},
		Elems:   slices.Clone(args),
	}
}

func Tuple(elems ...*TypeRef) *TypeRef {
	return &TypeRef{Kind: KindTuple, Elems: slices.Clone(elems)}
}

// Void is the empty tuple.
func Void() *TypeRef {
	return &TypeRef{Kind: KindTuple}
}

func Function(args []*TypeRef, result *TypeRef) *TypeRef {
	if result == nil {
		result = Void()
	}
	return &TypeRef{Kind: KindFunction, Elems: slices.Clone(args), Result: result}
}

func Protocol(module, name string) *TypeRef {
	return &TypeRef{Kind: KindProtocol, Protocol: ProtocolRef{Module: module, Name: name}}
}

// Composition builds a protocol composition. Members form a set: order and
// duplicates in the argument do not matter.
func Composition(protos ...ProtocolRef) *TypeRef {
	set := slices.Clone(protos)
	slices.SortFunc(set, func(a, b ProtocolRef) int {
		switch {
		case a == b:
			return 0
		case a.Less(b):
			return -1
		default:
			return 1
		}
	})
	return &TypeRef{Kind: KindProtocolComposition, Protocols: slices.Compact(set)}
}

func Metatype(instance *TypeRef) *TypeRef {
	return &TypeRef{Kind: KindMetatype, Inner: instance}
}

func ExistentialMetatype(instance *TypeRef) *TypeRef {
	return &TypeRef{Kind: KindExistentialMetatype, Inner: instance}
}

func GenericParam(depth, index uint32) *TypeRef {
	return &TypeRef{Kind: KindGenericParam, Depth: depth, Index: index}
}

func DependentMember(member string, base *TypeRef, proto ProtocolRef) *TypeRef {
	return &TypeRef{Kind: KindDependentMember, Name: member, Inner: base, Protocol: proto}
}

func ForeignClass(name string) *TypeRef {
	return &TypeRef{Kind: KindForeignClass, Name: name}
}

func ObjCClass(name string) *TypeRef {
	return &TypeRef{Kind: KindObjCClass, Name: name}
}

func Opaque() *TypeRef {
	return &TypeRef{Kind: KindOpaque}
}

// NominalName returns the mangled name of a nominal or bound generic type.
func (t *TypeRef) NominalName() (string, bool) {
	if t == nil || (t.Kind != KindNominal && t.Kind != KindBoundGeneric) {
		return "", false
	}
	return t.Nominal.Name, true
}

// IsVoid reports whether t is the empty tuple.
func (t *TypeRef) IsVoid() bool {
	return t != nil && t.Kind == KindTuple && len(t.Elems) == 0
}

// Children returns the direct child references of t in declaration order.
func (t *TypeRef) Children() []*TypeRef {
	if t == nil {
		return nil
	}
	switch t.Kind {
	case KindNominal:
		if t.Nominal.Parent != nil {
			return []*TypeRef{t.Nominal.Parent}
		}
		return nil
	case KindBoundGeneric:
		out := slices.Clone(t.Elems)
		if t.Nominal.Parent != nil {
			out = append(out, t.Nominal.Parent)
		}
		return out
	case KindTuple:
		return slices.Clone(t.Elems)
	case KindFunction:
		return append(slices.Clone(t.Elems), t.Result)
	case KindMetatype, KindExistentialMetatype, KindDependentMember:
		return []*TypeRef{t.Inner}
	case KindBuiltin, KindProtocol, KindProtocolComposition, KindGenericParam,
		KindForeignClass, KindObjCClass, KindOpaque, KindInvalid:
		return nil
	default:
		panic(fmt.Sprintf("typeref: unhandled kind %s", t.Kind))
	}
}

// Walk visits t and its descendants depth-first, pre-order. Returning false
// from visit stops the walk.
func Walk(t *TypeRef, visit func(*TypeRef) bool) bool {
	if t == nil {
		return true
	}
	if !visit(t) {
		return false
	}
	for _, c := range t.Children() {
		if !Walk(c, visit) {
			return false
		}
	}
	return true
}

// IsConcrete reports whether no generic parameter and no dependent member is
// reachable from t.
func (t *TypeRef) IsConcrete() bool {
	return Walk(t, func(n *TypeRef) bool {
		return n.Kind != KindGenericParam && n.Kind != KindDependentMember
	})
}

// GenericParams returns the distinct generic parameters reachable from t, in
// first-seen order.
func (t *TypeRef) GenericParams() []DepthIndex {
	var out []DepthIndex
	Walk(t, func(n *TypeRef) bool {
		if n.Kind == KindGenericParam {
			di := DepthIndex{Depth: n.Depth, Index: n.Index}
			if !slices.Contains(out, di) {
				out = append(out, di)
			}
		}
		return true
	})
	return out
}

// Equal compares two trees structurally.
func Equal(a, b *TypeRef) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil || a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindBuiltin, KindForeignClass, KindObjCClass:
		return a.Name == b.Name
	case KindNominal:
		return a.Nominal.Name == b.Nominal.Name && Equal(a.Nominal.Parent, b.Nominal.Parent)
	case KindBoundGeneric:
		return a.Nominal.Name == b.Nominal.Name && Equal(a.Nominal.Parent, b.Nominal.Parent) && equalList(a.Elems, b.Elems)
	case KindTuple:
		return equalList(a.Elems, b.Elems)
	case KindFunction:
		return equalList(a.Elems, b.Elems) && Equal(a.Result, b.Result)
	case KindProtocol:
		return a.Protocol == b.Protocol
	case KindProtocolComposition:
		return slices.Equal(a.Protocols, b.Protocols)
	case KindMetatype, KindExistentialMetatype:
		return Equal(a.Inner, b.Inner)
	case KindGenericParam:
		return a.Depth == b.Depth && a.Index == b.Index
	case KindDependentMember:
		return a.Name == b.Name && a.Protocol == b.Protocol && Equal(a.Inner, b.Inner)
	case KindOpaque, KindInvalid:
		return true
	default:
		panic(fmt.Sprintf("typeref: unhandled kind %s", a.Kind))
	}
}

func equalList(a, b []*TypeRef) bool {
	return slices.EqualFunc(a, b, Equal)
}

// ListString formats a list of types separated by ", ".
func ListString(list []*TypeRef) string {
	parts := make([]string, len(list))
	for i, t := range list {
		parts[i] = t.String()
	}
	return strings.Join(parts, ", ")
}
