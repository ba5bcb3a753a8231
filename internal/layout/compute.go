package layout

import (
	"fmt"
	"strconv"
	"strings"

	"fortio.org/safecast"

	"genspec/internal/typeref"
)

func (e *LayoutEngine) computeLayout(t *typeref.TypeRef, state *layoutState) (TypeLayout, *LayoutError) {
	switch t.Kind {
	case typeref.KindBuiltin:
		return e.builtinLayout(t.Name)

	case typeref.KindNominal, typeref.KindBoundGeneric:
		return e.nominalLayout(t, state)

	case typeref.KindTuple:
		return e.aggregateLayout(t.Elems, state)

	case typeref.KindFunction:
		// Function pointer plus context.
		l := e.ptrLayout()
		return TypeLayout{Size: 2 * l.Size, Align: l.Align, Loadable: true}, nil

	case typeref.KindProtocol:
		return e.existentialLayout(e.Facts.ClassBound(t.Protocol)), nil

	case typeref.KindProtocolComposition:
		bound := false
		for _, p := range t.Protocols {
			bound = bound || e.Facts.ClassBound(p)
		}
		return e.existentialLayout(bound), nil

	case typeref.KindMetatype, typeref.KindExistentialMetatype:
		l := e.ptrLayout()
		l.Loadable, l.Trivial = true, true
		return l, nil

	case typeref.KindForeignClass, typeref.KindObjCClass:
		return e.refLayout(), nil

	case typeref.KindGenericParam, typeref.KindDependentMember, typeref.KindOpaque, typeref.KindInvalid:
		return addressOnly(), nil

	default:
		panic(fmt.Sprintf("layout: unhandled kind %s", t.Kind))
	}
}

func (e *LayoutEngine) ptrLayout() TypeLayout {
	ptrSize := e.Target.PtrSize
	ptrAlign := e.Target.PtrAlign
	if ptrSize <= 0 {
		ptrSize = 8
	}
	if ptrAlign <= 0 {
		ptrAlign = ptrSize
	}
	return TypeLayout{Size: ptrSize, Align: ptrAlign}
}

// refLayout is a single strong reference.
func (e *LayoutEngine) refLayout() TypeLayout {
	l := e.ptrLayout()
	l.Loadable = true
	return l
}

// Class-bound existentials are a reference plus witness table; the rest
// use an inline buffer container and stay address-only.
func (e *LayoutEngine) existentialLayout(classBound bool) TypeLayout {
	if !classBound {
		return addressOnly()
	}
	l := e.ptrLayout()
	return TypeLayout{Size: 2 * l.Size, Align: l.Align, Loadable: true}
}

func scalarLayoutBytes(size int) TypeLayout {
	if size <= 0 {
		return TypeLayout{Size: 0, Align: 1, Loadable: true, Trivial: true}
	}
	return TypeLayout{Size: size, Align: size, Loadable: true, Trivial: true}
}

func (e *LayoutEngine) builtinLayout(name string) (TypeLayout, *LayoutError) {
	short := strings.TrimPrefix(name, "Builtin.")
	switch short {
	case "NativeObject", "BridgeObject", "UnknownObject":
		return e.refLayout(), nil
	case "RawPointer", "Word":
		l := e.ptrLayout()
		l.Loadable, l.Trivial = true, true
		return l, nil
	case "FPIEEE32":
		return scalarLayoutBytes(4), nil
	case "FPIEEE64":
		return scalarLayoutBytes(8), nil
	}
	if bits, ok := strings.CutPrefix(short, "Int"); ok {
		n, err := strconv.ParseUint(bits, 10, 16)
		if err != nil {
			return addressOnly(), &LayoutError{Kind: LayoutErrBadBuiltin, Type: name, Err: err}
		}
		width, err := safecast.Conv[int](n)
		if err != nil {
			return addressOnly(), &LayoutError{Kind: LayoutErrBadBuiltin, Type: name, Err: err}
		}
		return scalarLayoutBytes((width + 7) / 8), nil
	}
	// Unknown builtins are treated as opaque trivial words.
	l := e.ptrLayout()
	l.Loadable, l.Trivial = true, true
	return l, nil
}

func (e *LayoutEngine) nominalLayout(t *typeref.TypeRef, state *layoutState) (TypeLayout, *LayoutError) {
	facts, ok := e.Facts.Nominal(t.Nominal.Name)
	if !ok {
		return addressOnly(), nil
	}
	switch facts.Kind {
	case NominalClass:
		return e.refLayout(), nil
	case NominalResilient:
		return addressOnly(), nil
	}

	fields := facts.Fields
	if len(fields) > 0 {
		args := typeref.GenericArgumentMap{}
		for i, a := range t.Elems {
			idx, err := safecast.Conv[uint32](i)
			if err != nil {
				return addressOnly(), nil
			}
			args[typeref.DepthIndex{Depth: 0, Index: idx}] = a
		}
		subst := typeref.NewSubst(args, nil)
		fields = make([]*typeref.TypeRef, len(facts.Fields))
		for i, f := range facts.Fields {
			if !bound(f, args) {
				return addressOnly(), nil
			}
			st, ok := subst.Type(f)
			if !ok {
				return addressOnly(), nil
			}
			fields[i] = st
		}
	}

	if facts.Kind == NominalEnum {
		return e.enumLayout(fields, facts.EmptyCases, state)
	}
	return e.aggregateLayout(fields, state)
}

// bound reports whether every generic parameter of f has an argument.
func bound(f *typeref.TypeRef, args typeref.GenericArgumentMap) bool {
	for _, p := range f.GenericParams() {
		if _, ok := args[p]; !ok {
			return false
		}
	}
	return true
}

func roundUp(n, align int) int {
	if align <= 1 {
		return n
	}
	r := n % align
	if r == 0 {
		return n
	}
	return n + (align - r)
}

func (e *LayoutEngine) aggregateLayout(fields []*typeref.TypeRef, state *layoutState) (TypeLayout, *LayoutError) {
	out := TypeLayout{Align: 1, Loadable: true, Trivial: true}
	if len(fields) == 0 {
		return out, nil
	}
	out.FieldOffsets = make([]int, len(fields))
	size := 0
	for i, f := range fields {
		fl, err := e.layoutOf(f, state)
		if err != nil {
			return addressOnly(), err
		}
		out.Loadable = out.Loadable && fl.Loadable
		out.Trivial = out.Trivial && fl.Trivial
		a := max(fl.Align, 1)
		size = roundUp(size, a)
		out.FieldOffsets[i] = size
		size += fl.Size
		out.Align = max(out.Align, a)
	}
	if !out.Loadable {
		return addressOnly(), nil
	}
	out.Size = roundUp(size, out.Align)
	return out, nil
}

func (e *LayoutEngine) enumLayout(payloads []*typeref.TypeRef, emptyCases int, state *layoutState) (TypeLayout, *LayoutError) {
	out := TypeLayout{Align: 1, Loadable: true, Trivial: true}
	maxPayload := 0
	for _, p := range payloads {
		pl, err := e.layoutOf(p, state)
		if err != nil {
			return addressOnly(), err
		}
		out.Loadable = out.Loadable && pl.Loadable
		out.Trivial = out.Trivial && pl.Trivial
		maxPayload = max(maxPayload, pl.Size)
		out.Align = max(out.Align, pl.Align)
	}
	size := maxPayload
	if len(payloads)+emptyCases > 1 {
		size++
	}
	if !out.Loadable {
		return addressOnly(), nil
	}
	out.Size = roundUp(size, out.Align)
	return out, nil
}
