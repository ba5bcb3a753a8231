package mangle

import (
	"fmt"
	"strconv"
	"strings"

	"fortio.org/safecast"

	"genspec/internal/typeref"
)

// SymbolKind distinguishes plain functions from specializations.
type SymbolKind uint8

const (
	SymbolFunction SymbolKind = iota
	SymbolSpecialization
	// SymbolNotReabstracted is a specialization symbol minted for a thunk
	// that keeps the unspecialized calling convention.
	SymbolNotReabstracted
)

// Symbol is a decoded function symbol.
type Symbol struct {
	Kind SymbolKind
	ID   Identity
	Subs typeref.GenericArgumentMap
}

// DecodeError reports malformed input.
type DecodeError struct {
	Input  string
	Offset int
	Msg    string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("mangle: decode %q at %d: %s", e.Input, e.Offset, e.Msg)
}

type decoder struct {
	src string
	pos int
}

func (d *decoder) errorf(format string, args ...any) error {
	return &DecodeError{Input: d.src, Offset: d.pos, Msg: fmt.Sprintf(format, args...)}
}

func (d *decoder) eof() bool { return d.pos >= len(d.src) }

func (d *decoder) next() (byte, error) {
	if d.eof() {
		return 0, d.errorf("unexpected end of input")
	}
	c := d.src[d.pos]
	d.pos++
	return c, nil
}

func (d *decoder) number() (int, error) {
	start := d.pos
	for !d.eof() && d.src[d.pos] >= '0' && d.src[d.pos] <= '9' {
		d.pos++
	}
	if start == d.pos {
		return 0, d.errorf("expected number")
	}
	n, err := strconv.Atoi(d.src[start:d.pos])
	if err != nil {
		return 0, d.errorf("bad number: %v", err)
	}
	return n, nil
}

func (d *decoder) ident() (string, error) {
	n, err := d.count()
	if err != nil {
		return "", err
	}
	if d.pos+n > len(d.src) {
		return "", d.errorf("identifier of length %d overruns input", n)
	}
	s := d.src[d.pos : d.pos+n]
	d.pos += n
	return s, nil
}

func (d *decoder) count() (int, error) {
	n, err := d.number()
	if err != nil {
		return 0, err
	}
	c, err := d.next()
	if err != nil {
		return 0, err
	}
	if c != '_' {
		return 0, d.errorf("expected '_' after count")
	}
	return n, nil
}

func (d *decoder) index() (uint32, error) {
	n, err := d.count()
	if err != nil {
		return 0, err
	}
	v, err := safecast.Conv[uint32](n)
	if err != nil {
		return 0, d.errorf("generic parameter index out of range: %v", err)
	}
	return v, nil
}

func (d *decoder) list() ([]*typeref.TypeRef, error) {
	n, err := d.count()
	if err != nil {
		return nil, err
	}
	out := make([]*typeref.TypeRef, 0, n)
	for range n {
		t, err := d.typ()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (d *decoder) genericParam() (uint32, uint32, error) {
	depth, err := d.index()
	if err != nil {
		return 0, 0, err
	}
	index, err := d.index()
	if err != nil {
		return 0, 0, err
	}
	return depth, index, nil
}

func (d *decoder) typ() (*typeref.TypeRef, error) {
	op, err := d.next()
	if err != nil {
		return nil, err
	}
	switch op {
	case 'B':
		name, err := d.ident()
		if err != nil {
			return nil, err
		}
		return typeref.Builtin(name), nil
	case 'N', 'n', 'G', 'g':
		var parent *typeref.TypeRef
		if op == 'n' || op == 'g' {
			if parent, err = d.typ(); err != nil {
				return nil, err
			}
		}
		name, err := d.ident()
		if err != nil {
			return nil, err
		}
		if op == 'N' || op == 'n' {
			return typeref.Nominal(name, parent), nil
		}
		args, err := d.list()
		if err != nil {
			return nil, err
		}
		return typeref.BoundGeneric(name, args, parent), nil
	case 'T':
		elems, err := d.list()
		if err != nil {
			return nil, err
		}
		return typeref.Tuple(elems...), nil
	case 'F':
		args, err := d.list()
		if err != nil {
			return nil, err
		}
		result, err := d.typ()
		if err != nil {
			return nil, err
		}
		return typeref.Function(args, result), nil
	case 'p':
		ref, err := d.protocolRef()
		if err != nil {
			return nil, err
		}
		return typeref.Protocol(ref.Module, ref.Name), nil
	case 'C':
		n, err := d.count()
		if err != nil {
			return nil, err
		}
		protos := make([]typeref.ProtocolRef, 0, n)
		for range n {
			ref, err := d.protocolRef()
			if err != nil {
				return nil, err
			}
			protos = append(protos, ref)
		}
		return typeref.Composition(protos...), nil
	case 'M', 'X':
		inner, err := d.typ()
		if err != nil {
			return nil, err
		}
		if op == 'M' {
			return typeref.Metatype(inner), nil
		}
		return typeref.ExistentialMetatype(inner), nil
	case 'x':
		depth, index, err := d.genericParam()
		if err != nil {
			return nil, err
		}
		return typeref.GenericParam(depth, index), nil
	case 'D':
		member, err := d.ident()
		if err != nil {
			return nil, err
		}
		ref, err := d.protocolRef()
		if err != nil {
			return nil, err
		}
		base, err := d.typ()
		if err != nil {
			return nil, err
		}
		return typeref.DependentMember(member, base, ref), nil
	case 'K', 'O':
		name, err := d.ident()
		if err != nil {
			return nil, err
		}
		if op == 'K' {
			return typeref.ForeignClass(name), nil
		}
		return typeref.ObjCClass(name), nil
	case 'Q':
		return typeref.Opaque(), nil
	default:
		d.pos--
		return nil, d.errorf("unknown type operator %q", op)
	}
}

func (d *decoder) protocolRef() (typeref.ProtocolRef, error) {
	mod, err := d.ident()
	if err != nil {
		return typeref.ProtocolRef{}, err
	}
	name, err := d.ident()
	if err != nil {
		return typeref.ProtocolRef{}, err
	}
	return typeref.ProtocolRef{Module: mod, Name: name}, nil
}

// DecodeType decodes a complete type encoding.
func DecodeType(s string) (*typeref.TypeRef, error) {
	d := &decoder{src: s}
	t, err := d.typ()
	if err != nil {
		return nil, err
	}
	if !d.eof() {
		return nil, d.errorf("trailing input")
	}
	return t, nil
}

// DecodeSymbol decodes a function or specialization symbol.
func DecodeSymbol(s string) (Symbol, error) {
	d := &decoder{src: s}
	if !strings.HasPrefix(s, SymbolPrefix) {
		return Symbol{}, d.errorf("missing %q prefix", SymbolPrefix)
	}
	d.pos = len(SymbolPrefix)
	var sym Symbol
	var err error
	if sym.ID.Module, err = d.ident(); err != nil {
		return Symbol{}, err
	}
	if sym.ID.Name, err = d.ident(); err != nil {
		return Symbol{}, err
	}
	rest := s[d.pos:]
	switch {
	case rest == opFunction:
		sym.Kind = SymbolFunction
		return sym, nil
	case strings.HasPrefix(rest, opSpecialization):
		sym.Kind = SymbolSpecialization
	case strings.HasPrefix(rest, opNotReabstractedSpecialized):
		sym.Kind = SymbolNotReabstracted
	default:
		return Symbol{}, d.errorf("unknown symbol suffix %q", rest)
	}
	d.pos += len(opSpecialization)
	n, err := d.count()
	if err != nil {
		return Symbol{}, err
	}
	sym.Subs = make(typeref.GenericArgumentMap, n)
	for range n {
		c, err := d.next()
		if err != nil {
			return Symbol{}, err
		}
		if c != 'x' {
			return Symbol{}, d.errorf("expected generic parameter key")
		}
		depth, index, err := d.genericParam()
		if err != nil {
			return Symbol{}, err
		}
		t, err := d.typ()
		if err != nil {
			return Symbol{}, err
		}
		sym.Subs[typeref.DepthIndex{Depth: depth, Index: index}] = t
	}
	if !d.eof() {
		return Symbol{}, d.errorf("trailing input")
	}
	return sym, nil
}

// String renders the symbol in readable form.
func (s Symbol) String() string {
	switch s.Kind {
	case SymbolFunction:
		return s.ID.String()
	case SymbolSpecialization, SymbolNotReabstracted:
		var sb strings.Builder
		sb.WriteString("generic ")
		if s.Kind == SymbolNotReabstracted {
			sb.WriteString("not re-abstracted ")
		}
		sb.WriteString("specialization <")
		for i, k := range s.Subs.SortedKeys() {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(s.Subs[k].String())
		}
		sb.WriteString("> of ")
		sb.WriteString(s.ID.String())
		return sb.String()
	default:
		return fmt.Sprintf("<symbol kind %d>", s.Kind)
	}
}

// Demangle returns the readable form of a function symbol.
func Demangle(s string) (string, error) {
	sym, err := DecodeSymbol(s)
	if err != nil {
		return "", err
	}
	return sym.String(), nil
}

// DemangleOrSelf returns s unchanged when it does not decode.
func DemangleOrSelf(s string) string {
	out, err := Demangle(s)
	if err != nil {
		return s
	}
	return out
}
