package typeref

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ParseError reports a malformed type string.
type ParseError struct {
	Input  string
	Offset int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("typeref: parse %q at %d: %s", e.Input, e.Offset, e.Msg)
}

// Parse reads the syntax produced by TypeRef.String.
func Parse(s string) (*TypeRef, error) {
	p := &parser{src: s}
	t, err := p.parseType()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, p.errorf("unexpected trailing input")
	}
	return t, nil
}

// MustParse is Parse that panics on error. Intended for tests and fixtures
// built from literals.
func MustParse(s string) *TypeRef {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

type parser struct {
	src string
	pos int
}

func (p *parser) errorf(format string, args ...any) error {
	return &ParseError{Input: p.src, Offset: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}
}

func (p *parser) rest() string { return p.src[p.pos:] }

func (p *parser) accept(tok string) bool {
	p.skipSpace()
	if strings.HasPrefix(p.rest(), tok) {
		p.pos += len(tok)
		return true
	}
	return false
}

func (p *parser) expect(tok string) error {
	if !p.accept(tok) {
		return p.errorf("expected %q", tok)
	}
	return nil
}

func isIdentRune(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func (p *parser) peekRune() (rune, int) {
	if p.pos >= len(p.src) {
		return utf8.RuneError, 0
	}
	return utf8.DecodeRuneInString(p.rest())
}

// segment reads one identifier segment without dots.
func (p *parser) segment() string {
	start := p.pos
	for {
		r, n := p.peekRune()
		if n == 0 || !isIdentRune(r) {
			break
		}
		p.pos += n
	}
	return p.src[start:p.pos]
}

// qualified reads dot-joined segments, stopping before a ".Type" suffix.
func (p *parser) qualified() (string, error) {
	p.skipSpace()
	first := p.segment()
	if first == "" {
		return "", p.errorf("expected identifier")
	}
	parts := []string{first}
	for p.pos < len(p.src) && p.src[p.pos] == '.' {
		save := p.pos
		p.pos++
		seg := p.segment()
		if seg == "" || seg == "Type" {
			p.pos = save
			break
		}
		parts = append(parts, seg)
	}
	return strings.Join(parts, "."), nil
}

func (p *parser) protocolRef() (ProtocolRef, error) {
	name, err := p.qualified()
	if err != nil {
		return ProtocolRef{}, err
	}
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return ProtocolRef{Module: name[:i], Name: name[i+1:]}, nil
	}
	return ProtocolRef{Name: name}, nil
}

func (p *parser) parseType() (*TypeRef, error) {
	p.skipSpace()
	if strings.HasPrefix(p.rest(), "any ") {
		p.pos += len("any ")
		inner, err := p.parseType()
		if err != nil {
			return nil, err
		}
		if inner.Kind != KindMetatype {
			return nil, p.errorf("existential metatype requires a .Type suffix")
		}
		return ExistentialMetatype(inner.Inner), nil
	}
	t, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	return p.parsePostfix(t)
}

func (p *parser) parsePostfix(t *TypeRef) (*TypeRef, error) {
	for {
		switch {
		case strings.HasPrefix(p.rest(), ".Type"):
			p.pos += len(".Type")
			t = Metatype(t)
		case strings.HasPrefix(p.rest(), "["):
			p.pos++
			proto, err := p.protocolRef()
			if err != nil {
				return nil, err
			}
			if err := p.expect("]."); err != nil {
				return nil, err
			}
			member := p.segment()
			if member == "" {
				return nil, p.errorf("expected member name")
			}
			t = DependentMember(member, t, proto)
		default:
			return t, nil
		}
	}
}

func (p *parser) parseList(closer string) ([]*TypeRef, error) {
	var out []*TypeRef
	if p.accept(closer) {
		return out, nil
	}
	for {
		t, err := p.parseType()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
		if p.accept(closer) {
			return out, nil
		}
		if err := p.expect(","); err != nil {
			return nil, err
		}
	}
}

func (p *parser) parseAtom() (*TypeRef, error) {
	p.skipSpace()
	rest := p.rest()
	switch {
	case rest == "":
		return nil, p.errorf("unexpected end of input")
	case strings.HasPrefix(rest, "["):
		p.pos++
		t, err := p.parseType()
		if err != nil {
			return nil, err
		}
		if err := p.expect("]"); err != nil {
			return nil, err
		}
		return t, nil
	case strings.HasPrefix(rest, "("):
		p.pos++
		elems, err := p.parseList(")")
		if err != nil {
			return nil, err
		}
		if p.accept("->") {
			result, err := p.parseType()
			if err != nil {
				return nil, err
			}
			return Function(elems, result), nil
		}
		return Tuple(elems...), nil
	case strings.HasPrefix(rest, "@opaque"):
		p.pos += len("@opaque")
		return Opaque(), nil
	case strings.HasPrefix(rest, "@foreign "):
		p.pos += len("@foreign ")
		name, err := p.qualified()
		if err != nil {
			return nil, err
		}
		return ForeignClass(name), nil
	case strings.HasPrefix(rest, "@objc "):
		p.pos += len("@objc ")
		name, err := p.qualified()
		if err != nil {
			return nil, err
		}
		return ObjCClass(name), nil
	case strings.HasPrefix(rest, "protocol<"):
		p.pos += len("protocol<")
		var protos []ProtocolRef
		if p.accept(">") {
			return Composition(), nil
		}
		for {
			ref, err := p.protocolRef()
			if err != nil {
				return nil, err
			}
			protos = append(protos, ref)
			if p.accept(">") {
				return Composition(protos...), nil
			}
			if err := p.expect("&"); err != nil {
				return nil, err
			}
		}
	case strings.HasPrefix(rest, "protocol "):
		p.pos += len("protocol ")
		ref, err := p.protocolRef()
		if err != nil {
			return nil, err
		}
		return &TypeRef{Kind: KindProtocol, Protocol: ref}, nil
	case strings.HasPrefix(rest, "τ_"):
		return p.parseGenericParam()
	}
	return p.parseNominal(nil)
}

func (p *parser) parseGenericParam() (*TypeRef, error) {
	p.pos += len("τ_")
	depthText := p.segment()
	parts := strings.SplitN(depthText, "_", 2)
	if len(parts) != 2 {
		return nil, p.errorf("malformed generic parameter %q", depthText)
	}
	depth, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return nil, p.errorf("bad depth: %v", err)
	}
	index, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return nil, p.errorf("bad index: %v", err)
	}
	return GenericParam(uint32(depth), uint32(index)), nil
}

func (p *parser) parseNominal(parent *TypeRef) (*TypeRef, error) {
	name, err := p.qualified()
	if err != nil {
		return nil, err
	}
	var t *TypeRef
	if strings.HasPrefix(p.rest(), "<") {
		p.pos++
		args, err := p.parseList(">")
		if err != nil {
			return nil, err
		}
		t = BoundGeneric(name, args, parent)
	} else if parent == nil && strings.HasPrefix(name, "Builtin.") && !strings.HasPrefix(p.rest(), "::") {
		t = Builtin(name)
	} else {
		t = Nominal(name, parent)
	}
	if strings.HasPrefix(p.rest(), "::") {
		p.pos += len("::")
		return p.parseNominal(t)
	}
	return t, nil
}
