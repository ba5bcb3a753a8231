package typeref

import (
	"fmt"
	"strings"
)

// String renders t in the readable syntax accepted by Parse.
func (t *TypeRef) String() string {
	if t == nil {
		return "<nil>"
	}
	var sb strings.Builder
	write(&sb, t)
	return sb.String()
}

func write(sb *strings.Builder, t *TypeRef) {
	switch t.Kind {
	case KindBuiltin:
		sb.WriteString(t.Name)
	case KindNominal:
		writeParent(sb, t.Nominal.Parent)
		sb.WriteString(t.Nominal.Name)
	case KindBoundGeneric:
		writeParent(sb, t.Nominal.Parent)
		sb.WriteString(t.Nominal.Name)
		sb.WriteByte('<')
		writeList(sb, t.Elems)
		sb.WriteByte('>')
	case KindTuple:
		sb.WriteByte('(')
		writeList(sb, t.Elems)
		sb.WriteByte(')')
	case KindFunction:
		sb.WriteByte('(')
		writeList(sb, t.Elems)
		sb.WriteString(") -> ")
		write(sb, t.Result)
	case KindProtocol:
		sb.WriteString("protocol ")
		sb.WriteString(t.Protocol.String())
	case KindProtocolComposition:
		sb.WriteString("protocol<")
		for i, p := range t.Protocols {
			if i > 0 {
				sb.WriteString(" & ")
			}
			sb.WriteString(p.String())
		}
		sb.WriteByte('>')
	case KindMetatype:
		writeInstance(sb, t.Inner)
		sb.WriteString(".Type")
	case KindExistentialMetatype:
		sb.WriteString("any ")
		writeInstance(sb, t.Inner)
		sb.WriteString(".Type")
	case KindGenericParam:
		fmt.Fprintf(sb, "τ_%d_%d", t.Depth, t.Index)
	case KindDependentMember:
		writeInstance(sb, t.Inner)
		fmt.Fprintf(sb, "[%s].%s", t.Protocol, t.Name)
	case KindForeignClass:
		sb.WriteString("@foreign ")
		sb.WriteString(t.Name)
	case KindObjCClass:
		sb.WriteString("@objc ")
		sb.WriteString(t.Name)
	case KindOpaque:
		sb.WriteString("@opaque")
	default:
		sb.WriteString("<invalid>")
	}
}

func writeParent(sb *strings.Builder, parent *TypeRef) {
	if parent == nil {
		return
	}
	write(sb, parent)
	sb.WriteString("::")
}

// Function types and protocol spellings are wrapped so that a trailing
// suffix binds to the whole instance type.
func writeInstance(sb *strings.Builder, t *TypeRef) {
	wrap := t.Kind == KindFunction || t.Kind == KindProtocol ||
		t.Kind == KindExistentialMetatype || t.Kind == KindForeignClass || t.Kind == KindObjCClass
	if wrap {
		sb.WriteByte('[')
	}
	write(sb, t)
	if wrap {
		sb.WriteByte(']')
	}
}

func writeList(sb *strings.Builder, list []*TypeRef) {
	for i, e := range list {
		if i > 0 {
			sb.WriteString(", ")
		}
		write(sb, e)
	}
}
