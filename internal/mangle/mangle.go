// Package mangle encodes type trees and specialization identities into
// compact, deterministic symbol strings and decodes them back.
//
// Type grammar (one leading operator byte per node):
//
//	B id            builtin
//	N id            nominal          n <parent> id       nested nominal
//	G id k <t>*     bound generic    g <parent> id k <t>* nested bound generic
//	T k <t>*        tuple
//	F k <t>* <r>    function
//	p id id         protocol (module, name)
//	C k (id id)*    protocol composition
//	M <t>           metatype
//	X <t>           existential metatype
//	x d_ i_         generic parameter
//	D id id id <t>  dependent member (member, module, protocol, base)
//	K id            foreign class
//	O id            objc class
//	Q               opaque
//
// A count k is decimal followed by '_'. An id is the count of its
// NFC-normalized bytes followed by the bytes.
package mangle

import (
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"genspec/internal/typeref"
)

const (
	// SymbolPrefix starts every function symbol.
	SymbolPrefix = "$s"

	opSpecialization             = "Tg"
	opNotReabstractedSpecialized = "TG"
	opFunction                   = "F"
)

// Identity names a function by its defining module and its entity path
// within that module, for example {Swift, Array.append}.
type Identity struct {
	Module string
	Name   string
}

func (id Identity) String() string {
	if id.Module == "" {
		return id.Name
	}
	return id.Module + "." + id.Name
}

// Type returns the encoding of t.
func Type(t *typeref.TypeRef) string {
	var sb strings.Builder
	writeType(&sb, t)
	return sb.String()
}

// Function returns the plain symbol of an unspecialized function.
func Function(id Identity) string {
	var sb strings.Builder
	sb.WriteString(SymbolPrefix)
	writeIdent(&sb, id.Module)
	writeIdent(&sb, id.Name)
	sb.WriteString(opFunction)
	return sb.String()
}

// Specialization returns the symbol of id specialized under subs. Keys are
// emitted in (depth, index) order so the result depends only on the map
// contents. A thunk that adapts the unspecialized convention uses
// reabstracted=false.
func Specialization(id Identity, subs typeref.GenericArgumentMap, reabstracted bool) string {
	var sb strings.Builder
	sb.WriteString(SymbolPrefix)
	writeIdent(&sb, id.Module)
	writeIdent(&sb, id.Name)
	if reabstracted {
		sb.WriteString(opSpecialization)
	} else {
		sb.WriteString(opNotReabstractedSpecialized)
	}
	keys := subs.SortedKeys()
	writeCount(&sb, len(keys))
	for _, k := range keys {
		writeGenericParam(&sb, k.Depth, k.Index)
		writeType(&sb, subs[k])
	}
	return sb.String()
}

func writeIdent(sb *strings.Builder, s string) {
	s = norm.NFC.String(s)
	writeCount(sb, len(s))
	sb.WriteString(s)
}

func writeCount(sb *strings.Builder, n int) {
	sb.WriteString(strconv.Itoa(n))
	sb.WriteByte('_')
}

func writeGenericParam(sb *strings.Builder, depth, index uint32) {
	sb.WriteByte('x')
	sb.WriteString(strconv.FormatUint(uint64(depth), 10))
	sb.WriteByte('_')
	sb.WriteString(strconv.FormatUint(uint64(index), 10))
	sb.WriteByte('_')
}

func writeList(sb *strings.Builder, list []*typeref.TypeRef) {
	writeCount(sb, len(list))
	for _, t := range list {
		writeType(sb, t)
	}
}

func writeType(sb *strings.Builder, t *typeref.TypeRef) {
	switch t.Kind {
	case typeref.KindBuiltin:
		sb.WriteByte('B')
		writeIdent(sb, t.Name)
	case typeref.KindNominal:
		if t.Nominal.Parent != nil {
			sb.WriteByte('n')
			writeType(sb, t.Nominal.Parent)
		} else {
			sb.WriteByte('N')
		}
		writeIdent(sb, t.Nominal.Name)
	case typeref.KindBoundGeneric:
		if t.Nominal.Parent != nil {
			sb.WriteByte('g')
			writeType(sb, t.Nominal.Parent)
		} else {
			sb.WriteByte('G')
		}
		writeIdent(sb, t.Nominal.Name)
		writeList(sb, t.Elems)
	case typeref.KindTuple:
		sb.WriteByte('T')
		writeList(sb, t.Elems)
	case typeref.KindFunction:
		sb.WriteByte('F')
		writeList(sb, t.Elems)
		writeType(sb, t.Result)
	case typeref.KindProtocol:
		sb.WriteByte('p')
		writeIdent(sb, t.Protocol.Module)
		writeIdent(sb, t.Protocol.Name)
	case typeref.KindProtocolComposition:
		sb.WriteByte('C')
		writeCount(sb, len(t.Protocols))
		for _, p := range t.Protocols {
			writeIdent(sb, p.Module)
			writeIdent(sb, p.Name)
		}
	case typeref.KindMetatype:
		sb.WriteByte('M')
		writeType(sb, t.Inner)
	case typeref.KindExistentialMetatype:
		sb.WriteByte('X')
		writeType(sb, t.Inner)
	case typeref.KindGenericParam:
		writeGenericParam(sb, t.Depth, t.Index)
	case typeref.KindDependentMember:
		sb.WriteByte('D')
		writeIdent(sb, t.Name)
		writeIdent(sb, t.Protocol.Module)
		writeIdent(sb, t.Protocol.Name)
		writeType(sb, t.Inner)
	case typeref.KindForeignClass:
		sb.WriteByte('K')
		writeIdent(sb, t.Name)
	case typeref.KindObjCClass:
		sb.WriteByte('O')
		writeIdent(sb, t.Name)
	case typeref.KindOpaque:
		sb.WriteByte('Q')
	default:
		panic("mangle: cannot encode " + t.Kind.String())
	}
}
