package layout

import (
	"fmt"
	"sync"

	"genspec/internal/typeref"
)

// NominalKind classifies a nominal declaration for layout purposes.
type NominalKind uint8

const (
	NominalStruct NominalKind = iota
	NominalEnum
	NominalClass
	// NominalResilient types have no layout visible to this module.
	NominalResilient
)

func (k NominalKind) String() string {
	switch k {
	case NominalStruct:
		return "struct"
	case NominalEnum:
		return "enum"
	case NominalClass:
		return "class"
	case NominalResilient:
		return "resilient"
	default:
		return fmt.Sprintf("NominalKind(%d)", k)
	}
}

// ParseNominalKind is the inverse of NominalKind.String.
func ParseNominalKind(s string) (NominalKind, error) {
	switch s {
	case "struct":
		return NominalStruct, nil
	case "enum":
		return NominalEnum, nil
	case "class":
		return NominalClass, nil
	case "resilient":
		return NominalResilient, nil
	default:
		return 0, fmt.Errorf("layout: unknown nominal kind %q", s)
	}
}

// NominalFacts describes the stored layout of a nominal type. Fields may
// reference the type's own generic parameters as τ_0_i; bound generic
// arguments are substituted positionally.
type NominalFacts struct {
	Name string
	Kind NominalKind
	// Struct: stored properties. Enum: case payloads.
	Fields []*typeref.TypeRef
	// Enum only: cases without payload.
	EmptyCases int
}

// Facts is the table of nominal and protocol declarations the engine can
// see. It is safe for concurrent use.
type Facts struct {
	mu         sync.RWMutex
	nominals   map[string]NominalFacts
	classBound map[typeref.ProtocolRef]bool
}

func NewFacts() *Facts {
	return &Facts{
		nominals:   make(map[string]NominalFacts),
		classBound: make(map[typeref.ProtocolRef]bool),
	}
}

// AddNominal registers or replaces a nominal declaration.
func (f *Facts) AddNominal(n NominalFacts) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nominals[n.Name] = n
}

// AddProtocol registers a protocol and whether it is class-bound.
func (f *Facts) AddProtocol(ref typeref.ProtocolRef, classBound bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.classBound[ref] = classBound
}

func (f *Facts) Nominal(name string) (NominalFacts, bool) {
	if f == nil {
		return NominalFacts{}, false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	n, ok := f.nominals[name]
	return n, ok
}

func (f *Facts) ClassBound(ref typeref.ProtocolRef) bool {
	if f == nil {
		return false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.classBound[ref]
}

// DefaultFacts describes the core library types every module can see.
func DefaultFacts() *Facts {
	f := NewFacts()
	t := typeref.MustParse
	for _, n := range []NominalFacts{
		{Name: "Swift.Int", Kind: NominalStruct, Fields: []*typeref.TypeRef{t("Builtin.Int64")}},
		{Name: "Swift.UInt8", Kind: NominalStruct, Fields: []*typeref.TypeRef{t("Builtin.Int8")}},
		{Name: "Swift.Bool", Kind: NominalStruct, Fields: []*typeref.TypeRef{t("Builtin.Int1")}},
		{Name: "Swift.Double", Kind: NominalStruct, Fields: []*typeref.TypeRef{t("Builtin.FPIEEE64")}},
		{Name: "Swift.String", Kind: NominalStruct, Fields: []*typeref.TypeRef{t("Builtin.Int64"), t("Builtin.BridgeObject")}},
		{Name: "Swift.Character", Kind: NominalStruct, Fields: []*typeref.TypeRef{t("Swift.String")}},
		{Name: "Swift.Array", Kind: NominalStruct, Fields: []*typeref.TypeRef{t("Builtin.BridgeObject")}},
		{Name: "Swift.Dictionary", Kind: NominalStruct, Fields: []*typeref.TypeRef{t("Builtin.BridgeObject")}},
		{Name: "Swift.Range", Kind: NominalStruct, Fields: []*typeref.TypeRef{t("τ_0_0"), t("τ_0_0")}},
		{Name: "Swift.Optional", Kind: NominalEnum, Fields: []*typeref.TypeRef{t("τ_0_0")}, EmptyCases: 1},
		{Name: "Swift.UTF8", Kind: NominalEnum},
		{Name: "Swift.UTF16", Kind: NominalEnum},
		{Name: "Swift._ContiguousArrayStorage", Kind: NominalClass},
	} {
		f.AddNominal(n)
	}
	f.AddProtocol(typeref.ProtocolRef{Module: "Swift", Name: "AnyObject"}, true)
	for _, p := range []string{"Error", "Equatable", "Hashable", "Sequence", "Collection", "IteratorProtocol"} {
		f.AddProtocol(typeref.ProtocolRef{Module: "Swift", Name: p}, false)
	}
	return f
}
