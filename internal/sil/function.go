package sil

import (
	"fmt"
	"slices"

	"genspec/internal/mangle"
	"genspec/internal/typeref"
)

// Linkage controls symbol visibility across modules.
type Linkage uint8

const (
	LinkagePublic Linkage = iota
	LinkageHidden
	// LinkageShared symbols may be emitted by several modules and merged.
	LinkageShared
	LinkagePrivate
	// LinkagePublicExternal is a public symbol defined in another module.
	LinkagePublicExternal
)

var linkageNames = [...]string{
	LinkagePublic:         "public",
	LinkageHidden:         "hidden",
	LinkageShared:         "shared",
	LinkagePrivate:        "private",
	LinkagePublicExternal: "public_external",
}

func (l Linkage) String() string {
	if int(l) < len(linkageNames) {
		return linkageNames[l]
	}
	return fmt.Sprintf("Linkage(%d)", l)
}

// ParseLinkage is the inverse of Linkage.String.
func ParseLinkage(s string) (Linkage, error) {
	for i, n := range linkageNames {
		if n == s {
			return Linkage(i), nil
		}
	}
	return 0, fmt.Errorf("sil: unknown linkage %q", s)
}

// IsPublic reports whether other modules can reference the symbol.
func (l Linkage) IsPublic() bool {
	return l == LinkagePublic || l == LinkagePublicExternal
}

// Function is a function definition or, without blocks, an external
// declaration.
type Function struct {
	Name string
	// ID is the source identity; specializations keep the identity of the
	// function they were specialized from.
	ID   mangle.Identity
	Type *FunctionType
	// GenericParams lists the signature's generic parameters.
	GenericParams []typeref.DepthIndex

	Blocks  []*Block
	Linkage Linkage

	Thunk        bool
	Transparent  bool
	Bare         bool
	Fragile      bool
	KeepAsPublic bool
	NoInline     bool
	// NoOptimize marks a function excluded from optimization.
	NoOptimize bool

	// SpecializedFrom and SpecializedSubs are set on specializations.
	SpecializedFrom *Function
	SpecializedSubs typeref.GenericArgumentMap

	nextValueID int
	nextBlockID int
}

// NewFunction creates a function with no blocks.
func NewFunction(name string, id mangle.Identity, ty *FunctionType, linkage Linkage) *Function {
	return &Function{
		Name:          name,
		ID:            id,
		Type:          ty,
		Linkage:       linkage,
		GenericParams: ty.GenericParams(),
	}
}

func (f *Function) IsGeneric() bool {
	return len(f.GenericParams) > 0
}

// IsExternalDeclaration reports whether the body lives in another module.
func (f *Function) IsExternalDeclaration() bool {
	return len(f.Blocks) == 0
}

func (f *Function) Entry() *Block {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[0]
}

// AddBlock appends an empty block.
func (f *Function) AddBlock() *Block {
	b := &Block{ID: f.nextBlockID, Parent: f}
	f.nextBlockID++
	f.Blocks = append(f.Blocks, b)
	return b
}

// AddEntryBlock creates the entry block with one argument per SIL argument.
func (f *Function) AddEntryBlock() *Block {
	if len(f.Blocks) != 0 {
		panic(fmt.Sprintf("sil: %s already has an entry block", f.Name))
	}
	b := f.AddBlock()
	types, addrs := f.Type.ArgumentTypes()
	for i, t := range types {
		b.AddArg(t, addrs[i])
	}
	return b
}

func (f *Function) newValue(t *typeref.TypeRef, address bool) *Value {
	v := &Value{ID: f.nextValueID, Type: t, Address: address}
	f.nextValueID++
	return v
}

// Instrs iterates every instruction in block order.
func (f *Function) Instrs() []*Instr {
	var out []*Instr
	for _, b := range f.Blocks {
		out = append(out, b.Instrs...)
	}
	return out
}

// Use is one operand slot reading a value.
type Use struct {
	User *Instr
	// Index is -1 for the callee slot, otherwise the Args index.
	Index int
}

// Uses returns every use of v in the function, in the order the using
// instructions were inserted.
func (f *Function) Uses(v *Value) []Use {
	return slices.Clone(v.uses)
}

// HasUses reports whether any instruction reads v.
func (f *Function) HasUses(v *Value) bool {
	return len(v.uses) > 0
}

// ReplaceAllUsesWith redirects every use of old to repl.
func (f *Function) ReplaceAllUsesWith(old, repl *Value) {
	if old == repl {
		return
	}
	for _, u := range old.uses {
		if u.Index < 0 {
			u.User.Callee = repl
		} else {
			u.User.Args[u.Index] = repl
		}
	}
	repl.uses = append(repl.uses, old.uses...)
	old.uses = nil
}

// EraseInstr removes instr after checking its result is dead.
func (f *Function) EraseInstr(instr *Instr) {
	if instr.Result != nil && f.HasUses(instr.Result) {
		panic(fmt.Sprintf("sil: erasing %s with live result %s in %s", instr.Op, instr.Result, f.Name))
	}
	instr.Block.Remove(instr)
}

// ReferencedFunctions lists functions named by function_ref instructions.
func (f *Function) ReferencedFunctions() []*Function {
	var out []*Function
	for _, in := range f.Instrs() {
		if in.Op == OpFunctionRef && !slices.Contains(out, in.Func) {
			out = append(out, in.Func)
		}
	}
	return out
}
