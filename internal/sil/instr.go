package sil

import (
	"fmt"
	"slices"

	"genspec/internal/typeref"
)

// Op enumerates the instruction subset the specializer reads and writes.
type Op uint8

const (
	// OpFunctionRef produces a reference to Func.
	OpFunctionRef Op = iota
	// OpApply calls Callee with Args and produces the direct result.
	OpApply
	// OpTryApply calls Callee and branches to Normal with the direct result
	// or to Error with the thrown value. It terminates its block.
	OpTryApply
	// OpPartialApply closes over the trailing Args and produces a closure.
	OpPartialApply
	// OpLoad reads Args[0].
	OpLoad
	// OpStore writes Args[0] to the address Args[1].
	OpStore
	// OpTuple builds a tuple from Args. Zero args build the empty tuple.
	OpTuple
	// OpAllocStack produces an address of AllocType.
	OpAllocStack
	// OpDeallocStack frees an alloc_stack address.
	OpDeallocStack
	// OpRetain increments the reference count of Args[0].
	OpRetain
	// OpRelease decrements the reference count of Args[0].
	OpRelease
	// OpDebugValue attaches debug info to Args[0].
	OpDebugValue
	// OpReturn returns Args[0].
	OpReturn
	// OpThrow throws Args[0].
	OpThrow
	// OpBranch jumps to Dest passing Args as block arguments.
	OpBranch
	// OpOpaque is any instruction the specializer does not model. It may
	// use and produce values; Name records its mnemonic.
	OpOpaque
)

var opNames = [...]string{
	OpFunctionRef:  "function_ref",
	OpApply:        "apply",
	OpTryApply:     "try_apply",
	OpPartialApply: "partial_apply",
	OpLoad:         "load",
	OpStore:        "store",
	OpTuple:        "tuple",
	OpAllocStack:   "alloc_stack",
	OpDeallocStack: "dealloc_stack",
	OpRetain:       "strong_retain",
	OpRelease:      "strong_release",
	OpDebugValue:   "debug_value",
	OpReturn:       "return",
	OpThrow:        "throw",
	OpBranch:       "br",
	OpOpaque:       "opaque",
}

func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("Op(%d)", op)
}

// ParseOp maps a mnemonic back to its Op. Unknown mnemonics are opaque.
func ParseOp(s string) Op {
	for i, n := range opNames {
		if n == s {
			return Op(i)
		}
	}
	return OpOpaque
}

// IsTerminator reports whether op ends a block.
func (op Op) IsTerminator() bool {
	switch op {
	case OpReturn, OpThrow, OpBranch, OpTryApply:
		return true
	default:
		return false
	}
}

// IsApplySite reports whether op is one of the call-site shapes.
func (op Op) IsApplySite() bool {
	return op == OpApply || op == OpTryApply || op == OpPartialApply
}

// Value is an SSA value: an instruction result or a block argument.
type Value struct {
	ID      int
	Type    *typeref.TypeRef
	Address bool
	// FnType is set for function references and closures.
	FnType *FunctionType

	// Def is the defining instruction; nil for block arguments.
	Def *Instr
	// Block owns the value when it is a block argument.
	Block *Block
	Name  string

	// uses is maintained by block insertion and removal and by
	// ReplaceAllUsesWith.
	uses []Use
}

func (v *Value) String() string {
	if v == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%%%d", v.ID)
}

// TypeString renders the SIL type of v.
func (v *Value) TypeString() string {
	if v.FnType != nil {
		return "$" + v.FnType.String()
	}
	if v.Address {
		return "$*" + v.Type.String()
	}
	return "$" + v.Type.String()
}

// Instr is one instruction. Which fields are meaningful depends on Op.
type Instr struct {
	Op     Op
	Result *Value

	// Apply family.
	Callee *Value
	Subs   typeref.GenericArgumentMap
	// SubstType is the callee type after substitution, as seen by the site.
	SubstType   *FunctionType
	NonThrowing bool

	// Operands for every op except function_ref and alloc_stack.
	Args []*Value

	Func      *Function        // function_ref
	AllocType *typeref.TypeRef // alloc_stack

	Normal *Block // try_apply
	Error  *Block // try_apply
	Dest   *Block // br

	// Name is the mnemonic of an opaque instruction or the variable of a
	// debug_value.
	Name string

	Block *Block
}

// Operands returns every value the instruction reads, callee first.
func (i *Instr) Operands() []*Value {
	if i.Callee == nil {
		return i.Args
	}
	out := make([]*Value, 0, len(i.Args)+1)
	out = append(out, i.Callee)
	return append(out, i.Args...)
}

// Block is a basic block with arguments.
type Block struct {
	ID     int
	Args   []*Value
	Instrs []*Instr
	Parent *Function
}

// Terminator returns the last instruction if it ends the block.
func (b *Block) Terminator() *Instr {
	if b == nil || len(b.Instrs) == 0 {
		return nil
	}
	last := b.Instrs[len(b.Instrs)-1]
	if !last.Op.IsTerminator() {
		return nil
	}
	return last
}

func (b *Block) indexOf(instr *Instr) int {
	for i, in := range b.Instrs {
		if in == instr {
			return i
		}
	}
	return -1
}

// Remove deletes instr from the block. Its result must already be unused.
func (b *Block) Remove(instr *Instr) {
	idx := b.indexOf(instr)
	if idx < 0 {
		panic(fmt.Sprintf("sil: %s not in bb%d", instr.Op, b.ID))
	}
	b.Instrs = append(b.Instrs[:idx], b.Instrs[idx+1:]...)
	instr.Block = nil
	instr.dropUses()
}

func (b *Block) insertAt(idx int, instr *Instr) {
	b.Instrs = append(b.Instrs, nil)
	copy(b.Instrs[idx+1:], b.Instrs[idx:])
	b.Instrs[idx] = instr
	instr.Block = b
	instr.addUses()
}

func (in *Instr) addUses() {
	if in.Callee != nil {
		in.Callee.uses = append(in.Callee.uses, Use{User: in, Index: -1})
	}
	for i, a := range in.Args {
		if a != nil {
			a.uses = append(a.uses, Use{User: in, Index: i})
		}
	}
}

func (in *Instr) dropUses() {
	drop := func(v *Value) {
		if v != nil {
			v.uses = slices.DeleteFunc(v.uses, func(u Use) bool { return u.User == in })
		}
	}
	drop(in.Callee)
	for _, a := range in.Args {
		drop(a)
	}
}

// AddArg appends a block argument.
func (b *Block) AddArg(t *typeref.TypeRef, address bool) *Value {
	v := b.Parent.newValue(t, address)
	v.Block = b
	b.Args = append(b.Args, v)
	return v
}
