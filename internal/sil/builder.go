package sil

import (
	"fmt"
	"slices"

	"genspec/internal/typeref"
)

// Builder appends or inserts instructions at a position in a function.
type Builder struct {
	fn    *Function
	block *Block
	// before is nil when appending at the block end.
	before *Instr
}

// AtEnd returns a builder appending to b.
func AtEnd(b *Block) *Builder {
	return &Builder{fn: b.Parent, block: b}
}

// Before returns a builder inserting in front of instr.
func Before(instr *Instr) *Builder {
	return &Builder{fn: instr.Block.Parent, block: instr.Block, before: instr}
}

// After returns a builder inserting right behind instr.
func After(instr *Instr) *Builder {
	b := instr.Block
	idx := b.indexOf(instr)
	if idx+1 < len(b.Instrs) {
		return Before(b.Instrs[idx+1])
	}
	return AtEnd(b)
}

// AtStart returns a builder inserting before the first instruction of b.
func AtStart(b *Block) *Builder {
	if len(b.Instrs) == 0 {
		return AtEnd(b)
	}
	return Before(b.Instrs[0])
}

func (b *Builder) Function() *Function { return b.fn }
func (b *Builder) Block() *Block       { return b.block }

func (b *Builder) insert(instr *Instr) *Instr {
	if b.before == nil {
		b.block.insertAt(len(b.block.Instrs), instr)
		return instr
	}
	idx := b.block.indexOf(b.before)
	if idx < 0 {
		panic(fmt.Sprintf("sil: insertion point lost in bb%d", b.block.ID))
	}
	b.block.insertAt(idx, instr)
	return instr
}

func (b *Builder) result(instr *Instr, t *typeref.TypeRef, address bool) *Value {
	v := b.fn.newValue(t, address)
	v.Def = instr
	instr.Result = v
	return v
}

func (b *Builder) FunctionRef(f *Function) *Value {
	in := &Instr{Op: OpFunctionRef, Func: f}
	v := b.result(in, typeref.Opaque(), false)
	v.FnType = f.Type
	b.insert(in)
	return v
}

// Apply emits a full call. substType is the callee type after subs.
func (b *Builder) Apply(callee *Value, subs typeref.GenericArgumentMap, substType *FunctionType, args []*Value, nonThrowing bool) *Value {
	in := &Instr{
		Op:          OpApply,
		Callee:      callee,
		Subs:        subs,
		SubstType:   substType,
		Args:        slices.Clone(args),
		NonThrowing: nonThrowing,
	}
	v := b.result(in, substType.DirectResultType(), false)
	b.insert(in)
	return v
}

// TryApply terminates the current block with a fallible call. The normal
// block receives the direct result, the error block the thrown value.
func (b *Builder) TryApply(callee *Value, subs typeref.GenericArgumentMap, substType *FunctionType, args []*Value, normal, errBlock *Block) *Instr {
	in := &Instr{
		Op:        OpTryApply,
		Callee:    callee,
		Subs:      subs,
		SubstType: substType,
		Args:      slices.Clone(args),
		Normal:    normal,
		Error:     errBlock,
	}
	return b.insert(in)
}

// PartialApply captures args as the trailing parameters of callee.
func (b *Builder) PartialApply(callee *Value, subs typeref.GenericArgumentMap, substType *FunctionType, args []*Value) *Value {
	in := &Instr{
		Op:        OpPartialApply,
		Callee:    callee,
		Subs:      subs,
		SubstType: substType,
		Args:      slices.Clone(args),
	}
	v := b.result(in, typeref.Opaque(), false)
	v.FnType = substType.DropTrailingParams(len(args))
	b.insert(in)
	return v
}

func (b *Builder) Load(addr *Value) *Value {
	in := &Instr{Op: OpLoad, Args: []*Value{addr}}
	v := b.result(in, addr.Type, false)
	b.insert(in)
	return v
}

func (b *Builder) Store(src, dest *Value) *Instr {
	return b.insert(&Instr{Op: OpStore, Args: []*Value{src, dest}})
}

func (b *Builder) Tuple(elems ...*Value) *Value {
	types := make([]*typeref.TypeRef, len(elems))
	for i, e := range elems {
		types[i] = e.Type
	}
	in := &Instr{Op: OpTuple, Args: slices.Clone(elems)}
	v := b.result(in, typeref.Tuple(types...), false)
	b.insert(in)
	return v
}

func (b *Builder) AllocStack(t *typeref.TypeRef) *Value {
	in := &Instr{Op: OpAllocStack, AllocType: t}
	v := b.result(in, t, true)
	b.insert(in)
	return v
}

func (b *Builder) DeallocStack(addr *Value) *Instr {
	return b.insert(&Instr{Op: OpDeallocStack, Args: []*Value{addr}})
}

func (b *Builder) Retain(v *Value) *Instr {
	return b.insert(&Instr{Op: OpRetain, Args: []*Value{v}})
}

func (b *Builder) Release(v *Value) *Instr {
	return b.insert(&Instr{Op: OpRelease, Args: []*Value{v}})
}

func (b *Builder) DebugValue(v *Value, name string) *Instr {
	return b.insert(&Instr{Op: OpDebugValue, Args: []*Value{v}, Name: name})
}

func (b *Builder) Return(v *Value) *Instr {
	return b.insert(&Instr{Op: OpReturn, Args: []*Value{v}})
}

func (b *Builder) Throw(v *Value) *Instr {
	return b.insert(&Instr{Op: OpThrow, Args: []*Value{v}})
}

func (b *Builder) Branch(dest *Block, args ...*Value) *Instr {
	return b.insert(&Instr{Op: OpBranch, Dest: dest, Args: slices.Clone(args)})
}

// Opaque emits an unmodeled instruction. A nil resultType produces no value.
func (b *Builder) Opaque(name string, resultType *typeref.TypeRef, args ...*Value) *Instr {
	in := &Instr{Op: OpOpaque, Name: name, Args: slices.Clone(args)}
	if resultType != nil {
		b.result(in, resultType, false)
	}
	return b.insert(in)
}

// Emit inserts a fully formed instruction. A non-nil resultType gives it a
// result value; function_ref and partial_apply results get their function
// type from the instruction.
func (b *Builder) Emit(in *Instr, resultType *typeref.TypeRef, address bool) *Value {
	var v *Value
	if resultType != nil {
		v = b.result(in, resultType, address)
		switch in.Op {
		case OpFunctionRef:
			v.FnType = in.Func.Type
		case OpPartialApply:
			v.FnType = in.SubstType.DropTrailingParams(len(in.Args))
		}
	}
	b.insert(in)
	return v
}
