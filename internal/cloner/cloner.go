// Package cloner copies a generic function body into a specialization,
// substituting types and rewriting converted slots.
package cloner

import (
	"fmt"
	"slices"

	"genspec/internal/reabstract"
	"genspec/internal/sil"
	"genspec/internal/typeref"
)

// Cloner materializes specialized bodies.
type Cloner struct {
	Resolver typeref.WitnessResolver
}

func New(resolver typeref.WitnessResolver) *Cloner {
	return &Cloner{Resolver: resolver}
}

type cloneState struct {
	orig   *sil.Function
	fn     *sil.Function
	subst  *typeref.Subst
	values map[*sil.Value]*sil.Value
	blocks map[*sil.Block]*sil.Block

	// resultSlot holds the promoted result while the body runs.
	resultSlot *sil.Value
	// stack lists prologue allocations in allocation order.
	stack []*sil.Value
}

// Clone builds a new function named name whose body is orig's body under
// subs, with the signature plan.Specialized. Converted parameters arrive
// as values and are spilled to a stack slot so the copied body keeps
// addressing them; a promoted result is collected in a stack slot and
// loaded at every return.
func (c *Cloner) Clone(orig *sil.Function, plan *reabstract.Plan, subs typeref.GenericArgumentMap, name string) (*sil.Function, error) {
	if orig.IsExternalDeclaration() {
		return nil, fmt.Errorf("cloner: %s has no body", orig.Name)
	}
	if got, want := plan.NumArguments(), orig.Type.NumArguments(); got != want {
		return nil, fmt.Errorf("cloner: plan covers %d slots, %s takes %d", got, orig.Name, want)
	}
	fn := sil.NewFunction(name, orig.ID, plan.Specialized, sil.LinkageShared)
	fn.Fragile = orig.Fragile
	fn.SpecializedFrom = orig
	fn.SpecializedSubs = subs.Clone()

	st := &cloneState{
		orig:   orig,
		fn:     fn,
		subst:  typeref.NewSubst(subs, c.Resolver),
		values: make(map[*sil.Value]*sil.Value),
		blocks: make(map[*sil.Block]*sil.Block),
	}
	if err := st.prologue(plan); err != nil {
		return nil, err
	}
	for _, b := range orig.Blocks[1:] {
		nb := fn.AddBlock()
		st.blocks[b] = nb
		for _, a := range b.Args {
			t, err := st.typ(a.Type)
			if err != nil {
				return nil, err
			}
			st.values[a] = nb.AddArg(t, a.Address)
		}
	}
	for _, b := range orig.Blocks {
		for _, in := range b.Instrs {
			if err := st.cloneInstr(sil.AtEnd(st.blocks[b]), in); err != nil {
				return nil, err
			}
		}
	}
	return fn, nil
}

func (st *cloneState) typ(t *typeref.TypeRef) (*typeref.TypeRef, error) {
	out, ok := st.subst.Type(t)
	if !ok {
		return nil, fmt.Errorf("cloner: cannot substitute %s in %s", t, st.orig.Name)
	}
	return out, nil
}

func (st *cloneState) prologue(plan *reabstract.Plan) error {
	origEntry := st.orig.Entry()
	entry := st.fn.AddBlock()
	st.blocks[origEntry] = entry

	var spills []func(b *sil.Builder)
	for i, a := range origEntry.Args {
		t, err := st.typ(a.Type)
		if err != nil {
			return err
		}
		if !plan.IsArgConverted(i) {
			st.values[a] = entry.AddArg(t, a.Address)
			continue
		}
		if plan.IsResultIndex(i) {
			spills = append(spills, func(b *sil.Builder) {
				st.resultSlot = b.AllocStack(t)
				st.stack = append(st.stack, st.resultSlot)
				st.values[a] = st.resultSlot
			})
			continue
		}
		direct := entry.AddArg(t, false)
		spills = append(spills, func(b *sil.Builder) {
			slot := b.AllocStack(t)
			b.Store(direct, slot)
			st.stack = append(st.stack, slot)
			st.values[a] = slot
		})
	}
	b := sil.AtEnd(entry)
	for _, spill := range spills {
		spill(b)
	}
	return nil
}

func (st *cloneState) value(v *sil.Value) *sil.Value {
	if v == nil {
		return nil
	}
	nv, ok := st.values[v]
	if !ok {
		panic(fmt.Sprintf("cloner: %s used before definition in %s", v, st.orig.Name))
	}
	return nv
}

func (st *cloneState) valueList(vs []*sil.Value) []*sil.Value {
	out := make([]*sil.Value, len(vs))
	for i, v := range vs {
		out[i] = st.value(v)
	}
	return out
}

func (st *cloneState) substMap(subs typeref.GenericArgumentMap) (typeref.GenericArgumentMap, error) {
	if subs == nil {
		return nil, nil
	}
	out := make(typeref.GenericArgumentMap, len(subs))
	for k, v := range subs {
		t, err := st.typ(v)
		if err != nil {
			return nil, err
		}
		out[k] = t
	}
	return out, nil
}

// epilogue frees prologue slots in reverse order and, for returns, loads
// the promoted result.
func (st *cloneState) epilogue(b *sil.Builder, returning bool) *sil.Value {
	var result *sil.Value
	if returning && st.resultSlot != nil {
		result = b.Load(st.resultSlot)
	}
	for _, slot := range slices.Backward(st.stack) {
		b.DeallocStack(slot)
	}
	return result
}

func (st *cloneState) cloneInstr(b *sil.Builder, in *sil.Instr) error {
	switch in.Op {
	case sil.OpReturn:
		if loaded := st.epilogue(b, true); loaded != nil {
			b.Return(loaded)
			return nil
		}
		b.Return(st.value(in.Args[0]))
		return nil
	case sil.OpThrow:
		st.epilogue(b, false)
		b.Throw(st.value(in.Args[0]))
		return nil
	}

	out := &sil.Instr{
		Op:          in.Op,
		Callee:      st.value(in.Callee),
		Args:        st.valueList(in.Args),
		NonThrowing: in.NonThrowing,
		Func:        in.Func,
		Name:        in.Name,
	}
	var err error
	if out.Subs, err = st.substMap(in.Subs); err != nil {
		return err
	}
	if in.SubstType != nil {
		var ok bool
		if out.SubstType, ok = in.SubstType.Subst(st.subst); !ok {
			return fmt.Errorf("cloner: cannot substitute callee type %s in %s", in.SubstType, st.orig.Name)
		}
	}
	if in.AllocType != nil {
		if out.AllocType, err = st.typ(in.AllocType); err != nil {
			return err
		}
	}
	out.Normal = st.blocks[in.Normal]
	out.Error = st.blocks[in.Error]
	out.Dest = st.blocks[in.Dest]

	if in.Result == nil {
		b.Emit(out, nil, false)
		return nil
	}
	t, err := st.typ(in.Result.Type)
	if err != nil {
		return err
	}
	st.values[in.Result] = b.Emit(out, t, in.Result.Address)
	return nil
}
