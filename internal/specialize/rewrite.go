package specialize

import (
	"fmt"

	"genspec/internal/reabstract"
	"genspec/internal/sil"
)

// site is an apply of a generic function_ref with a specialization ready.
type site struct {
	instr *sil.Instr
	entry *Entry
}

// rewriter patches the call sites of one function. Only that function's
// body is mutated; thunks are created through the module.
type rewriter struct {
	module *sil.Module
	fn     *sil.Function
	// dead collects replaced instructions, erased once all rewiring is done.
	dead   []*sil.Instr
	thunks []*sil.Function
	// calleeRefs are the function_refs the replaced sites called through.
	calleeRefs []*sil.Value
}

func newRewriter(m *sil.Module, fn *sil.Function) *rewriter {
	return &rewriter{module: m, fn: fn}
}

// rewrite redirects s to its specialization. It reports whether a thunk
// was needed.
func (r *rewriter) rewrite(s site) bool {
	in := s.instr
	r.calleeRefs = append(r.calleeRefs, in.Callee)
	switch in.Op {
	case sil.OpApply:
		r.rewriteApply(in, r.functionRef(in, s.entry.Func), s.entry.Func.Type, s.entry.Plan)
		return false
	case sil.OpTryApply:
		r.rewriteTryApply(in, r.functionRef(in, s.entry.Func), s.entry.Func.Type, s.entry.Plan)
		return false
	case sil.OpPartialApply:
		return r.rewritePartialApply(in, s.entry)
	default:
		panic(fmt.Sprintf("specialize: unhandled call site %s in %s", in.Op, r.fn.Name))
	}
}

func (r *rewriter) functionRef(at *sil.Instr, f *sil.Function) *sil.Value {
	return sil.Before(at).FunctionRef(f)
}

// convertArgs loads converted parameters and strips the promoted result
// address, which it returns.
func convertArgs(b *sil.Builder, args []*sil.Value, plan *reabstract.Plan, firstSlot int) ([]*sil.Value, *sil.Value) {
	var out []*sil.Value
	var storeResultTo *sil.Value
	for i, a := range args {
		slot := firstSlot + i
		if !plan.IsArgConverted(slot) {
			out = append(out, a)
			continue
		}
		if plan.IsResultIndex(slot) {
			storeResultTo = a
			continue
		}
		out = append(out, b.Load(a))
	}
	return out, storeResultTo
}

func (r *rewriter) rewriteApply(in *sil.Instr, callee *sil.Value, calleeType *sil.FunctionType, plan *reabstract.Plan) {
	b := sil.Before(in)
	args, storeResultTo := convertArgs(b, in.Args, plan, 0)
	nv := b.Apply(callee, nil, calleeType, args, in.NonThrowing)
	if storeResultTo != nil {
		b.Store(nv, storeResultTo)
		r.fixUsedVoidType(b, in.Result)
	} else {
		r.fn.ReplaceAllUsesWith(in.Result, nv)
	}
	r.dead = append(r.dead, in)
}

// fixUsedVoidType gives the remaining uses of a void call result their own
// empty tuple.
func (r *rewriter) fixUsedVoidType(b *sil.Builder, old *sil.Value) {
	if old == nil || !old.Type.IsVoid() || !r.fn.HasUses(old) {
		return
	}
	r.fn.ReplaceAllUsesWith(old, b.Tuple())
}

// rewriteTryApply routes a promoted result through a landing block that
// stores it back before branching to the original normal block.
func (r *rewriter) rewriteTryApply(in *sil.Instr, callee *sil.Value, calleeType *sil.FunctionType, plan *reabstract.Plan) {
	b := sil.Before(in)
	args, storeResultTo := convertArgs(b, in.Args, plan, 0)
	normal := in.Normal
	if storeResultTo != nil {
		landing := r.fn.AddBlock()
		direct := landing.AddArg(calleeType.DirectResultType(), false)
		lb := sil.AtEnd(landing)
		lb.Store(direct, storeResultTo)
		lb.Branch(in.Normal, lb.Tuple())
		normal = landing
	}
	b.TryApply(callee, nil, calleeType, args, normal, in.Error)
	r.dead = append(r.dead, in)
}

// closureUse classifies one use of a partial application result.
type closureUse uint8

const (
	useIgnored closureUse = iota
	useCall
	useThunkClosure
	useOpaque
)

func (r *rewriter) classify(u sil.Use, newType *sil.FunctionType) closureUse {
	user := u.User
	switch user.Op {
	case sil.OpRetain, sil.OpRelease, sil.OpDebugValue:
		return useIgnored
	case sil.OpApply, sil.OpTryApply:
		if u.Index == -1 {
			return useCall
		}
	case sil.OpPartialApply:
		if u.Index == -1 || user.Callee == nil || user.Callee.Def == nil || user.Callee.Def.Op != sil.OpFunctionRef {
			return useOpaque
		}
		if user.Callee.Def.Func.Thunk && user.Result.FnType.Equal(newType) {
			return useThunkClosure
		}
	}
	return useOpaque
}

// rewritePartialApply rewrites the closure in place when every use calls
// it, and otherwise closes over a thunk with the original convention.
func (r *rewriter) rewritePartialApply(in *sil.Instr, e *Entry) bool {
	closure := in.Result
	captured := len(in.Args)
	pruned := e.Plan.Prune(captured)
	newType := pruned.Specialized

	uses := r.fn.Uses(closure)
	kinds := make([]closureUse, len(uses))
	needsThunk := false
	for i, u := range uses {
		kinds[i] = r.classify(u, newType)
		if kinds[i] == useOpaque {
			needsThunk = true
		}
	}

	b := sil.Before(in)
	if needsThunk {
		thunk := r.thunkFor(e)
		fref := b.FunctionRef(thunk)
		nc := b.PartialApply(fref, nil, thunk.Type, in.Args)
		r.fn.ReplaceAllUsesWith(closure, nc)
		r.dead = append(r.dead, in)
		return true
	}

	fref := b.FunctionRef(e.Func)
	args, _ := convertArgs(b, in.Args, e.Plan, e.Plan.IndexOfFirstArg(captured))
	nc := b.PartialApply(fref, nil, e.Func.Type, args)
	for i, u := range uses {
		switch kinds[i] {
		case useCall:
			if u.User.Op == sil.OpApply {
				r.rewriteApply(u.User, nc, newType, pruned)
			} else {
				r.rewriteTryApply(u.User, nc, newType, pruned)
			}
		case useThunkClosure:
			r.fn.ReplaceAllUsesWith(u.User.Result, nc)
			r.dead = append(r.dead, u.User)
			r.calleeRefs = append(r.calleeRefs, u.User.Callee)
		}
	}
	r.fn.ReplaceAllUsesWith(closure, nc)
	r.dead = append(r.dead, in)
	return false
}

// finish erases replaced instructions and function_refs left unused.
func (r *rewriter) finish() {
	for _, in := range r.dead {
		r.fn.EraseInstr(in)
	}
	r.dead = nil
	for _, ref := range r.calleeRefs {
		if ref == nil || ref.Def == nil || ref.Def.Op != sil.OpFunctionRef || ref.Def.Block == nil {
			continue
		}
		if !r.fn.HasUses(ref) {
			r.fn.EraseInstr(ref.Def)
		}
	}
	r.calleeRefs = nil
}
