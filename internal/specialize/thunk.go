package specialize

import (
	"genspec/internal/mangle"
	"genspec/internal/sil"
)

// ThunkName is the symbol of the thunk adapting the unspecialized
// convention of e to its specialization.
func ThunkName(e *Entry) string {
	return mangle.Specialization(e.Orig.ID, e.Subs, false)
}

// thunkFor returns the thunk for e, creating it on first use. An existing
// function with the thunk's name is reused.
func (r *rewriter) thunkFor(e *Entry) *sil.Function {
	name := ThunkName(e)
	fn, created := r.module.GetOrCreate(name, func() *sil.Function {
		return buildThunk(name, e)
	})
	if created {
		r.thunks = append(r.thunks, fn)
	}
	return fn
}

// buildThunk emits a function with the substituted unspecialized signature
// that loads converted parameters, calls the specialization and stores a
// promoted result back to the caller's result address. Errors thrown by
// the specialization are rethrown.
func buildThunk(name string, e *Entry) *sil.Function {
	plan := e.Plan
	spec := e.Func
	th := sil.NewFunction(name, e.Orig.ID, plan.Substituted, sil.LinkageShared)
	th.Bare = true
	th.Transparent = true
	th.Thunk = true
	th.Fragile = e.Orig.Fragile

	entry := th.AddEntryBlock()
	b := sil.AtEnd(entry)
	args, storeResultTo := convertArgs(b, entry.Args, plan, 0)
	callee := b.FunctionRef(spec)

	var result *sil.Value
	if spec.Type.HasErrorResult() {
		normal := th.AddBlock()
		result = normal.AddArg(spec.Type.DirectResultType(), false)
		failure := th.AddBlock()
		thrown := failure.AddArg(spec.Type.ErrorResult, false)
		b.TryApply(callee, nil, spec.Type, args, normal, failure)
		sil.AtEnd(failure).Throw(thrown)
		b = sil.AtEnd(normal)
	} else {
		result = b.Apply(callee, nil, spec.Type, args, false)
	}
	if storeResultTo != nil {
		b.Store(result, storeResultTo)
		result = b.Tuple()
	}
	b.Return(result)
	return th
}
