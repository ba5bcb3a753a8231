package specialize

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"genspec/internal/layout"
	"genspec/internal/mangle"
	"genspec/internal/sil"
	"genspec/internal/typeref"
)

var oracle = layout.New(layout.X86_64LinuxGNU(), nil)

func ty(s string) *typeref.TypeRef { return typeref.MustParse(s) }

var intSubs = typeref.GenericArgumentMap{{Depth: 0, Index: 0}: ty("Swift.Int")}

func mustAdd(t *testing.T, m *sil.Module, f *sil.Function) *sil.Function {
	t.Helper()
	if err := m.AddFunction(f); err != nil {
		t.Fatalf("add %s: %v", f.Name, err)
	}
	return f
}

// genericID builds module.name<T>(_ x: T) -> T, optionally throwing.
func genericID(t *testing.T, m *sil.Module, module, name string, throws bool) *sil.Function {
	t.Helper()
	tau := typeref.GenericParam(0, 0)
	ft := &sil.FunctionType{
		Params:  []sil.Parameter{{Type: tau, Convention: sil.ParamIndirectIn}},
		Results: []sil.Result{{Type: tau, Convention: sil.ResultIndirect}},
	}
	if throws {
		ft.ErrorResult = ty("protocol Swift.Error")
	}
	f := sil.NewFunction(module+"."+name, mangle.Identity{Module: module, Name: name}, ft, sil.LinkagePublic)
	entry := f.AddEntryBlock()
	b := sil.AtEnd(entry)
	b.Store(b.Load(entry.Args[1]), entry.Args[0])
	b.Return(b.Tuple())
	return mustAdd(t, m, f)
}

func substType(t *testing.T, f *sil.Function, subs typeref.GenericArgumentMap) *sil.FunctionType {
	t.Helper()
	ft, ok := f.Type.Subst(typeref.NewSubst(subs, nil))
	if !ok {
		t.Fatalf("cannot substitute %s", f.Type)
	}
	return ft
}

func newCaller(t *testing.T, m *sil.Module, name string, ft *sil.FunctionType) (*sil.Function, *sil.Builder) {
	t.Helper()
	f := mustAdd(t, m, sil.NewFunction("App."+name, mangle.Identity{Module: "App", Name: name}, ft, sil.LinkagePublic))
	return f, sil.AtEnd(f.AddEntryBlock())
}

func intSlot(b *sil.Builder) *sil.Value {
	slot := b.AllocStack(ty("Swift.Int"))
	b.Store(b.Opaque("integer_literal", ty("Swift.Int")).Result, slot)
	return slot
}

func run(t *testing.T, m *sil.Module, opts Options) *Result {
	t.Helper()
	res, err := SpecializeModule(context.Background(), m, opts, oracle, nil)
	if err != nil {
		t.Fatalf("specialize: %v", err)
	}
	if err := sil.Validate(m); err != nil {
		t.Fatalf("invalid module after specialization: %v", err)
	}
	return res
}

func findOps(f *sil.Function, op sil.Op) []*sil.Instr {
	var out []*sil.Instr
	for _, in := range f.Instrs() {
		if in.Op == op {
			out = append(out, in)
		}
	}
	return out
}

func calleeOf(in *sil.Instr) *sil.Function {
	if in.Callee == nil || in.Callee.Def == nil || in.Callee.Def.Op != sil.OpFunctionRef {
		return nil
	}
	return in.Callee.Def.Func
}

func TestKeyDeterminism(t *testing.T) {
	m := sil.NewModule("Lib")
	id := genericID(t, m, "Lib", "id", false)
	a := Key(id, intSubs)
	b := Key(id, typeref.GenericArgumentMap{{Depth: 0, Index: 0}: ty("Swift.Int")})
	if a != b {
		t.Fatalf("keys differ: %q vs %q", a, b)
	}
	if a == ThunkName(&Entry{Orig: id, Subs: intSubs}) {
		t.Fatalf("thunk name collides with the specialization key")
	}
}

func TestGetOrCreateConcurrent(t *testing.T) {
	m := sil.NewModule("Lib")
	id := genericID(t, m, "Lib", "id", false)
	c := NewCache(m, DefaultOptions(), oracle, nil)

	const workers = 16
	entries := make([]*Entry, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, reason, err := c.GetOrCreate(id, intSubs.Clone())
			if err != nil || e == nil {
				t.Errorf("worker %d: entry=%v reason=%s err=%v", i, e, reason, err)
				return
			}
			entries[i] = e
		}()
	}
	wg.Wait()
	for i, e := range entries {
		if e != entries[0] {
			t.Fatalf("worker %d got a different entry", i)
		}
	}
	if got := m.Len(); got != 2 {
		t.Fatalf("module functions: got=%d want=2", got)
	}
	if c.Len() != 1 || !entries[0].Created {
		t.Fatalf("cache must hold one created entry")
	}
}

func TestDirectCallStoresResultBack(t *testing.T) {
	m := sil.NewModule("App")
	id := genericID(t, m, "Lib", "id", false)
	main, b := newCaller(t, m, "main", &sil.FunctionType{
		Results: []sil.Result{{Type: ty("Swift.Int"), Convention: sil.ResultUnowned}},
	})
	res := b.AllocStack(ty("Swift.Int"))
	arg := intSlot(b)
	voidResult := b.Apply(b.FunctionRef(id), intSubs, substType(t, id, intSubs), []*sil.Value{res, arg}, false)
	b.Opaque("use_void", nil, voidResult)
	out := b.Load(res)
	b.DeallocStack(arg)
	b.DeallocStack(res)
	b.Return(out)

	result := run(t, m, DefaultOptions())
	if len(result.Created) != 1 || result.Sites != 1 {
		t.Fatalf("created=%d sites=%d", len(result.Created), result.Sites)
	}
	spec := result.Created[0].Func

	applies := findOps(main, sil.OpApply)
	if len(applies) != 1 {
		t.Fatalf("applies: got=%d want=1\n%s", len(applies), main)
	}
	call := applies[0]
	if calleeOf(call) != spec {
		t.Fatalf("call not redirected to %s:\n%s", spec.Name, main)
	}
	if len(call.Args) != 1 || call.Args[0].Def == nil || call.Args[0].Def.Op != sil.OpLoad || call.Args[0].Def.Args[0] != arg {
		t.Fatalf("argument must be loaded from the original slot:\n%s", main)
	}
	instrs := main.Entry().Instrs
	at := slices.Index(instrs, call)
	store := instrs[at+1]
	if store.Op != sil.OpStore || store.Args[0] != call.Result || store.Args[1] != res {
		t.Fatalf("direct result must be stored back to the result slot:\n%s", main)
	}
	if slices.Index(instrs, out.Def) < at+1 {
		t.Fatalf("result read happens before the store-back:\n%s", main)
	}
	use := findOps(main, sil.OpOpaque)[1]
	if use.Args[0].Def == nil || use.Args[0].Def.Op != sil.OpTuple {
		t.Fatalf("void result use must see an explicit empty tuple:\n%s", main)
	}
	if slices.Contains(main.ReferencedFunctions(), id) {
		t.Fatalf("generic function_ref left behind:\n%s", main)
	}
}

func TestTryApplyRoutesResultThroughLanding(t *testing.T) {
	m := sil.NewModule("App")
	check := genericID(t, m, "Lib", "check", true)
	errT := ty("protocol Swift.Error")
	main, b := newCaller(t, m, "main", &sil.FunctionType{
		Results:     []sil.Result{{Type: ty("Swift.Int"), Convention: sil.ResultUnowned}},
		ErrorResult: errT,
	})
	normal := main.AddBlock()
	normal.AddArg(typeref.Void(), false)
	failure := main.AddBlock()
	thrown := failure.AddArg(errT, false)

	res := b.AllocStack(ty("Swift.Int"))
	arg := intSlot(b)
	b.TryApply(b.FunctionRef(check), intSubs, substType(t, check, intSubs), []*sil.Value{res, arg}, normal, failure)
	nb := sil.AtEnd(normal)
	out := nb.Load(res)
	nb.DeallocStack(arg)
	nb.DeallocStack(res)
	nb.Return(out)
	fb := sil.AtEnd(failure)
	fb.DeallocStack(arg)
	fb.DeallocStack(res)
	fb.Throw(thrown)

	run(t, m, DefaultOptions())

	term := main.Entry().Terminator()
	if term.Op != sil.OpTryApply || term.Error != failure {
		t.Fatalf("error continuation must be kept:\n%s", main)
	}
	if !term.SubstType.HasErrorResult() || len(term.Args) != 1 {
		t.Fatalf("rewritten try_apply: %s", term)
	}
	landing := term.Normal
	if landing == normal || len(landing.Instrs) < 2 {
		t.Fatalf("promoted result must go through a landing block:\n%s", main)
	}
	if st := landing.Instrs[0]; st.Op != sil.OpStore || st.Args[0] != landing.Args[0] || st.Args[1] != res {
		t.Fatalf("landing must store the result first:\n%s", main)
	}
	if br := landing.Terminator(); br.Op != sil.OpBranch || br.Dest != normal {
		t.Fatalf("landing must continue to the original normal block:\n%s", main)
	}
}

func partialApplyCaller(t *testing.T, m *sil.Module, name string, callee *sil.Function) (*sil.Function, *sil.Builder, *sil.Value, *sil.Value) {
	t.Helper()
	f, b := newCaller(t, m, name, &sil.FunctionType{})
	arg := intSlot(b)
	closure := b.PartialApply(b.FunctionRef(callee), intSubs, substType(t, callee, intSubs), []*sil.Value{arg})
	return f, b, arg, closure
}

func TestPartialApplyOpaqueUseNeedsThunk(t *testing.T) {
	m := sil.NewModule("App")
	id := genericID(t, m, "Lib", "id", true)
	var callers []*sil.Function
	for _, name := range []string{"a", "b"} {
		f, b, arg, closure := partialApplyCaller(t, m, name, id)
		b.Retain(closure)
		b.Opaque("escape", nil, closure)
		b.DeallocStack(arg)
		b.Return(b.Tuple())
		callers = append(callers, f)
	}

	result := run(t, m, DefaultOptions())
	if len(result.Thunks) != 1 {
		t.Fatalf("thunks: got=%d want=1", len(result.Thunks))
	}
	thunk := result.Thunks[0]
	entry := result.Created[0]
	if thunk.Name != ThunkName(entry) || !thunk.Thunk || !thunk.Bare || !thunk.Transparent || thunk.Linkage != sil.LinkageShared {
		t.Fatalf("thunk flags or name wrong: %s", thunk)
	}
	if !thunk.Type.Equal(entry.Plan.Substituted) {
		t.Fatalf("thunk must keep the unspecialized convention: %s", thunk.Type)
	}
	for _, f := range callers {
		pas := findOps(f, sil.OpPartialApply)
		if len(pas) != 1 || calleeOf(pas[0]) != thunk {
			t.Fatalf("closure must capture the thunk:\n%s", f)
		}
		if pas[0].Args[0].Def == nil || pas[0].Args[0].Def.Op != sil.OpAllocStack {
			t.Fatalf("captured address must pass through unchanged:\n%s", f)
		}
	}
	if len(findOps(thunk, sil.OpTryApply)) != 1 || len(findOps(thunk, sil.OpThrow)) != 1 {
		t.Fatalf("thunk must rethrow the specialization's error:\n%s", thunk)
	}
	if calleeOf(findOps(thunk, sil.OpTryApply)[0]) != entry.Func {
		t.Fatalf("thunk must call the specialization:\n%s", thunk)
	}
}

func TestPartialApplyCallUsesRewrittenInPlace(t *testing.T) {
	m := sil.NewModule("App")
	id := genericID(t, m, "Lib", "id", false)
	main, b, arg, closure := partialApplyCaller(t, m, "main", id)
	res := b.AllocStack(ty("Swift.Int"))
	b.Apply(closure, nil, closure.FnType, []*sil.Value{res}, false)
	b.Release(closure)
	b.Opaque("consume", nil, b.Load(res))
	b.DeallocStack(res)
	b.DeallocStack(arg)
	b.Return(b.Tuple())

	result := run(t, m, DefaultOptions())
	if len(result.Thunks) != 0 {
		t.Fatalf("call-only closure must not get a thunk")
	}
	for _, f := range m.Functions() {
		if f.Thunk {
			t.Fatalf("unexpected thunk %s", f.Name)
		}
	}
	spec := result.Created[0].Func
	pas := findOps(main, sil.OpPartialApply)
	if len(pas) != 1 || calleeOf(pas[0]) != spec {
		t.Fatalf("closure must capture the specialization:\n%s", main)
	}
	if pas[0].Args[0].Def.Op != sil.OpLoad {
		t.Fatalf("converted capture must be loaded:\n%s", main)
	}
	call := findOps(main, sil.OpApply)[0]
	if call.Callee != pas[0].Result || len(call.Args) != 0 {
		t.Fatalf("closure call not rewritten:\n%s", main)
	}
	instrs := main.Entry().Instrs
	if st := instrs[slices.Index(instrs, call)+1]; st.Op != sil.OpStore || st.Args[1] != res {
		t.Fatalf("closure result must be stored back:\n%s", main)
	}
	if rel := findOps(main, sil.OpRelease)[0]; rel.Args[0] != pas[0].Result {
		t.Fatalf("bookkeeping uses must follow the new closure:\n%s", main)
	}
}

func TestPartialApplyReplacesMatchingThunkClosure(t *testing.T) {
	m := sil.NewModule("App")
	id := genericID(t, m, "Lib", "id", false)
	// An existing adapter taking the closure and producing the direct form.
	adapterType := &sil.FunctionType{
		Params:  []sil.Parameter{{Type: typeref.Opaque(), Convention: sil.ParamDirectGuaranteed}},
		Results: []sil.Result{{Type: ty("Swift.Int"), Convention: sil.ResultUnowned}},
	}
	adapter := sil.NewFunction("App.adapter", mangle.Identity{Module: "App", Name: "adapter"}, adapterType, sil.LinkageShared)
	adapter.Thunk = true
	ab := sil.AtEnd(adapter.AddEntryBlock())
	ab.Return(ab.Opaque("call_closure", ty("Swift.Int"), adapter.Entry().Args[0]).Result)
	mustAdd(t, m, adapter)

	main, b, arg, closure := partialApplyCaller(t, m, "main", id)
	direct := b.PartialApply(b.FunctionRef(adapter), nil, adapterType, []*sil.Value{closure})
	b.Opaque("consume", nil, b.Apply(direct, nil, direct.FnType, nil, false))
	b.DeallocStack(arg)
	b.Return(b.Tuple())

	result := run(t, m, DefaultOptions())
	if len(result.Thunks) != 0 {
		t.Fatalf("matching adapter closure must not force a thunk")
	}
	pas := findOps(main, sil.OpPartialApply)
	if len(pas) != 1 || calleeOf(pas[0]) != result.Created[0].Func {
		t.Fatalf("adapter closure must be replaced by the specialized closure:\n%s", main)
	}
	if call := findOps(main, sil.OpApply)[0]; call.Callee != pas[0].Result {
		t.Fatalf("adapter call must use the specialized closure:\n%s", main)
	}
}

func TestRecursiveSpecializationConverges(t *testing.T) {
	m := sil.NewModule("App")
	tau := typeref.GenericParam(0, 0)
	ft := &sil.FunctionType{
		Params:  []sil.Parameter{{Type: tau, Convention: sil.ParamIndirectIn}},
		Results: []sil.Result{{Type: tau, Convention: sil.ResultIndirect}},
	}
	loop := sil.NewFunction("Lib.loop", mangle.Identity{Module: "Lib", Name: "loop"}, ft, sil.LinkagePublic)
	lb := sil.AtEnd(loop.AddEntryBlock())
	identity := typeref.GenericArgumentMap{{Depth: 0, Index: 0}: tau}
	lb.Apply(lb.FunctionRef(loop), identity, ft, loop.Entry().Args, false)
	lb.Return(lb.Tuple())
	mustAdd(t, m, loop)

	_, b := newCaller(t, m, "main", &sil.FunctionType{})
	res := b.AllocStack(ty("Swift.Int"))
	arg := intSlot(b)
	b.Apply(b.FunctionRef(loop), intSubs, substType(t, loop, intSubs), []*sil.Value{res, arg}, false)
	b.DeallocStack(arg)
	b.DeallocStack(res)
	b.Return(b.Tuple())

	result := run(t, m, DefaultOptions())
	if result.Rounds != 2 || !result.Converged || len(result.Created) != 1 {
		t.Fatalf("rounds=%d converged=%v created=%d", result.Rounds, result.Converged, len(result.Created))
	}
	spec := result.Created[0].Func
	if calleeOf(findOps(spec, sil.OpApply)[0]) != spec {
		t.Fatalf("recursive call must target the specialization itself:\n%s", spec)
	}
}

func TestConcreteSiteInsideGenericBody(t *testing.T) {
	m := sil.NewModule("App")
	id := genericID(t, m, "Lib", "id", false)
	tau := typeref.GenericParam(0, 0)
	ft := &sil.FunctionType{
		Params:  []sil.Parameter{{Type: tau, Convention: sil.ParamIndirectIn}},
		Results: []sil.Result{{Type: tau, Convention: sil.ResultIndirect}},
	}
	wrap := sil.NewFunction("App.wrap", mangle.Identity{Module: "App", Name: "wrap"}, ft, sil.LinkagePublic)
	b := sil.AtEnd(wrap.AddEntryBlock())
	res := b.AllocStack(ty("Swift.Int"))
	arg := intSlot(b)
	b.Apply(b.FunctionRef(id), intSubs, substType(t, id, intSubs), []*sil.Value{res, arg}, false)
	identity := typeref.GenericArgumentMap{{Depth: 0, Index: 0}: tau}
	b.Apply(b.FunctionRef(id), identity, id.Type, wrap.Entry().Args, false)
	b.DeallocStack(arg)
	b.DeallocStack(res)
	b.Return(b.Tuple())
	mustAdd(t, m, wrap)

	result := run(t, m, DefaultOptions())
	if len(result.Created) != 1 || result.Sites != 1 {
		t.Fatalf("created=%d sites=%d", len(result.Created), result.Sites)
	}
	if got := result.Skipped[SkipPartial]; got != 0 {
		t.Fatalf("partial skips: got=%d want=0", got)
	}
	spec := result.Created[0].Func
	var callees []*sil.Function
	for _, in := range findOps(wrap, sil.OpApply) {
		callees = append(callees, calleeOf(in))
	}
	if diff := cmp.Diff([]string{spec.Name, id.Name}, names(callees)); diff != "" {
		t.Fatalf("apply callees (-want +got):\n%s\n%s", diff, wrap)
	}
}

func names(fns []*sil.Function) []string {
	out := make([]string, len(fns))
	for i, f := range fns {
		out[i] = f.Name
	}
	return out
}

func TestOptNoneSkips(t *testing.T) {
	m := sil.NewModule("App")
	id := genericID(t, m, "Lib", "id", false)
	_, b := newCaller(t, m, "main", &sil.FunctionType{})
	res := b.AllocStack(ty("Swift.Int"))
	arg := intSlot(b)
	b.Apply(b.FunctionRef(id), intSubs, substType(t, id, intSubs), []*sil.Value{res, arg}, false)
	b.DeallocStack(arg)
	b.DeallocStack(res)
	b.Return(b.Tuple())

	opts := DefaultOptions()
	opts.Level = OptNone
	result := run(t, m, opts)
	if result.Rounds != 0 || m.Len() != 2 {
		t.Fatalf("opt-none must not specialize: rounds=%d functions=%d", result.Rounds, m.Len())
	}
	c := NewCache(m, opts, oracle, nil)
	if e, reason, err := c.GetOrCreate(id, intSubs); e != nil || reason != SkipOptNone || err != nil {
		t.Fatalf("cache at opt-none: entry=%v reason=%s err=%v", e, reason, err)
	}
}

func TestVerifyCacheDetectsMismatch(t *testing.T) {
	m := sil.NewModule("App")
	id := genericID(t, m, "Lib", "id", false)
	opts := DefaultOptions()
	opts.VerifyCache = true
	c := NewCache(m, opts, oracle, nil)
	e, _, err := c.GetOrCreate(id, intSubs)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if again, _, err := c.GetOrCreate(id, intSubs); err != nil || again != e {
		t.Fatalf("verified hit: entry=%v err=%v", again, err)
	}
	e.Func.Type = &sil.FunctionType{}
	_, _, err = c.GetOrCreate(id, intSubs)
	var ce *ConsistencyError
	if !errors.As(err, &ce) || ce.Key != e.Key {
		t.Fatalf("got=%v want ConsistencyError", err)
	}
}

func TestUnhandledSiteShapePanics(t *testing.T) {
	m := sil.NewModule("App")
	f, b := newCaller(t, m, "main", &sil.FunctionType{})
	load := b.Load(b.AllocStack(ty("Swift.Int"))).Def
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for %s", load.Op)
		}
	}()
	newRewriter(m, f).rewrite(site{instr: load})
}
