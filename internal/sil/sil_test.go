package sil

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"genspec/internal/mangle"
	"genspec/internal/typeref"
)

func genericIdentity() *Function {
	ty := &FunctionType{
		Params:  []Parameter{{Type: typeref.GenericParam(0, 0), Convention: ParamIndirectIn}},
		Results: []Result{{Type: typeref.GenericParam(0, 0), Convention: ResultIndirect}},
	}
	f := NewFunction("Lib.id", mangle.Identity{Module: "Lib", Name: "id"}, ty, LinkagePublic)
	entry := f.AddEntryBlock()
	b := AtEnd(entry)
	// copy_addr is not modeled; load+store stands in for it.
	v := b.Load(entry.Args[1])
	b.Store(v, entry.Args[0])
	b.Return(b.Tuple())
	return f
}

func TestEntryBlockFollowsArgumentOrder(t *testing.T) {
	f := genericIdentity()
	entry := f.Entry()
	if got, want := len(entry.Args), 2; got != want {
		t.Fatalf("entry args: got=%d want=%d", got, want)
	}
	if !entry.Args[0].Address || !entry.Args[1].Address {
		t.Fatalf("indirect result and indirect parameter must be addresses")
	}
	if !f.IsGeneric() {
		t.Fatalf("function mentioning τ_0_0 must be generic")
	}
	if err := ValidateFunction(f); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestReplaceAllUsesWith(t *testing.T) {
	f := genericIdentity()
	entry := f.Entry()
	load := entry.Instrs[0]
	b := Before(load)
	repl := b.Load(entry.Args[1])
	f.ReplaceAllUsesWith(load.Result, repl)
	if f.HasUses(load.Result) {
		t.Fatalf("old value still used")
	}
	f.EraseInstr(load)
	if got := len(f.Uses(repl)); got != 1 {
		t.Fatalf("uses of replacement: got=%d want=1", got)
	}
	if err := ValidateFunction(f); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

// scanUses recomputes every use in f from the instruction operands, in block
// order.
func scanUses(f *Function) map[*Value][]Use {
	out := make(map[*Value][]Use)
	for _, in := range f.Instrs() {
		if in.Callee != nil {
			out[in.Callee] = append(out[in.Callee], Use{User: in, Index: -1})
		}
		for i, a := range in.Args {
			out[a] = append(out[a], Use{User: in, Index: i})
		}
	}
	return out
}

func TestUseListsTrackEdits(t *testing.T) {
	callee := genericIdentity()
	f := NewFunction("main", mangle.Identity{Module: "App", Name: "main"}, &FunctionType{}, LinkagePublic)
	entry := f.AddEntryBlock()
	b := AtEnd(entry)
	intT := typeref.MustParse("Swift.Int")
	slot := b.AllocStack(intT)
	x := b.Load(slot)
	b.Store(x, slot)
	ref := b.FunctionRef(callee)
	closure := b.PartialApply(ref, nil, callee.Type, nil)
	b.Retain(closure)
	b.Opaque("use", nil, x, x)
	b.Return(b.Tuple())

	y := Before(x.Def).Load(slot)
	f.ReplaceAllUsesWith(x, y)
	other := Before(x.Def).FunctionRef(callee)
	f.ReplaceAllUsesWith(ref, other)
	f.EraseInstr(x.Def)
	f.EraseInstr(ref.Def)

	pos := make(map[*Instr]int)
	for i, in := range f.Instrs() {
		pos[in] = i
	}
	render := func(uses []Use) []string {
		out := make([]string, len(uses))
		for i, u := range uses {
			out[i] = fmt.Sprintf("%d/%d", pos[u.User], u.Index)
		}
		slices.Sort(out)
		return out
	}
	want := scanUses(f)
	for _, v := range []*Value{slot, x, y, ref, other, closure} {
		if diff := cmp.Diff(render(want[v]), render(f.Uses(v))); diff != "" {
			t.Errorf("uses of %s (-want +got):\n%s", v, diff)
		}
		if got, wantUsed := f.HasUses(v), len(want[v]) > 0; got != wantUsed {
			t.Errorf("HasUses(%s): got=%v want=%v", v, got, wantUsed)
		}
	}
	if got := len(f.Uses(y)); got != 3 {
		t.Fatalf("uses of replacement: got=%d want=3", got)
	}
}

func TestEraseLiveResultPanics(t *testing.T) {
	f := genericIdentity()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic when erasing a live value")
		}
	}()
	f.EraseInstr(f.Entry().Instrs[0])
}

func TestValidateCatchesArity(t *testing.T) {
	callee := genericIdentity()
	caller := NewFunction("main", mangle.Identity{Module: "App", Name: "main"}, &FunctionType{}, LinkagePublic)
	entry := caller.AddEntryBlock()
	b := AtEnd(entry)
	ref := b.FunctionRef(callee)
	subs := typeref.GenericArgumentMap{{Depth: 0, Index: 0}: typeref.MustParse("Swift.Int")}
	substType, _ := callee.Type.Subst(typeref.NewSubst(subs, nil))
	res := b.Apply(ref, subs, substType, nil, false)
	b.Return(res)
	err := ValidateFunction(caller)
	if err == nil || !strings.Contains(err.Error(), "passes 0 arguments, callee takes 2") {
		t.Fatalf("expected arity error, got %v", err)
	}
}

func TestPrintFunction(t *testing.T) {
	f := genericIdentity()
	got := f.String()
	for _, want := range []string{
		"sil public @Lib.id : $(@in τ_0_0) -> @out τ_0_0 {",
		"bb0(%0 : $*τ_0_0, %1 : $*τ_0_0):",
		"%2 = load %1 : $*τ_0_0",
		"store %2 to %0 : $*τ_0_0",
		"%3 = tuple () : $()",
		"return %3",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in:\n%s", want, got)
		}
	}
}

func TestModuleGetOrCreateIsExclusive(t *testing.T) {
	m := NewModule("App")
	var wg sync.WaitGroup
	results := make([]*Function, 32)
	created := make([]bool, 32)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], created[i] = m.GetOrCreate("thunk", func() *Function {
				return NewFunction("thunk", mangle.Identity{}, &FunctionType{}, LinkageShared)
			})
		}()
	}
	wg.Wait()
	n := 0
	for i, f := range results {
		if f != results[0] {
			t.Fatalf("worker %d got a different function", i)
		}
		if created[i] {
			n++
		}
	}
	if n != 1 || m.Len() != 1 {
		t.Fatalf("created=%d len=%d, want 1/1", n, m.Len())
	}
}

func TestFunctionTypeHelpers(t *testing.T) {
	ft := &FunctionType{
		Params: []Parameter{
			{Type: typeref.MustParse("Swift.Int"), Convention: ParamIndirectIn},
			{Type: typeref.MustParse("Swift.String"), Convention: ParamDirectGuaranteed},
		},
		Results: []Result{
			{Type: typeref.MustParse("Swift.Int"), Convention: ResultOwned},
			{Type: typeref.MustParse("Swift.Bool"), Convention: ResultUnowned},
		},
		ErrorResult: typeref.MustParse("protocol Swift.Error"),
	}
	if got := ft.DirectResultType().String(); got != "(Swift.Int, Swift.Bool)" {
		t.Fatalf("direct result type: got=%s", got)
	}
	closure := ft.DropTrailingParams(1)
	if len(closure.Params) != 1 || !closure.HasErrorResult() {
		t.Fatalf("closure type: %s", closure)
	}
	if got, want := ft.String(), "(@in Swift.Int, @guaranteed Swift.String) -> (@owned Swift.Int, @unowned Swift.Bool) throws protocol Swift.Error"; got != want {
		t.Fatalf("string: got=%q want=%q", got, want)
	}
}
