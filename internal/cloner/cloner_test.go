package cloner

import (
	"strings"
	"testing"

	"genspec/internal/layout"
	"genspec/internal/mangle"
	"genspec/internal/reabstract"
	"genspec/internal/sil"
	"genspec/internal/typeref"
)

// pick<T>(_ a: T, _ flag: Bool) -> T copies a into the result through a temporary.
func genericPick(t *testing.T) *sil.Function {
	t.Helper()
	tau := typeref.GenericParam(0, 0)
	ft := &sil.FunctionType{
		Params: []sil.Parameter{
			{Type: tau, Convention: sil.ParamIndirectIn},
			{Type: typeref.MustParse("Swift.Bool"), Convention: sil.ParamDirectUnowned},
		},
		Results: []sil.Result{{Type: tau, Convention: sil.ResultIndirect}},
	}
	f := sil.NewFunction("Lib.pick", mangle.Identity{Module: "Lib", Name: "pick"}, ft, sil.LinkagePublic)
	entry := f.AddEntryBlock()
	b := sil.AtEnd(entry)
	tmp := b.AllocStack(tau)
	v := b.Load(entry.Args[1])
	b.Store(v, tmp)
	b.Store(b.Load(tmp), entry.Args[0])
	b.DeallocStack(tmp)
	b.Return(b.Tuple())
	if err := sil.ValidateFunction(f); err != nil {
		t.Fatalf("generic body invalid: %v", err)
	}
	return f
}

func TestCloneConvertsResultAndParam(t *testing.T) {
	orig := genericPick(t)
	subs := typeref.GenericArgumentMap{{Depth: 0, Index: 0}: typeref.MustParse("Swift.Int")}
	plan, err := reabstract.ForFunction(orig, subs, nil, layout.New(layout.X86_64LinuxGNU(), nil))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	name := mangle.Specialization(orig.ID, subs, true)
	fn, err := New(nil).Clone(orig, plan, subs, name)
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	if err := sil.ValidateFunction(fn); err != nil {
		t.Fatalf("clone invalid: %v\n%s", err, fn)
	}
	if fn.IsGeneric() {
		t.Fatalf("specialization still generic: %s", fn.Type)
	}
	if got, want := fn.Type.String(), "(@unowned Swift.Int, @unowned Swift.Bool) -> @unowned Swift.Int"; got != want {
		t.Fatalf("type: got=%q want=%q", got, want)
	}
	entry := fn.Entry()
	if len(entry.Args) != 2 || entry.Args[0].Address {
		t.Fatalf("entry args must be two direct values, got %d", len(entry.Args))
	}
	ret := entry.Terminator()
	if ret == nil || ret.Op != sil.OpReturn || ret.Args[0].Def == nil || ret.Args[0].Def.Op != sil.OpLoad {
		t.Fatalf("return must return the loaded result slot:\n%s", fn)
	}
	body := fn.String()
	if strings.Contains(body[strings.Index(body, "{\n"):], "τ_0_0") {
		t.Fatalf("generic parameter survived cloning:\n%s", body)
	}
	if got := strings.Count(body, "dealloc_stack"); got != 3 {
		t.Fatalf("dealloc_stack count: got=%d want=3\n%s", got, body)
	}
	if fn.SpecializedFrom != orig || fn.Linkage != sil.LinkageShared {
		t.Fatalf("specialization metadata not recorded")
	}
}

func TestCloneKeepsAddressOnlySlots(t *testing.T) {
	orig := genericPick(t)
	subs := typeref.GenericArgumentMap{{Depth: 0, Index: 0}: typeref.MustParse("protocol Swift.Error")}
	plan, err := reabstract.ForFunction(orig, subs, nil, layout.New(layout.X86_64LinuxGNU(), nil))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.HasConversions() {
		t.Fatalf("address-only substitution must not convert: %s", plan)
	}
	fn, err := New(nil).Clone(orig, plan, subs, "spec")
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	if len(fn.Entry().Args) != 3 {
		t.Fatalf("entry args: got=%d want=3", len(fn.Entry().Args))
	}
	if err := sil.ValidateFunction(fn); err != nil {
		t.Fatalf("clone invalid: %v", err)
	}
}

func TestCloneThrowPathFreesSlots(t *testing.T) {
	tau := typeref.GenericParam(0, 0)
	errT := typeref.MustParse("protocol Swift.Error")
	ft := &sil.FunctionType{
		Params:      []sil.Parameter{{Type: tau, Convention: sil.ParamIndirectIn}},
		ErrorResult: errT,
	}
	orig := sil.NewFunction("Lib.check", mangle.Identity{Module: "Lib", Name: "check"}, ft, sil.LinkagePublic)
	entry := orig.AddEntryBlock()
	okBlock := orig.AddBlock()
	failBlock := orig.AddBlock()
	b := sil.AtEnd(entry)
	cond := b.Opaque("cond_value", typeref.MustParse("Builtin.Int1")).Result
	b.Opaque("cond_br", nil, cond)
	b.Branch(okBlock)
	sil.AtEnd(okBlock).Return(sil.AtEnd(okBlock).Tuple())
	fb := sil.AtEnd(failBlock)
	fb.Throw(fb.Opaque("make_error", errT).Result)

	subs := typeref.GenericArgumentMap{{Depth: 0, Index: 0}: typeref.MustParse("Swift.Int")}
	plan, err := reabstract.ForFunction(orig, subs, nil, layout.New(layout.X86_64LinuxGNU(), nil))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	fn, err := New(nil).Clone(orig, plan, subs, "spec")
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	if !fn.Type.HasErrorResult() {
		t.Fatalf("error result dropped")
	}
	throwBlock := fn.Blocks[2]
	instrs := throwBlock.Instrs
	if n := len(instrs); n < 2 || instrs[n-2].Op != sil.OpDeallocStack || instrs[n-1].Op != sil.OpThrow {
		t.Fatalf("throw path must free the spilled parameter:\n%s", fn)
	}
}
