package reabstract

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"genspec/internal/layout"
	"genspec/internal/mangle"
	"genspec/internal/sil"
	"genspec/internal/typeref"
)

var oracle = layout.New(layout.X86_64LinuxGNU(), nil)

func ty(s string) *typeref.TypeRef { return typeref.MustParse(s) }

func TestPlanConcreteExample(t *testing.T) {
	substituted := &sil.FunctionType{
		Results: []sil.Result{{Type: ty("Swift.Int"), Convention: sil.ResultIndirect}},
		Params: []sil.Parameter{
			{Type: ty("Swift.Int"), Convention: sil.ParamIndirectIn},
			{Type: ty("Swift.String"), Convention: sil.ParamDirectGuaranteed},
		},
	}
	p := New(substituted, oracle)
	if diff := cmp.Diff([]bool{true, true, false}, p.Conversions()); diff != "" {
		t.Fatalf("conversions (-want +got):\n%s", diff)
	}
	want := &sil.FunctionType{
		Results: []sil.Result{{Type: ty("Swift.Int"), Convention: sil.ResultUnowned}},
		Params: []sil.Parameter{
			{Type: ty("Swift.Int"), Convention: sil.ParamDirectUnowned},
			{Type: ty("Swift.String"), Convention: sil.ParamDirectGuaranteed},
		},
	}
	if !p.Specialized.Equal(want) {
		t.Fatalf("specialized: got=%s want=%s", p.Specialized, want)
	}
	if got := len(p.Specialized.DirectResults()); got != 1 {
		t.Fatalf("direct results: got=%d want=1", got)
	}
	if p.String() != "1|10" {
		t.Fatalf("plan string: got=%s", p)
	}
}

func TestPlanResultPromotion(t *testing.T) {
	tests := []struct {
		name    string
		results []sil.Result
		want    []bool
	}{
		{
			name: "only first loadable result promoted",
			results: []sil.Result{
				{Type: ty("Swift.Int"), Convention: sil.ResultIndirect},
				{Type: ty("Swift.Bool"), Convention: sil.ResultIndirect},
			},
			want: []bool{true, false},
		},
		{
			name: "address-only result skipped",
			results: []sil.Result{
				{Type: ty("protocol Swift.Error"), Convention: sil.ResultIndirect},
				{Type: ty("Swift.String"), Convention: sil.ResultIndirect},
			},
			want: []bool{false, true},
		},
		{
			name: "void result skipped",
			results: []sil.Result{
				{Type: ty("()"), Convention: sil.ResultIndirect},
				{Type: ty("Swift.Int"), Convention: sil.ResultIndirect},
			},
			want: []bool{false, true},
		},
		{
			name: "existing direct result blocks promotion",
			results: []sil.Result{
				{Type: ty("Swift.Int"), Convention: sil.ResultOwned},
				{Type: ty("Swift.Int"), Convention: sil.ResultIndirect},
			},
			want: []bool{false},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(&sil.FunctionType{Results: tt.results}, oracle)
			if diff := cmp.Diff(tt.want, p.Conversions()); diff != "" {
				t.Fatalf("conversions (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPlanParameterConventions(t *testing.T) {
	substituted := &sil.FunctionType{
		Params: []sil.Parameter{
			{Type: ty("Swift.String"), Convention: sil.ParamIndirectIn},
			{Type: ty("Swift.Int"), Convention: sil.ParamIndirectInGuaranteed},
			{Type: ty("Swift.Int"), Convention: sil.ParamIndirectInout},
			{Type: ty("protocol Swift.Error"), Convention: sil.ParamIndirectIn},
		},
	}
	p := New(substituted, oracle)
	if diff := cmp.Diff([]bool{true, false, false, false}, p.Conversions()); diff != "" {
		t.Fatalf("conversions (-want +got):\n%s", diff)
	}
	if got := p.Specialized.Params[0].Convention; got != sil.ParamDirectOwned {
		t.Fatalf("non-trivial converted param: got=%s want=owned", got)
	}
}

func TestPlanIsPure(t *testing.T) {
	substituted := &sil.FunctionType{
		Results: []sil.Result{{Type: ty("Swift.Array<Swift.Int>"), Convention: sil.ResultIndirect}},
		Params:  []sil.Parameter{{Type: ty("Swift.Int"), Convention: sil.ParamIndirectIn}},
	}
	a, b := New(substituted, oracle), New(substituted, oracle)
	if diff := cmp.Diff(a.Conversions(), b.Conversions()); diff != "" {
		t.Fatalf("plans differ:\n%s", diff)
	}
	if !a.Specialized.Equal(b.Specialized) {
		t.Fatalf("specialized signatures differ")
	}
}

func TestPlanPrune(t *testing.T) {
	substituted := &sil.FunctionType{
		Results: []sil.Result{{Type: ty("Swift.Int"), Convention: sil.ResultIndirect}},
		Params: []sil.Parameter{
			{Type: ty("Swift.Int"), Convention: sil.ParamIndirectIn},
			{Type: ty("Swift.Bool"), Convention: sil.ParamIndirectIn},
		},
	}
	p := New(substituted, oracle)
	if got := p.IndexOfFirstArg(1); got != 2 {
		t.Fatalf("IndexOfFirstArg(1): got=%d want=2", got)
	}
	pruned := p.Prune(1)
	if pruned.NumArguments() != 2 || len(pruned.Specialized.Params) != 1 {
		t.Fatalf("pruned plan: %s with %s", pruned, pruned.Specialized)
	}
	if !pruned.IsResultIndex(0) || !pruned.IsArgConverted(1) {
		t.Fatalf("pruned plan lost conversions: %s", pruned)
	}
}

func TestForFunctionEligibility(t *testing.T) {
	ft := &sil.FunctionType{
		Params: []sil.Parameter{{Type: ty("τ_0_0"), Convention: sil.ParamIndirectIn}},
	}
	withBody := func(mut func(*sil.Function)) *sil.Function {
		f := sil.NewFunction("Lib.f", mangle.Identity{Module: "Lib", Name: "f"}, ft, sil.LinkagePublic)
		entry := f.AddEntryBlock()
		b := sil.AtEnd(entry)
		b.Return(b.Tuple())
		if mut != nil {
			mut(f)
		}
		return f
	}
	intSubs := typeref.GenericArgumentMap{{Depth: 0, Index: 0}: ty("Swift.Int")}

	if p, err := ForFunction(withBody(nil), intSubs, nil, oracle); err != nil || !p.IsArgConverted(0) {
		t.Fatalf("expected eligible plan, got %v / %v", p, err)
	}
	tests := []struct {
		name string
		fn   *sil.Function
		subs typeref.GenericArgumentMap
		want error
	}{
		{"no optimize", withBody(func(f *sil.Function) { f.NoOptimize = true }), intSubs, ErrNoOptimize},
		{"external", sil.NewFunction("Lib.f", mangle.Identity{}, ft, sil.LinkagePublicExternal), intSubs, ErrExternal},
		{"unbound param", withBody(nil), typeref.GenericArgumentMap{}, ErrPartialSubstitution},
		{"generic replacement", withBody(nil), typeref.GenericArgumentMap{{Depth: 0, Index: 0}: ty("τ_1_0")}, ErrPartialSubstitution},
		{"not generic", sil.NewFunction("Lib.g", mangle.Identity{}, &sil.FunctionType{}, sil.LinkagePublic), intSubs, ErrNotGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ForFunction(tt.fn, tt.subs, nil, oracle); !errors.Is(err, tt.want) {
				t.Fatalf("got=%v want=%v", err, tt.want)
			}
		})
	}
}

func TestForFunctionUnresolvedWitness(t *testing.T) {
	ft := &sil.FunctionType{
		Params: []sil.Parameter{{Type: ty("τ_0_0[Swift.Sequence].Element"), Convention: sil.ParamIndirectIn}},
	}
	f := sil.NewFunction("Lib.first", mangle.Identity{Module: "Lib", Name: "first"}, ft, sil.LinkagePublic)
	entry := f.AddEntryBlock()
	b := sil.AtEnd(entry)
	b.Return(b.Tuple())
	if !f.IsGeneric() {
		t.Fatalf("expected generic function")
	}
	_, err := ForFunction(f, typeref.GenericArgumentMap{{Depth: 0, Index: 0}: ty("Swift.Int")}, nil, oracle)
	if !errors.Is(err, ErrUnresolved) {
		t.Fatalf("got=%v want=%v", err, ErrUnresolved)
	}
}
