package fixture

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"genspec/internal/layout"
	"genspec/internal/registry"
	"genspec/internal/sil"
	"genspec/internal/specialize"
	"genspec/internal/typeref"
)

func TestReadModuleBuildsValidIR(t *testing.T) {
	m, err := ReadModuleFile(filepath.Join("testdata", "identity.yaml"), nil)
	if err != nil {
		t.Fatalf("ReadModuleFile: %v", err)
	}
	if err := sil.Validate(m); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	id, ok := m.LookupFunction("Lib.id")
	if !ok || !id.IsGeneric() || id.ID.Module != "Lib" || id.ID.Name != "id" {
		t.Fatalf("Lib.id: %+v", id)
	}
	main, _ := m.LookupFunction("App.main")
	var apply *sil.Instr
	for _, in := range main.Instrs() {
		if in.Op == sil.OpApply {
			apply = in
		}
	}
	if apply == nil || apply.SubstType.Params[0].Type.String() != "Swift.Int" {
		t.Fatalf("apply site: %v", apply)
	}
}

func TestFixtureSpecializesEndToEnd(t *testing.T) {
	m, err := ReadModuleFile(filepath.Join("testdata", "identity.yaml"), nil)
	if err != nil {
		t.Fatal(err)
	}
	oracle := layout.New(layout.X86_64LinuxGNU(), layout.DefaultFacts())
	res, err := specialize.SpecializeModule(context.Background(), m, specialize.DefaultOptions(), oracle, nil)
	if err != nil {
		t.Fatalf("SpecializeModule: %v", err)
	}
	if len(res.Created) != 1 || res.Sites != 1 {
		t.Fatalf("created=%d sites=%d", len(res.Created), res.Sites)
	}
	if err := sil.Validate(m); err != nil {
		t.Fatalf("Validate after specialization: %v", err)
	}
}

func TestDependentMemberUsesResolver(t *testing.T) {
	img, err := ReadImageFile(filepath.Join("testdata", "core.yaml"))
	if err != nil {
		t.Fatalf("ReadImageFile: %v", err)
	}
	reg := registry.New()
	if err := reg.RegisterImage(img); err != nil {
		t.Fatal(err)
	}
	doc := `
module: App
functions:
  - name: Lib.first
    type:
      params: [{type: "τ_0_0", conv: in_guaranteed}]
      results: [{type: "τ_0_0[Swift.Sequence].Element", conv: out}]
  - name: App.main
    type: {}
    blocks:
      - name: bb0
        instrs:
          - {op: alloc_stack, result: "%r", type: Swift.Int}
          - {op: alloc_stack, result: "%c", type: Lib.Counter}
          - {op: function_ref, result: "%f", func: Lib.first}
          - {op: apply, callee: "%f", subs: {"τ_0_0": Lib.Counter}, args: ["%r", "%c"]}
          - {op: tuple, result: "%t"}
          - {op: return, args: ["%t"]}
`
	m, err := ReadModule(strings.NewReader(doc), reg)
	if err != nil {
		t.Fatalf("ReadModule: %v", err)
	}
	main, _ := m.LookupFunction("App.main")
	for _, in := range main.Instrs() {
		if in.Op == sil.OpApply {
			if diff := cmp.Diff("Swift.Int", in.SubstType.Results[0].Type.String()); diff != "" {
				t.Fatalf("result type (-want +got):\n%s", diff)
			}
			return
		}
	}
	t.Fatalf("no apply in App.main")
}

func TestReadModuleErrors(t *testing.T) {
	const head = "module: App\nfunctions:\n"
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown field", "module: App\nfuncs: []\n", "field funcs not found"},
		{"no module", "functions: []\n", "missing module name"},
		{"bad linkage", head + "  - {name: A.f, linkage: global, type: {}}\n", "unknown linkage"},
		{"bad flag", head + "  - {name: A.f, flags: [fast], type: {}}\n", "unknown flag"},
		{"undefined value", head + "  - name: A.f\n    type: {}\n    blocks:\n      - name: bb0\n        instrs:\n          - {op: return, args: [\"%x\"]}\n", "undefined value %x"},
		{"unknown function", head + "  - name: A.f\n    type: {}\n    blocks:\n      - name: bb0\n        instrs:\n          - {op: function_ref, result: \"%f\", func: B.g}\n", "unknown function @B.g"},
		{"entry arity", head + "  - name: A.f\n    type: {params: [{type: Swift.Int, conv: owned}]}\n    blocks:\n      - name: bb0\n        instrs: []\n", "entry block names 0 arguments"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadModule(strings.NewReader(tt.doc), nil)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error: got=%v want containing %q", err, tt.want)
			}
		})
	}
}

func TestMissingBindingIsAnError(t *testing.T) {
	doc := `
module: App
functions:
  - name: Lib.pair
    type:
      params: [{type: "τ_0_0", conv: in}, {type: "τ_0_1", conv: in}]
  - name: App.main
    type: {}
    blocks:
      - name: bb0
        instrs:
          - {op: function_ref, result: "%f", func: Lib.pair}
          - {op: partial_apply, result: "%c", callee: "%f", subs: {"τ_0_0": Swift.Int}}
`
	_, err := ReadModule(strings.NewReader(doc), nil)
	var missing *typeref.MissingBindingError
	if !errors.As(err, &missing) {
		t.Fatalf("error: got=%v want a missing binding", err)
	}
	var fe *Error
	if !errors.As(err, &fe) || fe.Function != "App.main" || fe.Index != 1 {
		t.Fatalf("location: %+v", fe)
	}
}

func TestImageDocBuild(t *testing.T) {
	img, err := ReadImageFile(filepath.Join("testdata", "core.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	want := &registry.Image{
		Name: "Core",
		Records: []registry.Record{
			{Kind: registry.UniqueDirectType, Type: "Swift.Int"},
			{Kind: registry.NominalDescriptor, Type: "Lib.Counter", Pattern: true},
		},
		Conformances: []registry.Conformance{
			{Type: "Lib.Counter", Protocol: "Swift.Sequence", Witnesses: map[string]string{"Element": "Swift.Int"}},
		},
		ObjCClasses: []string{"_TtNSThing"},
	}
	if diff := cmp.Diff(want, img); diff != "" {
		t.Fatalf("image (-want +got):\n%s", diff)
	}
	back, err := DescribeImage(img).Build()
	if err != nil {
		t.Fatalf("rebuild described image: %v", err)
	}
	if diff := cmp.Diff(want, back); diff != "" {
		t.Fatalf("described image (-want +got):\n%s", diff)
	}
	if _, err := ReadImage(strings.NewReader("name: X\nrecords: [{kind: direct, type: A.B}]\n")); err == nil {
		t.Fatalf("expected unknown record kind error")
	}
}
