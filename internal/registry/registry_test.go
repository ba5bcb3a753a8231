package registry

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"genspec/internal/mangle"
	"genspec/internal/typeref"
)

func mangled(t *testing.T, expr string) string {
	t.Helper()
	return mangle.Type(typeref.MustParse(expr))
}

func register(t *testing.T, r *Registry, img *Image) {
	t.Helper()
	if err := r.RegisterImage(img); err != nil {
		t.Fatalf("RegisterImage(%s): %v", img.Name, err)
	}
}

func TestLookupStages(t *testing.T) {
	r := New()
	register(t, r, &Image{
		Name: "Core",
		Records: []Record{
			{Kind: UniqueDirectType, Type: "Swift.Int"},
			{Kind: UniqueDirectClass, Type: "App.Missing", Absent: true},
			{Kind: NominalDescriptor, Type: "Lib.Opaque"},
			{Kind: NominalDescriptor, Type: "Lib.Resilient", Pattern: true},
			{Kind: NominalDescriptor, Type: "Lib.Box", Pattern: true, Generic: true},
		},
		Conformances: []Conformance{
			{Type: "Lib.Counter", Protocol: "Swift.Sequence", Witnesses: map[string]string{"Element": "Swift.Int"}},
		},
		ObjCClasses: []string{"_TtNSObjectish"},
	})

	tests := []struct {
		name   string
		lookup string
		found  bool
		origin Origin
	}{
		{"direct", mangled(t, "Swift.Int"), true, OriginSection},
		{"absent class", mangled(t, "App.Missing"), false, 0},
		{"descriptor without pattern", mangled(t, "Lib.Opaque"), false, 0},
		{"resilient descriptor", mangled(t, "Lib.Resilient"), true, OriginSection},
		{"generic descriptor", mangled(t, "Lib.Box"), false, 0},
		{"conformance table", mangled(t, "Lib.Counter"), true, OriginConformance},
		{"objc fallback", "NSObjectish", true, OriginObjC},
		{"unknown", mangled(t, "Lib.Nope"), false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md := r.TypeByMangledName(tt.lookup)
			if got := md != nil; got != tt.found {
				t.Fatalf("found: got=%v want=%v", got, tt.found)
			}
			if md != nil && md.Origin != tt.origin {
				t.Fatalf("origin: got=%s want=%s", md.Origin, tt.origin)
			}
		})
	}
}

func TestLookupIsCanonical(t *testing.T) {
	r := New()
	register(t, r, &Image{Name: "A", Records: []Record{{Kind: NominalDescriptor, Type: "Lib.Resilient", Pattern: true}}})
	name := mangled(t, "Lib.Resilient")
	first := r.TypeByMangledName(name)
	if first == nil || !first.Instantiated {
		t.Fatalf("resilient type not instantiated: %+v", first)
	}
	if again := r.TypeByMangledName(name); again != first {
		t.Fatalf("second lookup returned a different metadata")
	}
}

func TestForeignMetadataCanonicalizedAcrossImages(t *testing.T) {
	r := New()
	register(t, r, &Image{Name: "A", Records: []Record{{Kind: NonuniqueDirectType, Type: "@foreign CFString"}}})
	register(t, r, &Image{Name: "B", Records: []Record{{Kind: NonuniqueDirectType, Type: "@foreign CFString"}}})
	md := r.TypeByName(typeref.ForeignClass("CFString"))
	if md == nil || md.Image != "A" {
		t.Fatalf("foreign metadata: got=%+v want image A", md)
	}
}

func TestCollidingNamesProbeLinearly(t *testing.T) {
	r := New()
	r.hash = func(string) uint64 { return 7 }
	register(t, r, &Image{Name: "A", Records: []Record{
		{Kind: UniqueDirectType, Type: "Swift.Int"},
		{Kind: UniqueDirectType, Type: "Swift.Bool"},
		{Kind: UniqueDirectType, Type: "Swift.Double"},
	}})
	names := []string{mangled(t, "Swift.Int"), mangled(t, "Swift.Bool"), mangled(t, "Swift.Double")}
	first := make([]*Metadata, len(names))
	for i, n := range names {
		first[i] = r.TypeByMangledName(n)
		if first[i] == nil || first[i].Name != n {
			t.Fatalf("lookup %q: got=%+v", n, first[i])
		}
	}
	for i, n := range names {
		if got := r.TypeByMangledName(n); got != first[i] {
			t.Fatalf("cached lookup %q returned a different metadata", n)
		}
	}
	for i := range len(names) {
		v, ok := r.cache.Load(uint64(7 + i))
		if !ok || v.(*cacheEntry).name != names[i] {
			t.Fatalf("bucket %d: got=%v want %q", 7+i, v, names[i])
		}
	}
}

func TestConcurrentLookupsDuringRegistration(t *testing.T) {
	r := New()
	r.hash = func(s string) uint64 { return uint64(len(s) % 3) }
	const images = 8
	var wg sync.WaitGroup
	for i := range images {
		wg.Add(1)
		go func() {
			defer wg.Done()
			img := &Image{Name: fmt.Sprintf("I%d", i), Records: []Record{
				{Kind: UniqueDirectType, Type: fmt.Sprintf("M%d.T", i)},
				{Kind: NonuniqueDirectType, Type: "@foreign Shared"},
			}}
			if err := r.RegisterImage(img); err != nil {
				t.Errorf("register: %v", err)
			}
		}()
	}
	results := make([][]*Metadata, 16)
	for g := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				results[g] = append(results[g], r.TypeByName(typeref.ForeignClass("Shared")))
			}
		}()
	}
	wg.Wait()

	want := r.TypeByName(typeref.ForeignClass("Shared"))
	if want == nil {
		t.Fatalf("foreign type missing after registration")
	}
	for g, rs := range results {
		for _, md := range rs {
			if md != nil && md != want {
				t.Fatalf("goroutine %d saw a non-canonical metadata", g)
			}
		}
	}
	for i := range images {
		if r.TypeByName(typeref.Nominal(fmt.Sprintf("M%d.T", i), nil)) == nil {
			t.Fatalf("M%d.T not found", i)
		}
	}
}

func TestWitnessResolverDrivesSubstitution(t *testing.T) {
	r := New()
	register(t, r, &Image{Name: "Lib", Conformances: []Conformance{
		{Type: "Lib.Counter", Protocol: "Swift.Sequence", Witnesses: map[string]string{"Element": "Swift.Int"}},
	}})
	expr := typeref.MustParse("τ_0_0[Swift.Sequence].Element")
	args := typeref.GenericArgumentMap{{Depth: 0, Index: 0}: typeref.Nominal("Lib.Counter", nil)}
	got, ok := typeref.Substitute(expr, args, r)
	if !ok {
		t.Fatalf("substitution failed")
	}
	if diff := cmp.Diff("Swift.Int", got.String()); diff != "" {
		t.Fatalf("witness (-want +got):\n%s", diff)
	}
	if _, ok := r.LookupWitness("Lib.Counter", "Index", typeref.ProtocolRef{Module: "Swift", Name: "Sequence"}); ok {
		t.Fatalf("unknown member resolved")
	}
}

func TestCyclicWitnessesFailSubstitution(t *testing.T) {
	r := New()
	register(t, r, &Image{Name: "Mod", Conformances: []Conformance{
		{Type: "Mod.Box", Protocol: "Swift.Sequence", Witnesses: map[string]string{"Element": "Mod.Box[Swift.Sequence].Element"}},
		{Type: "Mod.Even", Protocol: "Swift.Sequence", Witnesses: map[string]string{"Element": "Mod.Odd[Swift.Sequence].Element"}},
		{Type: "Mod.Odd", Protocol: "Swift.Sequence", Witnesses: map[string]string{"Element": "Mod.Even[Swift.Sequence].Element"}},
	}})
	expr := typeref.MustParse("τ_0_0[Swift.Sequence].Element")
	for _, name := range []string{"Mod.Box", "Mod.Even"} {
		args := typeref.GenericArgumentMap{{Depth: 0, Index: 0}: typeref.Nominal(name, nil)}
		got, ok := typeref.Substitute(expr, args, r)
		if ok || got != nil {
			t.Fatalf("%s: got=%s ok=%v want=<nil> ok=false", name, got, ok)
		}
	}
}

func TestImageFileRoundTrip(t *testing.T) {
	img := &Image{
		Name:         "Lib",
		Records:      []Record{{Kind: NominalDescriptor, Type: "Lib.Resilient", Pattern: true}},
		Conformances: []Conformance{{Type: "Lib.Counter", Protocol: "Swift.Sequence", Witnesses: map[string]string{"Element": "Swift.Int"}}},
		ObjCClasses:  []string{"_TtFoo"},
	}
	path := filepath.Join(t.TempDir(), "lib.gsimg")
	if err := WriteImage(path, img); err != nil {
		t.Fatalf("WriteImage: %v", err)
	}
	got, err := ReadImage(path)
	if err != nil {
		t.Fatalf("ReadImage: %v", err)
	}
	want := *img
	want.Schema = imageSchemaVersion
	if diff := cmp.Diff(&want, got); diff != "" {
		t.Fatalf("image (-want +got):\n%s", diff)
	}
}

func TestRegisterRejectsBadInput(t *testing.T) {
	tests := []*Image{
		{Name: "bad-type", Records: []Record{{Type: "Swift.<"}}},
		{Name: "bad-proto", Conformances: []Conformance{{Type: "A.B", Protocol: "(Swift.Int)"}}},
		{Name: "bad-witness", Conformances: []Conformance{{Type: "A.B", Protocol: "P.Q", Witnesses: map[string]string{"E": "->"}}}},
		{Name: "schema", Schema: 99},
	}
	for _, img := range tests {
		if err := New().RegisterImage(img); err == nil {
			t.Errorf("%s: expected an error", img.Name)
		}
	}
}

func TestDecodeGarbage(t *testing.T) {
	if _, err := Decode(bytes.NewReader([]byte{0xc1})); err == nil {
		t.Fatalf("expected a decode error")
	}
}
