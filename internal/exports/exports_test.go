package exports

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNewSortsAndDedups(t *testing.T) {
	idx := New("SwiftOnoneSupport", []string{"b", "a", "b"})
	if diff := cmp.Diff([]string{"a", "b"}, idx.Symbols); diff != "" {
		t.Fatalf("symbols (-want +got):\n%s", diff)
	}
}

func TestWriteLoadSet(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "one.gsx")
	second := filepath.Join(dir, "nested", "two.gsx")
	if err := New("A", []string{"x", "y"}).Write(first); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := New("B", []string{"y", "z"}).Write(second); err != nil {
		t.Fatalf("write: %v", err)
	}
	set, err := LoadSet(first, second)
	if err != nil {
		t.Fatalf("LoadSet: %v", err)
	}
	if set.Len() != 3 {
		t.Fatalf("len: got=%d want=3", set.Len())
	}
	if m, ok := set.Module("y"); !ok || m != "A" {
		t.Fatalf("y exported by: got=%q want A", m)
	}
	if set.Contains("w") {
		t.Fatalf("unexpected symbol")
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if filepath.Ext(e.Name()) == "" && !e.IsDir() {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestLoadRejectsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.gsx")
	if err := os.WriteFile(path, []byte{0x80}, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected schema error for an empty map")
	}
}

func TestNilSetContainsNothing(t *testing.T) {
	var s *Set
	if s.Contains("x") {
		t.Fatalf("nil set must be empty")
	}
}
