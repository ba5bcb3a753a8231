// Package fixture reads the YAML descriptions of SIL modules and metadata
// images used by the command line tool and the tests.
package fixture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"genspec/internal/mangle"
	"genspec/internal/sil"
	"genspec/internal/typeref"
)

// ModuleDoc is the YAML form of a module.
type ModuleDoc struct {
	Module    string        `yaml:"module"`
	Functions []FunctionDoc `yaml:"functions"`
}

type FunctionDoc struct {
	Name string `yaml:"name"`
	// ID defaults to Name split at its first dot.
	ID      *IdentityDoc `yaml:"id,omitempty"`
	Linkage string       `yaml:"linkage,omitempty"`
	Flags   []string     `yaml:"flags,omitempty"`
	Type    TypeDoc      `yaml:"type"`
	Blocks  []BlockDoc   `yaml:"blocks,omitempty"`
}

type IdentityDoc struct {
	Module string `yaml:"module"`
	Name   string `yaml:"name"`
}

type TypeDoc struct {
	Params  []SlotDoc `yaml:"params,omitempty"`
	Results []SlotDoc `yaml:"results,omitempty"`
	Error   string    `yaml:"error,omitempty"`
}

type SlotDoc struct {
	Type string `yaml:"type"`
	Conv string `yaml:"conv"`
}

type BlockDoc struct {
	Name string `yaml:"name"`
	// Args name the block arguments. Entry block arguments take their
	// types from the signature; other blocks spell them as "%name: Type"
	// with a leading "*" on the type for addresses.
	Args   []string   `yaml:"args,omitempty"`
	Instrs []InstrDoc `yaml:"instrs"`
}

type InstrDoc struct {
	Op      string            `yaml:"op"`
	Result  string            `yaml:"result,omitempty"`
	Func    string            `yaml:"func,omitempty"`
	Callee  string            `yaml:"callee,omitempty"`
	Subs    map[string]string `yaml:"subs,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Type    string            `yaml:"type,omitempty"`
	Name    string            `yaml:"name,omitempty"`
	NoThrow bool              `yaml:"nothrow,omitempty"`
	Normal  string            `yaml:"normal,omitempty"`
	Error   string            `yaml:"error,omitempty"`
	Dest    string            `yaml:"dest,omitempty"`
}

// Error locates a fixture problem.
type Error struct {
	Function string
	Block    string
	Index    int
	Err      error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString("fixture")
	if e.Function != "" {
		fmt.Fprintf(&sb, ": @%s", e.Function)
	}
	if e.Block != "" {
		fmt.Fprintf(&sb, " %s", e.Block)
		if e.Index >= 0 {
			fmt.Fprintf(&sb, "[%d]", e.Index)
		}
	}
	return sb.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// ReadModuleFile loads and builds the module at path.
func ReadModuleFile(path string, resolver typeref.WitnessResolver) (*sil.Module, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := ReadModule(f, resolver)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ReadModule decodes a module document and builds it. resolver answers the
// associated types met while computing call site types; it may be nil.
func ReadModule(r io.Reader, resolver typeref.WitnessResolver) (*sil.Module, error) {
	var doc ModuleDoc
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("fixture: %w", err)
	}
	return doc.Build(resolver)
}

// Build creates the module. Signatures are declared first so bodies may
// reference any function of the document.
func (doc *ModuleDoc) Build(resolver typeref.WitnessResolver) (*sil.Module, error) {
	if strings.TrimSpace(doc.Module) == "" {
		return nil, errors.New("fixture: missing module name")
	}
	m := sil.NewModule(doc.Module)
	fns := make([]*sil.Function, len(doc.Functions))
	for i := range doc.Functions {
		fd := &doc.Functions[i]
		fn, err := fd.declare()
		if err != nil {
			return nil, &Error{Function: fd.Name, Index: -1, Err: err}
		}
		if err := m.AddFunction(fn); err != nil {
			return nil, &Error{Function: fd.Name, Index: -1, Err: err}
		}
		fns[i] = fn
	}
	for i := range doc.Functions {
		if len(doc.Functions[i].Blocks) == 0 {
			continue
		}
		bb := &bodyBuilder{module: m, fn: fns[i], resolver: resolver}
		if err := bb.build(&doc.Functions[i]); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (fd *FunctionDoc) declare() (*sil.Function, error) {
	if fd.Name == "" {
		return nil, errors.New("missing function name")
	}
	ft, err := fd.Type.build()
	if err != nil {
		return nil, err
	}
	linkage := sil.LinkageHidden
	if fd.Linkage != "" {
		if linkage, err = sil.ParseLinkage(fd.Linkage); err != nil {
			return nil, err
		}
	}
	fn := sil.NewFunction(fd.Name, fd.identity(), ft, linkage)
	for _, flag := range fd.Flags {
		switch flag {
		case "bare":
			fn.Bare = true
		case "transparent":
			fn.Transparent = true
		case "fragile":
			fn.Fragile = true
		case "thunk":
			fn.Thunk = true
		case "noinline":
			fn.NoInline = true
		case "keep_as_public":
			fn.KeepAsPublic = true
		case "optimize.none":
			fn.NoOptimize = true
		default:
			return nil, fmt.Errorf("unknown flag %q", flag)
		}
	}
	return fn, nil
}

func (fd *FunctionDoc) identity() mangle.Identity {
	if fd.ID != nil {
		return mangle.Identity{Module: fd.ID.Module, Name: fd.ID.Name}
	}
	module, name, ok := strings.Cut(fd.Name, ".")
	if !ok {
		return mangle.Identity{Name: fd.Name}
	}
	return mangle.Identity{Module: module, Name: name}
}

func (td *TypeDoc) build() (*sil.FunctionType, error) {
	ft := &sil.FunctionType{}
	for _, p := range td.Params {
		t, err := typeref.Parse(p.Type)
		if err != nil {
			return nil, err
		}
		conv, err := sil.ParseParamConvention(p.Conv)
		if err != nil {
			return nil, err
		}
		ft.Params = append(ft.Params, sil.Parameter{Type: t, Convention: conv})
	}
	for _, r := range td.Results {
		t, err := typeref.Parse(r.Type)
		if err != nil {
			return nil, err
		}
		conv, err := sil.ParseResultConvention(r.Conv)
		if err != nil {
			return nil, err
		}
		ft.Results = append(ft.Results, sil.Result{Type: t, Convention: conv})
	}
	if td.Error != "" {
		t, err := typeref.Parse(td.Error)
		if err != nil {
			return nil, err
		}
		ft.ErrorResult = t
	}
	return ft, nil
}
