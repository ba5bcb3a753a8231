package sil

import (
	"fmt"
	"io"
	"strings"

	"genspec/internal/typeref"
)

// DumpOptions configures module dumping.
type DumpOptions struct {
	// Sorted prints functions by name instead of insertion order.
	Sorted bool
}

// DumpModule writes a human-readable representation of a module.
func DumpModule(w io.Writer, m *Module, opts DumpOptions) error {
	if w == nil || m == nil {
		return nil
	}
	fns := m.Functions()
	if opts.Sorted {
		fns = m.SortedFunctions()
	}
	if _, err := fmt.Fprintf(w, "sil_module %s // funcs=%d\n", m.Name, len(fns)); err != nil {
		return err
	}
	for _, f := range fns {
		if _, err := io.WriteString(w, "\n"+f.String()); err != nil {
			return err
		}
	}
	return nil
}

// String renders the function with its body.
func (f *Function) String() string {
	var sb strings.Builder
	sb.WriteString("sil ")
	for _, flag := range []struct {
		on   bool
		name string
	}{
		{f.Bare, "bare"},
		{f.Transparent, "transparent"},
		{f.Fragile, "fragile"},
		{f.Thunk, "thunk"},
		{f.NoInline, "noinline"},
		{f.KeepAsPublic, "keep_as_public"},
		{f.NoOptimize, "optimize.none"},
	} {
		if flag.on {
			fmt.Fprintf(&sb, "[%s] ", flag.name)
		}
	}
	fmt.Fprintf(&sb, "%s @%s : $%s", f.Linkage, f.Name, f.Type)
	if f.SpecializedFrom != nil {
		fmt.Fprintf(&sb, " // specialized %s from @%s", f.SpecializedSubs, f.SpecializedFrom.Name)
	}
	if f.IsExternalDeclaration() {
		sb.WriteString("\n")
		return sb.String()
	}
	sb.WriteString(" {\n")
	for _, b := range f.Blocks {
		fmt.Fprintf(&sb, "bb%d", b.ID)
		if len(b.Args) > 0 {
			sb.WriteByte('(')
			for i, a := range b.Args {
				if i > 0 {
					sb.WriteString(", ")
				}
				fmt.Fprintf(&sb, "%s : %s", a, a.TypeString())
			}
			sb.WriteByte(')')
		}
		sb.WriteString(":\n")
		for _, in := range b.Instrs {
			sb.WriteString("  ")
			sb.WriteString(in.String())
			sb.WriteByte('\n')
		}
	}
	sb.WriteString("}\n")
	return sb.String()
}

func valueList(vs []*Value) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.String()
	}
	return strings.Join(parts, ", ")
}

func subsString(subs typeref.GenericArgumentMap) string {
	if len(subs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(subs))
	for _, k := range subs.SortedKeys() {
		parts = append(parts, fmt.Sprintf("%s := %s", k, subs[k]))
	}
	return "<" + strings.Join(parts, ", ") + ">"
}

func (i *Instr) String() string {
	var sb strings.Builder
	if i.Result != nil {
		fmt.Fprintf(&sb, "%s = ", i.Result)
	}
	switch i.Op {
	case OpFunctionRef:
		fmt.Fprintf(&sb, "function_ref @%s", i.Func.Name)
	case OpApply, OpPartialApply:
		sb.WriteString(i.Op.String())
		if i.NonThrowing {
			sb.WriteString(" [nothrow]")
		}
		fmt.Fprintf(&sb, " %s%s(%s) : $%s", i.Callee, subsString(i.Subs), valueList(i.Args), i.SubstType)
	case OpTryApply:
		fmt.Fprintf(&sb, "try_apply %s%s(%s) : $%s, normal bb%d, error bb%d",
			i.Callee, subsString(i.Subs), valueList(i.Args), i.SubstType, i.Normal.ID, i.Error.ID)
	case OpLoad:
		fmt.Fprintf(&sb, "load %s : %s", i.Args[0], i.Args[0].TypeString())
	case OpStore:
		fmt.Fprintf(&sb, "store %s to %s : %s", i.Args[0], i.Args[1], i.Args[1].TypeString())
	case OpTuple:
		fmt.Fprintf(&sb, "tuple (%s)", valueList(i.Args))
	case OpAllocStack:
		fmt.Fprintf(&sb, "alloc_stack $%s", i.AllocType)
	case OpDebugValue:
		fmt.Fprintf(&sb, "debug_value %s, name %q", i.Args[0], i.Name)
	case OpBranch:
		fmt.Fprintf(&sb, "br bb%d", i.Dest.ID)
		if len(i.Args) > 0 {
			fmt.Fprintf(&sb, "(%s)", valueList(i.Args))
		}
	case OpOpaque:
		fmt.Fprintf(&sb, "%s(%s)", i.Name, valueList(i.Args))
	default:
		fmt.Fprintf(&sb, "%s %s", i.Op, valueList(i.Args))
	}
	if i.Result != nil && i.Op != OpFunctionRef && i.Op != OpApply && i.Op != OpPartialApply && i.Op != OpLoad {
		fmt.Fprintf(&sb, " : %s", i.Result.TypeString())
	}
	return sb.String()
}
