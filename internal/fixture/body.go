package fixture

import (
	"errors"
	"fmt"
	"strings"

	"genspec/internal/sil"
	"genspec/internal/typeref"
)

type bodyBuilder struct {
	module   *sil.Module
	fn       *sil.Function
	resolver typeref.WitnessResolver

	blocks map[string]*sil.Block
	values map[string]*sil.Value
}

func (bb *bodyBuilder) build(fd *FunctionDoc) error {
	bb.blocks = make(map[string]*sil.Block, len(fd.Blocks))
	bb.values = make(map[string]*sil.Value)

	for i := range fd.Blocks {
		bd := &fd.Blocks[i]
		if err := bb.declareBlock(i, bd); err != nil {
			return &Error{Function: fd.Name, Block: bd.Name, Index: -1, Err: err}
		}
	}
	for i := range fd.Blocks {
		bd := &fd.Blocks[i]
		b := sil.AtEnd(bb.blocks[bd.Name])
		for j := range bd.Instrs {
			if err := bb.emit(b, &bd.Instrs[j]); err != nil {
				return &Error{Function: fd.Name, Block: bd.Name, Index: j, Err: err}
			}
		}
	}
	return nil
}

func (bb *bodyBuilder) declareBlock(i int, bd *BlockDoc) error {
	if bd.Name == "" {
		return errors.New("missing block name")
	}
	if _, dup := bb.blocks[bd.Name]; dup {
		return errors.New("duplicate block")
	}
	if i == 0 {
		entry := bb.fn.AddEntryBlock()
		if len(bd.Args) != len(entry.Args) {
			return fmt.Errorf("entry block names %d arguments, signature has %d", len(bd.Args), len(entry.Args))
		}
		for j, name := range bd.Args {
			if err := bb.define(name, entry.Args[j]); err != nil {
				return err
			}
		}
		bb.blocks[bd.Name] = entry
		return nil
	}
	blk := bb.fn.AddBlock()
	for _, spec := range bd.Args {
		name, typeText, ok := strings.Cut(spec, ":")
		if !ok {
			return fmt.Errorf("block argument %q needs a type", spec)
		}
		typeText = strings.TrimSpace(typeText)
		address := strings.HasPrefix(typeText, "*")
		t, err := typeref.Parse(strings.TrimPrefix(typeText, "*"))
		if err != nil {
			return err
		}
		if err := bb.define(strings.TrimSpace(name), blk.AddArg(t, address)); err != nil {
			return err
		}
	}
	bb.blocks[bd.Name] = blk
	return nil
}

func (bb *bodyBuilder) define(name string, v *sil.Value) error {
	if !strings.HasPrefix(name, "%") {
		return fmt.Errorf("value name %q must start with %%", name)
	}
	if _, dup := bb.values[name]; dup {
		return fmt.Errorf("value %s defined twice", name)
	}
	v.Name = strings.TrimPrefix(name, "%")
	bb.values[name] = v
	return nil
}

func (bb *bodyBuilder) value(name string) (*sil.Value, error) {
	v, ok := bb.values[name]
	if !ok {
		return nil, fmt.Errorf("undefined value %s", name)
	}
	return v, nil
}

func (bb *bodyBuilder) valueList(names []string) ([]*sil.Value, error) {
	out := make([]*sil.Value, len(names))
	for i, n := range names {
		v, err := bb.value(n)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (bb *bodyBuilder) block(name string) (*sil.Block, error) {
	b, ok := bb.blocks[name]
	if !ok {
		return nil, fmt.Errorf("undefined block %s", name)
	}
	return b, nil
}

func (bb *bodyBuilder) bind(name string, v *sil.Value) error {
	if name == "" {
		return nil
	}
	if v == nil {
		return fmt.Errorf("%s names a result the instruction does not produce", name)
	}
	return bb.define(name, v)
}

func (bb *bodyBuilder) emit(b *sil.Builder, in *InstrDoc) error {
	args, err := bb.valueList(in.Args)
	if err != nil {
		return err
	}
	op := sil.ParseOp(in.Op)
	switch op {
	case sil.OpFunctionRef:
		f, ok := bb.module.LookupFunction(in.Func)
		if !ok {
			return fmt.Errorf("unknown function @%s", in.Func)
		}
		return bb.bind(in.Result, b.FunctionRef(f))
	case sil.OpApply, sil.OpTryApply, sil.OpPartialApply:
		return bb.emitApply(b, op, in, args)
	case sil.OpLoad:
		if len(args) != 1 {
			return errors.New("load takes one operand")
		}
		return bb.bind(in.Result, b.Load(args[0]))
	case sil.OpStore:
		if len(args) != 2 {
			return errors.New("store takes a value and an address")
		}
		b.Store(args[0], args[1])
		return nil
	case sil.OpTuple:
		return bb.bind(in.Result, b.Tuple(args...))
	case sil.OpAllocStack:
		t, err := typeref.Parse(in.Type)
		if err != nil {
			return err
		}
		return bb.bind(in.Result, b.AllocStack(t))
	case sil.OpDeallocStack, sil.OpRetain, sil.OpRelease, sil.OpDebugValue, sil.OpReturn, sil.OpThrow:
		if len(args) != 1 {
			return fmt.Errorf("%s takes one operand", op)
		}
		switch op {
		case sil.OpDeallocStack:
			b.DeallocStack(args[0])
		case sil.OpRetain:
			b.Retain(args[0])
		case sil.OpRelease:
			b.Release(args[0])
		case sil.OpDebugValue:
			b.DebugValue(args[0], in.Name)
		case sil.OpReturn:
			b.Return(args[0])
		case sil.OpThrow:
			b.Throw(args[0])
		}
		return nil
	case sil.OpBranch:
		dest, err := bb.block(in.Dest)
		if err != nil {
			return err
		}
		b.Branch(dest, args...)
		return nil
	default:
		var rt *typeref.TypeRef
		if in.Type != "" {
			if rt, err = typeref.Parse(in.Type); err != nil {
				return err
			}
		}
		name := in.Name
		if name == "" {
			name = in.Op
		}
		return bb.bind(in.Result, b.Opaque(name, rt, args...).Result)
	}
}

func (bb *bodyBuilder) emitApply(b *sil.Builder, op sil.Op, in *InstrDoc, args []*sil.Value) error {
	callee, err := bb.value(in.Callee)
	if err != nil {
		return err
	}
	if callee.FnType == nil {
		return fmt.Errorf("callee %s is not a function", in.Callee)
	}
	subs, err := parseSubs(in.Subs)
	if err != nil {
		return err
	}
	substType := callee.FnType
	if len(subs) > 0 {
		if substType, err = substitute(callee.FnType, subs, bb.resolver); err != nil {
			return err
		}
	}
	switch op {
	case sil.OpApply:
		return bb.bind(in.Result, b.Apply(callee, subs, substType, args, in.NoThrow))
	case sil.OpTryApply:
		normal, err := bb.block(in.Normal)
		if err != nil {
			return err
		}
		errBlock, err := bb.block(in.Error)
		if err != nil {
			return err
		}
		b.TryApply(callee, subs, substType, args, normal, errBlock)
		return nil
	default:
		if len(args) > len(substType.Params) {
			return fmt.Errorf("partial_apply captures %d of %d parameters", len(args), len(substType.Params))
		}
		return bb.bind(in.Result, b.PartialApply(callee, subs, substType, args))
	}
}

// parseSubs reads a substitution map keyed by generic parameter spelling.
func parseSubs(in map[string]string) (typeref.GenericArgumentMap, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(typeref.GenericArgumentMap, len(in))
	for k, v := range in {
		param, err := typeref.Parse(k)
		if err != nil {
			return nil, err
		}
		if param.Kind != typeref.KindGenericParam {
			return nil, fmt.Errorf("substitution key %q is not a generic parameter", k)
		}
		repl, err := typeref.Parse(v)
		if err != nil {
			return nil, err
		}
		out[typeref.DepthIndex{Depth: param.Depth, Index: param.Index}] = repl
	}
	return out, nil
}

// substitute computes a call site's callee type, turning a missing
// binding into an error.
func substitute(ft *sil.FunctionType, subs typeref.GenericArgumentMap, resolver typeref.WitnessResolver) (out *sil.FunctionType, err error) {
	defer func() {
		if r := recover(); r != nil {
			missing, ok := r.(*typeref.MissingBindingError)
			if !ok {
				panic(r)
			}
			out, err = nil, missing
		}
	}()
	out, ok := ft.Subst(typeref.NewSubst(subs, resolver))
	if !ok {
		return nil, fmt.Errorf("cannot substitute %s into %s", subs, ft)
	}
	return out, nil
}
