package sil

import (
	"errors"
	"fmt"
)

// Validate checks structural well-formedness of every function body:
// terminated blocks, defined operands and apply arities.
func Validate(m *Module) error {
	var errs []error
	for _, f := range m.Functions() {
		if err := ValidateFunction(f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ValidateFunction checks one function.
func ValidateFunction(f *Function) error {
	if f.IsExternalDeclaration() {
		return nil
	}
	defined := make(map[*Value]bool)
	for _, b := range f.Blocks {
		for _, a := range b.Args {
			defined[a] = true
		}
		for _, in := range b.Instrs {
			if in.Result != nil {
				defined[in.Result] = true
			}
		}
	}
	var errs []error
	fail := func(b *Block, format string, args ...any) {
		errs = append(errs, fmt.Errorf("sil: %s bb%d: %s", f.Name, b.ID, fmt.Sprintf(format, args...)))
	}
	for _, b := range f.Blocks {
		if b.Terminator() == nil {
			fail(b, "block is not terminated")
		}
		for idx, in := range b.Instrs {
			if in.Op.IsTerminator() && idx != len(b.Instrs)-1 {
				fail(b, "%s in the middle of a block", in.Op)
			}
			if in.Block != b {
				fail(b, "%s has a stale parent block", in.Op)
			}
			for _, v := range in.Operands() {
				if v == nil || !defined[v] {
					fail(b, "%s uses an undefined value", in.Op)
				}
			}
			validateInstr(in, func(format string, args ...any) { fail(b, format, args...) })
		}
	}
	return errors.Join(errs...)
}

func validateInstr(in *Instr, fail func(string, ...any)) {
	switch in.Op {
	case OpApply, OpTryApply:
		if in.SubstType == nil {
			fail("%s without a callee type", in.Op)
			return
		}
		if got, want := len(in.Args), in.SubstType.NumArguments(); got != want {
			fail("%s passes %d arguments, callee takes %d", in.Op, got, want)
		}
		if in.Op == OpTryApply {
			if in.Normal == nil || in.Error == nil {
				fail("try_apply without both successors")
			} else if len(in.Normal.Args) != 1 || len(in.Error.Args) != 1 {
				fail("try_apply successors must take exactly one argument")
			}
		}
	case OpPartialApply:
		if in.SubstType == nil {
			fail("partial_apply without a callee type")
			return
		}
		if len(in.Args) > len(in.SubstType.Params) {
			fail("partial_apply captures %d of %d parameters", len(in.Args), len(in.SubstType.Params))
		}
	case OpStore:
		if len(in.Args) != 2 || !in.Args[1].Address {
			fail("store destination is not an address")
		}
	case OpLoad, OpDeallocStack:
		if len(in.Args) != 1 || !in.Args[0].Address {
			fail("%s operand is not an address", in.Op)
		}
	case OpReturn, OpThrow:
		if len(in.Args) != 1 {
			fail("%s takes one operand", in.Op)
		}
	case OpBranch:
		if in.Dest == nil {
			fail("br without a destination")
		} else if len(in.Dest.Args) != len(in.Args) {
			fail("br passes %d values to bb%d which takes %d", len(in.Args), in.Dest.ID, len(in.Dest.Args))
		}
	case OpFunctionRef:
		if in.Func == nil {
			fail("function_ref without a function")
		}
	}
}
