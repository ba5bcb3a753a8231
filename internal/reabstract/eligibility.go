package reabstract

import (
	"errors"
	"fmt"

	"genspec/internal/sil"
	"genspec/internal/typeref"
)

// Reasons a function and substitution cannot be specialized. None of them
// is a failure: the caller keeps using the generic entry point.
var (
	ErrNotGeneric          = errors.New("callee is not generic")
	ErrNoOptimize          = errors.New("callee is excluded from optimization")
	ErrExternal            = errors.New("callee body is not available")
	ErrPartialSubstitution = errors.New("substitution is not fully concrete")
	ErrUnresolved          = errors.New("substituted signature has an unresolved associated type")
)

// ForFunction checks that fn can be specialized under subs and returns the
// plan for its substituted signature.
func ForFunction(fn *sil.Function, subs typeref.GenericArgumentMap, resolver typeref.WitnessResolver, oracle LayoutOracle) (*Plan, error) {
	if !fn.IsGeneric() {
		return nil, ErrNotGeneric
	}
	if fn.NoOptimize {
		return nil, ErrNoOptimize
	}
	if fn.IsExternalDeclaration() {
		return nil, ErrExternal
	}
	return ForSignature(fn, subs, resolver, oracle)
}

// ForSignature plans fn's signature under subs without looking at its
// body. Prespecialized declarations of external functions are typed this
// way.
func ForSignature(fn *sil.Function, subs typeref.GenericArgumentMap, resolver typeref.WitnessResolver, oracle LayoutOracle) (*Plan, error) {
	if !fn.IsGeneric() {
		return nil, ErrNotGeneric
	}
	for _, p := range fn.GenericParams {
		if _, ok := subs[p]; !ok {
			return nil, fmt.Errorf("%w: %s is unbound", ErrPartialSubstitution, p)
		}
	}
	if !subs.IsConcrete() {
		return nil, ErrPartialSubstitution
	}
	substituted, ok := fn.Type.Subst(typeref.NewSubst(subs, resolver))
	if !ok {
		return nil, ErrUnresolved
	}
	return New(substituted, oracle), nil
}
