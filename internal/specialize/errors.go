package specialize

import (
	"errors"
	"fmt"

	"genspec/internal/reabstract"
	"genspec/internal/sil"
)

// SkipReason explains why a call site keeps its generic callee. Skipping
// is never an error.
type SkipReason uint8

const (
	SkipNone SkipReason = iota
	SkipOptNone
	SkipNotGeneric
	SkipNoOptimize
	SkipExternal
	SkipPartial
	SkipUnresolved
	// SkipDynamicCallee marks a callee that is not a function_ref.
	SkipDynamicCallee
)

func (r SkipReason) String() string {
	switch r {
	case SkipNone:
		return "none"
	case SkipOptNone:
		return "opt-none"
	case SkipNotGeneric:
		return "not-generic"
	case SkipNoOptimize:
		return "no-optimize"
	case SkipExternal:
		return "external"
	case SkipPartial:
		return "partial-substitution"
	case SkipUnresolved:
		return "unresolved"
	case SkipDynamicCallee:
		return "dynamic-callee"
	default:
		return fmt.Sprintf("SkipReason(%d)", uint8(r))
	}
}

func skipReasonOf(err error) (SkipReason, bool) {
	switch {
	case errors.Is(err, reabstract.ErrNotGeneric):
		return SkipNotGeneric, true
	case errors.Is(err, reabstract.ErrNoOptimize):
		return SkipNoOptimize, true
	case errors.Is(err, reabstract.ErrExternal):
		return SkipExternal, true
	case errors.Is(err, reabstract.ErrPartialSubstitution):
		return SkipPartial, true
	case errors.Is(err, reabstract.ErrUnresolved):
		return SkipUnresolved, true
	default:
		return SkipNone, false
	}
}

// ConsistencyError reports a cached specialization whose signature does not
// match the one derived for its key. It means the cache or the planner is
// wrong and the run must stop.
type ConsistencyError struct {
	Key    string
	Cached *sil.FunctionType
	Fresh  *sil.FunctionType
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("specialize: cached %s has type %s, plan derives %s", e.Key, e.Cached, e.Fresh)
}
