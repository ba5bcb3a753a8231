// Package reabstract decides which indirect slots of a specialized
// signature become direct, and derives the specialized signature.
package reabstract

import (
	"fmt"
	"strings"

	"genspec/internal/sil"
	"genspec/internal/typeref"
)

// LayoutOracle supplies register-passability and ownership facts.
type LayoutOracle interface {
	IsLoadable(t *typeref.TypeRef) bool
	IsTrivial(t *typeref.TypeRef) bool
}

// Plan records, for one substituted signature, which SIL argument slots
// convert from indirect to direct. Slots are numbered like SIL arguments:
// indirect results first, then parameters.
type Plan struct {
	// Substituted is the original signature under the substitution.
	Substituted *sil.FunctionType
	// Specialized is the signature after applying the conversions.
	Specialized *sil.FunctionType

	numResults  int
	conversions []bool
}

// New computes the plan for a substituted signature. It is pure: the same
// inputs always yield the same conversions.
func New(substituted *sil.FunctionType, oracle LayoutOracle) *Plan {
	p := &Plan{Substituted: substituted}

	hasDirectResult := len(substituted.DirectResults()) > 0
	promoted := false
	for _, r := range substituted.IndirectResults() {
		convert := false
		if !hasDirectResult && !promoted && !r.Type.IsVoid() && oracle.IsLoadable(r.Type) {
			convert = true
			promoted = true
		}
		p.conversions = append(p.conversions, convert)
		p.numResults++
	}
	for _, param := range substituted.Params {
		convert := param.Convention == sil.ParamIndirectIn && oracle.IsLoadable(param.Type)
		p.conversions = append(p.conversions, convert)
	}
	p.Specialized = p.createSpecializedType(oracle)
	return p
}

// createSpecializedType applies the conversions to the substituted
// signature. Converted slots take unowned convention for trivial types and
// owned otherwise.
func (p *Plan) createSpecializedType(oracle LayoutOracle) *sil.FunctionType {
	out := &sil.FunctionType{ErrorResult: p.Substituted.ErrorResult}
	idx := 0
	for _, r := range p.Substituted.Results {
		if r.Convention != sil.ResultIndirect {
			out.Results = append(out.Results, r)
			continue
		}
		if p.conversions[idx] {
			conv := sil.ResultOwned
			if oracle.IsTrivial(r.Type) {
				conv = sil.ResultUnowned
			}
			out.Results = append(out.Results, sil.Result{Type: r.Type, Convention: conv})
		} else {
			out.Results = append(out.Results, r)
		}
		idx++
	}
	for _, param := range p.Substituted.Params {
		if p.conversions[idx] {
			conv := sil.ParamDirectOwned
			if oracle.IsTrivial(param.Type) {
				conv = sil.ParamDirectUnowned
			}
			out.Params = append(out.Params, sil.Parameter{Type: param.Type, Convention: conv})
		} else {
			out.Params = append(out.Params, param)
		}
		idx++
	}
	return out
}

// NumArguments is the number of SIL argument slots of the unconverted
// signature.
func (p *Plan) NumArguments() int { return len(p.conversions) }

// NumResults is the number of indirect result slots of the unconverted
// signature.
func (p *Plan) NumResults() int { return p.numResults }

// IsArgConverted reports whether SIL argument slot idx becomes direct.
func (p *Plan) IsArgConverted(idx int) bool {
	return p.conversions[idx]
}

// IsResultIndex reports whether slot idx is an indirect result.
func (p *Plan) IsResultIndex(idx int) bool {
	return idx < p.numResults
}

// HasConversions reports whether any slot converts.
func (p *Plan) HasConversions() bool {
	for _, c := range p.conversions {
		if c {
			return true
		}
	}
	return false
}

// ConvertedResult returns the index of the promoted result slot, if any.
func (p *Plan) ConvertedResult() (int, bool) {
	for i := 0; i < p.numResults; i++ {
		if p.conversions[i] {
			return i, true
		}
	}
	return 0, false
}

// IndexOfFirstArg maps the first of numArgs trailing call arguments, as in
// a partial apply, to its slot index.
func (p *Plan) IndexOfFirstArg(numArgs int) int {
	return p.NumArguments() - numArgs
}

// Conversions returns a copy of the bit vector.
func (p *Plan) Conversions() []bool {
	return append([]bool(nil), p.conversions...)
}

// Prune returns the plan restricted to the slots a closure still takes
// after capturing its trailing numCaptured parameters. The signatures drop
// the same parameters.
func (p *Plan) Prune(numCaptured int) *Plan {
	keep := len(p.conversions) - numCaptured
	if numCaptured < 0 || keep < p.numResults {
		panic(fmt.Sprintf("reabstract: cannot prune %d slots from %d", numCaptured, len(p.conversions)))
	}
	return &Plan{
		Substituted: p.Substituted.DropTrailingParams(numCaptured),
		Specialized: p.Specialized.DropTrailingParams(numCaptured),
		numResults:  p.numResults,
		conversions: append([]bool(nil), p.conversions[:keep]...),
	}
}

// String renders the bit vector with a '|' between results and parameters.
func (p *Plan) String() string {
	var sb strings.Builder
	for i, c := range p.conversions {
		if i == p.numResults {
			sb.WriteByte('|')
		}
		if c {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	if p.numResults == len(p.conversions) {
		sb.WriteByte('|')
	}
	return sb.String()
}
