package sil

import (
	"fmt"
	"slices"
	"strings"

	"genspec/internal/typeref"
)

// ParamConvention is how a caller passes one parameter.
type ParamConvention uint8

const (
	// ParamIndirectIn passes an owned value at an address the callee consumes.
	ParamIndirectIn ParamConvention = iota
	// ParamIndirectInGuaranteed passes a borrowed value at an address.
	ParamIndirectInGuaranteed
	// ParamIndirectInout passes a mutable address.
	ParamIndirectInout
	// ParamDirectOwned passes a value the callee must release.
	ParamDirectOwned
	// ParamDirectUnowned passes a value with no ownership transfer.
	ParamDirectUnowned
	// ParamDirectGuaranteed passes a value borrowed for the call.
	ParamDirectGuaranteed
)

var paramConventionNames = [...]string{
	ParamIndirectIn:           "in",
	ParamIndirectInGuaranteed: "in_guaranteed",
	ParamIndirectInout:        "inout",
	ParamDirectOwned:          "owned",
	ParamDirectUnowned:        "unowned",
	ParamDirectGuaranteed:     "guaranteed",
}

func (c ParamConvention) String() string {
	if int(c) < len(paramConventionNames) {
		return paramConventionNames[c]
	}
	return fmt.Sprintf("ParamConvention(%d)", c)
}

func (c ParamConvention) IsIndirect() bool {
	return c <= ParamIndirectInout
}

// ParseParamConvention is the inverse of ParamConvention.String.
func ParseParamConvention(s string) (ParamConvention, error) {
	for i, n := range paramConventionNames {
		if n == s {
			return ParamConvention(i), nil
		}
	}
	return 0, fmt.Errorf("sil: unknown parameter convention %q", s)
}

// ResultConvention is how a callee returns one result.
type ResultConvention uint8

const (
	// ResultIndirect writes the result to a caller-provided address.
	ResultIndirect ResultConvention = iota
	ResultOwned
	ResultUnowned
)

var resultConventionNames = [...]string{
	ResultIndirect: "out",
	ResultOwned:    "owned",
	ResultUnowned:  "unowned",
}

func (c ResultConvention) String() string {
	if int(c) < len(resultConventionNames) {
		return resultConventionNames[c]
	}
	return fmt.Sprintf("ResultConvention(%d)", c)
}

// ParseResultConvention is the inverse of ResultConvention.String.
func ParseResultConvention(s string) (ResultConvention, error) {
	for i, n := range resultConventionNames {
		if n == s {
			return ResultConvention(i), nil
		}
	}
	return 0, fmt.Errorf("sil: unknown result convention %q", s)
}

type Parameter struct {
	Type       *typeref.TypeRef
	Convention ParamConvention
}

type Result struct {
	Type       *typeref.TypeRef
	Convention ResultConvention
}

// FunctionType is a lowered function signature. SIL argument order is
// indirect result addresses first, then parameters.
type FunctionType struct {
	Params  []Parameter
	Results []Result
	// ErrorResult is nil for functions that cannot throw.
	ErrorResult *typeref.TypeRef
}

func (ft *FunctionType) HasErrorResult() bool {
	return ft != nil && ft.ErrorResult != nil
}

func (ft *FunctionType) NumIndirectResults() int {
	n := 0
	for _, r := range ft.Results {
		if r.Convention == ResultIndirect {
			n++
		}
	}
	return n
}

func (ft *FunctionType) IndirectResults() []Result {
	var out []Result
	for _, r := range ft.Results {
		if r.Convention == ResultIndirect {
			out = append(out, r)
		}
	}
	return out
}

func (ft *FunctionType) DirectResults() []Result {
	var out []Result
	for _, r := range ft.Results {
		if r.Convention != ResultIndirect {
			out = append(out, r)
		}
	}
	return out
}

// DirectResultType is the type of the value an apply produces: void for no
// direct results, the single type for one, a tuple otherwise.
func (ft *FunctionType) DirectResultType() *typeref.TypeRef {
	direct := ft.DirectResults()
	switch len(direct) {
	case 0:
		return typeref.Void()
	case 1:
		return direct[0].Type
	default:
		elems := make([]*typeref.TypeRef, len(direct))
		for i, r := range direct {
			elems[i] = r.Type
		}
		return typeref.Tuple(elems...)
	}
}

// NumArguments counts SIL arguments: indirect results plus parameters.
func (ft *FunctionType) NumArguments() int {
	return ft.NumIndirectResults() + len(ft.Params)
}

// ArgumentTypes returns the type and address-ness of every SIL argument.
func (ft *FunctionType) ArgumentTypes() ([]*typeref.TypeRef, []bool) {
	types := make([]*typeref.TypeRef, 0, ft.NumArguments())
	addrs := make([]bool, 0, ft.NumArguments())
	for _, r := range ft.IndirectResults() {
		types = append(types, r.Type)
		addrs = append(addrs, true)
	}
	for _, p := range ft.Params {
		types = append(types, p.Type)
		addrs = append(addrs, p.Convention.IsIndirect())
	}
	return types, addrs
}

// DropTrailingParams returns the type of a closure that captured the last n
// parameters.
func (ft *FunctionType) DropTrailingParams(n int) *FunctionType {
	if n > len(ft.Params) {
		panic(fmt.Sprintf("sil: cannot capture %d of %d parameters", n, len(ft.Params)))
	}
	return &FunctionType{
		Params:      slices.Clone(ft.Params[:len(ft.Params)-n]),
		Results:     slices.Clone(ft.Results),
		ErrorResult: ft.ErrorResult,
	}
}

// Subst applies a substitution to every slot type.
func (ft *FunctionType) Subst(s *typeref.Subst) (*FunctionType, bool) {
	out := &FunctionType{
		Params:  make([]Parameter, len(ft.Params)),
		Results: make([]Result, len(ft.Results)),
	}
	for i, p := range ft.Params {
		t, ok := s.Type(p.Type)
		if !ok {
			return nil, false
		}
		out.Params[i] = Parameter{Type: t, Convention: p.Convention}
	}
	for i, r := range ft.Results {
		t, ok := s.Type(r.Type)
		if !ok {
			return nil, false
		}
		out.Results[i] = Result{Type: t, Convention: r.Convention}
	}
	if ft.ErrorResult != nil {
		t, ok := s.Type(ft.ErrorResult)
		if !ok {
			return nil, false
		}
		out.ErrorResult = t
	}
	return out, true
}

// IsConcrete reports whether no slot mentions a generic parameter.
func (ft *FunctionType) IsConcrete() bool {
	for _, p := range ft.Params {
		if !p.Type.IsConcrete() {
			return false
		}
	}
	for _, r := range ft.Results {
		if !r.Type.IsConcrete() {
			return false
		}
	}
	return ft.ErrorResult == nil || ft.ErrorResult.IsConcrete()
}

// GenericParams lists the generic parameters mentioned by any slot.
func (ft *FunctionType) GenericParams() []typeref.DepthIndex {
	var out []typeref.DepthIndex
	add := func(t *typeref.TypeRef) {
		for _, p := range t.GenericParams() {
			if !slices.Contains(out, p) {
				out = append(out, p)
			}
		}
	}
	for _, p := range ft.Params {
		add(p.Type)
	}
	for _, r := range ft.Results {
		add(r.Type)
	}
	if ft.ErrorResult != nil {
		add(ft.ErrorResult)
	}
	return out
}

// Equal compares conventions and structural slot types.
func (ft *FunctionType) Equal(o *FunctionType) bool {
	if ft == nil || o == nil {
		return ft == o
	}
	if !slices.EqualFunc(ft.Params, o.Params, func(a, b Parameter) bool {
		return a.Convention == b.Convention && typeref.Equal(a.Type, b.Type)
	}) {
		return false
	}
	if !slices.EqualFunc(ft.Results, o.Results, func(a, b Result) bool {
		return a.Convention == b.Convention && typeref.Equal(a.Type, b.Type)
	}) {
		return false
	}
	return typeref.Equal(ft.ErrorResult, o.ErrorResult)
}

func (ft *FunctionType) String() string {
	if ft == nil {
		return "<nil>"
	}
	var sb strings.Builder
	sb.WriteByte('(')
	for i, p := range ft.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "@%s %s", p.Convention, p.Type)
	}
	sb.WriteString(") -> ")
	if len(ft.Results) == 1 {
		fmt.Fprintf(&sb, "@%s %s", ft.Results[0].Convention, ft.Results[0].Type)
	} else {
		sb.WriteByte('(')
		for i, r := range ft.Results {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "@%s %s", r.Convention, r.Type)
		}
		sb.WriteByte(')')
	}
	if ft.ErrorResult != nil {
		fmt.Fprintf(&sb, " throws %s", ft.ErrorResult)
	}
	return sb.String()
}
