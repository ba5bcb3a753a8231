package typeref

import (
	"errors"
	"testing"
)

func TestParsePrintRoundTrip(t *testing.T) {
	inputs := []string{
		"Swift.Int",
		"Builtin.Int64",
		"Swift.Array<τ_0_0>",
		"Swift.Dictionary<Swift.String, Swift.Array<τ_1_2>>",
		"Swift.Array<Swift.Int>::Index",
		"()",
		"(Swift.Int, (τ_0_0) -> ())",
		"(Swift.Int, Swift.String) -> Swift.Bool",
		"protocol Swift.Error",
		"protocol<Swift.Hashable & Swift.Sequence>",
		"protocol<>",
		"Swift.Int.Type",
		"Swift.Int.Type.Type",
		"any [protocol Swift.Error].Type",
		"any Swift.Int.Type.Type",
		"[any protocol<Swift.Error>.Type].Type",
		"τ_0_0[Swift.Sequence].Element",
		"τ_0_0[Swift.Sequence].Iterator[Swift.IteratorProtocol].Element",
		"[(Swift.Int) -> ()].Type",
		"@objc NSObject",
		"@foreign CFString",
		"@opaque",
		"(τ_0_0.Type) -> any [protocol Swift.Error].Type",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			parsed, err := Parse(in)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if got := parsed.String(); got != in {
				t.Fatalf("round trip: got=%q want=%q", got, in)
			}
		})
	}
}

func TestParseShapes(t *testing.T) {
	tests := []struct {
		in   string
		want *TypeRef
	}{
		{"Builtin.NativeObject", Builtin("Builtin.NativeObject")},
		{"τ_2_5", GenericParam(2, 5)},
		{"Swift.Int.Type", Metatype(Nominal("Swift.Int", nil))},
		{"any Swift.Int.Type", ExistentialMetatype(Nominal("Swift.Int", nil))},
		{"(Swift.Int) -> Swift.Int.Type", Function([]*TypeRef{Nominal("Swift.Int", nil)}, Metatype(Nominal("Swift.Int", nil)))},
		{"protocol Error", Protocol("", "Error")},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		if err != nil {
			t.Fatalf("parse %q: %v", tt.in, err)
		}
		if !Equal(got, tt.want) {
			t.Fatalf("parse %q: got=%s want=%s", tt.in, got, tt.want)
		}
	}
}

func TestParseErrors(t *testing.T) {
	for _, in := range []string{"", "Swift.Array<", "(Swift.Int", "τ_0", "any Swift.Int", "Swift.Int junk", "τ_0_0[Swift.Sequence]"} {
		_, err := Parse(in)
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("parse %q: expected ParseError, got %v", in, err)
		}
	}
}
