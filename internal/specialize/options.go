// Package specialize replaces calls to generic functions with calls to
// specializations cloned for concrete substitutions.
package specialize

import (
	"fmt"
	"runtime"
	"slices"
	"strings"
)

// OptLevel is the optimization level of the module being compiled.
type OptLevel uint8

const (
	// OptNone disables specialization entirely.
	OptNone OptLevel = iota
	// OptDebug links prespecializations shipped by the core library and
	// clones the rest.
	OptDebug
	// OptSpeed clones every eligible specialization. Building the support
	// module at this level exports whitelisted specializations.
	OptSpeed
)

func (l OptLevel) String() string {
	switch l {
	case OptNone:
		return "none"
	case OptDebug:
		return "debug"
	case OptSpeed:
		return "speed"
	default:
		return fmt.Sprintf("OptLevel(%d)", uint8(l))
	}
}

// ParseOptLevel accepts the level names plus the usual compiler spellings.
func ParseOptLevel(s string) (OptLevel, error) {
	switch strings.ToLower(strings.TrimPrefix(s, "-")) {
	case "none", "onone", "0":
		return OptNone, nil
	case "debug", "g", "1":
		return OptDebug, nil
	case "speed", "o", "2":
		return OptSpeed, nil
	default:
		return OptNone, fmt.Errorf("invalid optimization level: %q (expected: none|debug|speed)", s)
	}
}

// DefaultWhitelist names the core library entities whose specializations
// the support module exports.
var DefaultWhitelist = []string{
	"Array",
	"_ArrayBuffer",
	"_ContiguousArrayBuffer",
	"Range",
	"RangeIterator",
	"_allocateUninitializedArray",
	"UTF8",
	"UTF16",
	"String",
	"_StringBuffer",
	"_toStringReadOnlyPrintable",
}

// ExportIndex answers whether a dependency exports a specialization symbol.
type ExportIndex interface {
	Contains(symbol string) bool
}

type Options struct {
	Level OptLevel
	// CoreModule is the module whose prespecializations may be linked.
	CoreModule string
	// SupportModule is the module that exports prespecializations.
	SupportModule string
	Whitelist     []string
	Exports       ExportIndex
	// VerifyCache recomputes the plan on every cache hit and fails on a
	// signature mismatch.
	VerifyCache bool
	// Jobs bounds parallel workers; 0 means GOMAXPROCS.
	Jobs int
	// MaxRounds bounds how often newly created functions are revisited.
	MaxRounds int
}

func DefaultOptions() Options {
	return Options{
		Level:         OptSpeed,
		CoreModule:    "Swift",
		SupportModule: "SwiftOnoneSupport",
		Whitelist:     slices.Clone(DefaultWhitelist),
		MaxRounds:     8,
	}
}

func (o Options) normalized() Options {
	if o.CoreModule == "" {
		o.CoreModule = "Swift"
	}
	if o.SupportModule == "" {
		o.SupportModule = "SwiftOnoneSupport"
	}
	if o.Whitelist == nil {
		o.Whitelist = slices.Clone(DefaultWhitelist)
	}
	if o.Jobs <= 0 {
		o.Jobs = runtime.GOMAXPROCS(0)
	}
	if o.MaxRounds <= 0 {
		o.MaxRounds = 8
	}
	return o
}
