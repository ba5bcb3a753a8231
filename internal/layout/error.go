package layout

import (
	"fmt"
	"strings"
)

// LayoutErrorKind enumerates types of layout calculation errors.
type LayoutErrorKind uint8

const (
	// LayoutErrRecursive indicates a value type that contains itself.
	LayoutErrRecursive LayoutErrorKind = iota + 1
	// LayoutErrBadBuiltin indicates a builtin name with an unparsable width.
	LayoutErrBadBuiltin
)

// LayoutError represents an error during layout calculation. Oracle
// queries treat any errored type as address-only.
type LayoutError struct {
	Kind  LayoutErrorKind
	Type  string
	Cycle []string // for LayoutErrRecursive
	Err   error    // for LayoutErrBadBuiltin
}

func (e *LayoutError) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch e.Kind {
	case LayoutErrRecursive:
		if len(e.Cycle) == 0 {
			return fmt.Sprintf("layout: recursive value type %s has infinite size", e.Type)
		}
		return fmt.Sprintf("layout: recursive value type has infinite size (cycle: %s)", strings.Join(e.Cycle, " -> "))
	case LayoutErrBadBuiltin:
		return fmt.Sprintf("layout: bad builtin %s: %v", e.Type, e.Err)
	default:
		return fmt.Sprintf("layout: error kind=%d type %s", e.Kind, e.Type)
	}
}

func (e *LayoutError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
