package diag

import "strings"

// Severity orders diagnostics. Any SevError fails the run.
type Severity uint8

const (
	SevInfo Severity = iota
	SevWarning
	SevError
)

var severityLabels = [...]string{
	SevInfo:    "info",
	SevWarning: "warning",
	SevError:   "error",
}

func (s Severity) String() string { return strings.ToUpper(s.label()) }

// label is the lower-case form used in rendered output.
func (s Severity) label() string {
	if int(s) < len(severityLabels) {
		return severityLabels[s]
	}
	return "unknown"
}
