package diag

import "fmt"

type Code uint16

const (
	UnknownCode Code = 0

	// Inputs
	InInfo       Code = 1000
	InReadFile   Code = 1001
	InConfig     Code = 1002
	InModule     Code = 1003
	InImage      Code = 1004
	InExports    Code = 1005
	InFlag       Code = 1006
	InSymbol     Code = 1007
	InTypeExpr   Code = 1008
	InWriteFile  Code = 1009
	InInvalidIR  Code = 1010
	InNoFunction Code = 1011

	// Specialization
	SpcInfo        Code = 2000
	SpcSkipped     Code = 2001
	SpcMaxRounds   Code = 2002
	SpcInvalidIR   Code = 2003
	SpcConsistency Code = 2004

	// Registry lookups
	LkpInfo     Code = 3000
	LkpNotFound Code = 3001

	ObsInfo    Code = 6000
	ObsTimings Code = 6001

	// Internal errors
	IntInfo  Code = 9000
	IntPanic Code = 9001
)

var codeDescription = map[Code]string{
	UnknownCode:    "Unknown error",
	InInfo:         "Input information",
	InReadFile:     "Cannot read input file",
	InConfig:       "Invalid configuration",
	InModule:       "Invalid module description",
	InImage:        "Invalid metadata image",
	InExports:      "Invalid export index",
	InFlag:         "Invalid command line flag",
	InSymbol:       "Malformed symbol",
	InTypeExpr:     "Malformed type expression",
	InWriteFile:    "Cannot write output file",
	InInvalidIR:    "Input module does not verify",
	InNoFunction:   "No such function",
	SpcInfo:        "Specialization information",
	SpcSkipped:     "Call sites left unspecialized",
	SpcMaxRounds:   "Specialization stopped at the round limit",
	SpcInvalidIR:   "Specialized module does not verify",
	SpcConsistency: "Cached specialization disagrees with a fresh plan",
	LkpInfo:        "Lookup information",
	LkpNotFound:    "Type not found in the registry",
	ObsInfo:        "Observability information",
	ObsTimings:     "Pipeline timings",
	IntInfo:        "Internal information",
	IntPanic:       "Internal error",
}

func (c Code) ID() string {
	switch ic := int(c); {
	case ic >= 1000 && ic < 2000:
		return fmt.Sprintf("IN%04d", ic)
	case ic >= 2000 && ic < 3000:
		return fmt.Sprintf("SPC%04d", ic)
	case ic >= 3000 && ic < 4000:
		return fmt.Sprintf("LKP%04d", ic)
	case ic >= 6000 && ic < 7000:
		return fmt.Sprintf("OBS%04d", ic)
	case ic >= 9000 && ic < 10000:
		return fmt.Sprintf("INT%04d", ic)
	}
	return "E0000"
}

func (c Code) Title() string {
	desc, ok := codeDescription[c]
	if !ok {
		return codeDescription[UnknownCode]
	}
	return desc
}

func (c Code) String() string {
	return fmt.Sprintf("[%s]: %s", c.ID(), c.Title())
}
