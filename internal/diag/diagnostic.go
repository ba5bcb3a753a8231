package diag

// Location is what a diagnostic points at: an input file, a function of
// the module being processed, or both.
type Location struct {
	Path     string
	Function string
}

func (l Location) IsZero() bool { return l == Location{} }

func (l Location) String() string {
	switch {
	case l.Path != "" && l.Function != "":
		return l.Path + " @" + l.Function
	case l.Function != "":
		return "@" + l.Function
	default:
		return l.Path
	}
}

type Note struct {
	Loc Location
	Msg string
}

type Diagnostic struct {
	Severity Severity
	Code     Code
	Message  string
	Primary  Location
	Notes    []Note
}

func New(sev Severity, code Code, primary Location, msg string) Diagnostic {
	return Diagnostic{
		Severity: sev,
		Code:     code,
		Primary:  primary,
		Message:  msg,
	}
}

func NewError(code Code, primary Location, msg string) Diagnostic {
	return New(SevError, code, primary, msg)
}

func (d Diagnostic) WithNote(loc Location, msg string) Diagnostic {
	d.Notes = append(d.Notes, Note{Loc: loc, Msg: msg})
	return d
}
