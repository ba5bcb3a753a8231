package diag

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// FormatShort renders one line per diagnostic, in bag order:
// "<severity> <code> <location>: <message>". Notes follow their diagnostic
// as "note" lines when includeNotes is set.
func FormatShort(diags []Diagnostic, includeNotes bool) string {
	var b strings.Builder
	for _, d := range diags {
		writeShort(&b, d.Severity.label(), d.Code.ID(), d.Primary, d.Message)
		if !includeNotes {
			continue
		}
		for _, n := range d.Notes {
			writeShort(&b, "note", d.Code.ID(), n.Loc, n.Msg)
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func writeShort(b *strings.Builder, sev, code string, loc Location, msg string) {
	fmt.Fprintf(b, "%s %s", sev, code)
	if !loc.IsZero() {
		fmt.Fprintf(b, " %s", loc)
	}
	fmt.Fprintf(b, ": %s\n", sanitizeMessage(msg))
}

func sanitizeMessage(msg string) string {
	return strings.ReplaceAll(strings.TrimSpace(msg), "\n", `\n`)
}

// PrettyOpts configures Pretty.
type PrettyOpts struct {
	Color bool
}

var (
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	infoColor    = color.New(color.FgCyan, color.Bold)
	noteColor    = color.New(color.FgBlue)
	locColor     = color.New(color.Faint)
)

// Pretty writes each diagnostic as a header line with its code, the
// location on an arrow line, then its notes.
func Pretty(w io.Writer, diags []Diagnostic, opts PrettyOpts) error {
	paint := func(c *color.Color, s string) string {
		if !opts.Color {
			return s
		}
		c.EnableColor()
		return c.Sprint(s)
	}
	for _, d := range diags {
		sevColor := infoColor
		switch d.Severity {
		case SevError:
			sevColor = errorColor
		case SevWarning:
			sevColor = warningColor
		}
		header := fmt.Sprintf("%s[%s]: %s\n", paint(sevColor, d.Severity.label()), d.Code.ID(), d.Message)
		if _, err := io.WriteString(w, header); err != nil {
			return err
		}
		if !d.Primary.IsZero() {
			if _, err := fmt.Fprintf(w, "  %s %s\n", paint(locColor, "-->"), d.Primary); err != nil {
				return err
			}
		}
		for _, n := range d.Notes {
			line := "  " + paint(noteColor, "= note:") + " " + n.Msg
			if !n.Loc.IsZero() {
				line += " (" + n.Loc.String() + ")"
			}
			if _, err := io.WriteString(w, line+"\n"); err != nil {
				return err
			}
		}
	}
	return nil
}
