package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"genspec/internal/specialize"
)

type summaryRow struct {
	key   string
	value string
}

func summaryRows(res *specialize.Result) []summaryRow {
	skipped := 0
	for _, n := range res.Skipped {
		skipped += n
	}
	converged := "yes"
	if !res.Converged {
		converged = "no"
	}
	return []summaryRow{
		{"rounds", fmt.Sprintf("%d (converged: %s)", res.Rounds, converged)},
		{"call sites", fmt.Sprint(res.Sites)},
		{"created", fmt.Sprint(len(res.Created))},
		{"linked", fmt.Sprint(len(res.Linked))},
		{"kept public", fmt.Sprint(len(res.KeptPublic()))},
		{"thunks", fmt.Sprint(len(res.Thunks))},
		{"skipped", fmt.Sprint(skipped)},
	}
}

// renderSummary draws the run summary in a rounded box, followed by the
// created specializations.
func renderSummary(w io.Writer, module string, res *specialize.Result, color bool) {
	rows := summaryRows(res)
	width := 0
	for _, r := range rows {
		width = max(width, runewidth.StringWidth(r.key))
	}

	titleStyle := lipgloss.NewStyle().Bold(true)
	keyStyle := lipgloss.NewStyle()
	boxStyle := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	if color {
		titleStyle = titleStyle.Foreground(lipgloss.Color("6"))
		keyStyle = keyStyle.Foreground(lipgloss.Color("7"))
		boxStyle = boxStyle.BorderForeground(lipgloss.Color("8"))
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("specialized " + module))
	for _, r := range rows {
		sb.WriteString("\n")
		sb.WriteString(keyStyle.Render(runewidth.FillRight(r.key, width)))
		sb.WriteString("  ")
		sb.WriteString(r.value)
	}
	fmt.Fprintln(w, boxStyle.Render(sb.String()))
	for _, name := range createdNames(res.Created) {
		fmt.Fprintf(w, "  + %s\n", name)
	}
}
