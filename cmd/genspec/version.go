package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"genspec/internal/diag"
	"genspec/internal/version"
)

type versionOptions struct {
	format      string
	showHash    bool
	showMessage bool
	showDate    bool
}

type versionPayload struct {
	Tool       string `json:"tool"`
	Version    string `json:"version"`
	GitCommit  string `json:"git_commit,omitempty"`
	GitMessage string `json:"git_message,omitempty"`
	BuildDate  string `json:"build_date,omitempty"`
}

func newVersionCmd(a *app) *cobra.Command {
	var (
		format                   string
		hash, message, date, all bool
	)
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show genspec build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := versionOptions{
				format:      strings.ToLower(format),
				showHash:    hash || all,
				showMessage: message || all,
				showDate:    date || all,
			}
			switch opts.format {
			case "pretty":
				renderVersionPretty(a.stdout, opts, a.color)
				return nil
			case "json":
				return renderVersionJSON(a.stdout, opts)
			default:
				return a.userError(diag.InFlag, diag.Location{}, fmt.Sprintf("unsupported format %q (must be pretty or json)", format))
			}
		},
	}
	cmd.Flags().BoolVar(&hash, "hash", false, "include git commit hash")
	cmd.Flags().BoolVar(&message, "message", false, "include git commit message")
	cmd.Flags().BoolVar(&date, "date", false, "include build timestamp")
	cmd.Flags().BoolVar(&all, "full", false, "show all recorded build metadata")
	cmd.Flags().StringVar(&format, "format", "pretty", "output format (pretty|json)")
	return cmd
}

func renderVersionPretty(out io.Writer, opts versionOptions, color bool) {
	fmt.Fprintf(out, "genspec %s\n", version.Colored(color))
	if opts.showHash {
		fmt.Fprintf(out, "commit:  %s\n", valueOrUnknown(version.Commit()))
	}
	if opts.showMessage {
		fmt.Fprintf(out, "message: %s\n", valueOrUnknown(strings.TrimSpace(version.GitMessage)))
	}
	if opts.showDate {
		fmt.Fprintf(out, "built:   %s\n", valueOrUnknown(strings.TrimSpace(version.BuildDate)))
	}
}

func renderVersionJSON(out io.Writer, opts versionOptions) error {
	payload := versionPayload{Tool: "genspec", Version: strings.TrimSpace(version.Version)}
	if opts.showHash {
		payload.GitCommit = valueOrUnknown(version.Commit())
	}
	if opts.showMessage {
		payload.GitMessage = valueOrUnknown(strings.TrimSpace(version.GitMessage))
	}
	if opts.showDate {
		payload.BuildDate = valueOrUnknown(strings.TrimSpace(version.BuildDate))
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func valueOrUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
