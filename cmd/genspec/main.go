package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"

	"genspec/internal/diag"
	"genspec/internal/specialize"
	"genspec/internal/trace"
	"genspec/internal/version"
)

// Exit statuses.
const (
	exitOK       = 0
	exitUser     = 1
	exitInternal = 2
)

// main runs the command line and exits with its status: 0 on success, 1 for
// bad input, 2 for internal errors.
func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// newRootCmd builds the command tree bound to a fresh app.
func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "genspec",
		Short:         "Generic function specializer",
		Long:          `genspec clones generic functions for the concrete types they are called with and rewrites the call sites.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "path to genspec.toml (default: search upward from the working directory)")
	pf.String("color", "auto", "colorize output (auto|on|off)")
	pf.Bool("quiet", false, "suppress non-essential output")
	pf.Bool("timings", false, "show timing information")
	pf.Int("max-diagnostics", 100, "maximum number of diagnostics to show")
	pf.String("trace", "", "trace output path (- for stderr, .ndjson for NDJSON)")
	pf.String("trace-level", "off", "trace level (off|error|phase|detail|debug)")
	pf.String("trace-mode", "stream", "trace storage (stream|ring|both)")
	pf.Int("trace-ring-size", 4096, "events kept by the trace ring buffer")
	pf.Duration("trace-heartbeat", 0, "emit a heartbeat trace event at this interval")
	pf.String("cpu-profile", "", "write a Go CPU profile to this file")
	pf.String("mem-profile", "", "write a Go heap profile to this file on exit")
	pf.String("runtime-trace", "", "write a Go runtime execution trace to this file")

	root.AddCommand(newSpecializeCmd(a))
	root.AddCommand(newDemangleCmd(a))
	root.AddCommand(newLookupCmd(a))
	root.AddCommand(newImageCmd(a))
	root.AddCommand(newVersionCmd(a))
	return root
}

// run executes one command line. Panics, including those re-raised from
// specializer workers, are reported as internal errors.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) (code int) {
	a := newApp(stdout, stderr)
	defer func() {
		if r := recover(); r != nil {
			code = a.internalPanic(r, debug.Stack())
		}
	}()
	defer a.close()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	a.flushDiagnostics()
	a.noteSuppressed()
	if err == nil {
		if a.bag.HasErrors() {
			return exitUser
		}
		return exitOK
	}

	var ex *exitError
	if errors.As(err, &ex) {
		return ex.code
	}
	// Flag and argument errors from cobra.
	fmt.Fprintf(stderr, "error: %v\n", err)
	return exitUser
}

// exitError is returned by commands whose diagnostics are already reported.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// internalPanic reports a recovered panic and dumps the trace ring.
func (a *app) internalPanic(r any, stack []byte) int {
	msg := fmt.Sprint(r)
	var wp *specialize.WorkerPanic
	if err, ok := r.(error); ok && errors.As(err, &wp) {
		stack = wp.Stack
	}
	d := diag.NewError(diag.IntPanic, diag.Location{}, msg)
	if a.ring != nil {
		d = d.WithNote(diag.Location{}, "trace ring dumped below")
	}
	a.bag.Add(d)
	a.flushDiagnostics()
	if a.ring != nil {
		fmt.Fprintln(a.stderr, "--- trace ring ---")
		_ = a.ring.Dump(a.stderr, trace.FormatText)
	}
	fmt.Fprintf(a.stderr, "%s\n", stack)
	a.close()
	return exitInternal
}
