package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"genspec/internal/config"
	"genspec/internal/diag"
	"genspec/internal/observ"
	"genspec/internal/prof"
	"genspec/internal/trace"
)

// app is the state shared by the commands of one invocation.
type app struct {
	stdout io.Writer
	stderr io.Writer

	cfg     *config.Config
	color   bool
	quiet   bool
	timings bool

	bag      *diag.Bag
	reporter *diag.DedupReporter
	flushed  int
	timer    *observ.Timer

	tracer  trace.Tracer
	ring    *trace.RingTracer
	cleanup func()
	profile *prof.Session
}

func newApp(stdout, stderr io.Writer) *app {
	a := &app{
		stdout: stdout,
		stderr: stderr,
		cfg:    config.Default(),
		timer:  observ.NewTimer(),
		tracer: trace.Nop,
	}
	a.setBag(diag.NewBag(100))
	return a
}

// setup reads the global flags and the configuration file.
func (a *app) setup(cmd *cobra.Command) error {
	flags := cmd.Root().PersistentFlags()
	a.quiet, _ = flags.GetBool("quiet")
	a.timings, _ = flags.GetBool("timings")
	if limit, _ := flags.GetInt("max-diagnostics"); limit > 0 {
		a.setBag(diag.NewBag(limit))
	}

	colorMode, _ := flags.GetString("color")
	color, err := resolveColor(colorMode, a.stdout)
	if err != nil {
		return a.userError(diag.InFlag, diag.Location{}, err.Error())
	}
	a.color = color

	configPath, _ := flags.GetString("config")
	if configPath != "" {
		a.cfg, err = config.Load(configPath)
	} else {
		a.cfg, err = config.Discover(".")
	}
	if err != nil {
		a.cfg = config.Default()
		return a.userError(diag.InConfig, diag.Location{Path: configPath}, err.Error())
	}

	if err := a.setupTracing(cmd); err != nil {
		return a.userError(diag.InFlag, diag.Location{}, err.Error())
	}
	if err := a.setupProfiling(cmd); err != nil {
		return a.userError(diag.InFlag, diag.Location{}, err.Error())
	}
	return nil
}

// resolveColor decides whether output is colored. auto colors terminals
// unless NO_COLOR is set.
func resolveColor(mode string, out io.Writer) (bool, error) {
	switch strings.ToLower(mode) {
	case "on", "always", "true":
		return true, nil
	case "off", "never", "false":
		return false, nil
	case "auto", "":
		if _, ok := os.LookupEnv("NO_COLOR"); ok {
			return false, nil
		}
		f, ok := out.(*os.File)
		return ok && isTerminal(f), nil
	default:
		return false, fmt.Errorf("invalid color mode %q (expected: auto|on|off)", mode)
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func (a *app) setBag(bag *diag.Bag) {
	a.bag = bag
	a.reporter = diag.NewDedupReporter(diag.BagReporter{Bag: bag})
}

// report adds a diagnostic to the bag unless an identical one was already
// reported.
func (a *app) report(sev diag.Severity, code diag.Code, loc diag.Location, msg string) {
	diag.NewReportBuilder(a.reporter, sev, code, loc, msg).Emit()
}

// userError reports an input problem and returns the error that makes the
// command exit with status 1.
func (a *app) userError(code diag.Code, loc diag.Location, msg string) error {
	a.report(diag.SevError, code, loc, msg)
	return &exitError{code: exitUser}
}

// internalError reports a failure of genspec itself (exit status 2).
func (a *app) internalError(code diag.Code, loc diag.Location, msg string) error {
	a.report(diag.SevError, code, loc, msg)
	return &exitError{code: exitInternal}
}

// flushDiagnostics prints the diagnostics added since the last flush.
func (a *app) flushDiagnostics() {
	items := a.bag.Items()
	if a.flushed >= len(items) {
		return
	}
	pending := items[a.flushed:]
	a.flushed = len(items)
	if a.quiet {
		var kept []diag.Diagnostic
		for _, d := range pending {
			if d.Severity >= diag.SevWarning {
				kept = append(kept, d)
			}
		}
		pending = kept
	}
	_ = diag.Pretty(a.stderr, pending, diag.PrettyOpts{Color: a.color})
}

// noteSuppressed mentions dropped duplicate diagnostics.
func (a *app) noteSuppressed() {
	if n := a.reporter.Suppressed(); n > 0 && !a.quiet {
		fmt.Fprintf(a.stderr, "(%s suppressed)\n", plural(n, "duplicate diagnostic"))
	}
}

// close stops profiling and tracing. It is safe to call more than once.
func (a *app) close() {
	a.stopProfiling()
	if a.cleanup != nil {
		a.cleanup()
		a.cleanup = nil
	}
}

// phase measures fn as a named phase.
func (a *app) phase(name string, fn func() error) error {
	return a.timer.Measure(name, fn)
}

func (a *app) printTimings() {
	if a.timings {
		fmt.Fprint(a.stderr, a.timer.Summary())
	}
}
