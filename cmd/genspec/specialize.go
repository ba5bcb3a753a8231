package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"genspec/internal/diag"
	"genspec/internal/exports"
	"genspec/internal/fixture"
	"genspec/internal/layout"
	"genspec/internal/registry"
	"genspec/internal/sil"
	"genspec/internal/specialize"
)

type specializeFlags struct {
	opt         optLevelValue
	images      []string
	exportPaths []string
	emitExports string
	output      string
	jobs        int
	maxRounds   int
	verifyCache bool
	sorted      bool
	summaryOnly bool
}

func newSpecializeCmd(a *app) *cobra.Command {
	f := specializeFlags{opt: optLevelValue{level: specialize.OptSpeed}}
	cmd := &cobra.Command{
		Use:   "specialize MODULE.yaml",
		Short: "Specialize the generic call sites of a module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSpecialize(cmd, args[0], &f)
		},
	}
	flags := cmd.Flags()
	flags.VarP(&f.opt, "opt", "O", "optimization level (none|debug|speed)")
	flags.StringArrayVar(&f.images, "image", nil, "metadata image for associated type lookups (repeatable)")
	flags.StringArrayVar(&f.exportPaths, "exports", nil, "export index of prespecialized symbols (repeatable)")
	flags.StringVar(&f.emitExports, "emit-exports", "", "write the keep-as-public specializations to this export index")
	flags.StringVarP(&f.output, "output", "o", "", "write the specialized module here instead of stdout")
	flags.IntVar(&f.jobs, "jobs", 0, "parallel workers (0 = GOMAXPROCS)")
	flags.IntVar(&f.maxRounds, "max-rounds", 0, "bound on specialization rounds (0 = config or default)")
	flags.BoolVar(&f.verifyCache, "verify-cache", false, "recheck every cached specialization against a fresh plan")
	flags.BoolVar(&f.sorted, "sorted", false, "print functions by name")
	flags.BoolVar(&f.summaryOnly, "summary-only", false, "print the summary without the module")
	return cmd
}

func (a *app) runSpecialize(cmd *cobra.Command, path string, f *specializeFlags) error {
	defer a.printTimings()

	opts, err := a.cfg.Options()
	if err != nil {
		return a.userError(diag.InConfig, diag.Location{Path: a.cfg.Path}, err.Error())
	}
	if f.opt.set {
		opts.Level = f.opt.level
	}
	if cmd.Flags().Changed("jobs") {
		opts.Jobs = f.jobs
	}
	if f.maxRounds > 0 {
		opts.MaxRounds = f.maxRounds
	}
	opts.VerifyCache = opts.VerifyCache || f.verifyCache

	reg := registry.New()
	var m *sil.Module
	err = a.phase("load", func() error {
		for _, p := range f.images {
			img, err := fixture.LoadImage(p)
			if err != nil {
				return a.userError(diag.InImage, diag.Location{Path: p}, err.Error())
			}
			if err := reg.RegisterImage(img); err != nil {
				return a.userError(diag.InImage, diag.Location{Path: p}, err.Error())
			}
		}
		paths := append(a.cfg.ExportPaths(), f.exportPaths...)
		if len(paths) > 0 {
			set, err := exports.LoadSet(paths...)
			if err != nil {
				return a.userError(diag.InExports, diag.Location{}, err.Error())
			}
			opts.Exports = set
		}
		m, err = fixture.ReadModuleFile(path, reg)
		if err != nil {
			return a.userError(diag.InModule, diag.Location{Path: path}, err.Error())
		}
		if err := sil.Validate(m); err != nil {
			return a.userError(diag.InInvalidIR, diag.Location{Path: path}, err.Error())
		}
		return nil
	})
	if err != nil {
		return err
	}

	target, err := a.cfg.Target()
	if err != nil {
		return a.userError(diag.InConfig, diag.Location{Path: a.cfg.Path}, err.Error())
	}
	facts, err := a.cfg.Facts()
	if err != nil {
		return a.userError(diag.InConfig, diag.Location{Path: a.cfg.Path}, err.Error())
	}
	oracle := layout.New(target, facts)

	var res *specialize.Result
	err = a.phase("specialize", func() error {
		var err error
		res, err = specialize.SpecializeModule(cmd.Context(), m, opts, oracle, reg)
		return err
	})
	if err != nil {
		var ce *specialize.ConsistencyError
		if errors.As(err, &ce) {
			d := diag.NewError(diag.SpcConsistency, diag.Location{Path: path}, ce.Error()).
				WithNote(diag.Location{}, "cached: "+ce.Cached.String()).
				WithNote(diag.Location{}, "fresh: "+ce.Fresh.String())
			a.bag.Add(d)
			return &exitError{code: exitInternal}
		}
		return a.internalError(diag.IntPanic, diag.Location{Path: path}, err.Error())
	}

	err = a.phase("verify", func() error {
		if err := sil.Validate(m); err != nil {
			return a.internalError(diag.SpcInvalidIR, diag.Location{Path: path}, err.Error())
		}
		return nil
	})
	if err != nil {
		return err
	}

	a.reportOutcome(path, res)

	return a.phase("emit", func() error {
		if f.emitExports != "" {
			if err := writeExports(f.emitExports, m.Name, res); err != nil {
				return a.userError(diag.InWriteFile, diag.Location{Path: f.emitExports}, err.Error())
			}
		}
		if !f.summaryOnly {
			if err := a.writeModule(f.output, m, f.sorted); err != nil {
				return a.userError(diag.InWriteFile, diag.Location{Path: f.output}, err.Error())
			}
		}
		if !a.quiet {
			renderSummary(a.stderr, m.Name, res, a.color)
		}
		return nil
	})
}

// reportOutcome turns skipped sites and an unfinished worklist into
// warnings.
func (a *app) reportOutcome(path string, res *specialize.Result) {
	loc := diag.Location{Path: path}
	for _, reason := range res.SkipCounts() {
		if reason == specialize.SkipOptNone {
			continue
		}
		n := res.Skipped[reason]
		a.report(diag.SevWarning, diag.SpcSkipped, loc, fmt.Sprintf("%s left unspecialized: %s", plural(n, "call site"), reason))
	}
	if !res.Converged {
		a.report(diag.SevWarning, diag.SpcMaxRounds, loc, "stopped after "+plural(res.Rounds, "round")+"; new specializations were not revisited")
	}
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return strconv.Itoa(n) + " " + noun + "s"
}

// writeExports records the specializations kept public by this build.
func writeExports(path, module string, res *specialize.Result) error {
	var symbols []string
	for _, e := range res.KeptPublic() {
		symbols = append(symbols, e.Func.Name)
	}
	return exports.New(module, symbols).Write(path)
}

func (a *app) writeModule(path string, m *sil.Module, sorted bool) (err error) {
	var w io.Writer = a.stdout
	if path != "" && path != "-" {
		file, ferr := os.Create(path)
		if ferr != nil {
			return ferr
		}
		defer func() {
			if cerr := file.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		w = file
	}
	bw := bufio.NewWriter(w)
	if err := sil.DumpModule(bw, m, sil.DumpOptions{Sorted: sorted}); err != nil {
		return err
	}
	return bw.Flush()
}

// createdNames lists the names of entries, sorted.
func createdNames(entries []*specialize.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Func.Name
	}
	slices.Sort(out)
	return out
}
