package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"genspec/internal/diag"
	"genspec/internal/mangle"
	"genspec/internal/specialize"
)

func newDemangleCmd(a *app) *cobra.Command {
	var asType, whitelist bool
	cmd := &cobra.Command{
		Use:   "demangle [SYMBOL...]",
		Short: "Decode specialization symbols or type manglings",
		Long: "Decode each argument, or each line of standard input when no argument is given.\n" +
			"With --whitelist, also print whether the core prespecialization whitelist covers the symbol.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				sc := bufio.NewScanner(cmd.InOrStdin())
				for sc.Scan() {
					if line := strings.TrimSpace(sc.Text()); line != "" {
						args = append(args, line)
					}
				}
				if err := sc.Err(); err != nil {
					return a.userError(diag.InReadFile, diag.Location{Path: "<stdin>"}, err.Error())
				}
			}
			opts, err := a.cfg.Options()
			if err != nil {
				return a.userError(diag.InConfig, diag.Location{Path: a.cfg.Path}, err.Error())
			}
			for _, s := range args {
				a.demangleOne(s, asType, whitelist, opts)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asType, "type", false, "arguments are type manglings")
	cmd.Flags().BoolVar(&whitelist, "whitelist", false, "report whether the symbol may link a core prespecialization")
	return cmd
}

// demangleOne prints one decoded name. Failures become diagnostics so the
// remaining inputs are still decoded.
func (a *app) demangleOne(s string, asType, whitelist bool, opts specialize.Options) {
	loc := diag.Location{Function: s}
	if asType {
		t, err := mangle.DecodeType(s)
		if err != nil {
			a.report(diag.SevError, diag.InSymbol, loc, err.Error())
			return
		}
		fmt.Fprintf(a.stdout, "%s ---> %s\n", s, t)
		return
	}
	out, err := mangle.Demangle(s)
	if err != nil {
		a.report(diag.SevError, diag.InSymbol, loc, err.Error())
		return
	}
	if !whitelist {
		fmt.Fprintf(a.stdout, "%s ---> %s\n", s, out)
		return
	}
	verdict := "not whitelisted"
	if specialize.IsWhitelisted(out, opts.CoreModule, opts.Whitelist) {
		verdict = "whitelisted"
	}
	fmt.Fprintf(a.stdout, "%s ---> %s [%s]\n", s, out, verdict)
}
