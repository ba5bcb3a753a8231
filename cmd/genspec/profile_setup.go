package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"genspec/internal/prof"
)

// setupProfiling starts the Go runtime profiles named by the persistent
// profiling flags. They are stopped by app.close.
func (a *app) setupProfiling(cmd *cobra.Command) error {
	flags := cmd.Root().PersistentFlags()
	var p prof.Paths
	p.CPU, _ = flags.GetString("cpu-profile")
	p.Heap, _ = flags.GetString("mem-profile")
	p.Trace, _ = flags.GetString("runtime-trace")
	s, err := prof.Start(p)
	if err != nil {
		return fmt.Errorf("failed to start profiling: %w", err)
	}
	a.profile = s
	return nil
}

func (a *app) stopProfiling() {
	if err := a.profile.Stop(); err != nil {
		fmt.Fprintf(a.stderr, "profile: %v\n", err)
	}
	a.profile = nil
}
