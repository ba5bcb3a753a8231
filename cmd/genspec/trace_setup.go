package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"genspec/internal/trace"
)

// setupTracing builds the tracer from the [trace] section, overridden by
// any trace flag given on the command line, and attaches it to the
// command's context.
func (a *app) setupTracing(cmd *cobra.Command) error {
	cfg, err := a.cfg.TraceConfig()
	if err != nil {
		return err
	}

	flags := cmd.Root().PersistentFlags()
	if flags.Changed("trace") {
		cfg.OutputPath, _ = flags.GetString("trace")
	}
	if flags.Changed("trace-level") {
		levelStr, _ := flags.GetString("trace-level")
		if cfg.Level, err = trace.ParseLevel(levelStr); err != nil {
			return fmt.Errorf("invalid trace level: %w", err)
		}
	}
	if flags.Changed("trace-mode") {
		modeStr, _ := flags.GetString("trace-mode")
		if cfg.Mode, err = trace.ParseMode(modeStr); err != nil {
			return fmt.Errorf("invalid trace mode: %w", err)
		}
	}
	if flags.Changed("trace-ring-size") {
		cfg.RingSize, _ = flags.GetInt("trace-ring-size")
	}
	if flags.Changed("trace-heartbeat") {
		cfg.Heartbeat, _ = flags.GetDuration("trace-heartbeat")
	}
	// An output path alone turns tracing on at phase level.
	if cfg.Level == trace.LevelOff && cfg.OutputPath != "" {
		cfg.Level = trace.LevelPhase
	}
	if cfg.Level == trace.LevelOff {
		cmd.SetContext(trace.WithTracer(cmd.Context(), trace.Nop))
		return nil
	}
	if cfg.OutputPath == "" || cfg.OutputPath == "-" {
		cfg.Output = unclosable{a.stderr}
	}

	tracer, ring, err := trace.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create tracer: %w", err)
	}
	a.tracer = tracer
	a.ring = ring
	cmd.SetContext(trace.WithTracer(cmd.Context(), tracer))

	heartbeat := trace.StartHeartbeat(tracer, cfg.Heartbeat)
	a.cleanup = func() {
		heartbeat.Stop()
		if err := tracer.Flush(); err != nil {
			fmt.Fprintf(a.stderr, "trace: flush error: %v\n", err)
		}
		if err := tracer.Close(); err != nil {
			fmt.Fprintf(a.stderr, "trace: close error: %v\n", err)
		}
	}
	return nil
}

// unclosable hides Close so the tracer never closes the command's stderr.
type unclosable struct{ io.Writer }
