package main

import (
	"github.com/spf13/pflag"

	"genspec/internal/specialize"
)

// optLevelValue is the -O flag. It remembers whether it was set so the
// configuration file's level applies otherwise.
type optLevelValue struct {
	level specialize.OptLevel
	set   bool
}

var _ pflag.Value = (*optLevelValue)(nil)

func (v *optLevelValue) String() string { return v.level.String() }

func (v *optLevelValue) Set(s string) error {
	lvl, err := specialize.ParseOptLevel(s)
	if err != nil {
		return err
	}
	v.level = lvl
	v.set = true
	return nil
}

func (v *optLevelValue) Type() string { return "level" }
