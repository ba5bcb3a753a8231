package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"genspec/internal/diag"
	"genspec/internal/fixture"
	"genspec/internal/mangle"
	"genspec/internal/registry"
	"genspec/internal/typeref"
)

func newLookupCmd(a *app) *cobra.Command {
	var (
		images  []string
		mangled bool
	)
	cmd := &cobra.Command{
		Use:   "lookup --image FILE... TYPE...",
		Short: "Resolve types against metadata images",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := registry.New()
			for _, p := range images {
				img, err := fixture.LoadImage(p)
				if err != nil {
					return a.userError(diag.InImage, diag.Location{Path: p}, err.Error())
				}
				if err := reg.RegisterImage(img); err != nil {
					return a.userError(diag.InImage, diag.Location{Path: p}, err.Error())
				}
			}
			for _, name := range args {
				a.lookupOne(reg, name, mangled)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&images, "image", nil, "metadata image, encoded or .yaml (repeatable)")
	cmd.Flags().BoolVar(&mangled, "mangled", false, "arguments are mangled type names")
	_ = cmd.MarkFlagRequired("image")
	return cmd
}

func (a *app) lookupOne(reg *registry.Registry, name string, mangled bool) {
	loc := diag.Location{Function: name}
	key := name
	if !mangled {
		t, err := typeref.Parse(name)
		if err != nil {
			a.report(diag.SevError, diag.InTypeExpr, loc, err.Error())
			return
		}
		key = mangle.Type(t)
	}
	md := reg.TypeByMangledName(key)
	if md == nil {
		a.report(diag.SevError, diag.LkpNotFound, loc, fmt.Sprintf("no metadata for %s", key))
		return
	}
	where := md.Image
	if md.Origin == registry.OriginSection {
		where = fmt.Sprintf("%s#%d", md.Image, md.Record)
	}
	if where == "" {
		where = "-"
	}
	extra := ""
	if md.Instantiated {
		extra = " instantiated"
	}
	fmt.Fprintf(a.stdout, "%s\t%s\t%s\t%s\t%s%s\n", name, md.Type, md.Origin, md.Kind, where, extra)
}
