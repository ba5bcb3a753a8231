package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"genspec/internal/diag"
	"genspec/internal/fixture"
	"genspec/internal/registry"
)

func newImageCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "image",
		Short: "Build and inspect metadata images",
	}
	cmd.AddCommand(newImageBuildCmd(a), newImageShowCmd(a))
	return cmd
}

func newImageBuildCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "build DESC.yaml -o IMAGE",
		Short: "Encode an image description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := fixture.ReadImageFile(args[0])
			if err != nil {
				return a.userError(diag.InImage, diag.Location{Path: args[0]}, err.Error())
			}
			// Registration parses every type expression.
			if err := registry.New().RegisterImage(img); err != nil {
				return a.userError(diag.InImage, diag.Location{Path: args[0]}, err.Error())
			}
			if err := registry.WriteImage(output, img); err != nil {
				return a.userError(diag.InWriteFile, diag.Location{Path: output}, err.Error())
			}
			a.report(diag.SevInfo, diag.InInfo, diag.Location{Path: output},
				fmt.Sprintf("wrote image %s: %d records, %d conformances", img.Name, len(img.Records), len(img.Conformances)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "encoded image path")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func newImageShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show IMAGE",
		Short: "Print an image as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := fixture.LoadImage(args[0])
			if err != nil {
				return a.userError(diag.InImage, diag.Location{Path: args[0]}, err.Error())
			}
			enc := yaml.NewEncoder(a.stdout)
			enc.SetIndent(2)
			if err := enc.Encode(fixture.DescribeImage(img)); err != nil {
				return a.userError(diag.InWriteFile, diag.Location{}, err.Error())
			}
			return enc.Close()
		},
	}
}
