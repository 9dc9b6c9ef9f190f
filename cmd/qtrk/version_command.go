package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/beadtrack/internal/version"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "qtrk", version.String())
			return nil
		},
	}
}
