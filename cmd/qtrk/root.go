package main

import (
	"github.com/spf13/cobra"

	"github.com/banshee-data/beadtrack/internal/monitoring"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	var debugFlag bool

	ctx := newCommandContext(&configFlag)

	rootCmd := &cobra.Command{
		Use:           "qtrk",
		Short:         "Bead tracker for microscope frame stacks",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			monitoring.SetDebug(debugFlag)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Settings file (.toml or .json)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Log every localization")

	rootCmd.AddCommand(newTrackCommand(ctx))
	rootCmd.AddCommand(newDumpCommand(ctx))
	rootCmd.AddCommand(newReportCommand(ctx))
	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}
