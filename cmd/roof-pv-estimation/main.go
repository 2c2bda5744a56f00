package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var flags runFlags

	rootCmd := &cobra.Command{
		Use:   "roof-pv-estimation",
		Short: "Estimate PV production for roof surfaces via PVGIS",
	}
	flags.register(rootCmd)

	rootCmd.AddCommand(estimateCmd(&flags))
	rootCmd.AddCommand(serveCmd(&flags))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func estimateCmd(flags *runFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "estimate",
		Short: "Run one estimation over the roofs file and write the annotated table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEstimate(cmd, flags)
		},
	}
}

func serveCmd(flags *runFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve estimation runs over HTTP, re-estimating on RUN_INTERVAL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, flags)
		},
	}
}
