// Package cli wires the pipeline stages into a cobra command tree. Each
// stage is its own subcommand so a run can be resumed or repeated one stage
// at a time; `run` executes them all in order.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"abp-pipeline/internal/pipeline"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		force      bool
	)

	rootCmd := &cobra.Command{
		Use:           "abp",
		Short:         "AddressBase Premium flatfile pipeline",
		Long:          "Transforms raw AddressBase Premium CSV extracts into chunked parquet address flatfiles.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML config file")
	rootCmd.PersistentFlags().BoolVar(&force, "force", false, "Regenerate outputs that already exist")

	rootCmd.AddCommand(
		newStageCmd("split", "Split raw CSV files into typed parquet relations",
			&configPath, &force, (*pipeline.Pipeline).Split),
		newStageCmd("hierarchy", "Classify every UPRN as parent, child, or singleton",
			&configPath, &force, (*pipeline.Pipeline).Hierarchy),
		newStageCmd("flatfile", "Generate the chunked address-variant flatfiles",
			&configPath, &force, (*pipeline.Pipeline).Flatfile),
		newStageCmd("run", "Run all stages: split, hierarchy, flatfile",
			&configPath, &force, (*pipeline.Pipeline).Run),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the pipeline version",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(os.Stdout, "abp version %s (commit: %s)\n", version, commit)
			return err
		},
	}
}
