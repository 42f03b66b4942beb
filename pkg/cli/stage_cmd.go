package cli

import (
	"context"

	"github.com/spf13/cobra"

	"abp-pipeline/internal/config"
	"abp-pipeline/internal/pipeline"
)

// stageFunc is a pipeline stage entry point; all stages share this shape.
type stageFunc func(*pipeline.Pipeline, context.Context, bool) error

func newStageCmd(use, short string, configPath *string, force *bool, stage stageFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			p, err := pipeline.New(cfg)
			if err != nil {
				return err
			}
			defer p.Close()
			return stage(p, cmd.Context(), *force)
		},
	}
}
