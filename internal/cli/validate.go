package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lockstep-ci/lockstep/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate [pipeline.yaml]",
	Short: "Validate a pipeline definition without running it",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "pipeline.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}

		errs := config.Validate(cfg)
		if len(errs) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "Pipeline %q is valid: %d stages, %d policies.\n",
				cfg.Pipeline.Name, len(cfg.Pipeline.Stages), len(cfg.Pipeline.Policies))
			return nil
		}

		for _, verr := range errs {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", verr.Error())
		}
		cmd.SilenceUsage = true
		return fmt.Errorf("invalid pipeline definition (%d errors)", len(errs))
	},
}
