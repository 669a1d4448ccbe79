package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tanq16/fetchpool/internal/output"
	"github.com/tanq16/fetchpool/internal/utils"
)

func newCleanCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clean [OUTPUT_DIR]",
		Short: "Remove temporary files left behind by interrupted downloads",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) == 1 {
				dir = args[0]
			} else {
				cfg, err := opts.loadConfig(cmd)
				if err != nil {
					return err
				}
				dir = cfg.OutputDir
			}
			if err := utils.CleanTemp(dir); err != nil {
				return fmt.Errorf("error cleaning up temporary files: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), output.FSuccess("Temporary files cleaned up in "+dir))
			return nil
		},
	}
}
