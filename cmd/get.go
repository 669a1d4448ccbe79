package cmd

import (
	"github.com/spf13/cobra"
	"github.com/tanq16/fetchpool/internal/utils"
)

func newGetCmd(opts *rootOptions) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "get [URL] [--name FILENAME]",
		Short: "Download a single URL into the output directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := args[0]
			if err := utils.ValidateURL(url); err != nil {
				return err
			}
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			if name == "" {
				name = utils.FilenameFromURL(url, "download"+cfg.FilenameExt)
			}
			return opts.runJobs(cmd, cfg, []utils.Job{{URL: url, Filename: name}})
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Filename inside the output directory (inferred from the URL if not provided)")
	return cmd
}
