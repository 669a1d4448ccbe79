package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tanq16/fetchpool/internal/utils"
)

func newListCmd(opts *rootOptions) *cobra.Command {
	var ext string

	cmd := &cobra.Command{
		Use:   "list [URL_FILE] [OPTIONS]",
		Short: "Download every URL in a newline-delimited file, saving them as <index><ext>",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			listFile := utils.DefaultURLList
			if len(args) == 1 {
				listFile = args[0]
			}
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("ext") {
				cfg.FilenameExt = ext
			}
			urls, err := utils.ReadURLList(listFile)
			if err != nil {
				return err
			}
			if len(urls) == 0 {
				return errors.New("no valid URLs found in " + listFile)
			}
			jobs := make([]utils.Job, 0, len(urls))
			for i, url := range urls {
				jobs = append(jobs, utils.Job{URL: url, Filename: utils.IndexedFilename(i, cfg.FilenameExt)})
			}
			if err := opts.runJobs(cmd, cfg, jobs); err != nil {
				return fmt.Errorf("list %s: %w", listFile, err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&ext, "ext", "e", utils.DefaultFilenameExt, "Extension appended to the index-based filenames")
	return cmd
}
