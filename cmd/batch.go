package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tanq16/fetchpool/internal/utils"
	"gopkg.in/yaml.v3"
)

type BatchEntry struct {
	OutputPath string `yaml:"op,omitempty"`
	Link       string `yaml:"link"`
}

type BatchFile struct {
	Jobs []BatchEntry `yaml:"jobs"`
}

func newBatchCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [YAML_FILE] [OPTIONS]",
		Short: "Process multiple downloads with explicit filenames from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("error reading YAML file: %w", err)
			}
			var batchFile BatchFile
			if err := yaml.Unmarshal(data, &batchFile); err != nil {
				return fmt.Errorf("error parsing YAML file: %w", err)
			}
			jobs := buildJobsFromBatch(batchFile, cfg.FilenameExt)
			if len(jobs) == 0 {
				return errors.New("no valid jobs found in the batch file")
			}
			return opts.runJobs(cmd, cfg, jobs)
		},
	}
	return cmd
}

// buildJobsFromBatch skips entries without a usable link. Entries without an
// output name take the last URL path segment, or their index.
func buildJobsFromBatch(batchFile BatchFile, ext string) []utils.Job {
	var jobs []utils.Job
	for i, entry := range batchFile.Jobs {
		if entry.Link == "" {
			log.Warn().Str("op", "cmd/batch").Int("entry", i).Msg("empty link, skipping")
			continue
		}
		if err := utils.ValidateURL(entry.Link); err != nil {
			log.Warn().Str("op", "cmd/batch").Int("entry", i).Err(err).Msg("invalid link, skipping")
			continue
		}
		filename := entry.OutputPath
		if filename == "" {
			filename = utils.FilenameFromURL(entry.Link, utils.IndexedFilename(i, ext))
		}
		jobs = append(jobs, utils.Job{URL: entry.Link, Filename: filename})
	}
	return jobs
}
