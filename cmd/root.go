package cmd

import (
	"context"
	"errors"
	"fmt"
	u "net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tanq16/fetchpool/internal/config"
	"github.com/tanq16/fetchpool/internal/fetch"
	"github.com/tanq16/fetchpool/internal/output"
	"github.com/tanq16/fetchpool/internal/scheduler"
	"github.com/tanq16/fetchpool/internal/utils"
)

var FetchpoolVersion = "dev"

var errJobsFailed = errors.New("one or more jobs failed")

type rootOptions struct {
	configFile     string
	envFile        string
	outputDir      string
	workers        int
	queueSize      int
	logFile        string
	chunkSize      int
	timeout        time.Duration
	connectTimeout time.Duration
	kaTimeout      time.Duration
	userAgent      string
	proxyURL       string
	proxyUsername  string
	proxyPassword  string
	headers        []string
	s3Profile      string
	s3Endpoint     string
	verbose        bool
	debug          bool
}

func newRootCmd() *cobra.Command {
	return buildRootCmd(&rootOptions{})
}

func buildRootCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "fetchpool",
		Short:         "fetchpool downloads lists of URLs concurrently through a bounded worker pool",
		Version:       FetchpoolVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaults := config.Default()
	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "YAML configuration file")
	flags.StringVar(&opts.envFile, "env-file", "", "Load environment variables from this file (default .env if present)")
	flags.StringVarP(&opts.outputDir, "output-dir", "o", defaults.OutputDir, "Directory downloaded files are written to")
	flags.IntVarP(&opts.workers, "workers", "w", scheduler.DefaultPoolSize(), "Number of concurrent downloads")
	flags.IntVar(&opts.queueSize, "queue-size", 0, "Jobs allowed to wait for a free worker (default 2x workers)")
	flags.StringVar(&opts.logFile, "log-file", defaults.LogFile, "File job outcomes are appended to")
	flags.IntVar(&opts.chunkSize, "chunk-size", defaults.ChunkSize, "Bytes read per chunk while streaming")
	flags.DurationVarP(&opts.timeout, "timeout", "t", defaults.Timeout, "Per-request timeout (eg. 30s, 2m)")
	flags.DurationVar(&opts.connectTimeout, "connect-timeout", defaults.ConnectTimeout, "Connection setup timeout")
	flags.DurationVarP(&opts.kaTimeout, "keep-alive-timeout", "k", defaults.KeepAliveTimeout, "Idle keep-alive timeout")
	flags.StringVarP(&opts.userAgent, "user-agent", "a", defaults.UserAgent, "User agent (\"randomize\" picks a browser agent)")
	flags.StringVarP(&opts.proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	flags.StringVar(&opts.proxyUsername, "proxy-username", "", "Proxy username (if not provided in proxy URL)")
	flags.StringVar(&opts.proxyPassword, "proxy-password", "", "Proxy password (if not provided in proxy URL)")
	flags.StringArrayVarP(&opts.headers, "header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")
	flags.StringVar(&opts.s3Profile, "s3-profile", "", "AWS profile used for s3:// URLs")
	flags.StringVar(&opts.s3Endpoint, "s3-endpoint", "", "Custom S3-compatible endpoint (path-style)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "List every job in the final summary")
	flags.BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(newListCmd(opts))
	cmd.AddCommand(newBatchCmd(opts))
	cmd.AddCommand(newGetCmd(opts))
	cmd.AddCommand(newCleanCmd(opts))
	return cmd
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errJobsFailed) {
			output.PrintError(os.Stderr, err.Error())
		}
		os.Exit(1)
	}
}

// loadConfig layers defaults, the YAML file, the environment and finally any
// flag the user set explicitly.
func (o *rootOptions) loadConfig(cmd *cobra.Command) (config.Config, error) {
	if o.envFile != "" {
		if err := config.LoadDotEnv(o.envFile); err != nil {
			return config.Config{}, fmt.Errorf("error loading env file: %w", err)
		}
	} else if err := config.LoadDotEnv(); err != nil {
		return config.Config{}, fmt.Errorf("error loading .env: %w", err)
	}

	cfg := config.Default()
	if o.configFile != "" {
		if err := cfg.MergeFile(o.configFile); err != nil {
			return config.Config{}, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("output-dir") {
		cfg.OutputDir = o.outputDir
	}
	if flags.Changed("workers") {
		cfg.Workers = o.workers
	}
	if flags.Changed("queue-size") {
		cfg.QueueSize = o.queueSize
	}
	if flags.Changed("log-file") {
		cfg.LogFile = o.logFile
	}
	if flags.Changed("chunk-size") {
		cfg.ChunkSize = o.chunkSize
	}
	if flags.Changed("timeout") {
		cfg.Timeout = o.timeout
	}
	if flags.Changed("connect-timeout") {
		cfg.ConnectTimeout = o.connectTimeout
	}
	if flags.Changed("keep-alive-timeout") {
		cfg.KeepAliveTimeout = o.kaTimeout
	}
	if flags.Changed("user-agent") {
		cfg.UserAgent = o.userAgent
	}
	if flags.Changed("proxy") {
		cfg.ProxyURL = o.proxyURL
	}
	if flags.Changed("s3-profile") {
		cfg.S3Profile = o.s3Profile
	}
	if flags.Changed("s3-endpoint") {
		cfg.S3Endpoint = o.s3Endpoint
	}
	if flags.Changed("debug") {
		cfg.Debug = o.debug
	}
	for k, v := range utils.ParseHeaderArgs(o.headers) {
		cfg.Headers[k] = v
	}
	if cfg.UserAgent == "randomize" {
		cfg.UserAgent = utils.GetRandomUserAgent()
	}
	return cfg, cfg.Validate()
}

func (o *rootOptions) httpClientConfig(cfg config.Config) utils.HTTPClientConfig {
	httpCfg := cfg.HTTPClientConfig()
	httpCfg.ProxyUsername = o.proxyUsername
	httpCfg.ProxyPassword = o.proxyPassword
	// credentials embedded in the proxy URL win unless given separately
	if parsedProxy, err := u.Parse(httpCfg.ProxyURL); err == nil && parsedProxy.User != nil && httpCfg.ProxyUsername == "" {
		httpCfg.ProxyUsername = parsedProxy.User.Username()
		if password, set := parsedProxy.User.Password(); set {
			httpCfg.ProxyPassword = password
		}
		parsedProxy.User = nil
		httpCfg.ProxyURL = parsedProxy.String()
	}
	return httpCfg
}

// runJobs submits every job to a fresh scheduler, waits for all outcomes and
// prints the summary. It returns errJobsFailed when any job failed.
func (o *rootOptions) runJobs(cmd *cobra.Command, cfg config.Config, jobs []utils.Job) error {
	output.InitLogger(cfg.Debug)
	sink, err := output.NewFileLogger(cfg.LogFile, cmd.OutOrStdout(), cfg.Debug)
	if err != nil {
		return err
	}
	defer sink.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracker := output.NewManager()
	sched, err := scheduler.New(cfg.OutputDir,
		scheduler.WithContext(ctx),
		scheduler.WithPoolSize(cfg.Workers),
		scheduler.WithQueueSize(queueSizeOrDefault(cfg)),
		scheduler.WithChunkSize(cfg.ChunkSize),
		scheduler.WithHTTPClientConfig(o.httpClientConfig(cfg)),
		scheduler.WithSource("s3", fetch.NewS3Source(cfg.S3Profile, cfg.S3Endpoint)),
		scheduler.WithSink(sink),
		scheduler.WithTracker(tracker),
	)
	if err != nil {
		return err
	}
	log.Debug().Str("op", "cmd/root").Msgf("Starting scheduler with %d jobs on %d workers", len(jobs), sched.PoolSize())

	for i, job := range jobs {
		if err := sched.SubmitContext(ctx, job); err != nil {
			log.Debug().Str("op", "cmd/root").Err(err).Msg("stopped submitting jobs")
			output.PrintWarning(cmd.ErrOrStderr(), fmt.Sprintf("Interrupted: %d of %d jobs were not submitted", len(jobs)-i, len(jobs)))
			break
		}
	}
	sched.Close()

	tracker.ShowSummary(cmd.OutOrStdout(), o.verbose)
	if tracker.Counts().Failed > 0 {
		return errJobsFailed
	}
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	return nil
}

func queueSizeOrDefault(cfg config.Config) int {
	if cfg.QueueSize > 0 {
		return cfg.QueueSize
	}
	return -1
}
