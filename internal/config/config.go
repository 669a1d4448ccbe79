package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/tanq16/fetchpool/internal/utils"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "FETCHPOOL_"

// Config holds every tunable of a fetchpool run. Precedence, lowest first:
// defaults, YAML file, environment, command-line flags.
type Config struct {
	OutputDir        string            `yaml:"output_dir"`
	Workers          int               `yaml:"workers"`
	QueueSize        int               `yaml:"queue_size"`
	LogFile          string            `yaml:"log_file"`
	ChunkSize        int               `yaml:"chunk_size"`
	Timeout          time.Duration     `yaml:"timeout"`
	ConnectTimeout   time.Duration     `yaml:"connect_timeout"`
	KeepAliveTimeout time.Duration     `yaml:"keep_alive_timeout"`
	UserAgent        string            `yaml:"user_agent"`
	Headers          map[string]string `yaml:"headers"`
	ProxyURL         string            `yaml:"proxy"`
	S3Profile        string            `yaml:"s3_profile"`
	S3Endpoint       string            `yaml:"s3_endpoint"`
	FilenameExt      string            `yaml:"filename_ext"`
	Debug            bool              `yaml:"debug"`
}

// Workers and QueueSize of 0 mean "let the scheduler decide".
func Default() Config {
	return Config{
		OutputDir:        utils.DefaultOutputDir,
		LogFile:          utils.DefaultLogFile,
		ChunkSize:        utils.DefaultChunkSize,
		Timeout:          utils.DefaultTimeout,
		ConnectTimeout:   utils.DefaultConnectTimeout,
		KeepAliveTimeout: 90 * time.Second,
		UserAgent:        utils.ToolUserAgent,
		Headers:          map[string]string{},
		FilenameExt:      utils.DefaultFilenameExt,
	}
}

// yamlConfig keeps durations as strings so "30s" style values parse.
type yamlConfig struct {
	OutputDir        string            `yaml:"output_dir"`
	Workers          int               `yaml:"workers"`
	QueueSize        int               `yaml:"queue_size"`
	LogFile          string            `yaml:"log_file"`
	ChunkSize        int               `yaml:"chunk_size"`
	Timeout          string            `yaml:"timeout"`
	ConnectTimeout   string            `yaml:"connect_timeout"`
	KeepAliveTimeout string            `yaml:"keep_alive_timeout"`
	UserAgent        string            `yaml:"user_agent"`
	Headers          map[string]string `yaml:"headers"`
	ProxyURL         string            `yaml:"proxy"`
	S3Profile        string            `yaml:"s3_profile"`
	S3Endpoint       string            `yaml:"s3_endpoint"`
	FilenameExt      string            `yaml:"filename_ext"`
	Debug            bool              `yaml:"debug"`
}

func LoadFromFile(path string) (Config, error) {
	cfg := Default()
	if err := cfg.MergeFile(path); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MergeFile overlays the values set in a YAML file onto cfg.
func (c *Config) MergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	setString(&c.OutputDir, yc.OutputDir)
	setString(&c.LogFile, yc.LogFile)
	setString(&c.UserAgent, yc.UserAgent)
	setString(&c.ProxyURL, yc.ProxyURL)
	setString(&c.S3Profile, yc.S3Profile)
	setString(&c.S3Endpoint, yc.S3Endpoint)
	setString(&c.FilenameExt, yc.FilenameExt)
	if yc.Workers != 0 {
		c.Workers = yc.Workers
	}
	if yc.QueueSize != 0 {
		c.QueueSize = yc.QueueSize
	}
	if yc.ChunkSize != 0 {
		c.ChunkSize = yc.ChunkSize
	}
	for field, raw := range map[string]string{
		"timeout":            yc.Timeout,
		"connect_timeout":    yc.ConnectTimeout,
		"keep_alive_timeout": yc.KeepAliveTimeout,
	} {
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", field, err)
		}
		switch field {
		case "timeout":
			c.Timeout = d
		case "connect_timeout":
			c.ConnectTimeout = d
		case "keep_alive_timeout":
			c.KeepAliveTimeout = d
		}
	}
	for k, v := range yc.Headers {
		if c.Headers == nil {
			c.Headers = map[string]string{}
		}
		c.Headers[k] = v
	}
	if yc.Debug {
		c.Debug = true
	}
	return nil
}

// LoadDotEnv loads the given .env files (or ./.env) into the process
// environment. A missing default .env is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); errors.Is(err, os.ErrNotExist) {
			return nil
		}
	}
	return godotenv.Load(files...)
}

// ApplyEnv overlays FETCHPOOL_* variables onto cfg.
func (c *Config) ApplyEnv() error {
	setString(&c.OutputDir, os.Getenv(EnvPrefix+"OUTPUT_DIR"))
	setString(&c.LogFile, os.Getenv(EnvPrefix+"LOG_FILE"))
	setString(&c.UserAgent, os.Getenv(EnvPrefix+"USER_AGENT"))
	setString(&c.ProxyURL, os.Getenv(EnvPrefix+"PROXY"))
	setString(&c.S3Profile, os.Getenv(EnvPrefix+"S3_PROFILE"))
	setString(&c.S3Endpoint, os.Getenv(EnvPrefix+"S3_ENDPOINT"))
	setString(&c.FilenameExt, os.Getenv(EnvPrefix+"FILENAME_EXT"))

	ints := map[string]*int{
		"WORKERS":    &c.Workers,
		"QUEUE_SIZE": &c.QueueSize,
		"CHUNK_SIZE": &c.ChunkSize,
	}
	for name, dst := range ints {
		if raw := os.Getenv(EnvPrefix + name); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil {
				return fmt.Errorf("parse %s%s: %w", EnvPrefix, name, err)
			}
			*dst = v
		}
	}
	durations := map[string]*time.Duration{
		"TIMEOUT":            &c.Timeout,
		"CONNECT_TIMEOUT":    &c.ConnectTimeout,
		"KEEP_ALIVE_TIMEOUT": &c.KeepAliveTimeout,
	}
	for name, dst := range durations {
		if raw := os.Getenv(EnvPrefix + name); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return fmt.Errorf("parse %s%s: %w", EnvPrefix, name, err)
			}
			*dst = d
		}
	}
	if raw := os.Getenv(EnvPrefix + "DEBUG"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("parse %sDEBUG: %w", EnvPrefix, err)
		}
		c.Debug = v
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.OutputDir) == "" {
		errs = append(errs, errors.New("output directory must not be empty"))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	if c.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("queue size must not be negative, got %d", c.QueueSize))
	}
	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}
	if c.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("connect timeout must be positive, got %s", c.ConnectTimeout))
	}
	return errors.Join(errs...)
}

func (c Config) HTTPClientConfig() utils.HTTPClientConfig {
	headers := make(map[string]string, len(c.Headers))
	for k, v := range c.Headers {
		headers[k] = v
	}
	return utils.HTTPClientConfig{
		Timeout:        c.Timeout,
		ConnectTimeout: c.ConnectTimeout,
		KATimeout:      c.KeepAliveTimeout,
		ProxyURL:       c.ProxyURL,
		UserAgent:      c.UserAgent,
		Headers:        headers,
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
