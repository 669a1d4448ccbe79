// Package config defines the settings of a fetchpool run.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (FETCHPOOL_ prefix, optionally from a .env file)
//   - YAML configuration file
//
// # Example file
//
//	output_dir: images
//	workers: 8
//	timeout: 30s
//	headers:
//	  Referer: https://example.com
//	s3_profile: media
package config
