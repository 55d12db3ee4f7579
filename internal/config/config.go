// Package config loads lakeload.yaml and environment overrides for the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/justapithecus/lakeload/lakeload"
)

// DefaultFile is the config file read when no path is given.
const DefaultFile = "lakeload.yaml"

// Config is the CLI configuration.
type Config struct {
	// Region is the deployment region of the table buckets. Required.
	Region string `yaml:"region"`

	// Endpoint overrides the S3 endpoint (MinIO, LocalStack, R2).
	Endpoint     string `yaml:"endpoint,omitempty"`
	UsePathStyle bool   `yaml:"use_path_style,omitempty"`

	// Selection is the data file strategy for queries: first, all or latest.
	Selection string `yaml:"selection,omitempty"`

	Credentials CredentialsConfig `yaml:"credentials,omitempty"`
	Log         LogConfig         `yaml:"log,omitempty"`
}

// CredentialsConfig configures credential resolution.
type CredentialsConfig struct {
	Profile         string        `yaml:"profile,omitempty"`
	RoleARN         string        `yaml:"role_arn,omitempty"`
	RoleSessionName string        `yaml:"role_session_name,omitempty"`
	MaxAttempts     int           `yaml:"max_attempts,omitempty"`
	Timeout         time.Duration `yaml:"timeout,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level,omitempty"`
	// Format is console or json.
	Format string `yaml:"format,omitempty"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Selection: lakeload.SelectionFirst,
		Credentials: CredentialsConfig{
			MaxAttempts: lakeload.DefaultMaxAttempts,
			Timeout:     lakeload.DefaultResolveTimeout,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads the config file at path over the defaults, then applies
// environment overrides and validates the result.
//
// A missing file is not an error when path is DefaultFile.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && path == DefaultFile:
	default:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFiles loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Used for AWS_* credentials
// kept in .env files.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	if err := godotenv.Load(paths...); err != nil {
		return fmt.Errorf("loading env files: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := firstEnv("LAKELOAD_REGION", "AWS_REGION", "AWS_DEFAULT_REGION"); v != "" {
		c.Region = v
	}
	if v := os.Getenv("LAKELOAD_ENDPOINT"); v != "" {
		c.Endpoint = v
	}
	if v := os.Getenv("LAKELOAD_PATH_STYLE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LAKELOAD_PATH_STYLE: %w", err)
		}
		c.UsePathStyle = b
	}
	if v := os.Getenv("LAKELOAD_SELECTION"); v != "" {
		c.Selection = v
	}
	if v := firstEnv("LAKELOAD_PROFILE", "AWS_PROFILE"); v != "" {
		c.Credentials.Profile = v
	}
	if v := os.Getenv("LAKELOAD_ROLE_ARN"); v != "" {
		c.Credentials.RoleARN = v
	}
	if v := os.Getenv("LAKELOAD_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

// Validate checks the configuration for required and well-formed values.
func (c *Config) Validate() error {
	if c.Region == "" {
		return errors.New("config: region is required (set region in lakeload.yaml or LAKELOAD_REGION)")
	}
	if _, err := lakeload.SelectionByName(c.Selection); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Credentials.MaxAttempts <= 0 {
		return fmt.Errorf("config: credentials.max_attempts must be positive, got %d", c.Credentials.MaxAttempts)
	}
	if c.Credentials.Timeout <= 0 {
		return fmt.Errorf("config: credentials.timeout must be positive, got %s", c.Credentials.Timeout)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("config: log.format must be console or json, got %q", c.Log.Format)
	}
	return nil
}

// ResolverConfig returns the credential resolver configuration.
func (c *Config) ResolverConfig() lakeload.ResolverConfig {
	return lakeload.ResolverConfig{
		Region:          c.Region,
		Profile:         c.Credentials.Profile,
		RoleARN:         c.Credentials.RoleARN,
		RoleSessionName: c.Credentials.RoleSessionName,
		MaxAttempts:     c.Credentials.MaxAttempts,
		Timeout:         c.Credentials.Timeout,
	}
}

// LoaderConfig returns the table loader configuration.
func (c *Config) LoaderConfig() (lakeload.Config, error) {
	sel, err := lakeload.SelectionByName(c.Selection)
	if err != nil {
		return lakeload.Config{}, err
	}
	return lakeload.Config{
		Region:       c.Region,
		Endpoint:     c.Endpoint,
		UsePathStyle: c.UsePathStyle,
		Selection:    sel,
	}, nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
