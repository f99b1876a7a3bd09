// Package config resolves mclokit's runtime configuration.
//
// Sources, lowest priority first:
//  1. built-in defaults
//  2. .mclokit.yaml or .mclokit.toml in the project root
//  3. .env in the project root (godotenv format)
//  4. process environment (MCLOKIT_API_BASE, MCLOKIT_MODEL, MCLOKIT_API_KEY,
//     DATABASE_URL)
//
// Command-line flags are applied by the caller on top of the loaded value
// followed by a call to Validate.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variables read by Load.
const (
	EnvAPIBase     = "MCLOKIT_API_BASE"
	EnvModel       = "MCLOKIT_MODEL"
	EnvAPIKey      = "MCLOKIT_API_KEY"
	EnvDatabaseURL = "DATABASE_URL"
)

// Cache backends.
const (
	CacheFile     = "file"
	CacheMemory   = "memory"
	CachePostgres = "postgres"
)

// Defaults.
const (
	DefaultAPIBase    = "https://api.openai.com/v1"
	DefaultModel      = "gpt-4o-mini"
	DefaultMaxTokens  = 8192
	DefaultParallel   = 3
	DefaultTimeout    = 120 * time.Second
	DefaultSource     = "en_us"
	DefaultTarget     = "zh_cn"
	DefaultPromptName = "default"
)

// Config is the resolved configuration. It is a plain value: copies are
// independent and nothing in mclokit mutates it after validation.
type Config struct {
	APIBase     string
	APIKey      string
	Model       string
	Proxy       string
	MaxTokens   int
	Temperature float64
	Parallel    int
	Timeout     time.Duration
	Retries     int

	Source     string
	Target     string
	Prompt     string
	PromptName string

	CacheBackend string
	CachePath    string
	DatabaseURL  string
	LogDir       string

	// Path is the project file that was loaded, if any.
	Path string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		APIBase:      DefaultAPIBase,
		Model:        DefaultModel,
		MaxTokens:    DefaultMaxTokens,
		Parallel:     DefaultParallel,
		Timeout:      DefaultTimeout,
		Source:       DefaultSource,
		Target:       DefaultTarget,
		PromptName:   DefaultPromptName,
		CacheBackend: CacheFile,
	}
}

// Load resolves the configuration for a project root.
func Load(rootDir string) (Config, error) {
	cfg := Default()

	f, path, err := ReadFile(rootDir)
	if err != nil {
		return cfg, err
	}
	if f != nil {
		if err := cfg.apply(*f); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
		cfg.Path = path
	}

	dotenv, err := readDotenv(filepath.Join(rootDir, EnvFileName))
	if err != nil {
		return cfg, err
	}
	lookup := func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return dotenv[key]
	}
	if v := lookup(EnvAPIBase); v != "" {
		cfg.APIBase = v
	}
	if v := lookup(EnvModel); v != "" {
		cfg.Model = v
	}
	if v := lookup(EnvAPIKey); v != "" {
		cfg.APIKey = v
	}
	if v := lookup(EnvDatabaseURL); v != "" && cfg.DatabaseURL == "" {
		cfg.DatabaseURL = v
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// readDotenv parses a .env file without touching the process environment.
func readDotenv(path string) (map[string]string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	env, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return env, nil
}

func (c *Config) apply(f File) error {
	setString(&c.APIBase, f.APIBase)
	setString(&c.Model, f.Model)
	setString(&c.Proxy, f.Proxy)
	setString(&c.Source, f.Source)
	setString(&c.Target, f.Target)
	setString(&c.Prompt, f.Prompt)
	setString(&c.PromptName, f.PromptName)
	setString(&c.CacheBackend, f.Cache.Backend)
	setString(&c.CachePath, f.Cache.Path)
	setString(&c.DatabaseURL, f.Cache.DatabaseURL)
	setString(&c.LogDir, f.LogDir)

	if f.MaxTokens != 0 {
		c.MaxTokens = f.MaxTokens
	}
	if f.Parallel != 0 {
		c.Parallel = f.Parallel
	}
	if f.Retries != 0 {
		c.Retries = f.Retries
	}
	if f.Temperature != 0 {
		c.Temperature = f.Temperature
	}
	if f.Timeout != "" {
		d, err := time.ParseDuration(f.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %w", f.Timeout, err)
		}
		c.Timeout = d
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Validate checks value ranges and cross-field requirements.
func (c Config) Validate() error {
	var errs []error

	if u, err := url.Parse(c.APIBase); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("api_base %q is not an absolute URL", c.APIBase))
	}
	if strings.TrimSpace(c.Model) == "" {
		errs = append(errs, errors.New("model is required"))
	}
	if c.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("max_tokens must be positive, got %d", c.MaxTokens))
	}
	if c.Parallel <= 0 {
		errs = append(errs, fmt.Errorf("parallel must be positive, got %d", c.Parallel))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}
	if c.Retries < 0 {
		errs = append(errs, fmt.Errorf("retries must not be negative, got %d", c.Retries))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, fmt.Errorf("temperature must be within [0, 2], got %g", c.Temperature))
	}
	if c.Source == "" || c.Target == "" {
		errs = append(errs, errors.New("source and target locales are required"))
	} else if strings.EqualFold(c.Source, c.Target) {
		errs = append(errs, fmt.Errorf("source and target locale are both %q", c.Source))
	}

	switch c.CacheBackend {
	case CacheFile, CacheMemory:
	case CachePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("cache backend %q needs a database URL (cache.database_url or %s)", CachePostgres, EnvDatabaseURL))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache backend %q (valid: file, memory, postgres)", c.CacheBackend))
	}

	return errors.Join(errs...)
}

// AttemptLogsEnabled reports whether per-request logs should be written.
func (c Config) AttemptLogsEnabled() bool {
	return c.LogDir != "off"
}

// ToFile renders the configuration as a project file for `mclokit init`.
// Secrets are left out.
func (c Config) ToFile() File {
	return File{
		APIBase:     c.APIBase,
		Model:       c.Model,
		Proxy:       c.Proxy,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
		Parallel:    c.Parallel,
		Timeout:     c.Timeout.String(),
		Retries:     c.Retries,
		Source:      c.Source,
		Target:      c.Target,
		Prompt:      c.Prompt,
		PromptName:  c.PromptName,
		Cache:       CacheSection{Backend: c.CacheBackend, Path: c.CachePath},
		LogDir:      c.LogDir,
	}
}
