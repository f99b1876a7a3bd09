package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Project file schema
// ---------------------------------------------------------------------------

// File is the on-disk project configuration, read from .mclokit.yaml or
// .mclokit.toml. Every field is optional.
type File struct {
	// APIBase is the OpenAI-compatible API root including /v1.
	APIBase string `yaml:"api_base,omitempty" toml:"api_base,omitempty"`
	// Model is the model identifier.
	Model string `yaml:"model,omitempty" toml:"model,omitempty"`
	// Proxy is an HTTP/HTTPS proxy URL.
	Proxy string `yaml:"proxy,omitempty" toml:"proxy,omitempty"`
	// MaxTokens is the model allowance per request.
	MaxTokens int `yaml:"max_tokens,omitempty" toml:"max_tokens,omitempty"`
	// Temperature is sent when non-zero.
	Temperature float64 `yaml:"temperature,omitempty" toml:"temperature,omitempty"`
	// Parallel is the number of concurrent requests.
	Parallel int `yaml:"parallel,omitempty" toml:"parallel,omitempty"`
	// Timeout is the per-request deadline as a Go duration ("90s", "2m").
	Timeout string `yaml:"timeout,omitempty" toml:"timeout,omitempty"`
	// Retries enables retrying failed requests.
	Retries int `yaml:"retries,omitempty" toml:"retries,omitempty"`

	// Source is the source locale (default en_us).
	Source string `yaml:"source,omitempty" toml:"source,omitempty"`
	// Target is the target locale (default zh_cn).
	Target string `yaml:"target,omitempty" toml:"target,omitempty"`
	// Prompt is an inline system prompt; it wins over PromptName.
	Prompt string `yaml:"prompt,omitempty" toml:"prompt,omitempty"`
	// PromptName selects a prompt from prompts.json (default "default").
	PromptName string `yaml:"prompt_name,omitempty" toml:"prompt_name,omitempty"`

	// Cache configures the translation cache.
	Cache CacheSection `yaml:"cache,omitempty" toml:"cache,omitempty"`
	// LogDir receives per-request debug logs. "off" disables them.
	LogDir string `yaml:"log_dir,omitempty" toml:"log_dir,omitempty"`
}

// CacheSection is the cache section of the project file.
type CacheSection struct {
	// Backend is "file", "memory" or "postgres".
	Backend string `yaml:"backend,omitempty" toml:"backend,omitempty"`
	// Path is the journal path of the file backend.
	Path string `yaml:"path,omitempty" toml:"path,omitempty"`
	// DatabaseURL is the PostgreSQL DSN of the postgres backend.
	DatabaseURL string `yaml:"database_url,omitempty" toml:"database_url,omitempty"`
}

// File names looked up in the project root, in order.
const (
	YAMLFileName = ".mclokit.yaml"
	TOMLFileName = ".mclokit.toml"
	EnvFileName  = ".env"
)

// ReadFile loads the project file from rootDir. It returns a nil File and
// empty path when neither file exists.
func ReadFile(rootDir string) (*File, string, error) {
	for _, name := range []string{YAMLFileName, TOMLFileName} {
		path := filepath.Join(rootDir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, path, fmt.Errorf("reading %s: %w", path, err)
		}

		var f File
		if name == TOMLFileName {
			err = toml.Unmarshal(data, &f)
		} else {
			err = yaml.Unmarshal(data, &f)
		}
		if err != nil {
			return nil, path, fmt.Errorf("parsing %s: %w", path, err)
		}
		return &f, path, nil
	}
	return nil, "", nil
}

// WriteFile writes f to rootDir as YAML, or TOML when toTOML is set, and
// returns the written path. An existing file is not overwritten.
func WriteFile(rootDir string, f File, toTOML bool) (string, error) {
	name := YAMLFileName
	if toTOML {
		name = TOMLFileName
	}
	path := filepath.Join(rootDir, name)
	if _, err := os.Stat(path); err == nil {
		return path, fmt.Errorf("%s already exists", path)
	}

	var data []byte
	var err error
	if toTOML {
		data, err = toml.Marshal(f)
	} else {
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err = enc.Encode(f); err == nil {
			err = enc.Close()
		}
		data = buf.Bytes()
	}
	if err != nil {
		return path, fmt.Errorf("encoding %s: %w", name, err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return path, fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}
