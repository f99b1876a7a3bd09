package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// PromptsConfig is the content of prompts.json.
type PromptsConfig struct {
	Prompts map[string]string `json:"prompts"`
}

// LoadPrompts reads prompts.json, creating it from defaults on first use.
// Built-in prompts missing from the file are filled in from defaults.
func LoadPrompts(defaults map[string]string) (map[string]string, string, error) {
	path, err := PromptsFilePath()
	if err != nil {
		return nil, "", err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := writePrompts(path, defaults); err != nil {
			return nil, path, err
		}
		return copyPrompts(defaults), path, nil
	}
	if err != nil {
		return nil, path, fmt.Errorf("reading prompts file: %w", err)
	}

	var cfg PromptsConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, path, fmt.Errorf("parsing prompts file %s: %w", path, err)
	}

	prompts := copyPrompts(defaults)
	for name, p := range cfg.Prompts {
		if p != "" {
			prompts[name] = p
		}
	}
	return prompts, path, nil
}

func writePrompts(path string, prompts map[string]string) error {
	data, err := json.MarshalIndent(PromptsConfig{Prompts: prompts}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling prompts: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing prompts file: %w", err)
	}
	return nil
}

func copyPrompts(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
