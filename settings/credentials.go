// Package settings provides storage for mclokit user settings: API
// credentials, customizable system prompts and the default locations of
// the translation cache and request logs.
//
// All settings live in the XDG data directory:
//
//	$XDG_DATA_HOME/mclokit/  (default: ~/.local/share/mclokit/)
//
// Files stored:
//   - auth.json    : API keys per endpoint profile
//   - prompts.json : named system prompts (customizable by user)
//   - cache.yaml   : file-backed translation cache
//   - logs/        : one debug file per LLM request attempt
//
// File permissions of auth.json are 0600 (owner read/write only).
//
// Lookup order for API keys:
//  1. --api-key flag (highest priority)
//  2. MCLOKIT_API_KEY environment variable
//  3. This credential store
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	dataDirName = "mclokit"
	fileName    = "auth.json"

	// DefaultProfile is the profile used when none is named.
	DefaultProfile = "default"
	// EnvAPIKey overrides the stored API key.
	EnvAPIKey = "MCLOKIT_API_KEY"
)

// Info is the credential entry stored per profile in auth.json.
type Info struct {
	// Type is always "api" for now.
	Type string `json:"type"`
	// Key is the bearer token.
	Key string `json:"key,omitempty"`
	// BaseURL is the endpoint the key belongs to.
	BaseURL string `json:"baseUrl,omitempty"`
}

// IsAPI returns true if this is an API key entry.
func (i *Info) IsAPI() bool {
	return i.Type == "api"
}

// Store holds all credentials, keyed by profile name.
type Store map[string]*Info

// ---------------------------------------------------------------------------
// File paths
// ---------------------------------------------------------------------------

// dataDir returns the XDG data directory for mclokit.
func dataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, dataDirName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", dataDirName), nil
}

func inDataDir(name string) (string, error) {
	dir, err := dataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// DataDir returns the mclokit data directory path.
func DataDir() (string, error) {
	return dataDir()
}

// FilePath returns the auth.json file path for display purposes.
func FilePath() string {
	p, err := inDataDir(fileName)
	if err != nil {
		return ""
	}
	return p
}

// PromptsFilePath returns the path to prompts.json.
func PromptsFilePath() (string, error) {
	return inDataDir("prompts.json")
}

// CacheFilePath returns the default file cache location.
func CacheFilePath() (string, error) {
	return inDataDir("cache.yaml")
}

// LogDir returns the default request log directory.
func LogDir() (string, error) {
	return inDataDir("logs")
}

// ---------------------------------------------------------------------------
// Load / Save
// ---------------------------------------------------------------------------

// Load reads the credential store from disk.
// Returns an empty store if the file doesn't exist or is invalid.
func Load() Store {
	path, err := inDataDir(fileName)
	if err != nil {
		return make(Store)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return make(Store)
	}

	var store Store
	if err := json.Unmarshal(data, &store); err != nil || store == nil {
		return make(Store)
	}
	return store
}

// Save writes the credential store to disk with 0600 permissions.
func Save(store Store) error {
	path, err := inDataDir(fileName)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing auth file: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Get / Set / Remove
// ---------------------------------------------------------------------------

// Get returns the entry for a profile, or nil if not found.
func Get(profile string) *Info {
	return Load()[profile]
}

// Set stores an entry for a profile (upsert).
func Set(profile string, info *Info) error {
	store := Load()
	store[profile] = info
	return Save(store)
}

// Remove deletes the credentials of a profile.
func Remove(profile string) error {
	store := Load()
	if _, ok := store[profile]; !ok {
		return nil
	}
	delete(store, profile)
	return Save(store)
}

// RemoveAll removes all stored credentials.
func RemoveAll() error {
	path, err := inDataDir(fileName)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing auth file: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// API key helpers
// ---------------------------------------------------------------------------

// SetAPIKey stores an API key, optionally bound to a base URL.
func SetAPIKey(profile, key, baseURL string) error {
	return Set(profile, &Info{Type: "api", Key: key, BaseURL: baseURL})
}

// GetAPIKey retrieves the stored API key for a profile.
func GetAPIKey(profile string) string {
	info := Get(profile)
	if info == nil || !info.IsAPI() {
		return ""
	}
	return info.Key
}

// GetBaseURL retrieves the stored base URL for a profile.
func GetBaseURL(profile string) string {
	info := Get(profile)
	if info == nil {
		return ""
	}
	return info.BaseURL
}

// ResolveAPIKey applies the lookup order: flag, MCLOKIT_API_KEY, store.
func ResolveAPIKey(profile, flagKey string) string {
	if flagKey != "" {
		return flagKey
	}
	if env := os.Getenv(EnvAPIKey); env != "" {
		return env
	}
	return GetAPIKey(profile)
}

// MaskKey returns a masked version of a key for display.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
