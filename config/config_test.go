package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvAPIBase, EnvModel, EnvAPIKey, EnvDatabaseURL} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile %s: %v", name, err)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if !cfg.AttemptLogsEnabled() {
		t.Error("attempt logs should be on by default")
	}
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeFile(t, dir, YAMLFileName, `
api_base: http://localhost:8080/v1
model: qwen2.5-72b
max_tokens: 4096
parallel: 8
timeout: 90s
retries: 2
temperature: 0.3
source: en_us
target: ja_jp
prompt_name: terse
cache:
  backend: memory
log_dir: "off"
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := Default()
	want.APIBase = "http://localhost:8080/v1"
	want.Model = "qwen2.5-72b"
	want.MaxTokens = 4096
	want.Parallel = 8
	want.Timeout = 90 * time.Second
	want.Retries = 2
	want.Temperature = 0.3
	want.Target = "ja_jp"
	want.PromptName = "terse"
	want.CacheBackend = CacheMemory
	want.LogDir = "off"
	want.Path = filepath.Join(dir, YAMLFileName)
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if cfg.AttemptLogsEnabled() {
		t.Error(`log_dir "off" should disable attempt logs`)
	}
}

func TestLoadTOML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeFile(t, dir, TOMLFileName, `
model = "deepseek-chat"
api_base = "https://api.deepseek.com/v1"
target = "ko_kr"

[cache]
backend = "postgres"
database_url = "postgres://localhost/mclokit"
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model != "deepseek-chat" || cfg.APIBase != "https://api.deepseek.com/v1" || cfg.Target != "ko_kr" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.CacheBackend != CachePostgres || cfg.DatabaseURL != "postgres://localhost/mclokit" {
		t.Errorf("cache = %q %q", cfg.CacheBackend, cfg.DatabaseURL)
	}
}

func TestLoadPrefersYAMLOverTOML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeFile(t, dir, YAMLFileName, "model: from-yaml\n")
	writeFile(t, dir, TOMLFileName, "model = \"from-toml\"\n")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model != "from-yaml" {
		t.Errorf("model = %q", cfg.Model)
	}
}

func TestLoadEnvironmentPriority(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeFile(t, dir, YAMLFileName, "model: from-file\napi_base: http://file/v1\n")
	writeFile(t, dir, EnvFileName, "MCLOKIT_MODEL=from-dotenv\nMCLOKIT_API_KEY=sk-dotenv\nDATABASE_URL=postgres://dotenv/db\n")
	t.Setenv(EnvModel, "from-env")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model != "from-env" {
		t.Errorf("model = %q, want process env to win", cfg.Model)
	}
	if cfg.APIBase != "http://file/v1" {
		t.Errorf("api_base = %q", cfg.APIBase)
	}
	if cfg.APIKey != "sk-dotenv" {
		t.Errorf("api key = %q, want value from .env", cfg.APIKey)
	}
	if cfg.DatabaseURL != "postgres://dotenv/db" {
		t.Errorf("database url = %q", cfg.DatabaseURL)
	}
	if got := os.Getenv(EnvAPIKey); got != "" {
		t.Errorf(".env leaked into the process environment: %q", got)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name, file, content, wantErr string
	}{
		{"bad yaml", YAMLFileName, "model: [unclosed", "parsing"},
		{"bad toml", TOMLFileName, "model = ", "parsing"},
		{"bad timeout", YAMLFileName, "timeout: soon\n", "invalid timeout"},
		{"unknown backend", YAMLFileName, "cache:\n  backend: redis\n", "unknown cache backend"},
		{"postgres without url", YAMLFileName, "cache:\n  backend: postgres\n", "needs a database URL"},
		{"negative parallel", YAMLFileName, "parallel: -1\n", "parallel must be positive"},
		{"same locales", YAMLFileName, "source: en_us\ntarget: EN_US\n", "both"},
		{"relative api base", YAMLFileName, "api_base: localhost/v1\n", "not an absolute URL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			dir := t.TempDir()
			writeFile(t, dir, tt.file, tt.content)
			_, err := Load(dir)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Model = ""
	cfg.MaxTokens = 0
	cfg.Retries = -1
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"model is required", "max_tokens", "retries"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestWriteFileRoundTrip(t *testing.T) {
	clearEnv(t)
	for _, toTOML := range []bool{false, true} {
		dir := t.TempDir()
		cfg := Default()
		cfg.Target = "de_de"
		cfg.Timeout = 45 * time.Second
		cfg.APIKey = "sk-secret"

		path, err := WriteFile(dir, cfg.ToFile(), toTOML)
		if err != nil {
			t.Fatalf("WriteFile(toml=%v): %v", toTOML, err)
		}
		data, _ := os.ReadFile(path)
		if strings.Contains(string(data), "sk-secret") {
			t.Errorf("secret written to %s", path)
		}

		got, err := Load(dir)
		if err != nil {
			t.Fatalf("Load after WriteFile(toml=%v): %v", toTOML, err)
		}
		cfg.APIKey = ""
		cfg.Path = path
		if diff := cmp.Diff(cfg, got); diff != "" {
			t.Errorf("toml=%v (-want +got):\n%s", toTOML, diff)
		}

		if _, err := WriteFile(dir, cfg.ToFile(), toTOML); err == nil {
			t.Error("second WriteFile should refuse to overwrite")
		}
	}
}
