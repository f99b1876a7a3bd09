// Command mclokit is a Minecraft mod localization kit: batch LLM translation of mod
// language files with a shared translation cache.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mclokit/mclokit/config"
	"github.com/mclokit/mclokit/i18n"
	"github.com/mclokit/mclokit/settings"
	"github.com/mclokit/mclokit/store"
)

// Version information (set via -ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ANSI colors
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[0;31m"
	colorGreen  = "\033[0;32m"
	colorYellow = "\033[1;33m"
	colorBlue   = "\033[0;34m"
)

func logInfo(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorBlue+"[INFO]"+colorReset+" "+i18n.Tf(format, args...))
}

func logSuccess(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorGreen+"[OK]"+colorReset+" "+i18n.Tf(format, args...))
}

func logWarning(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorYellow+"[WARN]"+colorReset+" "+i18n.Tf(format, args...))
}

func logError(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorRed+"[ERROR]"+colorReset+" "+i18n.Tf(format, args...))
}

// ---------------------------------------------------------------------------
// Global flags
// ---------------------------------------------------------------------------

var (
	rootDir = "."
	profile = settings.DefaultProfile
)

// ---------------------------------------------------------------------------
// Root command
// ---------------------------------------------------------------------------

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mclokit",
		Short: "Minecraft mod localization kit with batch LLM translation",
		Long: `mclokit: Minecraft mod localization kit.

Reads mod language files (assets/<modid>/lang/<locale>.json), translates the
missing strings with an OpenAI-compatible chat API in token-bounded batches,
and writes a resource pack with the results. Every translation is cached, so
repeated runs only pay for new strings.

Commands:
  translate   Translate mod language files
  cache       Inspect or purge the translation cache
  init        Write a default .mclokit.yaml
  auth        Manage API keys
  version     Show version information`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			i18n.Init("")
		},
	}

	root.PersistentFlags().StringVar(&rootDir, "root", ".", "Project root directory (holds .mclokit.yaml and .env)")
	root.PersistentFlags().StringVar(&profile, "profile", settings.DefaultProfile, "Credential profile in auth.json")

	root.AddCommand(
		newTranslateCmd(),
		newCacheCmd(),
		newInitCmd(),
		newAuthCmd(),
		newVersionCmd(),
	)

	return root
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		logError("%v", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// version
// ---------------------------------------------------------------------------

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display version, commit hash, and build date.`,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "mclokit version %s\n", version)
			fmt.Fprintf(out, "  commit:    %s\n", commit)
			fmt.Fprintf(out, "  built:     %s\n", date)
			fmt.Fprintf(out, "  ui langs:  %s\n", strings.Join(i18n.Available(), ", "))
		},
	}
}

// ---------------------------------------------------------------------------
// init
// ---------------------------------------------------------------------------

func newInitCmd() *cobra.Command {
	var asTOML bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default project configuration",
		Long: `Write .mclokit.yaml (or .mclokit.toml with --toml) to the project root
with the default settings. An existing file is never overwritten.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.WriteFile(rootDir, config.Default().ToFile(), asTOML)
			if err != nil {
				return err
			}
			logSuccess("Created %s", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asTOML, "toml", false, "Write TOML instead of YAML")
	return cmd
}

// ---------------------------------------------------------------------------
// auth
// ---------------------------------------------------------------------------

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage API keys",
		Long: `Store API keys in ` + settings.FilePath() + `.

Lookup order for the key used by translate:
  1. --api-key flag
  2. MCLOKIT_API_KEY (environment or .env)
  3. the stored key of --profile`,
	}
	cmd.AddCommand(newAuthLoginCmd(), newAuthLogoutCmd(), newAuthStatusCmd())
	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	var apiKey, baseURL string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiKey = strings.TrimSpace(apiKey)
			if apiKey == "" {
				return errors.New(i18n.T("--api-key is required"))
			}
			if err := settings.SetAPIKey(profile, apiKey, baseURL); err != nil {
				return fmt.Errorf("saving credentials: %w", err)
			}
			logSuccess("Stored API key %s for profile %q", settings.MaskKey(apiKey), profile)
			return nil
		},
	}
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key to store")
	cmd.Flags().StringVar(&baseURL, "api-base", "", "API base URL the key belongs to")
	return cmd
}

func newAuthLogoutCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove stored API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				if err := settings.RemoveAll(); err != nil {
					return err
				}
				logSuccess("Removed all stored credentials")
				return nil
			}
			if err := settings.Remove(profile); err != nil {
				return err
			}
			logSuccess("Removed credentials for profile %q", profile)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Remove every profile")
	return cmd
}

func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show which API key would be used",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", i18n.T("Credentials file:"), settings.FilePath())
			for name, info := range settings.Load() {
				line := fmt.Sprintf("  %-12s %s", name, settings.MaskKey(info.Key))
				if info.BaseURL != "" {
					line += "  " + info.BaseURL
				}
				fmt.Fprintln(out, line)
			}
			switch {
			case os.Getenv(settings.EnvAPIKey) != "":
				fmt.Fprintf(out, "%s %s\n", i18n.T("Active key: environment"), settings.EnvAPIKey)
			case settings.GetAPIKey(profile) != "":
				fmt.Fprintf(out, "%s %q\n", i18n.T("Active key: profile"), profile)
			default:
				fmt.Fprintln(out, i18n.T("Active key: none"))
			}
		},
	}
}

// ---------------------------------------------------------------------------
// cache
// ---------------------------------------------------------------------------

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or purge the translation cache",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Show cache entry count and age",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load(rootDir)
				if err != nil {
					return err
				}
				st, err := openStore(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				defer st.Close()

				stats, err := st.Stats(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s): %s\n", i18n.T("Translation cache"), cfg.CacheBackend, stats)
				return nil
			},
		},
		newCachePurgeCmd(),
	)
	return cmd
}

func newCachePurgeCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every cached translation",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New(i18n.T("refusing to purge without --yes"))
			}
			cfg, err := config.Load(rootDir)
			if err != nil {
				return err
			}
			if cfg.CacheBackend == config.CacheFile {
				// The journal is reset without being read.
				path, err := cacheFilePath(cfg)
				if err != nil {
					return err
				}
				if err := store.PurgeFile(path); err != nil {
					return err
				}
				logSuccess("Translation cache purged")
				return nil
			}
			st, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Purge(cmd.Context()); err != nil {
				return err
			}
			logSuccess("Translation cache purged")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the purge")
	return cmd
}

// openStore opens the cache backend selected by cfg. The postgres schema
// is migrated before the pool is opened.
func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	switch cfg.CacheBackend {
	case config.CacheMemory:
		return store.NewMemory(), nil
	case config.CachePostgres:
		if _, err := store.Migrate(cfg.DatabaseURL); err != nil {
			return nil, err
		}
		pg, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return pg, nil
	default:
		path, err := cacheFilePath(cfg)
		if err != nil {
			return nil, err
		}
		f, err := store.OpenFile(path)
		if err != nil {
			return nil, err
		}
		if n := f.TornRecord(); n > 0 {
			logWarning("Cache %s: dropped incomplete record %d", path, n)
		}
		return f, nil
	}
}

// cacheFilePath returns the journal path of the file backend.
func cacheFilePath(cfg config.Config) (string, error) {
	if cfg.CachePath != "" {
		return cfg.CachePath, nil
	}
	return settings.CacheFilePath()
}

// fileExists returns true if path exists and is a regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
