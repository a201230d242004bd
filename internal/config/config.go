// Package config loads broker configuration by layering defaults, a
// user-level YAML file, a per-project YAML file, and environment
// variables, in increasing priority, using spf13/viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the effective, resolved configuration for one provider's
// daemon instance.
type Config struct {
	Provider string `mapstructure:"provider"`

	StateFile           string        `mapstructure:"state_file"`
	Autostart           bool          `mapstructure:"autostart"`
	Enabled             bool          `mapstructure:"enabled"`
	IdleTimeout         time.Duration `mapstructure:"idle_timeout"`
	PaneCheckInterval   time.Duration `mapstructure:"pane_check_interval"`
	RebindTailBytes     int64         `mapstructure:"rebind_tail_bytes"`
	BindRefreshInterval time.Duration `mapstructure:"bind_refresh_interval"`
	BindScanLimit       int           `mapstructure:"bind_scan_limit"`
	LogFirstWindow      int           `mapstructure:"log_first_window"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	ProjectRoot         string        `mapstructure:"project_root"`
	ClaudeProjectsRoot  string        `mapstructure:"claude_projects_root"`
	CodexSessionRoot    string        `mapstructure:"codex_session_root"`
	OpenCodeStorageRoot string        `mapstructure:"opencode_storage_root"`
	EmptyLineRunLimit   int           `mapstructure:"empty_line_run_limit"`
	NoiseLineRunLimit   int           `mapstructure:"noise_line_run_limit"`
}

// providerPrefixes maps a provider to its env-var prefix, e.g. "claude" -> "LASK".
var providerPrefixes = map[string]string{
	"claude":   "LASK",
	"codex":    "CASK",
	"gemini":   "GASK",
	"opencode": "OASK",
}

func prefixFor(provider string) string {
	if p, ok := providerPrefixes[provider]; ok {
		return p
	}
	return strings.ToUpper(provider)
}

func defaults(v *viper.Viper) {
	v.SetDefault("enabled", true)
	v.SetDefault("autostart", true)
	v.SetDefault("idle_timeout", 30*time.Minute)
	v.SetDefault("pane_check_interval", 2*time.Second)
	v.SetDefault("rebind_tail_bytes", int64(2<<20)) // 2 MiB
	v.SetDefault("bind_refresh_interval", 60*time.Second)
	v.SetDefault("bind_scan_limit", 400)
	v.SetDefault("log_first_window", 30)
	v.SetDefault("poll_interval", 50*time.Millisecond)
	v.SetDefault("empty_line_run_limit", 5)
	v.SetDefault("noise_line_run_limit", 3)
}

// Load reads ~/.ccb/config.yaml, then a per-project .ccb.yaml walked up
// from workDir, then CCB_<PFX>_* / CCB_* environment variables, in
// increasing priority, for the named provider.
func Load(provider, workDir string) (*Config, error) {
	v := viper.New()
	defaults(v)
	v.Set("provider", provider)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".ccb"))
	}
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("read ~/.ccb/config.yaml: %w", err)
		}
	}

	if projectCfg, ok := findProjectConfig(workDir); ok {
		pv := viper.New()
		pv.SetConfigFile(projectCfg)
		if err := pv.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(pv.AllSettings()); err != nil {
				return nil, fmt.Errorf("merge %s: %w", projectCfg, err)
			}
		}
	}

	prefix := prefixFor(provider)
	bindEnv(v, prefix, "state_file", "STATE_FILE")
	bindEnv(v, prefix, "autostart", "AUTOSTART")
	bindEnv(v, prefix, "idle_timeout", "IDLE_TIMEOUT_S")
	bindEnv(v, prefix, "pane_check_interval", "PANE_CHECK_INTERVAL")
	bindEnv(v, prefix, "rebind_tail_bytes", "REBIND_TAIL_BYTES")
	bindEnv(v, prefix, "bind_refresh_interval", "BIND_REFRESH_INTERVAL")
	bindEnv(v, prefix, "bind_scan_limit", "BIND_SCAN_LIMIT")
	bindEnv(v, prefix, "log_first_window", "LOG_FIRST_WINDOW")
	bindEnv(v, prefix, "empty_line_run_limit", "EMPTY_LINE_RUN_LIMIT")
	bindEnv(v, prefix, "noise_line_run_limit", "NOISE_LINE_RUN_LIMIT")
	v.BindEnv("project_root", "CCB_PROJECT_ROOT")
	v.BindEnv("claude_projects_root", "CLAUDE_PROJECTS_ROOT")
	v.BindEnv("codex_session_root", "CODEX_SESSION_ROOT")
	v.BindEnv("opencode_storage_root", "OPENCODE_STORAGE_ROOT")

	if raw := os.Getenv("CCB_" + prefix); raw == "0" {
		v.Set("enabled", false)
	}
	if raw := os.Getenv("CCB_AUTO_" + prefix); raw != "" {
		v.Set("autostart", raw == "1" || strings.EqualFold(raw, "true"))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Provider = provider
	// CCB_<PFX>_IDLE_TIMEOUT_S is in seconds; viper reads a bare number as nanoseconds.
	if raw := os.Getenv("CCB_" + prefix + "_IDLE_TIMEOUT_S"); raw != "" {
		if secs, err := strconv.ParseFloat(raw, 64); err == nil {
			cfg.IdleTimeout = time.Duration(secs * float64(time.Second))
		}
	}
	if cfg.ProjectRoot == "" {
		cfg.ProjectRoot = workDir
	}
	return &cfg, nil
}

func bindEnv(v *viper.Viper, prefix, key, suffix string) {
	v.BindEnv(key, "CCB_"+prefix+"_"+suffix)
}

// findProjectConfig walks upward from workDir looking for .ccb.yaml, the
// same upward walk the descriptor package uses for session descriptors.
func findProjectConfig(workDir string) (string, bool) {
	dir := workDir
	for {
		candidate := filepath.Join(dir, ".ccb.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}
