// Package config loads cwarden configuration and model pricing.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all cwarden configuration.
type Config struct {
	General GeneralConfig `toml:"general"`
	Quota   QuotaConfig   `toml:"quota"`
	Context ContextConfig `toml:"context"`
	Watch   WatchConfig   `toml:"watch"`
	Notify  NotifyConfig  `toml:"notifications"`
}

// GeneralConfig holds general preferences.
type GeneralConfig struct {
	ClaudeDir    string `toml:"claude_dir,omitempty"`
	AgentCommand string `toml:"agent_command"`
}

// QuotaConfig holds rolling-window budget settings.
type QuotaConfig struct {
	Plan           string `toml:"plan"`
	CapacityTokens *int64 `toml:"capacity_tokens,omitempty"`
	WindowHours    int    `toml:"window_hours"`
}

// ContextConfig holds context-usage estimation settings.
type ContextConfig struct {
	CeilingTokens  int64 `toml:"ceiling_tokens"`
	OverheadTokens int64 `toml:"overhead_tokens"`
}

// WatchConfig holds orchestrator settings.
type WatchConfig struct {
	PollInterval   duration `toml:"poll_interval"`
	LeadMinutes    []int    `toml:"lead_minutes"`
	AutoStart      bool     `toml:"auto_start"`
	StartGrace     duration `toml:"start_grace"`
	GracePeriod    duration `toml:"grace_period"`
	LogFileTimeout duration `toml:"log_file_timeout"`
	SchedulePath   string   `toml:"schedule_path,omitempty"`
}

// NotifyConfig holds notification sink settings.
type NotifyConfig struct {
	Enabled bool `toml:"enabled"`
}

// duration wraps time.Duration for TOML string values like "1m30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		General: GeneralConfig{
			ClaudeDir:    filepath.Join(home, ".claude"),
			AgentCommand: "claude",
		},
		Quota: QuotaConfig{
			Plan:        "pro",
			WindowHours: 5,
		},
		Context: ContextConfig{
			CeilingTokens:  180_000,
			OverheadTokens: 12_000,
		},
		Watch: WatchConfig{
			PollInterval:   duration{time.Minute},
			LeadMinutes:    []int{30, 5},
			AutoStart:      true,
			StartGrace:     duration{5 * time.Second},
			GracePeriod:    duration{10 * time.Second},
			LogFileTimeout: duration{30 * time.Second},
		},
		Notify: NotifyConfig{Enabled: true},
	}
}

// ConfigDir returns the XDG-compliant config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "cwarden")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "cwarden")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// StateDir returns the XDG-compliant state directory where quota, context,
// and session tracking records live.
func StateDir() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "cwarden")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "state", "cwarden")
}

// ArchivePath returns the SQLite archive database path.
func ArchivePath() string {
	return filepath.Join(StateDir(), "archive.db")
}

// Load reads the config file, returning defaults if it doesn't exist.
func Load() (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// Save writes the config to disk.
func Save(cfg Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	f, err := os.OpenFile(ConfigPath(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	return enc.Encode(cfg)
}

// WindowDuration returns the configured quota window length.
func (c Config) WindowDuration() time.Duration {
	hours := c.Quota.WindowHours
	if hours <= 0 {
		hours = 5
	}
	return time.Duration(hours) * time.Hour
}

// WindowCapacity resolves the token capacity for one quota window: an
// explicit override wins, otherwise the plan default.
func (c Config) WindowCapacity() int64 {
	if c.Quota.CapacityTokens != nil && *c.Quota.CapacityTokens > 0 {
		return *c.Quota.CapacityTokens
	}
	return PlanCapacity(c.Quota.Plan)
}

// Exists returns true if a config file exists on disk.
func Exists() bool {
	_, err := os.Stat(ConfigPath())
	return err == nil
}
