package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Volume   float64 `koanf:"volume"`    // initial output level (0.0-1.0, default: 1.0)
	LogLevel string  `koanf:"log_level"` // "debug", "info", "warn", "error"

	// Playback history service (enables listen tracking when configured)
	History HistoryConfig `koanf:"history"`

	// Blob storage service for library items
	Storage StorageConfig `koanf:"storage"`

	// Stream proxy settings
	Proxy ProxyConfig `koanf:"proxy"`

	// Audio output settings
	Output OutputConfig `koanf:"output"`

	// Last.fm scrobbling (enables scrobbling when configured)
	Lastfm LastfmConfig `koanf:"lastfm"`

	// Desktop notification settings
	Notifications NotificationsConfig `koanf:"notifications"`
}

// HistoryConfig holds playback history service configuration.
type HistoryConfig struct {
	BaseURL string `koanf:"base_url"` // e.g., "https://api.example.com/history"
	Token   string `koanf:"token"`    // bearer token for the service
}

// StorageConfig holds blob storage service configuration.
type StorageConfig struct {
	BaseURL string `koanf:"base_url"` // e.g., "https://api.example.com/storage"
	Token   string `koanf:"token"`    // bearer token for the service
}

// ProxyConfig holds stream proxy configuration.
type ProxyConfig struct {
	ConvertURL string `koanf:"convert_url"` // transcoding endpoint, fetched with ?src=
	CacheDir   string `koanf:"cache_dir"`   // blob cache directory (default: XDG cache)
	Token      string `koanf:"token"`       // bearer token for the convert endpoint
}

// OutputConfig holds audio output configuration.
type OutputConfig struct {
	StageDir string `koanf:"stage_dir"` // staging directory for remote streams (default: temp)
}

// LastfmConfig holds Last.fm scrobbling configuration.
type LastfmConfig struct {
	APIKey     string `koanf:"api_key"`
	APISecret  string `koanf:"api_secret"`
	SessionKey string `koanf:"session_key"`
}

// NotificationsConfig holds desktop notification configuration.
type NotificationsConfig struct {
	Enabled bool  `koanf:"enabled"` // default: true
	Timeout int32 `koanf:"timeout"` // display time in ms (0 = notifier default)
}

// Default returns the built-in configuration used when no config file
// is present.
func Default() *Config {
	return &Config{
		Volume:        1.0,
		LogLevel:      "info",
		Notifications: NotificationsConfig{Enabled: true},
	}
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Try config files in order of priority (last wins)
	configPaths := getConfigPaths()

	for _, path := range configPaths {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return nil, err
			}
		}
	}

	cfg := &Config{
		Volume: -1, // sentinel so an explicit 0.0 survives default application
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, err
	}

	if !k.Exists("volume") {
		cfg.Volume = 1.0
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if !k.Exists("notifications.enabled") {
		cfg.Notifications.Enabled = true
	}

	// Normalize service URLs (remove trailing slash)
	cfg.History.BaseURL = strings.TrimSuffix(cfg.History.BaseURL, "/")
	cfg.Storage.BaseURL = strings.TrimSuffix(cfg.Storage.BaseURL, "/")
	cfg.Proxy.ConvertURL = strings.TrimSuffix(cfg.Proxy.ConvertURL, "/")

	// Expand ~ in directories
	if cfg.Proxy.CacheDir != "" {
		cfg.Proxy.CacheDir = expandPath(cfg.Proxy.CacheDir)
	}
	if cfg.Output.StageDir != "" {
		cfg.Output.StageDir = expandPath(cfg.Output.StageDir)
	}

	return cfg, nil
}

func getConfigPaths() []string {
	paths := []string{}

	// 1. ~/.config/vibrato/config.toml
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "vibrato", "config.toml"))
	}

	// 2. ./config.toml (pwd, highest priority)
	paths = append(paths, "config.toml")

	return paths
}

func expandPath(path string) string {
	if path != "" && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// HasHistoryConfig returns true if the history service is configured.
func (c *Config) HasHistoryConfig() bool {
	return c.History.BaseURL != ""
}

// HasStorageConfig returns true if the storage service is configured.
func (c *Config) HasStorageConfig() bool {
	return c.Storage.BaseURL != ""
}

// HasLastfmConfig returns true if Last.fm scrobbling is configured.
func (c *Config) HasLastfmConfig() bool {
	return c.Lastfm.APIKey != "" && c.Lastfm.APISecret != ""
}

// GetVolume returns the configured volume clamped to [0, 1].
func (c *Config) GetVolume() float64 {
	v := c.Volume
	if v < 0 {
		return 1.0
	}
	if v > 1 {
		return 1.0
	}
	return v
}
