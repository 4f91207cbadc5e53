// Package config loads attune configuration from TOML files.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the top-level attune configuration.
type Config struct {
	Library  LibraryConfig  `koanf:"library"`
	Database DatabaseConfig `koanf:"database"`
	Slskd    SlskdConfig    `koanf:"soulseek"`
	Spotify  SpotifyConfig  `koanf:"spotify"`
	Lastfm   LastfmConfig   `koanf:"lastfm"`
	Download DownloadConfig `koanf:"download"`
	Metadata MetadataConfig `koanf:"metadata"`
	Wishlist WishlistConfig `koanf:"wishlist"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// LibraryConfig holds the destination library layout settings.
type LibraryConfig struct {
	Root string `koanf:"root"` // where post-processed files are moved
}

// DatabaseConfig holds catalog database settings.
type DatabaseConfig struct {
	Path       string `koanf:"path"`
	MaxWorkers int    `koanf:"max_workers"` // connection pool size (default: 16)
}

// SlskdConfig holds slskd daemon settings.
type SlskdConfig struct {
	URL          string `koanf:"url"`    // e.g., "http://localhost:5030"
	APIKey       string `koanf:"apikey"` // API key from slskd settings
	DownloadPath string `koanf:"download_path"`
	TransferPath string `koanf:"transfer_path"`
}

// SpotifyConfig holds streaming-metadata provider credentials.
type SpotifyConfig struct {
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
}

// LastfmConfig holds the similar-artist source credentials.
type LastfmConfig struct {
	APIKey    string `koanf:"api_key"`
	APISecret string `koanf:"api_secret"`
}

// DownloadConfig holds fulfillment engine settings.
type DownloadConfig struct {
	MaxConcurrent int `koanf:"max_concurrent"` // active tasks per batch (default: 3)
}

// MetadataConfig holds enrichment and discovery settings.
type MetadataConfig struct {
	LookbackDays int `koanf:"lookback_days"` // watchlist release lookback (default: 30)
}

// WishlistConfig holds auto-retry scheduler settings.
type WishlistConfig struct {
	AutoIntervalSeconds int `koanf:"auto_interval_seconds"` // default: 3600
	BatchSize           int `koanf:"batch_size"`            // entries per auto run (default: 10)
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // text, json
}

// Load reads configuration from the known paths, later paths winning.
func Load() (*Config, error) {
	k := koanf.New(".")

	for _, path := range configPaths() {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return nil, err
			}
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	cfg.Library.Root = expandPath(cfg.Library.Root)
	cfg.Database.Path = expandPath(cfg.Database.Path)
	cfg.Slskd.URL = strings.TrimSuffix(cfg.Slskd.URL, "/")
	cfg.Slskd.DownloadPath = expandPath(cfg.Slskd.DownloadPath)
	cfg.Slskd.TransferPath = expandPath(cfg.Slskd.TransferPath)

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(xdg.DataHome, "attune", "catalog.db")
	}
	if c.Database.MaxWorkers <= 0 {
		c.Database.MaxWorkers = 16
	}
	if c.Download.MaxConcurrent <= 0 {
		c.Download.MaxConcurrent = 3
	}
	if c.Metadata.LookbackDays <= 0 {
		c.Metadata.LookbackDays = 30
	}
	if c.Wishlist.AutoIntervalSeconds <= 0 {
		c.Wishlist.AutoIntervalSeconds = 3600
	}
	if c.Wishlist.BatchSize <= 0 {
		c.Wishlist.BatchSize = 10
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

func configPaths() []string {
	paths := []string{
		filepath.Join(xdg.ConfigHome, "attune", "config.toml"),
	}
	// ./config.toml (pwd, highest priority)
	paths = append(paths, "config.toml")
	return paths
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" || !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
