// Package config loads and validates application configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all runtime settings for the subscription engine.
type Config struct {
	// DatabasePath locates the SQLite database file.
	DatabasePath string `toml:"database_path"`

	// SubscriptionsDir is the base storage path for global subscriptions.
	SubscriptionsDir string `toml:"subscriptions_dir"`

	// UsersDir is the base path for per-owner storage. A subscription with
	// an owner stores content under <users_dir>/<owner>/subscriptions.
	UsersDir string `toml:"users_dir"`

	// FileOutput is the default output naming template for downloads.
	FileOutput string `toml:"file_output"`

	// Backend names the active extractor backend (yt-dlp or youtube-dl).
	Backend string `toml:"backend"`

	// BinaryPath overrides the extractor binary location. Empty means the
	// backend name is resolved from PATH.
	BinaryPath string `toml:"binary_path"`

	UseCookies       bool   `toml:"use_cookies"`
	CookiesPath      string `toml:"cookies_path"`
	IncludeThumbnail bool   `toml:"include_thumbnail"`
	RateLimit        string `toml:"rate_limit"`

	// RedownloadFreshUploads enables the day-after quality upgrade check for
	// items published the day they were first fetched.
	RedownloadFreshUploads bool `toml:"redownload_fresh_uploads"`

	// FeedProbe enables the RSS fast probe that can skip a full extractor
	// poll when the source's feed shows nothing unseen.
	FeedProbe bool `toml:"feed_probe"`

	MaxConcurrentSyncs     int `toml:"max_concurrent_syncs"`
	MaxConcurrentDownloads int `toml:"max_concurrent_downloads"`
	SyncIntervalSeconds    int `toml:"sync_interval_seconds"`

	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

const (
	defaultDatabasePath        = "~/.local/share/videodl/videodl.db"
	defaultSubscriptionsDir    = "~/.local/share/videodl/subscriptions"
	defaultUsersDir            = "~/.local/share/videodl/users"
	defaultCookiesPath         = "~/.config/videodl/cookies.txt"
	defaultFileOutput          = "%(title)s"
	defaultBackend             = "yt-dlp"
	defaultMaxConcurrentSyncs  = 4
	defaultMaxConcurrentDlds   = 2
	defaultSyncIntervalSeconds = 3600
	defaultLogLevel            = "info"
	defaultLogFormat           = "console"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		DatabasePath:           defaultDatabasePath,
		SubscriptionsDir:       defaultSubscriptionsDir,
		UsersDir:               defaultUsersDir,
		CookiesPath:            defaultCookiesPath,
		FileOutput:             defaultFileOutput,
		Backend:                defaultBackend,
		MaxConcurrentSyncs:     defaultMaxConcurrentSyncs,
		MaxConcurrentDownloads: defaultMaxConcurrentDlds,
		SyncIntervalSeconds:    defaultSyncIntervalSeconds,
		LogLevel:               defaultLogLevel,
		LogFormat:              defaultLogFormat,
	}
}

// Load reads a TOML config file layered over defaults. A missing file is not
// an error: defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(expandPath(path))
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// fall through to defaults
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.DatabasePath = expandPath(c.DatabasePath)
	c.SubscriptionsDir = expandPath(c.SubscriptionsDir)
	c.UsersDir = expandPath(c.UsersDir)
	c.CookiesPath = expandPath(c.CookiesPath)
	c.BinaryPath = expandPath(c.BinaryPath)
	c.Backend = strings.TrimSpace(c.Backend)
	if c.Backend == "" {
		c.Backend = defaultBackend
	}
	if c.FileOutput == "" {
		c.FileOutput = defaultFileOutput
	}
	if c.MaxConcurrentSyncs <= 0 {
		c.MaxConcurrentSyncs = defaultMaxConcurrentSyncs
	}
	if c.MaxConcurrentDownloads <= 0 {
		c.MaxConcurrentDownloads = defaultMaxConcurrentDlds
	}
	if c.SyncIntervalSeconds <= 0 {
		c.SyncIntervalSeconds = defaultSyncIntervalSeconds
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return errors.New("config: database_path is required")
	}
	if c.SubscriptionsDir == "" {
		return errors.New("config: subscriptions_dir is required")
	}
	switch c.Backend {
	case "yt-dlp", "youtube-dl":
	default:
		return fmt.Errorf("config: unsupported backend %q", c.Backend)
	}
	return nil
}

// BasePath resolves the subscription storage base path for an owner. An empty
// owner means global/single-tenant storage.
func (c *Config) BasePath(ownerID string) string {
	if ownerID != "" {
		return filepath.Join(c.UsersDir, ownerID, "subscriptions")
	}
	return c.SubscriptionsDir
}

// Binary returns the extractor binary to invoke.
func (c *Config) Binary() string {
	if c.BinaryPath != "" {
		return c.BinaryPath
	}
	return c.Backend
}

// EnsureDirectories creates the directories the engine writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.DatabasePath),
		c.SubscriptionsDir,
		c.UsersDir,
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure directory %s: %w", dir, err)
		}
	}
	return nil
}

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
