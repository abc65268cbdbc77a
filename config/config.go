// Package config holds the patch engine's runtime configuration: where the
// install tree and cache live, where the version manifest is fetched from,
// and how logging is configured. Structure and JSON-with-defaults loading
// follow the teacher's config.Config.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	coretypes "github.com/projecteru2/core/types"

	"github.com/patchkeep/patchkeep/digest"
	"github.com/patchkeep/patchkeep/fsutil"
)

// Config holds global patch engine configuration.
type Config struct {
	// RootDir is the install tree being patched. All manifest-declared
	// paths are relative to this.
	RootDir string `json:"root_dir"`
	// CacheDir holds staging areas and anything else the engine downloads.
	// Defaults to RootDir/.patchkeep if unset.
	CacheDir string `json:"cache_dir"`
	// ManifestURL is the version manifest's absolute URL, also used as the
	// base URI relative release/payload URIs resolve against.
	ManifestURL string `json:"manifest_url"`
	// DigestAlgorithm selects the Hasher's default algorithm: "sha256"
	// (default), "md5", or "blake2b-512".
	DigestAlgorithm string `json:"digest_algorithm"`
	// HTTPTimeout bounds every manifest/payload fetch.
	HTTPTimeout time.Duration `json:"http_timeout"`
	// Log configuration, uses eru core's ServerLogConfig.
	Log coretypes.ServerLogConfig `json:"log"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RootDir:         "/opt/app",
		CacheDir:        "",
		DigestAlgorithm: digest.SHA256id,
		HTTPTimeout:     30 * time.Second,
		Log: coretypes.ServerLogConfig{
			Level:      "info",
			MaxSize:    500,
			MaxAge:     28,
			MaxBackups: 3,
		},
	}
}

// LoadConfig loads configuration from a JSON file, falling back to
// defaults for an empty path or a file that does not exist.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // config path from CLI flag
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	if c.DigestAlgorithm == "" {
		c.DigestAlgorithm = digest.SHA256id
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 30 * time.Second
	}
}

// EffectiveCacheDir returns CacheDir, defaulting to a dotdir under RootDir.
func (c *Config) EffectiveCacheDir() string {
	if c.CacheDir != "" {
		return c.CacheDir
	}
	return filepath.Join(c.RootDir, ".patchkeep")
}

// EnsureDirs creates RootDir and the cache directory.
func (c *Config) EnsureDirs() error {
	if err := fsutil.EnsureDirectory(c.RootDir); err != nil {
		return err
	}
	return fsutil.EnsureDirectory(c.EffectiveCacheDir())
}

// LockPath is the flock path guarding exclusive access to RootDir while a
// release is being applied.
func (c *Config) LockPath() string {
	return filepath.Join(c.EffectiveCacheDir(), "patchkeep.lock")
}
