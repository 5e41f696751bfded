package cache

import (
	"os"
	"path/filepath"
	goruntime "runtime"
	"time"
)

// Config represents tile cache configuration
type Config struct {
	MaxSizeMB int `mapstructure:"max_size_mb"`
	TTLDays   int `mapstructure:"ttl_days"`
}

// DefaultConfig returns default cache configuration
func DefaultConfig() Config {
	return Config{
		MaxSizeMB: 250,
		TTLDays:   30,
	}
}

// TTL returns the configured lifetime; zero disables expiry
func (c Config) TTL() time.Duration {
	return time.Duration(c.TTLDays) * 24 * time.Hour
}

// GetCacheDir returns the OS-specific tile cache directory
func GetCacheDir() string {
	homeDir, _ := os.UserHomeDir()

	switch goruntime.GOOS {
	case "darwin":
		return filepath.Join(homeDir, "Library", "Caches", "geoproof", "tiles")
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = filepath.Join(homeDir, "AppData", "Local")
		}
		return filepath.Join(appData, "geoproof", "cache", "tiles")
	default:
		cacheHome := os.Getenv("XDG_CACHE_HOME")
		if cacheHome == "" {
			cacheHome = filepath.Join(homeDir, ".cache")
		}
		return filepath.Join(cacheHome, "geoproof", "tiles")
	}
}
