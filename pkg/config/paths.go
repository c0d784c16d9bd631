package config

import (
	"os"
	"path/filepath"
	"strings"
)

const appName = "geolocator"

// xdgDir returns $env or falls back to $HOME/<rel...>, then to the working
// directory when HOME is unset.
func xdgDir(env string, rel ...string) string {
	if d := strings.TrimSpace(os.Getenv(env)); d != "" {
		return d
	}
	base := strings.TrimSpace(os.Getenv("HOME"))
	if base == "" {
		base, _ = os.Getwd()
	}
	return filepath.Join(append([]string{base}, rel...)...)
}

// DefaultDataDir is $XDG_DATA_HOME/geolocator or ~/.local/share/geolocator.
func DefaultDataDir() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", ".local", "share"), appName)
}

// DefaultConfigPath is $XDG_CONFIG_HOME/geolocator/config.yml or the
// ~/.config equivalent.
func DefaultConfigPath() string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), appName, "config.yml")
}

// DefaultCacheDir is $XDG_CACHE_HOME/geolocator or ~/.cache/geolocator.
func DefaultCacheDir() string {
	return filepath.Join(xdgDir("XDG_CACHE_HOME", ".cache"), appName)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// EnsureDirs creates the data and cache directories.
func (c *Config) EnsureDirs() error {
	for _, d := range []string{c.DataDir, c.CacheDir} {
		if d == "" {
			continue
		}
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}
