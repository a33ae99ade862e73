// Package settings keeps per-user pagetrans state in the XDG data directory
// ($XDG_DATA_HOME/pagetrans, default ~/.local/share/pagetrans):
//
//	auth.json     API keys and endpoints per provider (mode 0600)
//	prompts.json  system prompts, editable by the user
//	cache.db      translation cache (see package cache)
package settings

import (
	"fmt"
	"os"
	"path/filepath"
)

const appName = "pagetrans"

// DataDir returns the pagetrans data directory. It is not created.
func DataDir() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("locating data directory: %w", err)
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, appName), nil
}

func inDataDir(name string) (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// FilePath returns the auth.json path, or "" when the data directory cannot
// be determined. Meant for display.
func FilePath() string {
	p, _ := inDataDir(authFile)
	return p
}

// PromptsFilePath returns the prompts.json path.
func PromptsFilePath() (string, error) { return inDataDir("prompts.json") }

// CacheFilePath returns the default translation cache path.
func CacheFilePath() (string, error) { return inDataDir("cache.db") }
