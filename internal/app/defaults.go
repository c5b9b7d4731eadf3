package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Environment variables overriding the default locations.
const (
	EnvConfigPath = "FEEDWATCHER_CONFIG_PATH"
	EnvHome       = "FEEDWATCHER_HOME"
)

// Defaults holds the default locations of the config file and data directory.
type Defaults struct {
	ConfigPath string // FEEDWATCHER_CONFIG_PATH or ~/.config/feedwatcher.toml
	BaseDir    string // FEEDWATCHER_HOME or ~/.local/share/feedwatcher
	LogDir     string
}

// GetDefaults resolves the default locations, environment variables first.
func GetDefaults() (Defaults, error) {
	configPath, err := fromEnvOrHome(EnvConfigPath, ".config", "feedwatcher.toml")
	if err != nil {
		return Defaults{}, err
	}
	baseDir, err := fromEnvOrHome(EnvHome, ".local", "share", "feedwatcher")
	if err != nil {
		return Defaults{}, err
	}
	return Defaults{
		ConfigPath: configPath,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
	}, nil
}

// fromEnvOrHome returns the value of env, or the path below the home directory.
func fromEnvOrHome(env string, elem ...string) (string, error) {
	if path := os.Getenv(env); path != "" {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(append([]string{homeDir}, elem...)...), nil
}
