package util

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	AppConfigDir = ".config/rabble"
)

// GetConfigDir returns ~/.config/rabble, creating it when missing.
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, AppConfigDir)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return configDir, nil
}

// ResolveFilePath prefers ./filename, then ~/.config/rabble/filename.
// When neither exists the config dir path is returned so callers can create it.
func ResolveFilePath(filename string) string {
	return ResolveFilePathWithSubdir("", filename)
}

// ResolveFilePathWithSubdir works like ResolveFilePath for files kept in a
// subdirectory (avatars/, for example). The subdirectory is created under the
// config dir when the file is found nowhere.
func ResolveFilePathWithSubdir(subdir, filename string) string {
	localPath := filepath.Join(subdir, filename)
	if _, err := os.Stat(localPath); err == nil {
		return localPath
	}

	configDir, err := GetConfigDir()
	if err != nil {
		return localPath
	}

	userDir := filepath.Join(configDir, subdir)
	userPath := filepath.Join(userDir, filename)
	if _, err := os.Stat(userPath); err == nil {
		return userPath
	}

	os.MkdirAll(userDir, 0755)
	return userPath
}
