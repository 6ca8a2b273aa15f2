package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	AppName = "inventory-go"
)

// GetWorkspaceDir returns the root directory for runtime data.
// Order: INVENTORY_HOME, a local "_workspace" directory (portable/dev
// mode), then the OS data directory.
func GetWorkspaceDir() string {
	if home := os.Getenv("INVENTORY_HOME"); home != "" {
		return home
	}
	localDir := "_workspace"
	if _, err := os.Stat(localDir); err == nil {
		return localDir
	}
	base, ok := osDataDir()
	if !ok {
		return localDir
	}
	return filepath.Join(base, AppName)
}

// osDataDir is XDG_DATA_HOME (or ~/.local/share) on Linux and the user
// config dir (AppData, Application Support) elsewhere.
func osDataDir() (string, bool) {
	if runtime.GOOS == "linux" {
		if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
			return dataHome, true
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", false
		}
		return filepath.Join(home, ".local", "share"), true
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", false
	}
	return dir, true
}

// ResolveDataPath returns p unchanged if absolute, otherwise p under
// <workspace>/data. The parent directory is created.
func ResolveDataPath(p string) (string, error) {
	full := p
	if !filepath.IsAbs(p) {
		full = filepath.Join(GetWorkspaceDir(), "data", p)
	}
	if err := EnsureDir(filepath.Dir(full)); err != nil {
		return "", fmt.Errorf("failed to create data dir: %w", err)
	}
	return full, nil
}

// EnsureDir creates the directory if it doesn't exist (0755).
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// CreateLockFile claims dir for this process. Two processes on one SQLite
// file would each believe their single connection serializes writers.
// The returned func releases the claim.
func CreateLockFile(dir string) (func(), error) {
	lockPath := filepath.Join(dir, "instance.lock")

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if os.IsExist(err) {
		owner, _ := os.ReadFile(lockPath)
		return nil, fmt.Errorf("another instance is already running (pid %s, lock file %s)",
			strings.TrimSpace(string(owner)), lockPath)
	}
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(f, "%d", os.Getpid())
	f.Close()

	return func() { os.Remove(lockPath) }, nil
}

// ResolveConfigPath finds config.yaml.
// Priority: INVENTORY_CONFIG, ./configs, the OS config dir.
func ResolveConfigPath() string {
	if p := os.Getenv("INVENTORY_CONFIG"); p != "" {
		return p
	}

	defaultPath := filepath.Join("configs", "config.yaml")
	if _, err := os.Stat(defaultPath); err == nil {
		return defaultPath
	}

	if configRoot, err := os.UserConfigDir(); err == nil {
		osPath := filepath.Join(configRoot, AppName, "config.yaml")
		if _, err := os.Stat(osPath); err == nil {
			return osPath
		}
	}

	// LoadConfig falls back to defaults if this is missing too.
	return defaultPath
}
