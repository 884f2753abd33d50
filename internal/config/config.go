// Package config resolves tickd's data paths and runtime settings.
//
// Two configuration surfaces exist:
//   - the per-user data directory (~/.tickd) holding the shared database,
//     the lock file, and the signing key — never inside a project tree
//   - an optional per-project .tickd.yaml with workflow settings
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// DataDirName is the per-user state directory under $HOME.
	DataDirName = ".tickd"

	// DBFile is the shared SQLite database filename.
	DBFile = "tickd.db"

	// LockFile is the advisory PID lock filename.
	LockFile = "tickd.lock"

	// KeyFile holds the raw 32-byte HMAC signing key.
	KeyFile = "state.key"

	// ProjectConfigFile is the optional per-project settings file.
	ProjectConfigFile = ".tickd.yaml"

	// SigningEnv toggles HMAC signing of the local state mirror.
	SigningEnv = "TICKD_STATE_HMAC"
)

// DataDir returns the per-user data directory, creating it if needed.
// The directory is deliberately outside any project working tree: the
// signing key must never travel with a repository.
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	dir := filepath.Join(home, DataDirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating data dir %s: %w", dir, err)
	}
	return dir, nil
}

// DBPath returns the path of the shared database.
func DBPath(dataDir string) string { return filepath.Join(dataDir, DBFile) }

// LockPath returns the path of the advisory lock file.
func LockPath(dataDir string) string { return filepath.Join(dataDir, LockFile) }

// KeyPath returns the path of the signing key file.
func KeyPath(dataDir string) string { return filepath.Join(dataDir, KeyFile) }

// SigningEnabled reports whether state HMAC signing is turned on.
// Only the exact values "1", "true" and "yes" enable it; anything
// else, including unset, is off.
func SigningEnabled() bool {
	switch os.Getenv(SigningEnv) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// ─── Project config ──────────────────────────────────────────────────────────

// ProjectConfig holds optional per-project settings read from .tickd.yaml.
type ProjectConfig struct {
	// BaseBranch is the branch ticket branches are cut from and
	// compared against. Defaults to "main".
	BaseBranch string `yaml:"base_branch"`

	// RetentionDays is the conversation retention horizon.
	// Zero means the built-in default.
	RetentionDays int `yaml:"retention_days"`
}

// DefaultProjectConfig returns the settings used when no .tickd.yaml exists.
func DefaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		BaseBranch:    "main",
		RetentionDays: 90,
	}
}

// LoadProjectConfig reads .tickd.yaml from projectRoot. A missing file is
// not an error — defaults are returned. A malformed file is an error:
// silently ignoring a present-but-broken config hides operator mistakes.
func LoadProjectConfig(projectRoot string) (ProjectConfig, error) {
	cfg := DefaultProjectConfig()

	data, err := os.ReadFile(filepath.Join(projectRoot, ProjectConfigFile))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading %s: %w", ProjectConfigFile, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", ProjectConfigFile, err)
	}
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = "main"
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 90
	}
	return cfg, nil
}
