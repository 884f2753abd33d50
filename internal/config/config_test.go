package config

import (
	"os"
	"path/filepath"
	"testing"
)

// --- Path helpers ---

func TestDBPath(t *testing.T) {
	got := DBPath("/home/user/.tickd")
	want := filepath.Join("/home/user/.tickd", DBFile)
	if got != want {
		t.Errorf("DBPath = %s, want %s", got, want)
	}
}

func TestLockPath(t *testing.T) {
	got := LockPath("/home/user/.tickd")
	want := filepath.Join("/home/user/.tickd", LockFile)
	if got != want {
		t.Errorf("LockPath = %s, want %s", got, want)
	}
}

func TestKeyPath(t *testing.T) {
	got := KeyPath("/home/user/.tickd")
	want := filepath.Join("/home/user/.tickd", KeyFile)
	if got != want {
		t.Errorf("KeyPath = %s, want %s", got, want)
	}
}

// --- SigningEnabled ---

func TestSigningEnabled_TruthyValues(t *testing.T) {
	for _, v := range []string{"1", "true", "yes"} {
		t.Setenv(SigningEnv, v)
		if !SigningEnabled() {
			t.Errorf("SigningEnabled() = false for %q, want true", v)
		}
	}
}

func TestSigningEnabled_FalsyValues(t *testing.T) {
	// Exact match only: "TRUE", "Yes", "on" and friends do not count.
	for _, v := range []string{"", "0", "false", "TRUE", "Yes", "on", "enabled"} {
		t.Setenv(SigningEnv, v)
		if SigningEnabled() {
			t.Errorf("SigningEnabled() = true for %q, want false", v)
		}
	}
}

// --- Project config ---

func TestLoadProjectConfig_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := LoadProjectConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadProjectConfig failed: %v", err)
	}
	if cfg.BaseBranch != "main" {
		t.Errorf("BaseBranch = %s, want main", cfg.BaseBranch)
	}
	if cfg.RetentionDays != 90 {
		t.Errorf("RetentionDays = %d, want 90", cfg.RetentionDays)
	}
}

func TestLoadProjectConfig_ReadsFile(t *testing.T) {
	dir := t.TempDir()
	content := "base_branch: develop\nretention_days: 30\n"
	if err := os.WriteFile(filepath.Join(dir, ProjectConfigFile), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadProjectConfig(dir)
	if err != nil {
		t.Fatalf("LoadProjectConfig failed: %v", err)
	}
	if cfg.BaseBranch != "develop" {
		t.Errorf("BaseBranch = %s, want develop", cfg.BaseBranch)
	}
	if cfg.RetentionDays != 30 {
		t.Errorf("RetentionDays = %d, want 30", cfg.RetentionDays)
	}
}

func TestLoadProjectConfig_MalformedFileIsAnError(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ProjectConfigFile), []byte("{not yaml"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadProjectConfig(dir); err == nil {
		t.Error("expected error for malformed config, got nil")
	}
}

func TestLoadProjectConfig_NormalizesEmptyFields(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ProjectConfigFile), []byte("base_branch: \"\"\nretention_days: -5\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadProjectConfig(dir)
	if err != nil {
		t.Fatalf("LoadProjectConfig failed: %v", err)
	}
	if cfg.BaseBranch != "main" {
		t.Errorf("BaseBranch = %s, want main", cfg.BaseBranch)
	}
	if cfg.RetentionDays != 90 {
		t.Errorf("RetentionDays = %d, want 90", cfg.RetentionDays)
	}
}
