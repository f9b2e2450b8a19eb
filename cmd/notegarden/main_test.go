package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestSetupLogger(t *testing.T) {
	// Save original globals.
	origLevel := logLevel
	origFormat := logFormat
	t.Cleanup(func() {
		logLevel = origLevel
		logFormat = origFormat
	})

	for _, tc := range []struct {
		name      string
		logLevel  string
		logFormat string
	}{
		{name: "debug/text", logLevel: "debug", logFormat: "text"},
		{name: "info/json", logLevel: "info", logFormat: "json"},
		{name: "warn/text", logLevel: "warn", logFormat: "text"},
		{name: "error/text", logLevel: "error", logFormat: "text"},
		{name: "unknown/text", logLevel: "unknown", logFormat: "text"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			logLevel = tc.logLevel
			logFormat = tc.logFormat

			logger := setupLogger()
			if logger == nil {
				t.Fatal("setupLogger returned nil")
			}
		})
	}
}

func TestLoadConfig_WithExplicitPath(t *testing.T) {
	origCfgFile := cfgFile
	t.Cleanup(func() { cfgFile = origCfgFile })

	tmpDir := t.TempDir()
	vaultDir := filepath.Join(tmpDir, "vault")
	mirrorDir := filepath.Join(tmpDir, "mirror")
	stateDir := filepath.Join(tmpDir, "state")

	configContent := []byte(`vault:
  dir: "` + vaultDir + `"
mirror:
  root_dir: "` + mirrorDir + `"
paths:
  state_dir: "` + stateDir + `"
`)
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, configContent, 0o600); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfgFile = cfgPath
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	cfg, err := loadConfig(logger)
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}
	if cfg == nil {
		t.Fatal("loadConfig returned nil config")
	}
	if !cfg.Mirror.Enabled() || cfg.GitHub.Enabled() {
		t.Errorf("unexpected target configuration: %+v", cfg)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	origCfgFile := cfgFile
	t.Cleanup(func() { cfgFile = origCfgFile })

	cfgFile = filepath.Join(t.TempDir(), "nonexistent.yaml")
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	_, err := loadConfig(logger)
	if err == nil {
		t.Fatal("expected error for missing config file, got nil")
	}
}

func TestReadSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("  ghp_secret\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	token, err := readSecret(path)
	if err != nil {
		t.Fatalf("readSecret returned error: %v", err)
	}
	if token != "ghp_secret" {
		t.Errorf("readSecret = %q, want %q", token, "ghp_secret")
	}

	if _, err := readSecret(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing secret file, got nil")
	}
}

func TestSetupSignalHandler(t *testing.T) {
	ctx, cancel := setupSignalHandler()
	if ctx == nil {
		t.Fatal("setupSignalHandler returned nil context")
	}

	cancel()

	<-ctx.Done()
	if err := ctx.Err(); err == nil {
		t.Fatal("expected context error after cancel, got nil")
	}
}

func TestVersionCmd(t *testing.T) {
	// versionCmd.Run simply prints version info; should not panic.
	versionCmd.Run(versionCmd, []string{})
}
