package pulse

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.PrivacyDefault != "optunknown" {
		t.Errorf("PrivacyDefault = %q, want optunknown", cfg.PrivacyDefault)
	}
	if cfg.StorageDir != ".pulse" {
		t.Errorf("StorageDir = %q, want .pulse", cfg.StorageDir)
	}
	if cfg.S3Region != "us-east-1" {
		t.Errorf("S3Region = %q, want us-east-1", cfg.S3Region)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pulse.toml")
	file := `
app_id = "from-file"
rules_url = "https://file.example/rules.zip"
privacy_default = "optedin"
`
	if err := os.WriteFile(path, []byte(file), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("PULSE_CONFIG", path)
	t.Setenv("PULSE_APP_ID", "from-env")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.AppID != "from-env" {
		t.Errorf("AppID = %q, want env to win", cfg.AppID)
	}
	if cfg.RulesURL != "https://file.example/rules.zip" {
		t.Errorf("RulesURL = %q, want file value", cfg.RulesURL)
	}
	if cfg.PrivacyDefault != "optedin" {
		t.Errorf("PrivacyDefault = %q, want file value", cfg.PrivacyDefault)
	}
}

func TestLoadConfig_ExplicitMissingFileFails(t *testing.T) {
	t.Setenv("PULSE_CONFIG", filepath.Join(t.TempDir(), "nope.toml"))
	if _, err := LoadConfig(); err == nil {
		t.Error("LoadConfig with missing explicit file succeeded, want error")
	}
}

func TestLoadConfig_MalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("app_id = ["), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("PULSE_CONFIG", path)
	if _, err := LoadConfig(); err == nil {
		t.Error("LoadConfig with malformed file succeeded, want error")
	}
}
