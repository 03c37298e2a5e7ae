package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_FillsDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"pulse_seconds": 10,
		"modules_dir": "/etc/interceptor/modules",
		"api": {"intc_hq": {"active": true, "report": true, "url": "https://hq.example/", "api_key": "k", "timeout_seconds": 5}}
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.PulseSeconds != 10 {
		t.Errorf("PulseSeconds = %d, want 10", cfg.PulseSeconds)
	}
	if cfg.DefaultJailAttempt != 4 {
		t.Errorf("DefaultJailAttempt default not applied, got %d", cfg.DefaultJailAttempt)
	}
	if !cfg.API.IntcHQ.Active {
		t.Error("expected HQ active=true to survive unmarshal")
	}
	if cfg.Firewall.Chain != "INTERCEPTOR" {
		t.Errorf("Firewall.Chain default not applied, got %q", cfg.Firewall.Chain)
	}
}

func TestLoad_RejectsMissingModulesDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"pulse_seconds": 5}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for missing modules_dir")
	}
}
