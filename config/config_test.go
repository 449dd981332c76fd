package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vahti.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	content := `
version: v1
storage_dir: /var/lib/vahti
audit_dir: /var/lib/vahti/audit
policy_dir: /etc/vahti/policies
region: us-east-1

sources:
  - name: cloudtrail
    region: us-east-1
    window: 1h
  - name: edr
    endpoint: https://edr.internal/api

actions:
  quarantine_group_id: sg-quarantine
  action_timeout: 30s

engine:
  auto_approve_threshold: 0.95
  review_threshold: 0.60

daemon:
  metrics_port: 9090
  executor_interval: 30s
`
	cfg, err := LoadConfig(writeConfig(t, content))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Version != "v1" {
		t.Errorf("Version = %v, want v1", cfg.Version)
	}
	if cfg.StorageDir != "/var/lib/vahti" {
		t.Errorf("StorageDir = %v, want /var/lib/vahti", cfg.StorageDir)
	}
	if len(cfg.Sources) != 2 {
		t.Fatalf("Sources count = %v, want 2", len(cfg.Sources))
	}
	if cfg.Sources[0].Window != time.Hour {
		t.Errorf("Sources[0].Window = %v, want 1h", cfg.Sources[0].Window)
	}
	if cfg.Actions.QuarantineGroupID != "sg-quarantine" {
		t.Errorf("QuarantineGroupID = %v, want sg-quarantine", cfg.Actions.QuarantineGroupID)
	}
	if cfg.Daemon.MetricsPort != 9090 {
		t.Errorf("MetricsPort = %v, want 9090", cfg.Daemon.MetricsPort)
	}

	engineCfg := cfg.EngineConfig()
	if engineCfg.AutoApproveThreshold != 0.95 {
		t.Errorf("AutoApproveThreshold = %v, want 0.95", engineCfg.AutoApproveThreshold)
	}
	if engineCfg.ReviewThreshold != 0.60 {
		t.Errorf("ReviewThreshold = %v, want 0.60", engineCfg.ReviewThreshold)
	}
}

func TestEngineConfigDefaults(t *testing.T) {
	content := `
version: v1
storage_dir: /var/lib/vahti
audit_dir: /var/lib/vahti/audit
sources: []
`
	cfg, err := LoadConfig(writeConfig(t, content))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	engineCfg := cfg.EngineConfig()
	if engineCfg.AutoApproveThreshold != 0.90 {
		t.Errorf("AutoApproveThreshold = %v, want default 0.90", engineCfg.AutoApproveThreshold)
	}
	if engineCfg.ReviewThreshold != 0.70 {
		t.Errorf("ReviewThreshold = %v, want default 0.70", engineCfg.ReviewThreshold)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			"missing version",
			"storage_dir: /tmp\naudit_dir: /tmp\n",
		},
		{
			"missing storage dir",
			"version: v1\naudit_dir: /tmp\n",
		},
		{
			"missing audit dir",
			"version: v1\nstorage_dir: /tmp\n",
		},
		{
			"unnamed source",
			"version: v1\nstorage_dir: /tmp\naudit_dir: /tmp\nsources:\n  - region: us-east-1\n",
		},
		{
			"review above auto-approve",
			"version: v1\nstorage_dir: /tmp\naudit_dir: /tmp\nengine:\n  auto_approve_threshold: 0.5\n  review_threshold: 0.8\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, tt.content)); err == nil {
				t.Error("LoadConfig() expected error, got nil")
			}
		})
	}
}
