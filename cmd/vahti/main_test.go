package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenApp(t *testing.T) {
	dir := t.TempDir()
	content := fmt.Sprintf(`
version: v1
storage_dir: %s/storage
audit_dir: %s/audit
sources: []
engine:
  auto_approve_threshold: 0.95
  review_threshold: 0.60
`, dir, dir)

	configPath = filepath.Join(dir, "vahti.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	app, err := openApp(context.Background())
	require.NoError(t, err)
	defer app.Close()

	// File thresholds seed the registry config on first start.
	cfg := app.engine.Config()
	assert.Equal(t, 0.95, cfg.AutoApproveThreshold)
	assert.Equal(t, 0.60, cfg.ReviewThreshold)
}

func TestOpenAppMissingConfig(t *testing.T) {
	configPath = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := openApp(context.Background())
	require.Error(t, err)
}

func TestOpenAppUnknownSource(t *testing.T) {
	dir := t.TempDir()
	content := fmt.Sprintf(`
version: v1
storage_dir: %s/storage
audit_dir: %s/audit
sources:
  - name: nonexistent
`, dir, dir)

	configPath = filepath.Join(dir, "vahti.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	_, err := openApp(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}
