package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	// minimal file: poller and commission sections absent
	path := writeConfig(t, `
server:
  port: 8080
postgres:
  dsn: "host=localhost"
`)
	cfg, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, 1000, cfg.Poller.IntervalMS)
	assert.Equal(t, 100, cfg.Poller.BatchSize)
	assert.Equal(t, "completed", cfg.Commission.TriggerStatus)
	assert.Equal(t, uint64(1), cfg.Commission.PlatformAccountID)
}

func TestLoad_ExplicitValuesKept(t *testing.T) {
	path := writeConfig(t, `
poller:
  interval_ms: 250
  batch_size: 20
commission:
  trigger_status: "final_approved"
  platform_account_id: 42
  trigger_overrides:
    recharge: "approved"
`)
	cfg, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, 250, cfg.Poller.IntervalMS)
	assert.Equal(t, 20, cfg.Poller.BatchSize)
	assert.Equal(t, "final_approved", cfg.Commission.TriggerStatus)
	assert.Equal(t, uint64(42), cfg.Commission.PlatformAccountID)
	assert.Equal(t, "approved", cfg.Commission.TriggerOverrides["recharge"])
}
