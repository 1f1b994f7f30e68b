package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "village.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg != Defaults() {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestLoadYAMLAndEnvOverlay(t *testing.T) {
	p := writeFile(t, `
starting_balance: 250
grid_size: 0.25
autosave_interval: 45s
save_path: /tmp/v/save.json
backup:
  keep: 2
log:
  format: console
`)
	t.Setenv("VILLAGE_STARTING_BALANCE", "75")
	t.Setenv("VILLAGE_BACKUP_DIR", "/tmp/v/bk")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StartingBalance != 75 {
		t.Fatalf("env should win: %d", cfg.StartingBalance)
	}
	if cfg.GridSize != 0.25 || cfg.AutosaveInterval != 45*time.Second {
		t.Fatalf("yaml values lost: %+v", cfg)
	}
	if cfg.Backup.Dir != "/tmp/v/bk" || cfg.Backup.Keep != 2 {
		t.Fatalf("backup=%+v", cfg.Backup)
	}
	if cfg.MessageDuration != 3*time.Second || cfg.CatalogPath != Defaults().CatalogPath {
		t.Fatalf("defaults not kept: %+v", cfg)
	}
	if cfg.Log.Format != "console" || cfg.Log.Level != "info" {
		t.Fatalf("log=%+v", cfg.Log)
	}
}

func TestLoadClampsGrid(t *testing.T) {
	cfg, err := Load(writeFile(t, "grid_size: 0\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.GridSize != 0.001 {
		t.Fatalf("grid=%v", cfg.GridSize)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"negative balance": "starting_balance: -5\n",
		"bad format":       "log:\n  format: xml\n",
		"malformed":        "starting_balance: [1,\n",
		"tiny autosave":    "autosave_interval: 10ms\n",
	}
	for name, body := range cases {
		if _, err := Load(writeFile(t, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
