package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[coordinator]
listen_addr = ":9000"
prover_timeout = "2m"
max_block_batch_size = 4

[keeper]
fee_account = 3
capacity_chunks = 30
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Coordinator.ListenAddr != ":9000" {
		t.Errorf("listen_addr = %q", cfg.Coordinator.ListenAddr)
	}
	if cfg.Coordinator.Timeout() != 2*time.Minute {
		t.Errorf("prover_timeout = %v", cfg.Coordinator.Timeout())
	}
	if cfg.Coordinator.MaxBlockBatchSize != 4 {
		t.Errorf("max_block_batch_size = %d", cfg.Coordinator.MaxBlockBatchSize)
	}
	if cfg.Keeper.FeeAccount != 3 || cfg.Keeper.CapacityChunks != 30 {
		t.Errorf("keeper = %+v", cfg.Keeper)
	}

	// Unset fields keep their defaults.
	if cfg.Coordinator.StorePath != "prover.db" {
		t.Errorf("store_path = %q", cfg.Coordinator.StorePath)
	}
}

func TestLoadRejectsBadCapacity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[keeper]
capacity_chunks = 0
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for zero capacity")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}
