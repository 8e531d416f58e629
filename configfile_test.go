package occupd

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "occupd.yaml")
	content := `
listen: ":7000"
store: sheet://abc123
bus: nats://localhost:4222/floor.events
sheet_credentials: /etc/occupd/sa.json
lock_ttl: 45s
repair_cycle_limit: 5
store_retry_base_delay: 250ms
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg.Listen != ":7000" || cfg.Store != "sheet://abc123" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.LockTTL != 45*time.Second {
		t.Fatalf("lock ttl = %v, want 45s", cfg.LockTTL)
	}
	if cfg.RepairCycleLimit != 5 {
		t.Fatalf("repair cycle limit = %d, want 5", cfg.RepairCycleLimit)
	}
	if cfg.StoreRetryBaseDelay != 250*time.Millisecond {
		t.Fatalf("retry base delay = %v", cfg.StoreRetryBaseDelay)
	}
	// Unset fields default through Validate.
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.SSEHeartbeat != DefaultSSEHeartbeat {
		t.Fatalf("sse heartbeat = %v, want default", cfg.SSEHeartbeat)
	}
}

func TestLoadConfigFileRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "occupd.yaml")
	if err := os.WriteFile(path, []byte("listne: :7000\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadConfigFile(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadConfigFileBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "occupd.yaml")
	if err := os.WriteFile(path, []byte("lock_ttl: soon\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadConfigFile(path); err == nil {
		t.Fatal("expected error for bad duration")
	}
}
