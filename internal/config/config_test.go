package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.MaxCacheEntries != 64 {
		t.Errorf("MaxCacheEntries = %d, want 64", cfg.MaxCacheEntries)
	}
	if cfg.DecodeTimeout() != 10*time.Second {
		t.Errorf("DecodeTimeout = %v, want 10s", cfg.DecodeTimeout())
	}
	if cfg.MaxCacheBytes() != 256*1024*1024 {
		t.Errorf("MaxCacheBytes = %d, want 256MB", cfg.MaxCacheBytes())
	}
}

func TestManager_DefaultsWithoutFile(t *testing.T) {
	m, err := NewManager(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		// An explicitly named missing file is an error.
		t.Fatal("expected error for explicit missing file")
	}

	m, err = newManagerInDir(t, "")
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	if m.Get().MaxCacheMB != 256 {
		t.Errorf("MaxCacheMB = %d, want default 256", m.Get().MaxCacheMB)
	}
}

func TestManager_ReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "render.yaml")
	data := []byte("workers: 3\nmax_cache_mb: 32\ndecode_timeout_seconds: 5\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	cfg := m.Get()
	if cfg.Workers != 3 {
		t.Errorf("Workers = %d, want 3", cfg.Workers)
	}
	if cfg.MaxCacheMB != 32 {
		t.Errorf("MaxCacheMB = %d, want 32", cfg.MaxCacheMB)
	}
	if cfg.DecodeTimeout() != 5*time.Second {
		t.Errorf("DecodeTimeout = %v, want 5s", cfg.DecodeTimeout())
	}
	// Untouched keys keep defaults.
	if cfg.MaxOpenDocuments != 8 {
		t.Errorf("MaxOpenDocuments = %d, want default 8", cfg.MaxOpenDocuments)
	}
}

// newManagerInDir builds a manager with the working directory moved to an
// empty temp dir, so no stray render.yaml is picked up.
func newManagerInDir(t *testing.T, cfgFile string) (*Manager, error) {
	t.Helper()
	dir := t.TempDir()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(old) })
	return NewManager(cfgFile)
}
