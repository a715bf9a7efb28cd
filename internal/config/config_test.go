package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Addr != ":8787" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if cfg.AccessTTL != 15*time.Minute {
		t.Fatalf("AccessTTL = %s", cfg.AccessTTL)
	}
	if cfg.Backplane != "local" {
		t.Fatalf("Backplane = %q", cfg.Backplane)
	}
	if cfg.Blob.Driver != "memory" {
		t.Fatalf("Blob.Driver = %q", cfg.Blob.Driver)
	}
	if cfg.MaxUploadBytes != 25<<20 {
		t.Fatalf("MaxUploadBytes = %d", cfg.MaxUploadBytes)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("API_ADDR", ":9999")
	t.Setenv("BACKPLANE", "NATS")
	t.Setenv("ACCESS_TTL_SECONDS", "60")
	t.Setenv("BLOB_USE_SSL", "true")

	cfg := Load()
	if cfg.Addr != ":9999" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if cfg.Backplane != "nats" {
		t.Fatalf("Backplane = %q", cfg.Backplane)
	}
	if cfg.AccessTTL != time.Minute {
		t.Fatalf("AccessTTL = %s", cfg.AccessTTL)
	}
	if !cfg.Blob.UseSSL {
		t.Fatal("Blob.UseSSL = false")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "teamulate.yaml")
	contents := "blob_driver: s3\nblob_bucket: uploads\nrefresh_ttl_seconds: 120\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("BLOB_BUCKET", "from-env")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Blob.Driver != "s3" {
		t.Fatalf("Blob.Driver = %q", cfg.Blob.Driver)
	}
	if cfg.Blob.Bucket != "from-env" {
		t.Fatalf("Blob.Bucket = %q, want env override", cfg.Blob.Bucket)
	}
	if cfg.RefreshTTL != 2*time.Minute {
		t.Fatalf("RefreshTTL = %s", cfg.RefreshTTL)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("LoadFile() expected error for missing file")
	}
}
