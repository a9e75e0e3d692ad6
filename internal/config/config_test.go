package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load default failed: %v", err)
	}
	if cfg.Worker.MaxConcurrentScans != defaultMaxConcurrentScans {
		t.Fatalf("expected default max_concurrent_scans, got %d", cfg.Worker.MaxConcurrentScans)
	}
	if cfg.Worker.ScanTimeout != 24*time.Hour {
		t.Fatalf("expected 24h scan timeout, got %s", cfg.Worker.ScanTimeout)
	}
	if cfg.Idempotency.TTL != 48*time.Hour {
		t.Fatalf("expected 48h idempotency ttl, got %s", cfg.Idempotency.TTL)
	}
	if cfg.CircuitBreaker.FailureThreshold != 5 {
		t.Fatalf("expected default failure threshold 5, got %d", cfg.CircuitBreaker.FailureThreshold)
	}
}

func TestLoadPoolsValidation(t *testing.T) {
	t.Run("duplicate pool name", func(t *testing.T) {
		path := writeTempConfig(t, `
pools:
  - name: default
    instances: []
  - name: default
    instances: []
`)
		if _, err := Load(path); err == nil {
			t.Fatalf("expected error for duplicate pool name")
		}
	})

	t.Run("missing instance url", func(t *testing.T) {
		path := writeTempConfig(t, `
pools:
  - name: default
    instances:
      - instance_id: a
`)
		if _, err := Load(path); err == nil {
			t.Fatalf("expected error for missing instance url")
		}
	})

	t.Run("disabled instance may omit url", func(t *testing.T) {
		path := writeTempConfig(t, `
pools:
  - name: default
    instances:
      - instance_id: a
        enabled: false
`)
		if _, err := Load(path); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("mock backend may omit url", func(t *testing.T) {
		path := writeTempConfig(t, `
pools:
  - name: default
    instances:
      - instance_id: a
        backend: mock
`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Pools[0].Instances[0].BackendOrDefault() != "mock" {
			t.Fatalf("expected backend mock to be preserved")
		}
	})

	t.Run("unsupported backend rejected", func(t *testing.T) {
		path := writeTempConfig(t, `
pools:
  - name: default
    instances:
      - instance_id: a
        backend: carbon-black
`)
		if _, err := Load(path); err == nil {
			t.Fatalf("expected error for unsupported backend")
		}
	})
}

func TestInstanceConfigDefaults(t *testing.T) {
	var i InstanceConfig
	if i.BackendOrDefault() != "nessus" {
		t.Fatalf("expected default backend nessus, got %q", i.BackendOrDefault())
	}
	if !i.VerifySSLOrDefault() {
		t.Fatalf("expected default verify_ssl true")
	}
}

func TestLoadEnvInterpolation(t *testing.T) {
	t.Setenv("SCANORCH_TEST_URL", "https://nessus.internal:8834")
	path := writeTempConfig(t, `
pools:
  - name: default
    instances:
      - instance_id: a
        url: ${SCANORCH_TEST_URL}
        password: ${SCANORCH_TEST_MISSING:-changeme}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	inst := cfg.Pools[0].Instances[0]
	if inst.URL != "https://nessus.internal:8834" {
		t.Fatalf("expected interpolated url, got %q", inst.URL)
	}
	if inst.Password != "changeme" {
		t.Fatalf("expected default value for unset var, got %q", inst.Password)
	}
}

func TestDefaultPool(t *testing.T) {
	cfg := &Config{Pools: []PoolConfig{{Name: "fast"}, {Name: "slow"}}}
	if got := cfg.DefaultPool(); got != "fast" {
		t.Fatalf("expected first pool as default, got %q", got)
	}
	if _, ok := cfg.Pool("slow"); !ok {
		t.Fatalf("expected to find pool %q", "slow")
	}
	if _, ok := cfg.Pool("missing"); ok {
		t.Fatalf("expected pool lookup miss")
	}
}

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}
