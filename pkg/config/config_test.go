package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFile_ReturnsDefault(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, path, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if path == "" {
		t.Fatalf("expected config path")
	}
	if got := cfg.Backend(); got != DefaultBackend {
		t.Fatalf("cfg.Backend() = %q, want %q", got, DefaultBackend)
	}
	if got := cfg.TTLDays(); got != DefaultTTLDays {
		t.Fatalf("cfg.TTLDays() = %d, want %d", got, DefaultTTLDays)
	}
}

func TestEnsureDefaultConfig_CreatesFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path, err := EnsureDefaultConfig()
	if err != nil {
		t.Fatalf("EnsureDefaultConfig() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to exist at %s: %v", path, err)
	}

	cfg, gotPath, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if filepath.Clean(gotPath) != filepath.Clean(path) {
		t.Fatalf("Load() path = %s, want %s", gotPath, path)
	}
	if got := cfg.Backend(); got != DefaultBackend {
		t.Fatalf("cfg.Backend() = %q, want %q", got, DefaultBackend)
	}
}

func TestLoad_ParsesEpisodicSection(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	configDir := filepath.Join(home, ".mnemora")
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	configPath := filepath.Join(configDir, "config.yaml")

	body := "episodic:\n  backend: redis\n  redis_addr: 127.0.0.1:7000\n  ttl_days: 3\n"
	if err := os.WriteFile(configPath, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.Backend(); got != BackendRedis {
		t.Fatalf("cfg.Backend() = %q, want %q", got, BackendRedis)
	}
	if got := cfg.RedisAddr(); got != "127.0.0.1:7000" {
		t.Fatalf("cfg.RedisAddr() = %q, want %q", got, "127.0.0.1:7000")
	}
	if got := cfg.TTLDays(); got != 3 {
		t.Fatalf("cfg.TTLDays() = %d, want %d", got, 3)
	}
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	configDir := filepath.Join(home, ".mnemora")
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	configPath := filepath.Join(configDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("episodic:\n  backend: etcd\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, _, err := Load(); err == nil {
		t.Fatalf("Load() expected error for unknown backend")
	}
}

func TestLoad_ParsesDatabasePath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	configDir := filepath.Join(home, ".mnemora")
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	configPath := filepath.Join(configDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("database:\n  path: /tmp/custom.db\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.DatabasePath(); got != "/tmp/custom.db" {
		t.Fatalf("cfg.DatabasePath() = %q, want %q", got, "/tmp/custom.db")
	}
}
