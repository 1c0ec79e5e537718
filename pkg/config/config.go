package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// AppConfig is read from a YAML file under the user's home directory.
// All fields are optional; defaults are applied by the accessor methods.
//
// Example (~/.mnemora/config.yaml):
//
// database:
//   path: /home/me/.mnemora/mnemora.db
// episodic:
//   backend: sqlite
//   redis_addr: localhost:6379
//   ttl_days: 7
//
// Notes:
// - If the config file does not exist, Load returns defaults without error.
// - If the config file exists but cannot be parsed, Load returns an error.
// - episodic.backend must be "sqlite" or "redis".

type AppConfig struct {
	Database DatabaseConfig `yaml:"database"`
	Episodic EpisodicConfig `yaml:"episodic"`
}

type DatabaseConfig struct {
	Path *string `yaml:"path"`
}

type EpisodicConfig struct {
	Backend   *string `yaml:"backend"`
	RedisAddr *string `yaml:"redis_addr"`
	TTLDays   *int    `yaml:"ttl_days"`
}

const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"

	DefaultBackend   = BackendSQLite
	DefaultRedisAddr = "localhost:6379"
	DefaultTTLDays   = 7
	defaultDBFile    = "mnemora.db"
)

// DefaultPaths returns the config dir and config file path.
func DefaultPaths() (configDir string, configFile string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("get user home dir: %w", err)
	}
	configDir = filepath.Join(home, ".mnemora")
	configFile = filepath.Join(configDir, "config.yaml")
	return configDir, configFile, nil
}

// Load reads ~/.mnemora/config.yaml.
// If the file doesn't exist, it returns a default config and nil error.
func Load() (*AppConfig, string, error) {
	_, configFile, err := DefaultPaths()
	if err != nil {
		return nil, "", err
	}

	cfg := &AppConfig{}

	b, err := os.ReadFile(configFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, configFile, nil
		}
		return nil, "", fmt.Errorf("read config file %s: %w", configFile, err)
	}

	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, "", fmt.Errorf("parse yaml config %s: %w", configFile, err)
	}

	// Validate
	switch cfg.Backend() {
	case BackendSQLite, BackendRedis:
	default:
		return nil, "", fmt.Errorf("invalid episodic.backend %q in %s", cfg.Backend(), configFile)
	}

	if cfg.TTLDays() < 1 {
		return nil, "", fmt.Errorf("invalid episodic.ttl_days %d in %s", cfg.TTLDays(), configFile)
	}

	return cfg, configFile, nil
}

// EnsureDefaultConfig writes a default config file if it doesn't already exist.
// It is safe to call on startup.
func EnsureDefaultConfig() (string, error) {
	configDir, configFile, err := DefaultPaths()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(configFile); err == nil {
		return configFile, nil
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return "", fmt.Errorf("create config dir %s: %w", configDir, err)
	}

	defaultPath := filepath.Join(configDir, defaultDBFile)
	defaultCfg := AppConfig{
		Database: DatabaseConfig{Path: ptr(defaultPath)},
		Episodic: EpisodicConfig{
			Backend:   ptr(DefaultBackend),
			RedisAddr: ptr(DefaultRedisAddr),
			TTLDays:   ptr(DefaultTTLDays),
		},
	}
	b, err := yaml.Marshal(&defaultCfg)
	if err != nil {
		return "", fmt.Errorf("marshal default config: %w", err)
	}

	// Write with restrictive permissions.
	if err := os.WriteFile(configFile, b, 0o600); err != nil {
		return "", fmt.Errorf("write default config file %s: %w", configFile, err)
	}

	return configFile, nil
}

// DatabasePath returns the configured SQLite path, defaulting to
// ~/.mnemora/mnemora.db.
func (c *AppConfig) DatabasePath() string {
	if c != nil && c.Database.Path != nil {
		if v := strings.TrimSpace(*c.Database.Path); v != "" {
			return v
		}
	}
	configDir, _, err := DefaultPaths()
	if err != nil {
		return defaultDBFile // fallback to working directory
	}
	return filepath.Join(configDir, defaultDBFile)
}

func (c *AppConfig) Backend() string {
	if c == nil || c.Episodic.Backend == nil {
		return DefaultBackend
	}
	v := strings.TrimSpace(*c.Episodic.Backend)
	if v == "" {
		return DefaultBackend
	}
	return v
}

func (c *AppConfig) RedisAddr() string {
	if c == nil || c.Episodic.RedisAddr == nil {
		return DefaultRedisAddr
	}
	v := strings.TrimSpace(*c.Episodic.RedisAddr)
	if v == "" {
		return DefaultRedisAddr
	}
	return v
}

func (c *AppConfig) TTLDays() int {
	if c == nil || c.Episodic.TTLDays == nil {
		return DefaultTTLDays
	}
	return *c.Episodic.TTLDays
}

func ptr[T any](v T) *T { return &v }
