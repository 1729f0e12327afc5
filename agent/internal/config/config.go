package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config holds the agent configuration
type Config struct {
	AgentID         string        `yaml:"agent_id"`
	DBPath          string        `yaml:"db_path"`
	ScanInterval    time.Duration `yaml:"scan_interval"`
	RetentionDays   int           `yaml:"retention_days"`
	CleanupSchedule string        `yaml:"cleanup_schedule"`
	ClaudeRoots     []string      `yaml:"claude_roots,omitempty"`
	CodexRoots      []string      `yaml:"codex_roots,omitempty"`
	LogLevel        string        `yaml:"log_level"`
}

// configPath returns the path to the config file
func configPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".agenttop.yaml"), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DBPath:          filepath.Join(home, ".agenttop.db"),
		ScanInterval:    30 * time.Second,
		RetentionDays:   90,
		CleanupSchedule: "0 3 * * *",
		LogLevel:        "info",
	}
}

// Load loads the configuration from disk, filling unset fields with
// defaults. A missing file is not an error.
func Load() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 30 * time.Second
	}
	if cfg.CleanupSchedule == "" {
		cfg.CleanupSchedule = "0 3 * * *"
	}

	return cfg, nil
}

// Save saves the configuration to disk
func Save(cfg *Config) error {
	if cfg.AgentID == "" {
		cfg.AgentID = uuid.NewString()
	}

	path, err := configPath()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}
