// Package config handles loading and managing msgdesk configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// DataConfig holds data storage configuration.
type DataConfig struct {
	DataDir      string `toml:"data_dir"`
	DatabasePath string `toml:"database_path"` // overrides DataDir/msgdesk.db
}

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	BindAddr     string  `toml:"bind_addr"`      // default 127.0.0.1
	APIPort      int     `toml:"api_port"`       // default 8080
	APIKey       string  `toml:"api_key"`        // empty disables auth (dev only)
	RateLimitRPS float64 `toml:"rate_limit_rps"` // per-IP, default 10
	RateBurst    int     `toml:"rate_burst"`     // default 20
}

// RemindersConfig holds the callback-reminder sweep configuration.
type RemindersConfig struct {
	Enabled   bool   `toml:"enabled"`    // default true
	Schedule  string `toml:"schedule"`   // cron expression, default every 15 min
	WindowMin int    `toml:"window_min"` // lookahead window in minutes, default 60
}

type Config struct {
	Data      DataConfig      `toml:"data"`
	Server    ServerConfig    `toml:"server"`
	Reminders RemindersConfig `toml:"reminders"`

	// Computed, not from the config file
	HomeDir string `toml:"-"`
}

// DefaultHome returns the default msgdesk home directory.
// Respects the MSGDESK_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("MSGDESK_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".msgdesk"
	}
	return filepath.Join(home, ".msgdesk")
}

// Load reads the configuration from the specified file. If path is empty,
// the default location (~/.msgdesk/config.toml) is used. The file is
// optional; defaults apply when it is absent.
func Load(path string) (*Config, error) {
	homeDir := DefaultHome()

	if path == "" {
		path = filepath.Join(homeDir, "config.toml")
	}

	cfg := &Config{
		HomeDir: homeDir,
		Data: DataConfig{
			DataDir: homeDir,
		},
		Server: ServerConfig{
			BindAddr:     "127.0.0.1",
			APIPort:      8080,
			RateLimitRPS: 10,
			RateBurst:    20,
		},
		Reminders: RemindersConfig{
			Enabled:   true,
			Schedule:  "*/15 * * * *",
			WindowMin: 60,
		},
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Data.DataDir = expandPath(cfg.Data.DataDir)
	cfg.Data.DatabasePath = expandPath(cfg.Data.DatabasePath)

	return cfg, nil
}

// DatabasePath returns the path to the SQLite database.
func (c *Config) DatabasePath() string {
	if c.Data.DatabasePath != "" {
		return c.Data.DatabasePath
	}
	return filepath.Join(c.Data.DataDir, "msgdesk.db")
}

// ReminderWindow returns the sweep lookahead window.
func (c *Config) ReminderWindow() int {
	if c.Reminders.WindowMin <= 0 {
		return 60
	}
	return c.Reminders.WindowMin
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
