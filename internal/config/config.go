// Package config loads service configuration from a YAML file with
// environment variable expansion.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Backend  BackendConfig  `yaml:"backend"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	Queue    QueueConfig    `yaml:"queue"`
	Overdue  OverdueConfig  `yaml:"overdue"`
	Grid     GridConfig     `yaml:"grid"`
	LogLevel string         `yaml:"log_level"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// BackendConfig points at the fleet backend's scheduling API.
type BackendConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type DatabaseConfig struct {
	Path       string `yaml:"path"`
	BackupPath string `yaml:"backup_path"`
}

type QueueConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type OverdueConfig struct {
	ScanInterval time.Duration `yaml:"scan_interval"`
}

// GridConfig tunes interaction behavior of the timeline.
type GridConfig struct {
	SnapMinutes           int     `yaml:"snap_minutes"`
	DragThresholdPx       float64 `yaml:"drag_threshold_px"`
	MaintenanceBlockHours int     `yaml:"maintenance_block_hours"`
	DefaultBufferMinutes  int     `yaml:"default_buffer_minutes"`
}

// Load reads the config file at path, expanding ${VAR} references
// from the environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := defaults()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Backend.BaseURL == "" {
		return nil, fmt.Errorf("backend.base_url is required")
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			CacheTTL: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "fleetgrid.db",
		},
		Queue: QueueConfig{
			Exchange: "fleetgrid.events",
		},
		Overdue: OverdueConfig{
			ScanInterval: time.Minute,
		},
		Grid: GridConfig{
			SnapMinutes:           30,
			DragThresholdPx:       5,
			MaintenanceBlockHours: 24,
			DefaultBufferMinutes:  0,
		},
		LogLevel: "info",
	}
}
