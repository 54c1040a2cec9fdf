// Package config provides YAML-based configuration with environment
// variable expansion and validated defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all brain configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Brain    BrainConfig    `yaml:"brain"`
}

type ServerConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type BrainConfig struct {
	MinSimilarity   float64 `yaml:"min_similarity"`
	MaxNeighbors    int     `yaml:"max_neighbors"`
	RetryAttempts   int     `yaml:"retry_attempts"`
	DecayWindowDays int     `yaml:"decay_window_days"`
	HalfLifeDays    int     `yaml:"half_life_days"`
	ExportMinMass   float64 `yaml:"export_min_mass"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 38380,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		Brain: BrainConfig{
			MinSimilarity:   0.25,
			MaxNeighbors:    10,
			RetryAttempts:   5,
			DecayWindowDays: 7,
			HalfLifeDays:    30,
			ExportMinMass:   20.0,
		},
	}
}

// Load reads a YAML config file over the defaults, expanding
// environment variables in the file body. A missing path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects out-of-range settings.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Brain.MinSimilarity < 0 || c.Brain.MinSimilarity > 1 {
		return fmt.Errorf("brain.min_similarity %g must be in [0, 1]", c.Brain.MinSimilarity)
	}
	if c.Brain.MaxNeighbors <= 0 {
		return fmt.Errorf("brain.max_neighbors must be positive")
	}
	if c.Brain.RetryAttempts <= 0 {
		return fmt.Errorf("brain.retry_attempts must be positive")
	}
	if c.Brain.DecayWindowDays < 1 {
		return fmt.Errorf("brain.decay_window_days must be at least 1")
	}
	if c.Brain.HalfLifeDays < 1 {
		return fmt.Errorf("brain.half_life_days must be at least 1")
	}
	return nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// DecayWindow returns the inactivity window as a duration.
func (c *Config) DecayWindow() time.Duration {
	return time.Duration(c.Brain.DecayWindowDays) * 24 * time.Hour
}

// HalfLife returns the decay half-life as a duration.
func (c *Config) HalfLife() time.Duration {
	return time.Duration(c.Brain.HalfLifeDays) * 24 * time.Hour
}
