package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Scoring  ScoringConfig  `yaml:"scoring"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Server   ServerConfig   `yaml:"server"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ScoringConfig configures the deal-scoring engine and the daemon schedule.
type ScoringConfig struct {
	Version      string `yaml:"version"`
	MinGroupSize int    `yaml:"min_group_size"`
	KmBinSmall   int    `yaml:"km_bin_small"`
	KmBinLarge   int    `yaml:"km_bin_large"`
	KmBinXLarge  int    `yaml:"km_bin_xlarge"`
	Interval     string `yaml:"interval"`
}

// ParseInterval returns the scoring interval as time.Duration.
func (s ScoringConfig) ParseInterval() time.Duration {
	d, err := time.ParseDuration(s.Interval)
	if err != nil {
		return time.Hour
	}
	return d
}

// AlertsConfig configures alert destinations and the alerting threshold.
type AlertsConfig struct {
	MinScore float64       `yaml:"min_score"`
	Slack    SlackConfig   `yaml:"slack"`
	Discord  DiscordConfig `yaml:"discord"`
	Webhook  WebhookConfig `yaml:"webhook"`
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig for Discord webhook alerts.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./carwatch.db"},
		Scoring: ScoringConfig{
			Version:      "percentile_v2",
			MinGroupSize: 25,
			KmBinSmall:   10_000,
			KmBinLarge:   25_000,
			KmBinXLarge:  50_000,
			Interval:     "1h",
		},
		Alerts: AlertsConfig{MinScore: 90},
		Server: ServerConfig{Port: 8080},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
// A local .env file is loaded first if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CARWATCH_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("CARWATCH_SCORE_VERSION"); v != "" {
		cfg.Scoring.Version = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
		cfg.Alerts.Discord.Enabled = true
	}
	if v := os.Getenv("CARWATCH_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Webhook.URL = v
		cfg.Alerts.Webhook.Enabled = true
	}
	if v := os.Getenv("CARWATCH_WEBHOOK_SECRET"); v != "" {
		cfg.Alerts.Webhook.Secret = v
	}
}
