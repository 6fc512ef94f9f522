package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Questions struct {
		TTL string `yaml:"ttl"`
	} `yaml:"questions"`
	Scoring struct {
		// TotalBudget is the fixed point pool split across a session's questions.
		TotalBudget int `yaml:"totalBudget"`
		// PenaltyStrategy selects the time-penalty formula: "proportional" or "per_second".
		PenaltyStrategy string `yaml:"penaltyStrategy"`
		// PenaltyRate is the per-second deduction used by the per_second strategy,
		// expressed in budget points per second.
		PenaltyRate float64 `yaml:"penaltyRate"`
		// GraceMs widens the answer deadline to absorb network latency.
		GraceMs int `yaml:"graceMs"`
	} `yaml:"scoring"`
	Logging struct {
		Level string `yaml:"level"`
		// File enables rotated file output when set.
		File string `yaml:"file"`
	} `yaml:"logging"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
