package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	ListenAddr string              `json:"listen_addr" yaml:"listen_addr"`
	Database   DatabaseConfig      `json:"database" yaml:"database"`
	Auth       AuthConfig          `json:"auth" yaml:"auth"`
	Security   SecurityConfig      `json:"security" yaml:"security"`
	Limits     LimitsConfig        `json:"limits" yaml:"limits"`
	Checks     CheckDefaults       `json:"checks" yaml:"checks"`
	Observer   ObservabilityConfig `json:"observability" yaml:"observability"`
}

type DatabaseConfig struct {
	DSN            string `json:"dsn" yaml:"dsn"`
	MaxConns       int32  `json:"max_conns" yaml:"max_conns"`
	MigrationsPath string `json:"migrations_path" yaml:"migrations_path"`
	// StatePath backs the file store used when no DSN is configured.
	StatePath string `json:"state_path" yaml:"state_path"`
}

type AuthConfig struct {
	SessionTTL string `json:"session_ttl" yaml:"session_ttl"`
	CookieName string `json:"cookie_name" yaml:"cookie_name"`
}

type SecurityConfig struct {
	AdminToken string `json:"admin_token" yaml:"admin_token"`
}

// LimitsConfig keeps the service from hammering the deployments it checks:
// worker-pool size, per-target concurrency, and per-target run rate.
type LimitsConfig struct {
	MaxParallelRuns  int `json:"max_parallel_runs" yaml:"max_parallel_runs"`
	PerTargetActive  int `json:"per_target_active" yaml:"per_target_active"`
	PerTargetRPM     int `json:"per_target_rpm" yaml:"per_target_rpm"`
	QuickCheckRPM    int `json:"quick_check_rpm" yaml:"quick_check_rpm"`
	RunRetentionDays int `json:"run_retention_days" yaml:"run_retention_days"`
}

type CheckDefaults struct {
	TimeoutSec int    `json:"timeout_sec" yaml:"timeout_sec"`
	UserAgent  string `json:"user_agent" yaml:"user_agent"`
}

type ObservabilityConfig struct {
	OTLPEndpoint string  `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	ServiceName  string  `json:"service_name" yaml:"service_name"`
	SampleRatio  float64 `json:"sample_ratio" yaml:"sample_ratio"`
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr: ":8080",
		Database: DatabaseConfig{
			MaxConns:       10,
			MigrationsPath: "./migrations",
			StatePath:      "./deploycheck-state.json",
		},
		Auth: AuthConfig{
			SessionTTL: "8h",
			CookieName: "deploycheck_session",
		},
		Limits: LimitsConfig{
			MaxParallelRuns:  2,
			PerTargetActive:  1,
			PerTargetRPM:     4,
			QuickCheckRPM:    6,
			RunRetentionDays: 30,
		},
		Checks: CheckDefaults{
			TimeoutSec: 300,
			UserAgent:  "deploycheck/1.0",
		},
		Observer: ObservabilityConfig{
			ServiceName: "deploycheck-api",
			SampleRatio: 1,
		},
	}
}

func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse json config: %w", err)
		}
	default:
		if yamlErr := yaml.Unmarshal(data, &cfg); yamlErr != nil {
			if jsonErr := json.Unmarshal(data, &cfg); jsonErr != nil {
				return cfg, errors.New("config format not recognized (expected yaml/json)")
			}
		}
	}
	normalizeConfig(&cfg)
	return cfg, nil
}

func normalizeConfig(cfg *ServerConfig) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if strings.TrimSpace(cfg.Database.MigrationsPath) == "" {
		cfg.Database.MigrationsPath = "./migrations"
	}
	if strings.TrimSpace(cfg.Database.StatePath) == "" {
		cfg.Database.StatePath = "./deploycheck-state.json"
	}
	if strings.TrimSpace(cfg.Auth.CookieName) == "" {
		cfg.Auth.CookieName = "deploycheck_session"
	}
	if strings.TrimSpace(cfg.Auth.SessionTTL) == "" {
		cfg.Auth.SessionTTL = "8h"
	}
	if cfg.Limits.MaxParallelRuns <= 0 {
		cfg.Limits.MaxParallelRuns = 2
	}
	if cfg.Limits.PerTargetActive <= 0 {
		cfg.Limits.PerTargetActive = 1
	}
	if cfg.Limits.PerTargetRPM <= 0 {
		cfg.Limits.PerTargetRPM = 4
	}
	if cfg.Limits.QuickCheckRPM <= 0 {
		cfg.Limits.QuickCheckRPM = 6
	}
	if cfg.Limits.RunRetentionDays <= 0 {
		cfg.Limits.RunRetentionDays = 30
	}
	if cfg.Checks.TimeoutSec <= 0 {
		cfg.Checks.TimeoutSec = 300
	}
	if strings.TrimSpace(cfg.Checks.UserAgent) == "" {
		cfg.Checks.UserAgent = "deploycheck/1.0"
	}
	if cfg.Observer.SampleRatio <= 0 || cfg.Observer.SampleRatio > 1 {
		cfg.Observer.SampleRatio = 1
	}
	if strings.TrimSpace(cfg.Observer.ServiceName) == "" {
		cfg.Observer.ServiceName = "deploycheck-api"
	}
}
