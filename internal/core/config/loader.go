package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	if cfg.Queue.Concurrency == 0 {
		cfg.Queue.Concurrency = 4
	}
	if cfg.Queue.MaxAttempts == 0 {
		cfg.Queue.MaxAttempts = 5
	}
	if cfg.Queue.PollInterval == 0 {
		cfg.Queue.PollInterval = time.Second
	}
	if cfg.Queue.RatePerSecond == 0 {
		cfg.Queue.RatePerSecond = 50
	}
	if cfg.Queue.LeaseTimeout == 0 {
		cfg.Queue.LeaseTimeout = 10 * time.Minute
	}

	if cfg.Integrity.Interval == 0 {
		cfg.Integrity.Interval = 5 * time.Minute
	}
	if cfg.Integrity.TipStaleness == 0 {
		cfg.Integrity.TipStaleness = 120 * time.Second
	}
	if cfg.Integrity.RPCTimeout == 0 {
		cfg.Integrity.RPCTimeout = 10 * time.Second
	}

	if cfg.Sync.Interval == 0 {
		cfg.Sync.Interval = time.Minute
	}
	if cfg.Sync.Controller.Timeout == 0 {
		cfg.Sync.Controller.Timeout = 10 * time.Second
	}

	if cfg.Billing.Timeout == 0 {
		cfg.Billing.Timeout = 10 * time.Second
	}

	if cfg.Lifecycle.Interval == 0 {
		cfg.Lifecycle.Interval = time.Hour
	}
	if cfg.Lifecycle.DemoMaxAge == 0 {
		cfg.Lifecycle.DemoMaxAge = 24 * time.Hour
	}
	if cfg.Lifecycle.WorkspaceDeleteDelay == 0 {
		cfg.Lifecycle.WorkspaceDeleteDelay = 24 * time.Hour
	}

	if cfg.Retention.Interval == 0 {
		cfg.Retention.Interval = time.Hour
	}
	if cfg.Retention.BatchSize == 0 {
		cfg.Retention.BatchSize = 1000
	}

	if cfg.Stalled.Interval == 0 {
		cfg.Stalled.Interval = time.Minute
	}
	if cfg.Stalled.MaxAge == 0 {
		cfg.Stalled.MaxAge = 5 * time.Minute
	}

	if cfg.RPC.Timeout == 0 {
		cfg.RPC.Timeout = 30 * time.Second
	}
	if cfg.RPC.TraceTimeout == 0 {
		cfg.RPC.TraceTimeout = 60 * time.Second
	}
}
