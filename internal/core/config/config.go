package config

import (
	"time"

	"github.com/vietddude/explorer/internal/infra/billing"
	"github.com/vietddude/explorer/internal/infra/controller"
	"github.com/vietddude/explorer/internal/infra/queue"
	"github.com/vietddude/explorer/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig      `yaml:"server"`
	Database  postgres.Config   `yaml:"database"`
	Redis     queue.RedisConfig `yaml:"redis"`
	Logging   LoggingConfig     `yaml:"logging"`
	Queue     QueueConfig       `yaml:"queue"`
	Integrity IntegrityConfig   `yaml:"integrity"`
	Sync      SyncConfig        `yaml:"sync"`
	Billing   billing.Config    `yaml:"billing"`
	Lifecycle LifecycleConfig   `yaml:"lifecycle"`
	Retention RetentionConfig   `yaml:"retention"`
	Stalled   StalledConfig     `yaml:"stalled"`
	RPC       RPCConfig         `yaml:"rpc"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// QueueConfig controls the job worker pool.
type QueueConfig struct {
	Concurrency   int           `yaml:"concurrency"`
	MaxAttempts   int           `yaml:"max_attempts"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	RatePerSecond int           `yaml:"rate_per_second"`
	LeaseTimeout  time.Duration `yaml:"lease_timeout"` // popped jobs not settled by then are requeued
}

// IntegrityConfig controls the periodic integrity checks.
type IntegrityConfig struct {
	Interval     time.Duration `yaml:"interval"`
	TipStaleness time.Duration `yaml:"tip_staleness"`
	RPCTimeout   time.Duration `yaml:"rpc_timeout"`
}

// SyncConfig controls the sync process manager and its controller client.
type SyncConfig struct {
	Interval   time.Duration     `yaml:"interval"`
	Controller controller.Config `yaml:"controller"`
}

// LifecycleConfig controls demo and expired explorer removal.
type LifecycleConfig struct {
	Interval             time.Duration `yaml:"interval"`
	DemoMaxAge           time.Duration `yaml:"demo_max_age"`
	WorkspaceDeleteDelay time.Duration `yaml:"workspace_delete_delay"`
}

// RetentionConfig controls plan-based data pruning.
type RetentionConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
}

// StalledConfig controls the partial block scan.
type StalledConfig struct {
	Interval time.Duration `yaml:"interval"`
	MaxAge   time.Duration `yaml:"max_age"`
}

// RPCConfig holds settings shared by all workspace RPC clients.
type RPCConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	TraceTimeout time.Duration `yaml:"trace_timeout"`
}
