package config

import (
	"time"

	"github.com/vietddude/egress/internal/core/domain"
	"github.com/vietddude/egress/internal/infra/egress/selector"
	redisclient "github.com/vietddude/egress/internal/infra/redis"
	"github.com/vietddude/egress/internal/infra/storage/postgres"
	"github.com/vietddude/egress/internal/routing/recovery"
	"github.com/vietddude/egress/internal/routing/reputation"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server      ServerConfig             `yaml:"server"`
	Logging     LoggingConfig            `yaml:"logging"`
	Redis       redisclient.Config       `yaml:"redis"`
	Database    postgres.Config          `yaml:"database"`
	Snapshot    SnapshotConfig           `yaml:"snapshot"`
	Reputation  reputation.Config        `yaml:"reputation"`
	Recovery    recovery.Config          `yaml:"recovery"`
	Selector    selector.Config          `yaml:"selector"`
	Controller  ControllerConfig         `yaml:"controller"`
	Costs       map[string]string        `yaml:"costs"` // class -> decimal unit cost
	Maintenance MaintenanceConfig        `yaml:"maintenance"`
	Proxies     []domain.ProxyDescriptor `yaml:"proxies"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"` // -1 disables the admin server
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text, color
}

// Snapshot backends.
const (
	BackendNone     = "none"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// SnapshotConfig controls persistence of the routing state.
type SnapshotConfig struct {
	Backend  string        `yaml:"backend"`
	Path     string        `yaml:"path"`     // file backend
	Interval time.Duration `yaml:"interval"` // 0 saves only on shutdown
}

// ControllerConfig tunes outcome handling.
type ControllerConfig struct {
	BanConfidence float64 `yaml:"ban_confidence"`
}

// MaintenanceConfig schedules proxy pruning.
type MaintenanceConfig struct {
	PruneInterval  time.Duration `yaml:"prune_interval"` // 0 disables the pruner
	PruneThreshold float64       `yaml:"prune_threshold"`
}
