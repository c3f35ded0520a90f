package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/egress/internal/core/domain"
	"github.com/vietddude/egress/internal/infra/egress/cost"
	"github.com/vietddude/egress/internal/infra/egress/selector"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, expands environment variables, applies defaults and
// validates the result.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *AppConfig {
	var cfg AppConfig
	cfg.ApplyDefaults()
	return &cfg
}

// ApplyDefaults fills zero values.
func (c *AppConfig) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "color"
	}

	if c.Snapshot.Backend == "" {
		switch {
		case c.Snapshot.Path != "":
			c.Snapshot.Backend = BackendFile
		case c.Database.URL != "":
			c.Snapshot.Backend = BackendPostgres
		case c.Redis.URL != "":
			c.Snapshot.Backend = BackendRedis
		default:
			c.Snapshot.Backend = BackendNone
		}
	}
	if c.Snapshot.Backend == BackendFile && c.Snapshot.Path == "" {
		c.Snapshot.Path = "egress-state.json"
	}
	if c.Snapshot.Interval == 0 && c.Snapshot.Backend != BackendNone {
		c.Snapshot.Interval = time.Minute
	}

	if c.Controller.BanConfidence == 0 {
		c.Controller.BanConfidence = 0.7
	}
	if c.Maintenance.PruneThreshold == 0 {
		c.Maintenance.PruneThreshold = 0.3
	}
	if c.Selector.Cooldown == 0 {
		c.Selector.Cooldown = selector.DefaultConfig().Cooldown
	}
	if c.Selector.DefaultStrategy == "" {
		c.Selector.DefaultStrategy = selector.DefaultConfig().DefaultStrategy
	}

	for i := range c.Proxies {
		if c.Proxies[i].Class == "" {
			c.Proxies[i].Class = domain.ProxyClassUnknown
		}
		c.Proxies[i].Country = strings.ToUpper(c.Proxies[i].Country)
	}
}

// Validate reports the first configuration error found.
func (c *AppConfig) Validate() error {
	if c.Server.Port < -1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d out of range", ErrInvalidConfig, c.Server.Port)
	}

	switch c.Snapshot.Backend {
	case BackendNone, BackendFile:
	case BackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("%w: redis snapshot backend needs redis.url", ErrInvalidConfig)
		}
	case BackendPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("%w: postgres snapshot backend needs database.url", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown snapshot backend %q", ErrInvalidConfig, c.Snapshot.Backend)
	}

	if _, err := selector.ParseStrategy(string(c.Selector.DefaultStrategy)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := cost.ParseUnitCosts(c.Costs); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if t := c.Controller.BanConfidence; t < 0 || t >= 1 {
		return fmt.Errorf("%w: controller.ban_confidence %.2f not in [0,1]", ErrInvalidConfig, t)
	}
	if t := c.Maintenance.PruneThreshold; t < 0 || t > 1 {
		return fmt.Errorf("%w: maintenance.prune_threshold %.2f not in [0,1]", ErrInvalidConfig, t)
	}

	seen := make(map[string]bool, len(c.Proxies))
	for i, p := range c.Proxies {
		if p.ID == "" {
			return fmt.Errorf("%w: proxies[%d] has no id", ErrInvalidConfig, i)
		}
		if seen[p.ID] {
			return fmt.Errorf("%w: duplicate proxy id %q", ErrInvalidConfig, p.ID)
		}
		seen[p.ID] = true
		if p.Class != domain.ProxyClassUnknown {
			if _, err := domain.ParseProxyClass(string(p.Class)); err != nil {
				return fmt.Errorf("%w: proxies[%d]: %v", ErrInvalidConfig, i, err)
			}
		}
	}
	return nil
}
