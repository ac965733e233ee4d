package app

import (
	"fmt"
	"strings"
	"time"

	coreconfig "github.com/m3rciful/copperxbot/core/config"
	coredatabase "github.com/m3rciful/copperxbot/core/database"
	"github.com/m3rciful/copperxbot/core/dedupe"
	"github.com/m3rciful/copperxbot/core/session"

	"github.com/m3rciful/copperxbot/bot/gateway"
	"github.com/m3rciful/copperxbot/bot/wizard"
)

const defaultHealthPort = 4000

// SessionConfig tunes the session store.
type SessionConfig struct {
	TTL           time.Duration `yaml:"ttl" envconfig:"SESSION_TTL"`
	LoginTTL      time.Duration `yaml:"login_ttl" envconfig:"SESSION_LOGIN_TTL"`
	SweepInterval time.Duration `yaml:"sweep_interval" envconfig:"SESSION_SWEEP_INTERVAL"`
	PendingTTL    time.Duration `yaml:"pending_ttl" envconfig:"SESSION_PENDING_TTL"`
}

// GatewayConfig points at the financial API.
type GatewayConfig struct {
	URL             string        `yaml:"url" envconfig:"COPPERX_API_URL"`
	APIKey          string        `yaml:"api_key" envconfig:"COPPERX_API_KEY"`
	Timeout         time.Duration `yaml:"timeout" envconfig:"COPPERX_TIMEOUT"`
	HistoryPageSize int           `yaml:"history_page_size" envconfig:"COPPERX_HISTORY_PAGE_SIZE"`
}

// PusherConfig enables deposit notifications. An empty key turns them off.
type PusherConfig struct {
	Key     string `yaml:"key" envconfig:"PUSHER_KEY"`
	Cluster string `yaml:"cluster" envconfig:"PUSHER_CLUSTER"`
	Host    string `yaml:"host" envconfig:"PUSHER_HOST"`
}

// HealthConfig configures the health server. Port 0 selects the default; a negative port disables it.
type HealthConfig struct {
	Port int `yaml:"port" envconfig:"APP_PORT"`
}

// ConfirmConfig controls what happens when a confirmation button is pressed.
type ConfirmConfig struct {
	// Requote fetches a fresh withdrawal quote instead of submitting the stored one.
	Requote bool `yaml:"requote" envconfig:"CONFIRM_REQUOTE"`
}

// DedupeConfig bounds the update_id cache.
type DedupeConfig struct {
	TTL     time.Duration `yaml:"ttl" envconfig:"DEDUPE_TTL"`
	MaxSize int           `yaml:"max_size" envconfig:"DEDUPE_MAX_SIZE"`
}

// Config is the full bot configuration: the core sections plus the Copperx ones.
type Config struct {
	coreconfig.Config `yaml:",inline"`

	Database coredatabase.Config `yaml:"database"`
	Session  SessionConfig       `yaml:"session"`
	Gateway  GatewayConfig       `yaml:"gateway"`
	Pusher   PusherConfig        `yaml:"pusher"`
	Health   HealthConfig        `yaml:"health"`
	Confirm  ConfirmConfig       `yaml:"confirm"`
	Dedupe   DedupeConfig        `yaml:"dedupe"`
}

// CoreConfig implements cmd.ConfigCarrier.
func (c *Config) CoreConfig() *coreconfig.Config {
	return &c.Config
}

// LoadConfig reads path, overlays the environment and validates the result.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if err := coreconfig.Decode(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates every section and fills defaults.
func (c *Config) Normalize() error {
	if err := coreconfig.Normalize(&c.Config); err != nil {
		return err
	}
	if err := c.Database.Normalize(); err != nil {
		return err
	}

	if c.Session.TTL <= 0 {
		c.Session.TTL = session.DefaultTTL
	}
	if c.Session.LoginTTL <= 0 {
		c.Session.LoginTTL = wizard.DefaultLoginTTL
	}
	if c.Session.SweepInterval <= 0 {
		c.Session.SweepInterval = session.DefaultSweepInterval
	}
	if c.Session.PendingTTL <= 0 {
		c.Session.PendingTTL = session.DefaultPendingTTL
	}

	c.Gateway.URL = strings.TrimRight(strings.TrimSpace(c.Gateway.URL), "/")
	if c.Gateway.URL == "" {
		c.Gateway.URL = gateway.DefaultBaseURL
	}
	if !strings.HasPrefix(c.Gateway.URL, "http://") && !strings.HasPrefix(c.Gateway.URL, "https://") {
		return fmt.Errorf("invalid gateway.url %q; expected an http(s) URL", c.Gateway.URL)
	}
	if c.Gateway.Timeout <= 0 {
		c.Gateway.Timeout = 30 * time.Second
	}
	if c.Gateway.HistoryPageSize <= 0 {
		c.Gateway.HistoryPageSize = wizard.DefaultHistoryPageSize
	}
	if c.Gateway.HistoryPageSize > 50 {
		return fmt.Errorf("gateway.history_page_size must be <= 50")
	}

	c.Pusher.Key = strings.TrimSpace(c.Pusher.Key)
	c.Pusher.Cluster = strings.TrimSpace(c.Pusher.Cluster)

	if c.Health.Port == 0 {
		c.Health.Port = defaultHealthPort
	}
	if c.Health.Port > 65535 {
		return fmt.Errorf("invalid health.port %d", c.Health.Port)
	}

	if c.Dedupe.TTL <= 0 {
		c.Dedupe.TTL = dedupe.DefaultTTL
	}
	if c.Dedupe.MaxSize <= 0 {
		c.Dedupe.MaxSize = dedupe.DefaultMaxSize
	}
	return nil
}
