package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// TelegramConfig holds Telegram bot related settings that are common for all bots.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"TELEGRAM_TOKEN"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

// WebhookConfig specifies webhook settings.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
	Secret string `yaml:"secret" envconfig:"WEBHOOK_SECRET"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format      string `yaml:"format" envconfig:"LOG_FORMAT"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Stacks      string `yaml:"stacks"`
	Dir         string `yaml:"dir"`
	BotFile     string `yaml:"bot_file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile" envconfig:"LOG_PROFILE"`
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

// Update kinds accepted by RateLimitConfig.ExcludeUpdates.
const (
	UpdateCallback = "callback"
	UpdateMessage  = "message"
)

var updateKinds = []string{UpdateCallback, UpdateMessage}

// RateLimitConfig holds settings for rate limiting. ExcludeUpdates lists
// update kinds that bypass the limit.
type RateLimitConfig struct {
	IntervalMS     int      `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES"`
}

// Config aggregates the configuration that belongs to the reusable core.
type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := Decode(path, &cfg); err != nil {
		return nil, err
	}
	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Decode fills dst from the YAML file at path and then overlays environment variables.
// A missing file is tolerated so deployments may configure everything through the environment.
func Decode(path string, dst any) error {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, dst); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := envconfig.Process("", dst); err != nil {
		return fmt.Errorf("failed to process env: %w", err)
	}
	return nil
}

// Normalize validates cfg and fills defaults in place.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return errors.New("telegram token is required")
	}
	if err := cfg.normalizeRunMode(); err != nil {
		return err
	}
	return cfg.RateLimit.normalize()
}

func (cfg *Config) normalizeRunMode() error {
	mode := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	switch mode {
	case "", "polling":
		mode = RunModeLongpoll
	}

	switch mode {
	case RunModeWebhook:
		if err := cfg.Webhook.validate(); err != nil {
			return err
		}
	case RunModeLongpoll:
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return errors.New("telegram.longpoll_timeout_seconds must be >= 0")
		}
	default:
		return fmt.Errorf("invalid telegram.run_mode %q; allowed: webhook, longpoll", cfg.Telegram.RunMode)
	}
	cfg.Telegram.RunMode = mode
	return nil
}

func (w WebhookConfig) validate() error {
	const need = "when telegram.run_mode is 'webhook'"
	switch {
	case strings.TrimSpace(w.URL) == "":
		return fmt.Errorf("webhook.url is required %s", need)
	case strings.TrimSpace(w.Listen) == "":
		return fmt.Errorf("webhook.listen is required %s", need)
	case w.Port <= 0:
		return fmt.Errorf("webhook.port must be > 0 %s", need)
	case !validSecret(w.Secret):
		return errors.New("webhook.secret may hold only A-Z, a-z, 0-9, _ and - (at most 256)")
	}
	return nil
}

// validSecret applies Telegram's rule for secret_token. Empty means none.
func validSecret(s string) bool {
	if len(s) > 256 {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '-') {
			return false
		}
	}
	return true
}

func (r *RateLimitConfig) normalize() error {
	for i, v := range r.ExcludeUpdates {
		kind := strings.ToLower(strings.TrimSpace(v))
		if kind == "" {
			continue
		}
		if !slices.Contains(updateKinds, kind) {
			return fmt.Errorf("invalid rate_limit.exclude_updates value %q; allowed: %s", v, strings.Join(updateKinds, ", "))
		}
		r.ExcludeUpdates[i] = kind
	}
	return nil
}
