package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDefaultsToLongpoll(t *testing.T) {
	cfg := &Config{Telegram: TelegramConfig{Token: "t", RunMode: " Polling "}}
	require.NoError(t, Normalize(cfg))
	assert.Equal(t, RunModeLongpoll, cfg.Telegram.RunMode)
}

func TestNormalizeRejectsIncompleteWebhook(t *testing.T) {
	cfg := &Config{Telegram: TelegramConfig{Token: "t", RunMode: "webhook"}}
	assert.ErrorContains(t, Normalize(cfg), "webhook.url")
}

func TestNormalizeRateLimitExclusions(t *testing.T) {
	cfg := &Config{
		Telegram:  TelegramConfig{Token: "t"},
		RateLimit: RateLimitConfig{ExcludeUpdates: []string{" Callback ", "message"}},
	}
	require.NoError(t, Normalize(cfg))
	assert.Equal(t, []string{"callback", "message"}, cfg.RateLimit.ExcludeUpdates)

	cfg.RateLimit.ExcludeUpdates = []string{"photo"}
	assert.Error(t, Normalize(cfg))
}

func TestLoadOverlaysEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("telegram:\n  token: from-file\n  run_mode: longpoll\nlogging:\n  level: info\n"), 0o600))

	t.Setenv("TELEGRAM_TOKEN", "from-env")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Telegram.Token)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestDecodeToleratesMissingFile(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "env-only")
	var cfg Config
	require.NoError(t, Decode(filepath.Join(t.TempDir(), "absent.yaml"), &cfg))
	assert.Equal(t, "env-only", cfg.Telegram.Token)
}

func TestNormalizeWebhookSecret(t *testing.T) {
	cfg := &Config{
		Telegram: TelegramConfig{Token: "t", RunMode: "webhook"},
		Webhook:  WebhookConfig{URL: "https://bot.example.test/hook", Listen: "0.0.0.0", Port: 8443, Secret: "s3cr3t_-"},
	}
	require.NoError(t, Normalize(cfg))

	cfg.Webhook.Secret = "has space"
	assert.ErrorContains(t, Normalize(cfg), "webhook.secret")
}
