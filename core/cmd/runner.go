package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	coreconfig "github.com/m3rciful/copperxbot/core/config"
	"github.com/m3rciful/copperxbot/core/logger"
	coretelegram "github.com/m3rciful/copperxbot/core/telegram"
)

// ConfigCarrier exposes access to the embedded core configuration.
type ConfigCarrier interface {
	CoreConfig() *coreconfig.Config
}

// TelegramApp is the minimal interface required to run a Telegram bot.
type TelegramApp interface {
	TelegramRunOptions() (coretelegram.RunOptions, error)
}

// Options describe how to load configuration, bootstrap the app, and run the bot.
type Options struct {
	ConfigEnvVar      string
	DefaultConfigPath string

	LoadConfig func(path string) (ConfigCarrier, error)
	Bootstrap  func(cfg ConfigCarrier) (TelegramApp, error)

	ShutdownLogger func() error
	RunTelegram    func(ctx context.Context, opts coretelegram.RunOptions) error

	// Context replaces the SIGINT/SIGTERM context, e.g. in tests.
	Context context.Context
}

func configEnv(opts Options) string {
	if opts.ConfigEnvVar == "" {
		return "CONFIG_PATH"
	}
	return opts.ConfigEnvVar
}

// ConfigPath resolves the config file from the environment variable or the default.
func ConfigPath(opts Options) string {
	if p := os.Getenv(configEnv(opts)); p != "" {
		return p
	}
	return opts.DefaultConfigPath
}

// Run loads configuration, bootstraps the app and runs the bot until SIGINT or SIGTERM.
func Run(opts Options) error {
	switch {
	case opts.LoadConfig == nil:
		return errors.New("cmd: LoadConfig is required")
	case opts.Bootstrap == nil:
		return errors.New("cmd: Bootstrap is required")
	}

	cfgPath := ConfigPath(opts)
	if cfgPath == "" {
		return fmt.Errorf("cmd: config path not provided via %s or DefaultConfigPath", configEnv(opts))
	}
	log.Printf("loading config: %s", cfgPath)
	cfg, err := opts.LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("cmd: failed to load config: %w", err)
	}
	if cfg.CoreConfig() == nil {
		return errors.New("cmd: loaded config is missing core configuration")
	}

	startedAt := time.Now()
	application, err := opts.Bootstrap(cfg)
	if err != nil {
		return fmt.Errorf("cmd: bootstrap failed: %w", err)
	}
	shutdownLogger := opts.ShutdownLogger
	if shutdownLogger == nil {
		shutdownLogger = logger.Shutdown
	}
	defer func() {
		if err := shutdownLogger(); err != nil {
			log.Printf("logger shutdown error: %v", err)
		}
	}()

	runOpts, err := application.TelegramRunOptions()
	if err != nil {
		return fmt.Errorf("cmd: telegram options build failed: %w", err)
	}
	withLifecycleLogs(&runOpts, startedAt)

	ctx, stop := runContext(opts.Context)
	defer stop()

	run := opts.RunTelegram
	if run == nil {
		run = coretelegram.RunTelegram
	}
	return run(ctx, runOpts)
}

// withLifecycleLogs logs "ready" after the app's OnStart and "shutdown" before its OnStop.
func withLifecycleLogs(opts *coretelegram.RunOptions, startedAt time.Time) {
	onStart, onStop := opts.OnStart, opts.OnStop
	opts.OnStart = func(ctx context.Context, rt coretelegram.Runtime) error {
		if onStart != nil {
			if err := onStart(ctx, rt); err != nil {
				return err
			}
		}
		logger.Info(ctx, "app", "ready", slog.Duration("startup_duration", time.Since(startedAt)))
		return nil
	}
	opts.OnStop = func(ctx context.Context, rt coretelegram.Runtime) error {
		logger.Info(ctx, "app", "shutdown")
		if onStop != nil {
			return onStop(ctx, rt)
		}
		return nil
	}
}

func runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx != nil {
		return ctx, func() {}
	}
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
