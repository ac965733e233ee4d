package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/copperxbot/core/config"
	coretelegram "github.com/m3rciful/copperxbot/core/telegram"
)

type carrier struct{ cfg *coreconfig.Config }

func (c carrier) CoreConfig() *coreconfig.Config { return c.cfg }

type app struct {
	opts coretelegram.RunOptions
}

func (a app) TelegramRunOptions() (coretelegram.RunOptions, error) { return a.opts, nil }

func TestRunWrapsLifecycleHooks(t *testing.T) {
	t.Setenv("CONFIG_PATH", "from-env.yaml")

	var loaded string
	var started, stopped, loggerClosed bool
	err := Run(Options{
		DefaultConfigPath: "config.yaml",
		LoadConfig: func(path string) (ConfigCarrier, error) {
			loaded = path
			return carrier{cfg: &coreconfig.Config{}}, nil
		},
		Bootstrap: func(ConfigCarrier) (TelegramApp, error) {
			return app{opts: coretelegram.RunOptions{
				OnStart: func(context.Context, coretelegram.Runtime) error { started = true; return nil },
				OnStop:  func(context.Context, coretelegram.Runtime) error { stopped = true; return nil },
			}}, nil
		},
		ShutdownLogger: func() error { loggerClosed = true; return nil },
		RunTelegram: func(ctx context.Context, opts coretelegram.RunOptions) error {
			require.NoError(t, opts.OnStart(ctx, coretelegram.Runtime{}))
			return opts.OnStop(ctx, coretelegram.Runtime{})
		},
		Context: context.Background(),
	})
	require.NoError(t, err)
	assert.Equal(t, "from-env.yaml", loaded)
	assert.True(t, started)
	assert.True(t, stopped)
	assert.True(t, loggerClosed)
}

func TestRunPropagatesBootstrapFailure(t *testing.T) {
	err := Run(Options{
		DefaultConfigPath: "config.yaml",
		LoadConfig: func(string) (ConfigCarrier, error) {
			return carrier{cfg: &coreconfig.Config{}}, nil
		},
		Bootstrap: func(ConfigCarrier) (TelegramApp, error) {
			return nil, errors.New("store unreachable")
		},
		Context: context.Background(),
	})
	assert.ErrorContains(t, err, "store unreachable")
}

func TestRunRequiresLoaders(t *testing.T) {
	assert.Error(t, Run(Options{}))
	assert.Error(t, Run(Options{LoadConfig: func(string) (ConfigCarrier, error) { return nil, nil }}))
}

func TestConfigPathDefaults(t *testing.T) {
	t.Setenv("BOT_CONFIG", "")
	assert.Equal(t, "config.yaml", ConfigPath(Options{ConfigEnvVar: "BOT_CONFIG", DefaultConfigPath: "config.yaml"}))
}
