// Package app wires the Copperx bot: store, gateway, wizard, dispatcher and push bridge.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/copperxbot/bot/dispatch"
	"github.com/m3rciful/copperxbot/bot/gateway"
	"github.com/m3rciful/copperxbot/bot/notify"
	"github.com/m3rciful/copperxbot/bot/wizard"
	"github.com/m3rciful/copperxbot/core/bootstrap"
	"github.com/m3rciful/copperxbot/core/buildinfo"
	"github.com/m3rciful/copperxbot/core/cmd"
	"github.com/m3rciful/copperxbot/core/dedupe"
	"github.com/m3rciful/copperxbot/core/health"
	"github.com/m3rciful/copperxbot/core/logger"
	"github.com/m3rciful/copperxbot/core/session"
	coretelegram "github.com/m3rciful/copperxbot/core/telegram"
	"github.com/m3rciful/copperxbot/core/telegram/router"
)

const shutdownTimeout = 5 * time.Second

// App owns every long-lived component of the bot process.
type App struct {
	cfg *Config

	sessions   *session.Manager
	pending    *session.Pending
	gateway    *gateway.Client
	pusher     *dispatch.Pusher
	bridge     *notify.Bridge
	runner     *wizard.Runner
	dispatcher *dispatch.Dispatcher
	seen       *dedupe.Cache
	health     *health.Server

	stopSweep context.CancelFunc
	sweepDone <-chan struct{}
	stopOnce  sync.Once
}

// Bootstrap implements cmd.Options.Bootstrap: logger, store and migrations, then wiring.
func Bootstrap(carrier cmd.ConfigCarrier) (cmd.TelegramApp, error) {
	cfg, ok := carrier.(*Config)
	if !ok {
		return nil, fmt.Errorf("app: unexpected config type %T", carrier)
	}
	res, err := bootstrap.Run(bootstrap.Options{
		Config:   cfg.CoreConfig(),
		Database: cfg.Database,
		Session:  session.Options{TTL: cfg.Session.TTL},
	})
	if err != nil {
		return nil, err
	}
	return New(cfg, res.Sessions, nil), nil
}

// New wires the components around sessions. gw may be nil to build the client from cfg.
func New(cfg *Config, sessions *session.Manager, gw *gateway.Client) *App {
	if gw == nil {
		gw = gateway.New(gateway.Options{
			BaseURL: cfg.Gateway.URL,
			APIKey:  cfg.Gateway.APIKey,
			Timeout: cfg.Gateway.Timeout,
		})
	}
	pending := session.NewPending(sessions.Backend(), cfg.Session.PendingTTL, sessions.Now)
	pusher := &dispatch.Pusher{}
	bridge := notify.New(notify.Options{
		Key:     cfg.Pusher.Key,
		Cluster: cfg.Pusher.Cluster,
		Host:    cfg.Pusher.Host,
		Version: buildinfo.Version,
	}, gw, pusher)

	machine := wizard.NewMachine(gw, sessions, pending, wizard.Options{
		RequoteOnConfirm: cfg.Confirm.Requote,
		LoginTTL:         cfg.Session.LoginTTL,
		HistoryPageSize:  cfg.Gateway.HistoryPageSize,
	})
	runner := wizard.NewRunner(sessions, machine, bridge)

	a := &App{
		cfg:        cfg,
		sessions:   sessions,
		pending:    pending,
		gateway:    gw,
		pusher:     pusher,
		bridge:     bridge,
		runner:     runner,
		dispatcher: dispatch.New(runner),
		seen:       dedupe.New(dedupe.Options{TTL: cfg.Dedupe.TTL, MaxSize: cfg.Dedupe.MaxSize}),
	}
	if cfg.Health.Port > 0 {
		a.health = health.NewServer(":"+strconv.Itoa(cfg.Health.Port), health.Check{Name: "store", Pinger: sessions})
	}
	return a
}

// TelegramRunOptions implements cmd.TelegramApp.
func (a *App) TelegramRunOptions() (coretelegram.RunOptions, error) {
	reg := coretelegram.NewRegistry()
	if err := a.dispatcher.Register(reg); err != nil {
		return coretelegram.RunOptions{}, err
	}

	routes := router.CommandRoutes(reg)
	routes = append(routes, router.CallbackRoute(reg, router.CallbackOptions{}))
	routes = append(routes, router.TextRoutes(a.dispatcher, router.TextOptions{})...)

	return coretelegram.RunOptions{
		Config:   a.cfg.CoreConfig(),
		Registry: reg,
		Middlewares: coretelegram.DefaultMiddlewares(a.cfg.CoreConfig(), coretelegram.MiddlewareOptions{
			Seen:      a.seen,
			OnLimited: tooFast,
		}),
		Routes:  routes,
		OnStart: a.start,
		OnStop:  a.stop,
	}, nil
}

func (a *App) start(ctx context.Context, rt coretelegram.Runtime) error {
	if rt.Bot != nil {
		a.pusher.Bind(rt.Bot)
	}

	sweepCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.stopSweep = cancel
	a.sweepDone = session.StartSweeper(sweepCtx, a.sessions.Backend(), a.cfg.Session.SweepInterval, a.sessions.Now)

	if a.health != nil {
		if err := a.health.Start(); err != nil {
			cancel()
			return err
		}
	}

	logger.Info(ctx, "app", "components.ready",
		slog.String("db_driver", a.cfg.Database.Driver),
		slog.Bool("push", a.bridge.Enabled()),
		slog.Bool("requote", a.cfg.Confirm.Requote),
		slog.String("gateway", a.gateway.BaseURL()),
	)
	return nil
}

// stop tears the components down in dependency order. It is safe to call more than once.
func (a *App) stop(ctx context.Context, _ coretelegram.Runtime) error {
	var errs []error
	a.stopOnce.Do(func() {
		a.bridge.Close()
		a.runner.Wait()

		if a.stopSweep != nil {
			a.stopSweep()
			<-a.sweepDone
		}

		if a.health != nil {
			hctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			if err := a.health.Shutdown(hctx); err != nil {
				errs = append(errs, fmt.Errorf("app: health shutdown: %w", err))
			}
			cancel()
		}

		a.seen.Close()
		if err := a.sessions.Dispose(); err != nil {
			errs = append(errs, fmt.Errorf("app: store dispose: %w", err))
		}
	})
	return errors.Join(errs...)
}

func tooFast(c tele.Context) error {
	if c.Callback() != nil {
		return c.Respond(&tele.CallbackResponse{Text: "Too many requests, slow down."})
	}
	return nil
}
