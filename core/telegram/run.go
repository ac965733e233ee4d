package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	coreconfig "github.com/m3rciful/copperxbot/core/config"
	"github.com/m3rciful/copperxbot/core/logger"
	"github.com/m3rciful/copperxbot/core/netutil"
	tghelpers "github.com/m3rciful/copperxbot/core/telegram/helpers"
	tgsender "github.com/m3rciful/copperxbot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

const stopHookTimeout = 10 * time.Second

// Middleware describes a global bot middleware to be registered via bot.Use.
type Middleware struct {
	Name string
	Use  func(next tele.HandlerFunc) tele.HandlerFunc
}

// Route binds a handler to a telebot endpoint: a command, tele.OnText, tele.OnCallback.
type Route struct {
	Endpoint any
	Handler  tele.HandlerFunc
}

// RunOptions controls RunTelegram.
type RunOptions struct {
	Config   *coreconfig.Config
	Registry *Registry

	DispatcherOptions tgsender.Options
	Dispatcher        *tgsender.Dispatcher

	Middlewares []Middleware
	Routes      []Route

	// APIURL replaces the Bot API endpoint, e.g. a local test server.
	APIURL string

	DisableWebhookCleanup   bool
	DisableHelperDispatcher bool

	OnStart func(ctx context.Context, rt Runtime) error
	OnStop  func(ctx context.Context, rt Runtime) error
}

// Runtime exposes runtime components to lifecycle hooks.
type Runtime struct {
	Bot        *tele.Bot
	Dispatcher *tgsender.Dispatcher
	Registry   *Registry
}

// RunTelegram builds the bot, runs it until ctx is done, then runs OnStop and drains the sender.
func RunTelegram(ctx context.Context, opts RunOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Config == nil {
		return fmt.Errorf("telegram: nil config provided")
	}
	cfg := opts.Config
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}

	bot, poller, err := newBot(cfg, opts.APIURL)
	if err != nil {
		return err
	}
	logMode(ctx, poller)
	if _, polling := poller.(*tele.LongPoller); polling && !opts.DisableWebhookCleanup {
		removeWebhook(ctx, bot)
	}

	dispatcher := opts.Dispatcher
	if dispatcher == nil {
		dispatcher = tgsender.NewDispatcher(opts.DispatcherOptions)
	}
	if !opts.DisableHelperDispatcher {
		tghelpers.SetDispatcher(dispatcher)
	}
	release := func() {
		dispatcher.Close()
		if !opts.DisableHelperDispatcher {
			tghelpers.SetDispatcher(nil)
		}
	}

	for _, mw := range opts.Middlewares {
		if mw.Use != nil {
			bot.Use(mw.Use)
		}
	}
	for _, route := range opts.Routes {
		if route.Endpoint != nil && route.Handler != nil {
			bot.Handle(route.Endpoint, route.Handler)
		}
	}
	InitBotCommands(bot, opts.Registry)

	rt := Runtime{Bot: bot, Dispatcher: dispatcher, Registry: opts.Registry}
	if opts.OnStart != nil {
		if err := opts.OnStart(ctx, rt); err != nil {
			release()
			return err
		}
	}

	runErr := serve(ctx, bot)

	var stopErr error
	if opts.OnStop != nil {
		// ctx is already cancelled here; hooks get a fresh bounded context.
		stopCtx, cancel := context.WithTimeout(context.Background(), stopHookTimeout)
		stopErr = opts.OnStop(stopCtx, rt)
		cancel()
	}
	release()

	if stopErr != nil {
		return stopErr
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func newBot(cfg *coreconfig.Config, apiURL string) (*tele.Bot, tele.Poller, error) {
	poller := BuildPoller(PollerOptions{
		RunMode:                cfg.Telegram.RunMode,
		LongPollTimeoutSeconds: cfg.Telegram.LongPollTimeoutSeconds,
		Webhook: WebhookOptions{
			Listen: cfg.Webhook.Listen,
			Port:   cfg.Webhook.Port,
			URL:    cfg.Webhook.URL,
			Secret: cfg.Webhook.Secret,
		},
	})

	// Long polling holds each request open for the poll timeout.
	pollWindow := time.Duration(cfg.Telegram.LongPollTimeoutSeconds) * time.Second
	if pollWindow <= 0 {
		pollWindow = defaultLongPollTimeout
	}
	client := netutil.NewHTTPClient(netutil.ClientOptions{
		Timeout:        pollWindow + 20*time.Second,
		ResponseHeader: pollWindow + 15*time.Second,
	})

	start := time.Now()
	bot, err := tele.NewBot(tele.Settings{
		URL:    apiURL,
		Token:  cfg.Telegram.Token,
		Poller: poller,
		Client: client,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("telegram: bot initialization failed: %w", err)
	}
	logger.LogEvent(logger.Background(), logger.TG, slog.LevelDebug, "bot.ready",
		slog.String("username", bot.Me.Username),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)
	return bot, poller, nil
}

func logMode(ctx context.Context, poller tele.Poller) {
	switch p := poller.(type) {
	case *tele.Webhook:
		logger.LogEvent(ctx, logger.TG, slog.LevelInfo, "mode",
			slog.String("mode", coreconfig.RunModeWebhook),
			slog.String("listen", p.Listen),
			slog.String("public_url", p.Endpoint.PublicURL),
		)
	case *tele.LongPoller:
		logger.LogEvent(ctx, logger.TG, slog.LevelInfo, "mode",
			slog.String("mode", coreconfig.RunModeLongpoll),
			slog.Duration("timeout", p.Timeout),
		)
	}
}

// removeWebhook clears a webhook left by an earlier webhook deployment; Telegram
// refuses getUpdates while one is set.
func removeWebhook(ctx context.Context, bot *tele.Bot) {
	if err := bot.RemoveWebhook(false); err != nil {
		logger.LogEvent(ctx, logger.TG, slog.LevelWarn, "webhook.delete",
			slog.String("status", "fail"),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
		return
	}
	logger.LogEvent(ctx, logger.TG, slog.LevelInfo, "webhook.delete", slog.String("status", "ok"))
}

// serve runs the bot until ctx is done or the poller stops by itself.
func serve(ctx context.Context, bot *tele.Bot) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		bot.Start()
	}()

	select {
	case <-ctx.Done():
		bot.Stop()
		<-done
		return ctx.Err()
	case <-done:
		return nil
	}
}
