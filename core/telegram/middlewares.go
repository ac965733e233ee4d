package telegram

import (
	"strings"
	"time"

	coreconfig "github.com/m3rciful/copperxbot/core/config"
	"github.com/m3rciful/copperxbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// MiddlewareOptions feeds DefaultMiddlewares.
type MiddlewareOptions struct {
	// Seen enables update_id deduplication when set.
	Seen      middleware.Seen
	OnLimited tele.HandlerFunc
}

// DefaultMiddlewares builds the shared chain: recover, dedupe, rate limit, logger, metrics.
func DefaultMiddlewares(cfg *coreconfig.Config, opts MiddlewareOptions) []Middleware {
	mws := []Middleware{
		{Name: "recover", Use: middleware.RecoverMiddleware},
	}
	if opts.Seen != nil {
		mws = append(mws, Middleware{Name: "dedupe", Use: middleware.DedupeMiddleware(opts.Seen)})
	}

	if cfg != nil {
		interval := time.Duration(cfg.RateLimit.IntervalMS) * time.Millisecond
		if interval > 0 {
			ex := make(map[string]struct{}, len(cfg.RateLimit.ExcludeUpdates))
			for _, t := range cfg.RateLimit.ExcludeUpdates {
				ex[strings.ToLower(t)] = struct{}{}
			}
			mws = append(mws, Middleware{
				Name: "rate_limit",
				Use: middleware.RateLimitMiddleware(middleware.RateLimitOptions{
					Interval:  interval,
					Exclude:   ex,
					OnLimited: opts.OnLimited,
				}),
			})
		}
	}

	mws = append(mws,
		Middleware{Name: "logger", Use: middleware.LoggerMiddleware},
		Middleware{Name: "metrics", Use: middleware.MessageMetricsMiddleware},
	)

	return mws
}
