package middleware

import (
	"log/slog"
	"sync"
	"time"

	coreconfig "github.com/m3rciful/copperxbot/core/config"
	"github.com/m3rciful/copperxbot/core/logger"

	tele "gopkg.in/telebot.v4"
)

// RateLimitOptions configures behaviour of the rate limit middleware.
type RateLimitOptions struct {
	Interval time.Duration
	// Exclude lists update kinds, as returned by UpdateKind, that bypass the limit.
	Exclude   map[string]struct{}
	OnLimited tele.HandlerFunc
	Now       func() time.Time
}

// UpdateKind classifies an update for rate limit exclusions.
func UpdateKind(upd tele.Update) string {
	switch {
	case upd.Callback != nil:
		return coreconfig.UpdateCallback
	case upd.Message != nil:
		return coreconfig.UpdateMessage
	}
	return "other"
}

// RateLimitMiddleware enforces a minimum interval between updates from the same user.
func RateLimitMiddleware(opts RateLimitOptions) tele.MiddlewareFunc {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	var (
		mu       sync.Mutex
		lastSeen = make(map[int64]time.Time)
		pruned   time.Time
	)
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			user := c.Sender()
			if user == nil || opts.Interval <= 0 {
				return next(c)
			}
			kind := UpdateKind(c.Update())
			if _, skip := opts.Exclude[kind]; skip {
				return next(c)
			}

			t := now()
			mu.Lock()
			if t.Sub(pruned) > time.Minute {
				for id, seen := range lastSeen {
					if t.Sub(seen) >= opts.Interval {
						delete(lastSeen, id)
					}
				}
				pruned = t
			}
			last, ok := lastSeen[user.ID]
			limited := ok && t.Sub(last) < opts.Interval
			if !limited {
				lastSeen[user.ID] = t
			}
			mu.Unlock()

			if !limited {
				return next(c)
			}
			attrs := []slog.Attr{
				slog.String("status", "skip"),
				slog.String("kind", kind),
				slog.Int64("user_id", user.ID),
			}
			if chat := c.Chat(); chat != nil {
				attrs = append(attrs, slog.Int64("chat_id", chat.ID))
			}
			logger.LogEvent(logger.Background(), logger.TG, slog.LevelWarn, "tg.rate_limit", attrs...)
			// A callback is answered exactly once: by OnLimited when set, here otherwise.
			switch {
			case opts.OnLimited != nil:
				return opts.OnLimited(c)
			case kind == coreconfig.UpdateCallback:
				return c.Respond()
			}
			return nil
		}
	}
}
