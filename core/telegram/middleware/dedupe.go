package middleware

import (
	"log/slog"
	"strconv"

	"github.com/m3rciful/copperxbot/core/logger"

	tele "gopkg.in/telebot.v4"
)

// Seen is the part of dedupe.Cache the middleware needs.
type Seen interface {
	CheckAndMark(key string) bool
}

// DedupeMiddleware drops updates whose update_id was already handled,
// e.g. a webhook redelivery after a slow response.
func DedupeMiddleware(seen Seen) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			upd := c.Update()
			if seen == nil || upd.ID == 0 {
				return next(c)
			}
			if seen.CheckAndMark(strconv.Itoa(upd.ID)) {
				attrs := []slog.Attr{
					slog.String("status", "skip"),
					slog.Int("update_id", upd.ID),
				}
				if u := c.Sender(); u != nil {
					attrs = append(attrs, slog.Int64("user_id", u.ID))
				}
				logger.LogEvent(logger.Background(), logger.TG, slog.LevelDebug, "update.duplicate", attrs...)
				if upd.Callback != nil {
					return c.Respond()
				}
				return nil
			}
			return next(c)
		}
	}
}
