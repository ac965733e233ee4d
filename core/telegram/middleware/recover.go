package middleware

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/m3rciful/copperxbot/core/logger"
	tghelpers "github.com/m3rciful/copperxbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// RecoverMiddleware turns a handler panic into an error so one bad update cannot stop the bot.
func RecoverMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) (err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			attrs := []slog.Attr{
				slog.String("status", "fail"),
				slog.String("err", fmt.Sprint(r)),
			}
			if logger.StacksEnabled() {
				attrs = append(attrs, slog.String("stack", string(debug.Stack())))
			}
			logger.LogEvent(tghelpers.BuildContext(c), logger.TG, slog.LevelError, "tg.panic", attrs...)
			err = fmt.Errorf("handler panic: %v", r)
		}()
		return next(c)
	}
}
