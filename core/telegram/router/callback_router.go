package router

import (
	"log/slog"
	"time"

	tg "github.com/m3rciful/copperxbot/core/telegram"
	"github.com/m3rciful/copperxbot/core/telegram/callbacks"

	tele "gopkg.in/telebot.v4"
)

// CallbackOptions customises fallback behaviour for callbacks.
type CallbackOptions struct {
	NotFound tele.HandlerFunc
}

// CallbackRoute returns a handler that routes callbacks through the registry.
// The query is answered before the handler runs, so the button spinner always stops.
func CallbackRoute(reg *tg.Registry, opts CallbackOptions) tg.Route {
	handler := func(c tele.Context) error {
		start := time.Now()
		if c.Callback() == nil {
			return nil
		}

		key, payload := callbacks.ParseCallbackData(c.Callback())
		route := callbacks.Route(key, payload)

		matched, cbHandler, args, ok := reg.MatchCallback(key, route)
		if !ok || cbHandler == nil {
			fallback := firstHandler(reg.CallbackNotFound(), opts.NotFound)
			return summarize(c, "callback."+normalizeHandlerName(key), start, func() error {
				if fallback != nil {
					return fallback(c)
				}
				return c.Respond()
			}, slog.String("cb_key", key), slog.String("reason", "not_found"))
		}

		_ = c.Respond()
		callbacks.SetArgs(c, args)
		return summarize(c, "callback."+normalizeHandlerName(matched), start, func() error {
			return cbHandler(c)
		}, slog.String("cb_key", key))
	}
	return tg.Route{Endpoint: tele.OnCallback, Handler: wrap(handler)}
}

func firstHandler(handlers ...tele.HandlerFunc) tele.HandlerFunc {
	for _, h := range handlers {
		if h != nil {
			return h
		}
	}
	return nil
}
