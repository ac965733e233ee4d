package router

import (
	"log/slog"
	"time"

	"github.com/m3rciful/copperxbot/core/logger"
	tg "github.com/m3rciful/copperxbot/core/telegram"

	tele "gopkg.in/telebot.v4"
)

// CommandRoutes returns one route per registered command.
func CommandRoutes(reg *tg.Registry) []tg.Route {
	if reg == nil {
		return nil
	}

	routes := make([]tg.Route, 0, len(reg.Commands()))
	for cmd, def := range reg.Commands() {
		name, h := "command."+normalizeHandlerName(cmd), def.Handler
		routes = append(routes, tg.Route{
			Endpoint: cmd,
			Handler: wrap(func(c tele.Context) error {
				return summarize(c, name, time.Now(), func() error { return h(c) })
			}),
		})
	}

	logger.LogEvent(logger.Background(), logger.TWire, slog.LevelInfo, "routes.ready",
		slog.Int("commands", len(routes)),
		slog.Int("callbacks", len(reg.ListCallbacks())),
	)

	return routes
}
