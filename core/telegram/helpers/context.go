package helpers

import (
	"context"

	"github.com/m3rciful/copperxbot/core/logger"

	tele "gopkg.in/telebot.v4"
)

const contextKey = "logger_ctx"

// StoreContext caches ctx on the update for later BuildContext calls.
func StoreContext(c tele.Context, ctx context.Context) {
	if c != nil && ctx != nil {
		c.Set(contextKey, ctx)
	}
}

// ContextFrom returns the context cached by StoreContext.
func ContextFrom(c tele.Context) (context.Context, bool) {
	if c == nil {
		return nil, false
	}
	ctx, ok := c.Get(contextKey).(context.Context)
	return ctx, ok && ctx != nil
}

// Participants returns the sender and chat ids of the update; 0 when absent.
func Participants(c tele.Context) (userID, chatID int64) {
	if u := c.Sender(); u != nil {
		userID = u.ID
	}
	if ch := c.Chat(); ch != nil {
		chatID = ch.ID
	}
	return userID, chatID
}

// BuildContext returns the update's logging context: rid plus update, user
// and chat ids. The result is cached on c.
func BuildContext(c tele.Context) context.Context {
	if cached, ok := ContextFrom(c); ok {
		return cached
	}
	updateID := c.Update().ID
	userID, chatID := Participants(c)

	rid, _ := c.Get("rid").(string)
	if rid == "" {
		rid = logger.BuildRID(updateID, chatID, userID)
	}
	ctx := logger.WithUpdateMeta(logger.WithRID(context.Background(), rid), updateID, userID, chatID)
	ctx = logger.WithLogger(ctx, logger.TG)
	StoreContext(c, ctx)
	return ctx
}

// WithHandler tags the update's context with the handler name.
func WithHandler(c tele.Context, handler string) context.Context {
	ctx := BuildContext(c)
	if handler != "" {
		ctx = logger.WithHandler(ctx, handler)
		StoreContext(c, ctx)
	}
	return ctx
}
