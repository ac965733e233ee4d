package router

import (
	"context"
	"time"

	tg "github.com/m3rciful/copperxbot/core/telegram"
	tghelpers "github.com/m3rciful/copperxbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// Conversation receives free text while a user is inside a multi-step flow.
type Conversation interface {
	InProgress(ctx context.Context, userID int64) (bool, error)
	HandleText(c tele.Context) error
}

// TextOptions controls fallback behaviour for text updates.
type TextOptions struct {
	// UnknownText runs for text outside a flow. When nil such text is ignored.
	UnknownText tele.HandlerFunc
}

// TextRoutes builds the handler for plain text messages. Commands never reach it,
// telebot routes them to their own endpoints.
func TextRoutes(conv Conversation, opts TextOptions) []tg.Route {
	handler := func(c tele.Context) error {
		start := time.Now()
		sender := c.Sender()
		if sender == nil {
			return nil
		}

		if conv != nil {
			active, err := conv.InProgress(tghelpers.BuildContext(c), sender.ID)
			if err != nil {
				logSummary(c, "conversation", start, resultOf(err), err)
				return err
			}
			if active {
				return summarize(c, "conversation", start, func() error { return conv.HandleText(c) })
			}
		}

		if opts.UnknownText != nil {
			return summarize(c, "unknown_text", start, func() error { return opts.UnknownText(c) })
		}
		logSummary(c, "unknown_text", start, skipped, nil)
		return nil
	}

	return []tg.Route{{Endpoint: tele.OnText, Handler: wrap(handler)}}
}
