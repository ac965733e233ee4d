package helpers

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/m3rciful/copperxbot/core/logger"
	"github.com/m3rciful/copperxbot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

var globalDispatcher atomic.Pointer[sender.Dispatcher]

// SetDispatcher wires the asynchronous sender used by helper functions.
func SetDispatcher(d *sender.Dispatcher) {
	globalDispatcher.Store(d)
}

func currentDispatcher() *sender.Dispatcher {
	return globalDispatcher.Load()
}

func enqueue(ctx context.Context, action, endpoint string, run func() error) error {
	disp := currentDispatcher()
	if disp == nil {
		return run()
	}
	if err := disp.Enqueue(ctx, action, endpoint, run); err != nil {
		if errors.Is(err, sender.ErrQueueFull) || errors.Is(err, sender.ErrQueueClosed) {
			logger.Warn(ctx, "tg.sender", "queue.fallback",
				slog.String("action", action),
				slog.String("endpoint", endpoint),
				slog.String("err", err.Error()),
			)
			return run()
		}
		return err
	}
	return nil
}

// SendText sends text to the current recipient through the async sender.
func SendText(c tele.Context, text string, opts ...*tele.SendOptions) error {
	var sendOpts *tele.SendOptions
	if len(opts) > 0 {
		sendOpts = opts[0]
	}
	err := enqueue(BuildContext(c), "send.text", "sendMessage", func() error {
		if sendOpts != nil {
			return c.Send(text, sendOpts)
		}
		return c.Send(text)
	})
	if err == nil {
		countMessage(c, sendOpts)
	}
	return err
}

// SendMD sends a message with Markdown parse mode and optional reply markup.
func SendMD(c tele.Context, text string, markup ...*tele.ReplyMarkup) error {
	var rm *tele.ReplyMarkup
	if len(markup) > 0 {
		rm = markup[0]
	}
	return SendText(c, text, &tele.SendOptions{ParseMode: tele.ModeMarkdown, ReplyMarkup: rm})
}

// Messenger is the part of *tele.Bot used for pushes outside an update.
type Messenger interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// SendTo pushes a Markdown message to chatID outside of any update, e.g. a deposit notification.
func SendTo(ctx context.Context, bot Messenger, chatID int64, text string) error {
	return enqueue(ctx, "send.push", "sendMessage", func() error {
		_, err := bot.Send(tele.ChatID(chatID), text, &tele.SendOptions{ParseMode: tele.ModeMarkdown})
		return err
	})
}
