package middleware

import (
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/m3rciful/copperxbot/core/dedupe"
	"github.com/m3rciful/copperxbot/core/logger"
	"github.com/m3rciful/copperxbot/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/copperxbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// receipts remembers update IDs whose receipt line was already written.
var receipts = dedupe.New(dedupe.Options{TTL: 10 * time.Second, MaxSize: 4096, CleanupInterval: 30 * time.Second})

func alreadyLogged(updateID int) bool {
	return receipts.CheckAndMark(strconv.Itoa(updateID))
}

// LoggerMiddleware builds the request context (rid, update and user ids) for
// downstream handlers and writes a sampled update.received line once per update.
func LoggerMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		upd := c.Update()
		userID, chatID := tghelpers.Participants(c)

		rid := logger.BuildRID(upd.ID, chatID, userID)
		c.Set("rid", rid)
		c.Set("update_start", time.Now())

		ctx := logger.WithUpdateMeta(logger.WithRID(logger.Background(), rid), upd.ID, userID, chatID)
		ctx = logger.WithLogger(ctx, logger.TG)
		tghelpers.StoreContext(c, ctx)

		if logger.ShouldSampleDebug() && !alreadyLogged(upd.ID) {
			logger.LogEvent(ctx, logger.TG, slog.LevelDebug, "update.received", receiptAttrs(c)...)
		}
		return next(c)
	}
}

// receiptAttrs describes the update without its free text, which may carry an OTP or an email.
func receiptAttrs(c tele.Context) []slog.Attr {
	attrs := []slog.Attr{slog.String("status", "ok")}
	if ch := c.Chat(); ch != nil {
		attrs = append(attrs, slog.String("chat_type", string(ch.Type)))
	}
	if u := c.Sender(); u != nil {
		attrs = append(attrs,
			slog.String("username", logger.SanitizeLimit(u.Username, 64)),
			slog.String("lang", u.LanguageCode),
		)
	}

	upd := c.Update()
	switch {
	case upd.Callback != nil:
		key, payload := callbacks.ParseCallbackData(upd.Callback)
		attrs = append(attrs,
			slog.String("cb_key", logger.SanitizeLimit(key, 128)),
			slog.String("payload", logger.SanitizeLimit(payload, 256)),
		)
	case upd.Message != nil:
		if text := c.Text(); strings.HasPrefix(text, "/") {
			attrs = append(attrs, slog.String("payload", logger.SanitizeLimit(text, 64)))
		} else if text != "" {
			attrs = append(attrs, slog.Int("text_len", len(text)))
		}
	}
	return attrs
}
