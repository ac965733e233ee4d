package router

import (
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/m3rciful/copperxbot/core/logger"
	tghelpers "github.com/m3rciful/copperxbot/core/telegram/helpers"
	"github.com/m3rciful/copperxbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// result is the status/outcome pair of a handler.handled line.
type result struct {
	status  string
	outcome string
}

var skipped = result{status: "skip", outcome: "ok"}

func resultOf(err error) result {
	if err != nil {
		return result{status: "fail", outcome: "fail"}
	}
	return result{status: "ok", outcome: "ok"}
}

// wrap applies the per-route middleware every router shares.
func wrap(h tele.HandlerFunc) tele.HandlerFunc {
	return middleware.RecoverMiddleware(middleware.LoggerMiddleware(h))
}

// summarize runs fn as handler and writes its summary line.
func summarize(c tele.Context, handler string, start time.Time, fn func() error, extras ...slog.Attr) error {
	tghelpers.WithHandler(c, handler)
	err := fn()
	logSummary(c, handler, start, resultOf(err), err, extras...)
	return err
}

func logSummary(c tele.Context, handler string, start time.Time, res result, err error, extras ...slog.Attr) {
	counters := tghelpers.CountersFrom(c)
	attrs := []slog.Attr{
		slog.String("status", res.status),
		slog.String("handler", handler),
		slog.String("outcome", res.outcome),
		slog.Int("messages", counters.Messages()),
		slog.Bool("kb", counters.Keyboard()),
		slog.Duration("duration", time.Since(start)),
	}
	if c.Callback() != nil {
		attrs = append(attrs, slog.Bool("answered", counters.Answered()))
	}
	if err != nil {
		attrs = append(attrs,
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			slog.String("err_code", errorCode(err)),
		)
	}
	logger.LogEvent(tghelpers.WithHandler(c, handler), logger.TG, slog.LevelInfo, "handler.handled", append(attrs, extras...)...)
}

var handlerNameReplacer = strings.NewReplacer(" ", "_", "|", "_")

func normalizeHandlerName(name string) string {
	name = strings.TrimPrefix(strings.TrimSpace(name), "/")
	if name == "" {
		return "unknown"
	}
	return strings.ToLower(handlerNameReplacer.Replace(name))
}

// errorCode prefers a Code() string anywhere in the chain, then the error's type name.
func errorCode(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		if code := strings.TrimSpace(coded.Code()); code != "" {
			return strings.ToUpper(strings.ReplaceAll(code, " ", "_"))
		}
	}
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if name := t.Name(); name != "" {
		return strings.ToUpper(name)
	}
	return "UNKNOWN_ERROR"
}
