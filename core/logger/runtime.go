package logger

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// contextKey is a private type to avoid collisions in context.
type contextKey string

const (
	ctxRID      contextKey = "rid"
	ctxUpdateID contextKey = "update_id"
	ctxUserID   contextKey = "user_id"
	ctxChatID   contextKey = "chat_id"
	ctxLogger   contextKey = "logger"
	ctxHandler  contextKey = "handler"
	ctxStep     contextKey = "step"
)

// WithLogger stores log in ctx so LogEvent picks it when no component logger is given.
func WithLogger(ctx context.Context, log *slog.Logger) context.Context {
	if log == nil {
		return orBackground(ctx)
	}
	return context.WithValue(orBackground(ctx), ctxLogger, log)
}

// FromContext returns the logger stored by WithLogger, or the root logger.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := valueOf[*slog.Logger](ctx, ctxLogger); ok && l != nil {
		return l
	}
	return L
}

// WithRID attaches the request correlation id.
func WithRID(ctx context.Context, rid string) context.Context {
	return context.WithValue(orBackground(ctx), ctxRID, rid)
}

// RIDFrom returns the correlation id or "".
func RIDFrom(ctx context.Context) string {
	rid, _ := valueOf[string](ctx, ctxRID)
	return rid
}

// WithUpdateMeta attaches the update, user and chat identifiers.
func WithUpdateMeta(ctx context.Context, updateID int, userID, chatID int64) context.Context {
	ctx = context.WithValue(orBackground(ctx), ctxUpdateID, updateID)
	ctx = context.WithValue(ctx, ctxUserID, userID)
	return context.WithValue(ctx, ctxChatID, chatID)
}

// WithHandler records the handler serving the update.
func WithHandler(ctx context.Context, handler string) context.Context {
	if handler == "" {
		return orBackground(ctx)
	}
	return context.WithValue(orBackground(ctx), ctxHandler, handler)
}

// HandlerFrom returns the handler stored by WithHandler.
func HandlerFrom(ctx context.Context) string {
	h, _ := valueOf[string](ctx, ctxHandler)
	return h
}

// WithStep records the conversation step a turn started from.
func WithStep(ctx context.Context, step string) context.Context {
	if step == "" {
		return orBackground(ctx)
	}
	return context.WithValue(orBackground(ctx), ctxStep, step)
}

// StepFrom returns the conversation step stored by WithStep.
func StepFrom(ctx context.Context) string {
	step, _ := valueOf[string](ctx, ctxStep)
	return step
}

// UserIDFrom returns the Telegram user id or 0.
func UserIDFrom(ctx context.Context) int64 {
	return int64From(ctx, ctxUserID)
}

// ChatIDFrom returns the chat id or 0.
func ChatIDFrom(ctx context.Context) int64 {
	return int64From(ctx, ctxChatID)
}

// UpdateIDFrom returns the update id or 0.
func UpdateIDFrom(ctx context.Context) int {
	return int(int64From(ctx, ctxUpdateID))
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func valueOf[T any](ctx context.Context, key contextKey) (T, bool) {
	var zero T
	if ctx == nil {
		return zero, false
	}
	v, ok := ctx.Value(key).(T)
	return v, ok
}

func int64From(ctx context.Context, key contextKey) int64 {
	if ctx == nil {
		return 0
	}
	switch id := ctx.Value(key).(type) {
	case int64:
		return id
	case int:
		return int64(id)
	}
	return 0
}

// Sanitize drops control and format runes except tab and newline.
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case unicode.IsControl(r), unicode.Is(unicode.Cf, r):
			return -1
		}
		return r
	}, s)
}

// SanitizeLimit applies Sanitize and keeps at most max runes.
func SanitizeLimit(s string, max int) string {
	if max <= 0 {
		return ""
	}
	cleaned := Sanitize(s)
	if utf8.RuneCountInString(cleaned) <= max {
		return cleaned
	}
	return string([]rune(cleaned)[:max])
}

// BuildRID returns a correlation identifier in the format updateID:chatID:userID.
func BuildRID(updateID int, chatID, userID int64) string {
	return fmt.Sprintf("%d:%d:%d", updateID, chatID, userID)
}

// CompactRID shortens colon-separated RID into base36 segments for readability.
// When the input does not match the expected format it is returned unchanged.
func CompactRID(rid string) string {
	rid = strings.TrimSpace(rid)
	if rid == "" {
		return ""
	}
	parts := strings.Split(rid, ":")
	if len(parts) != 3 {
		return rid
	}
	compact := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return rid
		}
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return rid
		}
		compact = append(compact, strings.ToLower(strconv.FormatInt(n, 36)))
	}
	return strings.Join(compact, ".")
}
