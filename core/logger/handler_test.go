package logger

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

// render logs one event through a fresh handler and returns the written line.
func render(t *testing.T, format logFormat, ctx context.Context, component string, level slog.Level, event string, attrs ...slog.Attr) string {
	t.Helper()
	buf := &bytes.Buffer{}
	aw := newAsyncWriter([]io.Writer{buf}, 1024)
	handler := newStructuredHandler(handlerConfig{
		level:  slog.LevelDebug,
		writer: aw,
		format: format,
	})
	LogEvent(ctx, slog.New(handler).With("component", component), level, event, attrs...)
	if err := aw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatal("expected a log line")
	}
	return line
}

func assertInOrder(t *testing.T, line string, parts ...string) {
	t.Helper()
	pos := -1
	for _, p := range parts {
		idx := strings.Index(line, p)
		if idx == -1 || idx < pos {
			t.Fatalf("%s missing or out of order in %s", p, line)
		}
		pos = idx
	}
}

func TestStructuredHandlerKVOrder(t *testing.T) {
	ctx := WithUpdateMeta(WithRID(Background(), "rid-123"), 42, 7, 9)
	line := render(t, formatKV, ctx, "app", slog.LevelInfo, "test.event",
		slog.String("status", "ok"),
		slog.String("cause", "unit"),
	)

	tokens := strings.Split(line, " ")
	want := []string{"ts=", "level=INFO", "component=app", "event=test.event", "status=ok", "rid=rid-123"}
	if len(tokens) < len(want) {
		t.Fatalf("unexpected token count: %d (%s)", len(tokens), line)
	}
	for i, prefix := range want {
		if !strings.HasPrefix(tokens[i], prefix) {
			t.Fatalf("token %d = %s, expected prefix %s", i, tokens[i], prefix)
		}
	}
}

func TestStructuredHandlerJSONOrder(t *testing.T) {
	ctx := WithUpdateMeta(WithRID(Background(), "rid-json"), 11, 22, 33)
	line := render(t, formatJSON, ctx, "gateway", slog.LevelError, "request.failed",
		slog.String("status", "fail"),
		slog.String("err", "boom"),
		slog.String("err_code", "HTTP_502"),
	)
	assertInOrder(t, line, `{"ts":`, `"level":"ERROR"`, `"component":"gateway"`, `"event":"request.failed"`, `"status":"fail"`, `"rid":"rid-json"`)
}

func TestStructuredHandlerCompactRID(t *testing.T) {
	cases := []struct {
		format   logFormat
		raw      string
		want     string
		fullSeen bool
	}{
		{formatKV, "123:456:789", "rid=" + CompactRID("123:456:789"), false},
		{formatJSON, "12:34:56", `"rid":"` + CompactRID("12:34:56") + `"`, true},
	}
	for _, tc := range cases {
		line := render(t, tc.format, WithRID(Background(), tc.raw), "app", slog.LevelInfo, "rid.test")
		if !strings.Contains(line, tc.want) {
			t.Fatalf("%s: expected %s in %s", tc.format, tc.want, line)
		}
		if got := strings.Contains(line, "rid_full"); got != tc.fullSeen {
			t.Fatalf("%s: rid_full present = %v in %s", tc.format, got, line)
		}
	}
}

func TestStructuredHandlerRedactsSecretsAndAddsStep(t *testing.T) {
	line := render(t, formatKV, WithStep(Background(), "login_otp"), "wizard", slog.LevelDebug, "wizard.transition",
		slog.String("token", "secret-bearer"),
		slog.String("otp", "123456"),
		slog.Duration("gateway_duration", 1500*time.Microsecond),
	)
	if strings.Contains(line, "secret-bearer") || strings.Contains(line, "123456") {
		t.Fatalf("secret leaked into log line: %s", line)
	}
	if !strings.Contains(line, "step=login_otp") {
		t.Fatalf("expected step from context, got %s", line)
	}
	if !strings.Contains(line, "gateway_duration_ms=2") {
		t.Fatalf("expected normalized duration key, got %s", line)
	}
}

func TestStructuredHandlerEnums(t *testing.T) {
	line := render(t, formatKV, Background(), "tg", slog.LevelInfo, "handler.handled",
		slog.String("status", "SKIP"),
		slog.String("outcome", "exploded"),
		slog.String("cache", "Hit"),
	)
	if !strings.Contains(line, "status=skip") || !strings.Contains(line, "cache=hit") {
		t.Fatalf("expected lowercased enums, got %s", line)
	}
	if strings.Contains(line, "outcome=") {
		t.Fatalf("unknown outcome should be dropped, got %s", line)
	}
}

func TestStructuredHandlerQuotesAndGroups(t *testing.T) {
	line := render(t, formatKV, Background(), "app", slog.LevelInfo, "kv.test",
		slog.String("err", `bad "thing" happened`),
		slog.Group("db", slog.String("driver", "sqlite")),
		slog.String("empty", ""),
	)
	if !strings.Contains(line, `err="bad \"thing\" happened"`) {
		t.Fatalf("expected quoted value, got %s", line)
	}
	if !strings.Contains(line, "db.driver=sqlite") {
		t.Fatalf("expected dotted group key, got %s", line)
	}
	if strings.Contains(line, "empty=") {
		t.Fatalf("empty values should be pruned, got %s", line)
	}
}

func TestDurationKey(t *testing.T) {
	cases := map[string]string{
		"duration":         "duration_ms",
		"startup_duration": "startup_duration_ms",
		"elapsed_ms":       "elapsed_ms",
		"delay":            "delay_ms",
	}
	for in, want := range cases {
		if got := durationKey(in); got != want {
			t.Fatalf("durationKey(%q) = %q, want %q", in, got, want)
		}
	}
}
