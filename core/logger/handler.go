package logger

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

type logFormat string

const (
	formatJSON logFormat = "json"
	formatKV   logFormat = "kv"

	timeFormatMillis = "2006-01-02T15:04:05.000Z07:00"
)

var errNoWriter = errors.New("logger: writer not initialized")

type handlerConfig struct {
	level    slog.Leveler
	writer   *asyncWriter
	format   logFormat
	keyOrder []string
}

// fields is one log line before encoding.
type fields map[string]any

func (f fields) setDefault(key string, val any) {
	if _, ok := f[key]; !ok {
		f[key] = val
	}
}

func (f fields) str(key string) string {
	switch v := f[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

type encoder func(f fields, order []string) ([]byte, error)

type structuredHandler struct {
	cfg    handlerConfig
	encode encoder
	attrs  []slog.Attr
	groups []string
}

func newStructuredHandler(cfg handlerConfig) *structuredHandler {
	if cfg.level == nil {
		cfg.level = slog.LevelInfo
	}
	if cfg.keyOrder == nil {
		cfg.keyOrder = slices.Clone(defaultKeyOrder)
	}
	h := &structuredHandler{cfg: cfg, encode: encodeKV}
	if cfg.format == formatJSON {
		h.encode = encodeJSON
	}
	return h
}

// Enabled reports whether the handler allows processing the provided level.
func (h *structuredHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.cfg.level.Level()
}

// Handle renders r as one line and hands it to the async writer.
func (h *structuredHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.cfg.writer == nil {
		return errNoWriter
	}
	isJSON := h.cfg.format == formatJSON

	f := make(fields, 16)
	ts := r.Time.UTC()
	f["ts"] = ts.Truncate(time.Millisecond).Format(timeFormatMillis)
	f["level"] = normalizeLevel(r.Level.String())
	if isJSON {
		f["ts_unix_nano"] = ts.UnixNano()
	}

	for _, a := range h.attrs {
		h.collect(f, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.collect(f, a)
		return true
	})
	addContextFields(ctx, f)

	if rid := f.str("rid"); rid != "" {
		if compact := CompactRID(rid); compact != "" && compact != rid {
			if isJSON {
				f.setDefault("rid_full", rid)
			}
			f["rid"] = compact
		}
	}
	if f.str("event") == "" {
		f["event"] = cmp.Or(r.Message, "unknown")
	}
	if f.str("component") == "" {
		f["component"] = "app"
	}

	normalizeEnums(f)
	redactSecrets(f)
	pruneEmpty(f)

	line, err := h.encode(f, h.cfg.keyOrder)
	if err != nil {
		return err
	}
	if !bytes.HasSuffix(line, []byte{'\n'}) {
		line = append(line, '\n')
	}
	return h.cfg.writer.Write(line)
}

// WithAttrs returns a copy of the handler carrying attrs on every record.
func (h *structuredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(slices.Clone(h.attrs), attrs...)
	return &clone
}

// WithGroup returns a copy of the handler that prefixes keys with name.
func (h *structuredHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(slices.Clone(h.groups), name)
	return &clone
}

func (h *structuredHandler) collect(f fields, attr slog.Attr) {
	flattenAttr(strings.Join(h.groups, "."), attr, func(key string, v slog.Value) {
		if key, val, ok := normalizeAttr(key, v); ok {
			f[key] = val
		}
	})
}

// flattenAttr walks groups depth-first and emits dotted keys.
func flattenAttr(prefix string, attr slog.Attr, emit func(string, slog.Value)) {
	key := attr.Key
	switch {
	case key == "":
		key = prefix
	case prefix != "":
		key = prefix + "." + key
	}
	if attr.Value.Kind() != slog.KindGroup {
		emit(key, attr.Value)
		return
	}
	for _, child := range attr.Value.Group() {
		flattenAttr(key, child, emit)
	}
}

func normalizeAttr(key string, val slog.Value) (string, any, bool) {
	if key == "" {
		return "", nil, false
	}
	switch val.Kind() {
	case slog.KindString:
		return key, strings.TrimSpace(val.String()), true
	case slog.KindBool:
		return key, val.Bool(), true
	case slog.KindInt64:
		return key, val.Int64(), true
	case slog.KindUint64:
		if u := val.Uint64(); u <= math.MaxInt64 {
			return key, int64(u), true
		}
		return key, val.Uint64(), true
	case slog.KindFloat64:
		return key, val.Float64(), true
	case slog.KindDuration:
		return durationKey(key), RoundMS(val.Duration()).Milliseconds(), true
	case slog.KindTime:
		return key, val.Time().UTC().Format(time.RFC3339Nano), true
	}

	switch x := val.Any().(type) {
	case nil:
		return key, nil, false
	case error:
		return key, x.Error(), true
	case string:
		return key, strings.TrimSpace(x), true
	case time.Duration:
		return durationKey(key), RoundMS(x).Milliseconds(), true
	case fmt.Stringer:
		return key, x.String(), true
	default:
		return key, fmt.Sprint(x), true
	}
}

// durationKey renames duration attributes so every emitted value is in milliseconds.
func durationKey(key string) string {
	switch {
	case key == "duration":
		return "duration_ms"
	case strings.HasSuffix(key, "_ms"):
		return key
	default:
		return key + "_ms"
	}
}

// secretKeys never reach the sink with their value.
var secretKeys = []string{"token", "otp", "api_key", "password", "auth", "signature"}

func redactSecrets(f fields) {
	for _, k := range secretKeys {
		if _, ok := f[k]; ok {
			f[k] = "<redacted>"
		}
	}
}

func pruneEmpty(f fields) {
	maps.DeleteFunc(f, func(_ string, v any) bool {
		switch val := v.(type) {
		case nil:
			return true
		case string:
			return val == ""
		case fmt.Stringer:
			return val.String() == ""
		}
		return false
	})
}

// orderedKeys lists the configured keys first, then the rest alphabetically.
func orderedKeys(f fields, order []string) []string {
	keys := make([]string, 0, len(f))
	for _, key := range order {
		if _, ok := f[key]; ok {
			keys = append(keys, key)
		}
	}
	rest := maps.Clone(f)
	for _, key := range keys {
		delete(rest, key)
	}
	return append(keys, slices.Sorted(maps.Keys(rest))...)
}

func encodeJSON(f fields, order []string) ([]byte, error) {
	buf := make([]byte, 0, 256)
	buf = append(buf, '{')
	for i, key := range orderedKeys(f, order) {
		data, err := json.Marshal(f[key])
		if err != nil {
			return nil, fmt.Errorf("logger: encode %s: %w", key, err)
		}
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendQuote(buf, key)
		buf = append(buf, ':')
		buf = append(buf, data...)
	}
	return append(buf, '}'), nil
}

func encodeKV(f fields, order []string) ([]byte, error) {
	buf := make([]byte, 0, 256)
	for i, key := range orderedKeys(f, order) {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = append(buf, key...)
		buf = append(buf, '=')
		buf = appendKVValue(buf, f[key])
	}
	return buf, nil
}

func appendKVValue(buf []byte, val any) []byte {
	switch v := val.(type) {
	case bool:
		return strconv.AppendBool(buf, v)
	case int64:
		return strconv.AppendInt(buf, v, 10)
	case float64:
		return strconv.AppendFloat(buf, v, 'g', -1, 64)
	}
	s := fmt.Sprint(val)
	if strings.ContainsFunc(s, needsQuote) {
		return strconv.AppendQuote(buf, s)
	}
	return append(buf, s...)
}

func needsQuote(r rune) bool {
	return r <= ' ' || r == '=' || r == '"'
}

// contextFields lists the request-scoped values copied from ctx unless the record sets them.
var contextFields = []struct {
	key string
	get func(context.Context) any
}{
	{"rid", func(ctx context.Context) any { return RIDFrom(ctx) }},
	{"step", func(ctx context.Context) any { return StepFrom(ctx) }},
	{"user_id", func(ctx context.Context) any { return nonZero(UserIDFrom(ctx)) }},
	{"update_id", func(ctx context.Context) any { return nonZero(UpdateIDFrom(ctx)) }},
	{"chat_id", func(ctx context.Context) any { return nonZero(ChatIDFrom(ctx)) }},
	{"handler", func(ctx context.Context) any { return HandlerFrom(ctx) }},
}

func addContextFields(ctx context.Context, f fields) {
	if ctx == nil {
		return
	}
	for _, cf := range contextFields {
		if v := cf.get(ctx); v != nil && v != "" {
			f.setDefault(cf.key, v)
		}
	}
}

func nonZero[T int | int64](v T) any {
	if v == 0 {
		return nil
	}
	return int64(v)
}
