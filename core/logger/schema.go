package logger

import (
	"slices"
	"strings"
)

// Level names as they appear in the "level" field.
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
	LevelFatal = "FATAL"
)

var levelNames = map[string]string{
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"warn":    LevelWarn,
	"warning": LevelWarn,
	"error":   LevelError,
	"fatal":   LevelFatal,
}

func normalizeLevel(level string) string {
	if level == "" {
		return LevelInfo
	}
	if name, ok := levelNames[strings.ToLower(level)]; ok {
		return name
	}
	return strings.ToUpper(level)
}

// enum is a field restricted to a fixed vocabulary. Unknown values are kept
// verbatim when keepUnknown is set and dropped otherwise.
type enum struct {
	values      []string
	keepUnknown bool
}

var enums = map[string]enum{
	"status":  {values: []string{"ok", "fail", "skip", "retry", "rate_limited", "cancelled"}, keepUnknown: true},
	"outcome": {values: []string{"ok", "fail", "cancelled", "rate_limited"}},
	"cache":   {values: []string{"hit", "miss", "refresh"}},
}

func normalizeEnums(f fields) {
	for key, e := range enums {
		raw := f.str(key)
		if raw == "" {
			continue
		}
		v := strings.ToLower(strings.TrimSpace(raw))
		switch {
		case slices.Contains(e.values, v):
			f[key] = v
		case e.keepUnknown:
			f[key] = raw
		default:
			delete(f, key)
		}
	}
}

var defaultKeyOrder = []string{
	"ts",
	"level",
	"component",
	"event",
	"status",
	"rid",
	"rid_full",
	"ts_unix_nano",
	"update_id",
	"user_id",
	"chat_id",
	"chat_type",
	"handler",
	"step",
	"next_step",
	"action",
	"cb_key",
	"outcome",
	"duration_ms",
	"messages",
	"kb",
	"answered",
	"method",
	"path",
	"http_code",
	"pending_id",
	"kind",
	"wallet_id",
	"org_id",
	"channel",
	"count",
	"page",
	"payload",
	"lang",
	"username",
	"mode",
	"listen",
	"public_url",
	"driver",
	"db",
	"host",
	"port",
	"err",
	"err_code",
	"cause",
	"retryable",
	"attempt",
	"attempts",
	"backoff_ms",
	"rate_limited",
	"swept",
}
