package logger

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/m3rciful/copperxbot/core/buildinfo"
	coreconfig "github.com/m3rciful/copperxbot/core/config"
)

var (
	initOnce   sync.Once
	shutdownMu sync.Mutex
	shutDown   bool

	logWriter  *asyncWriter
	logClosers []io.Closer

	levelVar slog.LevelVar

	debugSampler  = newRatioSampler(1, 50)
	traceOverride bool
	stacksEnabled bool

	// L is the root logger; prefer the context-aware helpers below.
	L *slog.Logger

	// Component loggers, rebuilt from L by InitLogger.
	DB, MIG                       *slog.Logger
	TG, TWire                     *slog.Logger
	Wizard, Gateway, Notify, HTTP *slog.Logger
)

var components = []struct {
	dst  **slog.Logger
	name string
}{
	{&DB, "db"},
	{&MIG, "db.migrate"},
	{&TG, "tg"},
	{&TWire, "tg.wire"},
	{&Wizard, "wizard"},
	{&Gateway, "gateway"},
	{&Notify, "notify"},
	{&HTTP, "health"},
}

func init() {
	// Component loggers stay usable before InitLogger, e.g. in tests.
	L = slog.Default()
	wireComponents()
}

// InitLogger configures the global structured logger. Only the first call has an effect.
func InitLogger(cfg *coreconfig.Config) error {
	var err error
	initOnce.Do(func() { err = install(cfg) })
	return err
}

func install(cfg *coreconfig.Config) error {
	outputs, closers, err := buildOutputs(cfg)
	if err != nil {
		return err
	}
	levelVar.Set(selectLevel(cfg))
	debugSampler.Set(parseDebugSample(cfg))
	traceOverride = detectTraceFlag()
	stacksEnabled = selectStacks(cfg)

	logClosers = closers
	logWriter = newAsyncWriter(outputs, 64*1024)
	L = slog.New(newStructuredHandler(handlerConfig{
		level:    &levelVar,
		writer:   logWriter,
		format:   selectFormat(cfg),
		keyOrder: selectKeyOrder(cfg),
	}))
	slog.SetDefault(L)
	wireComponents()

	attrs := []slog.Attr{
		slog.String("go_version", runtime.Version()),
		slog.String("build_version", buildinfo.Version),
		slog.String("build_commit", buildinfo.Commit),
		slog.String("build_time", buildinfo.Date),
	}
	if cfg != nil {
		attrs = append(attrs, slog.String("cfg_profile", selectProfile(cfg)))
	}
	Info(Background(), "app", "startup", attrs...)
	return nil
}

func wireComponents() {
	for _, c := range components {
		*c.dst = L.With("component", c.name)
	}
}

// Shutdown drains buffered log output and closes opened sinks.
func Shutdown() error {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if shutDown {
		return nil
	}
	shutDown = true

	var errs []error
	if logWriter != nil {
		errs = append(errs, logWriter.Close())
	}
	for _, c := range logClosers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func selectFormat(cfg *coreconfig.Config) logFormat {
	if cfg == nil {
		return formatJSON
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Format)) {
	case "kv", "text", "pretty":
		return formatKV
	case "json":
		return formatJSON
	}
	// Without an explicit format, dev profiles get the human-readable one.
	switch selectProfile(cfg) {
	case "debug", "dev":
		return formatKV
	}
	return formatJSON
}

func selectKeyOrder(cfg *coreconfig.Config) []string {
	var raw string
	if cfg != nil {
		raw = strings.TrimSpace(cfg.Logging.KeysOrder)
	}
	order := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' })
	if len(order) == 0 || (len(order) == 1 && order[0] == "default") {
		return append([]string(nil), defaultKeyOrder...)
	}
	return order
}

// selectLevel accepts the slog level names plus "warning"; anything else means info.
func selectLevel(cfg *coreconfig.Config) slog.Level {
	if cfg == nil {
		return slog.LevelInfo
	}
	raw := strings.TrimSpace(cfg.Logging.Level)
	if strings.EqualFold(raw, "warning") {
		return slog.LevelWarn
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// buildOutputs always writes to stdout. A log file that cannot be opened is reported and skipped.
func buildOutputs(cfg *coreconfig.Config) ([]io.Writer, []io.Closer, error) {
	writers := []io.Writer{os.Stdout}
	if cfg == nil {
		return writers, nil, nil
	}
	dir := strings.TrimSpace(cfg.Logging.Dir)
	file := strings.TrimSpace(cfg.Logging.BotFile)
	if dir == "" || file == "" {
		return writers, nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("logger: create log dir %s: %v", dir, err)
		return writers, nil, nil
	}
	path := filepath.Join(dir, file)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Printf("logger: open log file %s: %v", path, err)
		return writers, nil, nil
	}
	return append(writers, f), []io.Closer{f}, nil
}

func selectProfile(cfg *coreconfig.Config) string {
	if cfg == nil {
		return ""
	}
	if profile := strings.TrimSpace(cfg.Logging.Profile); profile != "" {
		return strings.ToLower(profile)
	}
	return "prod"
}

// Background returns a bare context for call sites outside an update.
func Background() context.Context {
	return context.Background()
}

// LogEvent writes a message-less record whose "event" attribute carries the name.
func LogEvent(ctx context.Context, logg *slog.Logger, level slog.Level, event string, attrs ...slog.Attr) {
	if logg == nil {
		if logg = FromContext(ctx); logg == nil {
			return
		}
	}
	if event != "" {
		attrs = append([]slog.Attr{slog.String("event", event)}, attrs...)
	}
	logg.LogAttrs(ctx, level, "", attrs...)
}

// Component returns L scoped to the given component name.
func Component(name string) *slog.Logger {
	if name = strings.TrimSpace(name); name == "" {
		return L
	}
	return L.With("component", name)
}

// Event logs event under component.
func Event(ctx context.Context, component string, level slog.Level, event string, attrs ...slog.Attr) {
	LogEvent(ctx, Component(component), level, event, attrs...)
}

// Debug logs a debug-level event for the given component.
func Debug(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelDebug, event, attrs...)
}

// Info logs an info-level event for the given component.
func Info(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelInfo, event, attrs...)
}

// Warn logs a warn-level event for the given component.
func Warn(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelWarn, event, attrs...)
}

// Error logs an error-level event for the given component.
func Error(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelError, event, attrs...)
}

func parseDebugSample(cfg *coreconfig.Config) (int, int) {
	if cfg == nil {
		return 1, 50
	}
	spec := strings.TrimSpace(cfg.Logging.DebugSample)
	if spec == "" {
		return 1, 50
	}
	num, den := parseRatioSpec(spec)
	if num == 0 && den == 0 {
		return 0, 0
	}
	if num <= 0 || den <= 0 {
		return 1, 50
	}
	return num, den
}

func detectTraceFlag() bool {
	return isTruthy(os.Getenv("TRACE")) || isTruthy(os.Getenv("LOG_TRACE"))
}

func isTruthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

// ShouldSampleDebug reports whether debug-level details should be logged for high-volume events.
func ShouldSampleDebug() bool {
	if traceOverride {
		return true
	}
	return debugSampler.Allow()
}

// TraceEnabled indicates whether trace override is forcing full debug output.
func TraceEnabled() bool {
	return traceOverride
}

// StacksEnabled reports whether panic logs should include goroutine stacks.
func StacksEnabled() bool {
	return stacksEnabled
}

func selectStacks(cfg *coreconfig.Config) bool {
	if cfg == nil {
		return true
	}
	raw := strings.TrimSpace(cfg.Logging.Stacks)
	if raw == "" {
		return !strings.EqualFold(selectProfile(cfg), "prod")
	}
	return isTruthy(raw)
}
