package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/m3rciful/copperxbot/core/logger"
	"github.com/m3rciful/copperxbot/core/telegram/commands"

	tele "gopkg.in/telebot.v4"
)

type callbackPattern struct {
	name    string
	re      *regexp.Regexp
	handler tele.HandlerFunc
}

// Registry holds bot commands and callbacks.
type Registry struct {
	commands         map[string]commands.Command
	callbacks        map[string]tele.HandlerFunc
	patterns         []callbackPattern
	callbacksMu      sync.RWMutex
	callbackNotFound tele.HandlerFunc
}

// NewRegistry creates an empty Registry with default fallbacks.
func NewRegistry() *Registry {
	return &Registry{
		commands:  make(map[string]commands.Command),
		callbacks: make(map[string]tele.HandlerFunc),
		callbackNotFound: func(c tele.Context) error {
			return c.Respond(&tele.CallbackResponse{Text: "Unsupported action"})
		},
	}
}

func wireWarn(event string, attrs ...slog.Attr) {
	logger.LogEvent(context.Background(), logger.TWire, slog.LevelWarn, event, attrs...)
}

// RegisterCommand adds a command. Names must start with '/'; invalid or
// duplicate registrations are logged and ignored.
func (r *Registry) RegisterCommand(name string, cmd commands.Command) {
	switch {
	case r == nil || name == "" || cmd.Handler == nil || cmd.Description == "":
		wireWarn("register.command.skip", slog.String("name", name), slog.String("reason", "invalid"))
	case !strings.HasPrefix(name, "/"):
		wireWarn("register.command.skip", slog.String("name", name), slog.String("reason", "no_slash_prefix"))
	default:
		if _, exists := r.commands[name]; exists {
			wireWarn("register.command.duplicate", slog.String("name", name))
			return
		}
		r.commands[name] = cmd
	}
}

// ListCommands returns the commands sorted by name, optionally without hidden ones.
func (r *Registry) ListCommands(visibleOnly bool) []tele.Command {
	list := make([]tele.Command, 0, len(r.commands))
	for name, cmd := range r.commands {
		if visibleOnly && cmd.Hidden {
			continue
		}
		list = append(list, tele.Command{Text: name, Description: cmd.Description})
	}
	slices.SortFunc(list, func(a, b tele.Command) int { return strings.Compare(a.Text, b.Text) })
	return list
}

// Commands returns all registered commands.
func (r *Registry) Commands() map[string]commands.Command {
	return r.commands
}

// RegisterCallback maps an exact callback unique to a handler.
func (r *Registry) RegisterCallback(key string, handler tele.HandlerFunc) error {
	if r == nil || key == "" || handler == nil {
		wireWarn("register.callback.skip", slog.String("key", key), slog.String("reason", "invalid"))
		return errors.New("invalid callback registration")
	}
	r.callbacksMu.Lock()
	defer r.callbacksMu.Unlock()
	if _, exists := r.callbacks[key]; exists {
		wireWarn("register.callback.duplicate", slog.String("key", key))
		return fmt.Errorf("callback already registered: %s", key)
	}
	r.callbacks[key] = handler
	return nil
}

// RegisterCallbackPattern maps callbacks whose "<unique>|<payload>" matches re.
// Patterns are tried in registration order after exact keys; name labels the route in logs.
func (r *Registry) RegisterCallbackPattern(name string, re *regexp.Regexp, handler tele.HandlerFunc) error {
	if r == nil || name == "" || re == nil || handler == nil {
		wireWarn("register.callback.skip", slog.String("key", name), slog.String("reason", "invalid_pattern"))
		return errors.New("invalid callback pattern registration")
	}
	r.callbacksMu.Lock()
	defer r.callbacksMu.Unlock()
	if slices.ContainsFunc(r.patterns, func(p callbackPattern) bool { return p.name == name }) {
		return fmt.Errorf("callback pattern already registered: %s", name)
	}
	r.patterns = append(r.patterns, callbackPattern{name: name, re: re, handler: handler})
	return nil
}

// GetCallback returns the handler registered for an exact key.
func (r *Registry) GetCallback(key string) (tele.HandlerFunc, bool) {
	r.callbacksMu.RLock()
	defer r.callbacksMu.RUnlock()
	h, ok := r.callbacks[key]
	return h, ok
}

// MatchCallback resolves a callback route ("<unique>" or "<unique>|<payload>").
// An exact key wins over patterns. For patterns, args holds the captured groups.
func (r *Registry) MatchCallback(key, route string) (name string, h tele.HandlerFunc, args []string, ok bool) {
	r.callbacksMu.RLock()
	defer r.callbacksMu.RUnlock()
	if h, found := r.callbacks[route]; found {
		return route, h, nil, true
	}
	if h, found := r.callbacks[key]; found {
		return key, h, nil, true
	}
	for _, p := range r.patterns {
		m := p.re.FindStringSubmatch(route)
		if m == nil {
			continue
		}
		return p.name, p.handler, m[1:], true
	}
	return "", nil, nil, false
}

// ListCallbacks returns sorted keys and pattern names (for diagnostics).
func (r *Registry) ListCallbacks() []string {
	r.callbacksMu.RLock()
	defer r.callbacksMu.RUnlock()
	names := slices.Collect(maps.Keys(r.callbacks))
	for _, p := range r.patterns {
		names = append(names, p.name)
	}
	slices.Sort(names)
	return names
}

// SetCallbackNotFound replaces the fallback handler for unknown callbacks.
func (r *Registry) SetCallbackNotFound(h tele.HandlerFunc) {
	if h != nil {
		r.callbackNotFound = h
	}
}

// CallbackNotFound returns the current fallback callback handler.
func (r *Registry) CallbackNotFound() tele.HandlerFunc {
	return r.callbackNotFound
}

// CommandSetter publishes the command menu; *tele.Bot implements it.
type CommandSetter interface {
	SetCommands(opts ...interface{}) error
}

// InitBotCommands sets the Telegram bot commands shown in the command menu.
func InitBotCommands(bot CommandSetter, reg *Registry) {
	list := reg.ListCommands(true)
	if err := bot.SetCommands(list); err != nil {
		logger.LogEvent(context.Background(), logger.TWire, slog.LevelError, "register.commands",
			slog.String("status", "fail"),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
		return
	}
	logger.LogEvent(context.Background(), logger.TWire, slog.LevelInfo, "register.commands",
		slog.String("status", "ok"),
		slog.Int("commands", len(list)),
	)
}
