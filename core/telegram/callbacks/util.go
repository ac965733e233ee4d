package callbacks

import (
	"strings"

	tele "gopkg.in/telebot.v4"
)

const argsKey = "cb_args"

// ParseCallbackData splits Telebot's "\f<unique>|<payload>" encoding.
// Payload may be empty.
func ParseCallbackData(cb *tele.Callback) (string, string) {
	if cb == nil {
		return "", ""
	}
	if cb.Unique != "" {
		return cb.Unique, cb.Data
	}
	raw := strings.TrimPrefix(cb.Data, "\f")
	unique, payload, _ := strings.Cut(raw, "|")
	return strings.TrimSpace(unique), payload
}

// CallbackKey returns the unique part of the callback data.
func CallbackKey(c tele.Context) string {
	k, _ := ParseCallbackData(c.Callback())
	return k
}

// CallbackPayload returns the part after '|'.
func CallbackPayload(c tele.Context) string {
	_, p := ParseCallbackData(c.Callback())
	return p
}

// Route joins unique and payload the way pattern callbacks are matched.
func Route(unique, payload string) string {
	if payload == "" {
		return unique
	}
	return unique + "|" + payload
}

// SetArgs stores the groups captured by a pattern callback.
func SetArgs(c tele.Context, args []string) {
	c.Set(argsKey, args)
}

// Args returns the groups captured by the matching pattern, if any.
func Args(c tele.Context) []string {
	if v, ok := c.Get(argsKey).([]string); ok {
		return v
	}
	return nil
}
