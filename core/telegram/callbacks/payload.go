package callbacks

import (
	"strconv"

	tele "gopkg.in/telebot.v4"
)

// Arg returns captured group i or "" when absent.
func Arg(c tele.Context, i int) string {
	args := Args(c)
	if i < 0 || i >= len(args) {
		return ""
	}
	return args[i]
}

// ArgInt parses captured group i as int.
func ArgInt(c tele.Context, i int) (int, error) {
	args := Args(c)
	if i < 0 || i >= len(args) {
		return 0, strconv.ErrSyntax
	}
	return strconv.Atoi(args[i])
}
