package commands

import (
	tele "gopkg.in/telebot.v4"
)

// Command is a slash command with the text shown in the Telegram command menu.
type Command struct {
	Handler     tele.HandlerFunc
	Description string
	// Hidden commands work but are left out of the menu.
	Hidden bool
}
