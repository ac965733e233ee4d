package wizard

// Reply is what the user sees after a turn. A zero Reply sends nothing.
type Reply struct {
	Text     string
	Keyboard [][]Button
}

// Button is an inline button. Data, when set, travels as the callback payload.
type Button struct {
	Label  string
	Action string
	Data   string
}

// Empty reports whether the reply carries nothing to send.
func (r Reply) Empty() bool {
	return r.Text == "" && len(r.Keyboard) == 0
}

func btn(label, action string) Button {
	return Button{Label: label, Action: action}
}

func btnData(label, action, data string) Button {
	return Button{Label: label, Action: action, Data: data}
}

func row(buttons ...Button) []Button {
	return buttons
}

func textReply(text string, rows ...[]Button) Reply {
	return Reply{Text: text, Keyboard: rows}
}
