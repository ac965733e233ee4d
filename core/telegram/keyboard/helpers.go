package keyboard

import tele "gopkg.in/telebot.v4"

// InlineBtn describes one inline button. Unique and Data become "\f<Unique>|<Data>".
type InlineBtn struct {
	Text   string
	Unique string
	Data   string
}

// InlineButtonsRows builds an inline keyboard from rows of InlineBtn. Empty rows are skipped.
func InlineButtonsRows(rows ...[]InlineBtn) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	inline := make([][]tele.InlineButton, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		r := make([]tele.InlineButton, len(row))
		for j, btn := range row {
			if btn.Data == "" {
				r[j] = *markup.Data(btn.Text, btn.Unique).Inline()
				continue
			}
			r[j] = *markup.Data(btn.Text, btn.Unique, btn.Data).Inline()
		}
		inline = append(inline, r)
	}
	markup.InlineKeyboard = inline
	return markup
}

// InlineButtonsNPerRow splits a flat list of buttons into rows of up to n buttons.
func InlineButtonsNPerRow(buttons []InlineBtn, n int) *tele.ReplyMarkup {
	if n < 1 {
		n = 1
	}
	var rows [][]InlineBtn
	for i := 0; i < len(buttons); i += n {
		end := min(i+n, len(buttons))
		rows = append(rows, buttons[i:end])
	}
	return InlineButtonsRows(rows...)
}

// RemoveKeyboard returns a markup that hides the reply keyboard.
func RemoveKeyboard() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{RemoveKeyboard: true}
}
