package helpers

import (
	"sync/atomic"

	tele "gopkg.in/telebot.v4"
)

const countersKey = "reply_counters"

// Counters records what a handler produced. Messages are counted when queued,
// so the summary is accurate even though delivery is asynchronous.
type Counters struct {
	messages atomic.Int32
	keyboard atomic.Bool
	answered atomic.Bool
}

// Messages returns the number of messages queued or sent.
func (m *Counters) Messages() int { return int(m.messages.Load()) }

// Keyboard reports whether any message carried reply markup.
func (m *Counters) Keyboard() bool { return m.keyboard.Load() }

// Answered reports whether the callback query was answered.
func (m *Counters) Answered() bool { return m.answered.Load() }

// MarkAnswered records a callback answer.
func (m *Counters) MarkAnswered() { m.answered.Store(true) }

// InstallCounters attaches fresh counters to c.
func InstallCounters(c tele.Context) *Counters {
	m := &Counters{}
	c.Set(countersKey, m)
	return m
}

// CountersFrom returns the counters of c. Without installed counters it returns an empty set.
func CountersFrom(c tele.Context) *Counters {
	if c != nil {
		if m, ok := c.Get(countersKey).(*Counters); ok {
			return m
		}
	}
	return &Counters{}
}

func countMessage(c tele.Context, opts *tele.SendOptions) {
	if c == nil {
		return
	}
	m, ok := c.Get(countersKey).(*Counters)
	if !ok {
		return
	}
	m.messages.Add(1)
	if opts != nil && opts.ReplyMarkup != nil {
		m.keyboard.Store(true)
	}
}
