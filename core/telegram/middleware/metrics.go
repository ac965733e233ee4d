package middleware

import (
	tghelpers "github.com/m3rciful/copperxbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// answerContext marks callback answers on the handler's counters.
type answerContext struct {
	tele.Context
	counters *tghelpers.Counters
}

// Respond proxies tele.Context.Respond and records a successful answer.
func (a answerContext) Respond(resp ...*tele.CallbackResponse) error {
	err := a.Context.Respond(resp...)
	if err == nil {
		a.counters.MarkAnswered()
	}
	return err
}

// MessageMetricsMiddleware installs per-update reply counters read by the handler summary.
func MessageMetricsMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		m := tghelpers.InstallCounters(c)
		return next(answerContext{Context: c, counters: m})
	}
}
