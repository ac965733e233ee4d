package telegram

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"
)

func TestBuildPollerWebhook(t *testing.T) {
	p := BuildPoller(PollerOptions{
		RunMode: "Webhook",
		Webhook: WebhookOptions{Listen: "0.0.0.0", Port: 8443, URL: "https://bot.example.test/hook", Secret: "s3"},
	})
	wh, ok := p.(*tele.Webhook)
	require.True(t, ok)
	assert.Equal(t, "0.0.0.0:8443", wh.Listen)
	assert.Equal(t, "s3", wh.SecretToken)
	assert.Equal(t, "https://bot.example.test/hook", wh.Endpoint.PublicURL)
	assert.Equal(t, []string{"message", "callback_query"}, wh.AllowedUpdates)
}

func TestBuildPollerLongpollDefaults(t *testing.T) {
	lp, ok := BuildPoller(PollerOptions{RunMode: "longpoll"}).(*tele.LongPoller)
	require.True(t, ok)
	assert.Equal(t, 10*time.Second, lp.Timeout)

	lp, ok = BuildPoller(PollerOptions{LongPollTimeoutSeconds: 30}).(*tele.LongPoller)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, lp.Timeout)
}
