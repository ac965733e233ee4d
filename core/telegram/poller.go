package telegram

import (
	"net"
	"strconv"
	"strings"
	"time"

	coreconfig "github.com/m3rciful/copperxbot/core/config"

	tele "gopkg.in/telebot.v4"
)

const defaultLongPollTimeout = 10 * time.Second

// allowedUpdates limits delivery to what the routers handle.
var allowedUpdates = []string{"message", "callback_query"}

// WebhookOptions declares webhook listener settings.
type WebhookOptions struct {
	Listen string
	Port   int
	URL    string
	// Secret is echoed by Telegram in X-Telegram-Bot-Api-Secret-Token.
	Secret string
}

// PollerOptions configures BuildPoller.
type PollerOptions struct {
	RunMode                string
	LongPollTimeoutSeconds int
	Webhook                WebhookOptions
}

// BuildPoller returns a webhook listener or a long poller for the run mode.
func BuildPoller(opts PollerOptions) tele.Poller {
	if strings.EqualFold(strings.TrimSpace(opts.RunMode), coreconfig.RunModeWebhook) {
		return &tele.Webhook{
			Listen:         net.JoinHostPort(opts.Webhook.Listen, strconv.Itoa(opts.Webhook.Port)),
			SecretToken:    opts.Webhook.Secret,
			AllowedUpdates: allowedUpdates,
			Endpoint:       &tele.WebhookEndpoint{PublicURL: opts.Webhook.URL},
		}
	}

	timeout := defaultLongPollTimeout
	if opts.LongPollTimeoutSeconds > 0 {
		timeout = time.Duration(opts.LongPollTimeoutSeconds) * time.Second
	}
	return &tele.LongPoller{Timeout: timeout, AllowedUpdates: allowedUpdates}
}
