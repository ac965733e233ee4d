// Package notify forwards push events of the financial API to Telegram chats.
// It speaks the Pusher channels protocol over a websocket, one connection per subscribed user.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/m3rciful/copperxbot/bot/gateway"
	"github.com/m3rciful/copperxbot/core/logger"
	"github.com/m3rciful/copperxbot/core/netutil"
	"github.com/m3rciful/copperxbot/core/session"
	"github.com/m3rciful/copperxbot/core/telegram/format"
)

const (
	protocolVersion    = "7"
	clientName         = "copperxbot"
	defaultCluster     = "ap1"
	defaultMinBackoff  = time.Second
	defaultMaxBackoff  = time.Minute
	defaultActivity    = 120 * time.Second
	defaultDepositNet  = "Solana"
	subscribeFailedMsg = "Failed to subscribe to notifications."
)

// Sender delivers a Markdown message to a user's chat.
type Sender interface {
	Notify(ctx context.Context, userID int64, text string) error
}

// Authorizer signs private channel subscriptions.
type Authorizer interface {
	AuthorizeChannel(ctx context.Context, token, socketID, channel string) (gateway.ChannelAuth, error)
}

// Options configures a Bridge. An empty Key disables it.
type Options struct {
	Key     string
	Cluster string
	// Host replaces the cluster endpoint, e.g. "ws://127.0.0.1:6001" in tests.
	Host    string
	Version string

	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// errPermanent stops the reconnect loop.
var errPermanent = errors.New("notify: permanent failure")

type subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Bridge manages the per-user subscriptions. It is safe for concurrent use.
type Bridge struct {
	opts   Options
	auth   Authorizer
	sender Sender

	base   context.Context
	stop   context.CancelFunc
	mu     sync.Mutex
	subs   map[int64]*subscription
	closed bool
}

// New builds a Bridge. Subscriptions outlive the calls that start them and end on
// Unsubscribe, Close or credential expiry.
func New(opts Options, auth Authorizer, sender Sender) *Bridge {
	if opts.Cluster == "" {
		opts.Cluster = defaultCluster
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = defaultMinBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	base, stop := context.WithCancel(context.Background())
	return &Bridge{
		opts:   opts,
		auth:   auth,
		sender: sender,
		base:   base,
		stop:   stop,
		subs:   make(map[int64]*subscription),
	}
}

// Enabled reports whether a push key is configured.
func (b *Bridge) Enabled() bool {
	return b != nil && strings.TrimSpace(b.opts.Key) != ""
}

// Active returns the number of running subscriptions.
func (b *Bridge) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Subscribe starts, or replaces, the user's subscription to their organization channel.
func (b *Bridge) Subscribe(ctx context.Context, userID int64, creds session.Credentials) error {
	if !b.Enabled() {
		return nil
	}
	if creds.Token == "" || creds.OrganizationID == "" {
		return fmt.Errorf("notify: subscribe user %d: missing credentials", userID)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("notify: bridge closed")
	}
	prev := b.subs[userID]
	subCtx, cancel := context.WithCancel(b.base)
	if !creds.ExpiresAt.IsZero() {
		var cancelDeadline context.CancelFunc
		subCtx, cancelDeadline = context.WithDeadline(subCtx, creds.ExpiresAt)
		parent := cancel
		cancel = func() { cancelDeadline(); parent() }
	}
	sub := &subscription{cancel: cancel, done: make(chan struct{})}
	b.subs[userID] = sub
	b.mu.Unlock()

	if prev != nil {
		prev.cancel()
		<-prev.done
	}

	channel := "private-org-" + creds.OrganizationID
	logger.LogEvent(ctx, logger.Notify, slog.LevelInfo, "notify.subscribe",
		slog.Int64("user_id", userID),
		slog.String("channel", channel),
	)
	go b.run(subCtx, userID, creds.Token, channel, sub)
	return nil
}

// Unsubscribe stops the user's subscription, if any, and waits for it to end.
func (b *Bridge) Unsubscribe(userID int64) {
	b.mu.Lock()
	sub := b.subs[userID]
	delete(b.subs, userID)
	b.mu.Unlock()
	if sub == nil {
		return
	}
	sub.cancel()
	<-sub.done
	logger.LogEvent(logger.Background(), logger.Notify, slog.LevelInfo, "notify.unsubscribe",
		slog.Int64("user_id", userID),
	)
}

// Close stops every subscription. Later calls are no-ops.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[int64]*subscription)
	b.mu.Unlock()

	b.stop()
	for _, sub := range subs {
		<-sub.done
	}
	logger.LogEvent(logger.Background(), logger.Notify, slog.LevelInfo, "notify.closed",
		slog.Int("subscriptions", len(subs)),
	)
	return nil
}

func (b *Bridge) run(ctx context.Context, userID int64, token, channel string, sub *subscription) {
	defer close(sub.done)
	defer b.forget(userID, sub)

	attempt := 0
	for {
		subscribed, err := b.connect(ctx, userID, token, channel)
		if ctx.Err() != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				logger.LogEvent(ctx, logger.Notify, slog.LevelInfo, "notify.expired", slog.Int64("user_id", userID))
			}
			return
		}
		if errors.Is(err, errPermanent) || gateway.IsUnauthorized(err) {
			logger.LogEvent(ctx, logger.Notify, slog.LevelWarn, "notify.stopped",
				slog.Int64("user_id", userID),
				slog.String("err", err.Error()),
			)
			return
		}
		if subscribed {
			attempt = 0
		}
		attempt++
		delay := netutil.Backoff(b.opts.MinBackoff, b.opts.MaxBackoff, attempt)
		attrs := []slog.Attr{
			slog.Int64("user_id", userID),
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", delay),
		}
		if err != nil {
			attrs = append(attrs, slog.String("err", logger.SanitizeLimit(err.Error(), 256)))
		}
		logger.LogEvent(ctx, logger.Notify, slog.LevelWarn, "notify.reconnect", attrs...)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (b *Bridge) forget(userID int64, sub *subscription) {
	b.mu.Lock()
	if b.subs[userID] == sub {
		delete(b.subs, userID)
	}
	b.mu.Unlock()
}

func (b *Bridge) endpoint() string {
	host := strings.TrimRight(b.opts.Host, "/")
	if host == "" {
		host = "wss://ws-" + b.opts.Cluster + ".pusher.com"
	}
	q := url.Values{}
	q.Set("protocol", protocolVersion)
	q.Set("client", clientName)
	q.Set("version", b.opts.Version)
	return host + "/app/" + url.PathEscape(b.opts.Key) + "?" + q.Encode()
}

// connect runs one connection until it fails. subscribed reports whether the channel subscription
// succeeded before that.
func (b *Bridge) connect(ctx context.Context, userID int64, token, channel string) (subscribed bool, err error) {
	conn, _, err := websocket.Dial(ctx, b.endpoint(), nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()

	pingStop := make(chan struct{})
	defer close(pingStop)

	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			return subscribed, fmt.Errorf("read: %w", err)
		}
		event, data := decodeEvent(msg)

		switch event {
		case "pusher:connection_established":
			socketID := data.Get("socket_id").String()
			if socketID == "" {
				return subscribed, errors.New("connection established without socket id")
			}
			activity := time.Duration(data.Get("activity_timeout").Int()) * time.Second
			if activity <= 0 {
				activity = defaultActivity
			}
			go keepAlive(ctx, conn, activity, pingStop)

			auth, err := b.auth.AuthorizeChannel(ctx, token, socketID, channel)
			if err != nil {
				return subscribed, fmt.Errorf("authorize %s: %w", channel, err)
			}
			if err := conn.Write(ctx, websocket.MessageText, subscribeFrame(channel, auth)); err != nil {
				return subscribed, fmt.Errorf("subscribe: %w", err)
			}

		case "pusher_internal:subscription_succeeded":
			subscribed = true
			logger.LogEvent(ctx, logger.Notify, slog.LevelInfo, "notify.subscribed",
				slog.Int64("user_id", userID),
				slog.String("channel", channel),
			)

		case "pusher:subscription_error":
			b.deliver(ctx, userID, subscribeFailedMsg)
			return subscribed, fmt.Errorf("%w: subscription rejected (%s)", errPermanent, data.Get("error").String())

		case "pusher:ping":
			if err := conn.Write(ctx, websocket.MessageText, []byte(`{"event":"pusher:pong","data":{}}`)); err != nil {
				return subscribed, fmt.Errorf("pong: %w", err)
			}

		case "pusher:error":
			code := data.Get("code").Int()
			// 4000-4099: the server asks not to reconnect.
			if code >= 4000 && code < 4100 {
				return subscribed, fmt.Errorf("%w: %s (%d)", errPermanent, data.Get("message").String(), code)
			}
			return subscribed, fmt.Errorf("server error: %s (%d)", data.Get("message").String(), code)

		case "deposit":
			b.deliver(ctx, userID, DepositText(data))
		}
	}
}

func (b *Bridge) deliver(ctx context.Context, userID int64, text string) {
	if b.sender == nil {
		return
	}
	if err := b.sender.Notify(ctx, userID, text); err != nil {
		logger.LogEvent(ctx, logger.Notify, slog.LevelWarn, "notify.deliver_failed",
			slog.Int64("user_id", userID),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
	}
}

func keepAlive(ctx context.Context, conn *websocket.Conn, every time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.Write(ctx, websocket.MessageText, []byte(`{"event":"pusher:ping","data":{}}`)); err != nil {
				return
			}
		}
	}
}

// decodeEvent splits a frame into its event name and data. Pusher sends data as a JSON string.
func decodeEvent(msg []byte) (string, gjson.Result) {
	res := gjson.ParseBytes(msg)
	data := res.Get("data")
	if data.Type == gjson.String {
		data = gjson.Parse(data.String())
	}
	return res.Get("event").String(), data
}

func subscribeFrame(channel string, auth gateway.ChannelAuth) []byte {
	frame := []byte(`{"event":"pusher:subscribe","data":{}}`)
	frame, _ = sjson.SetBytes(frame, "data.channel", channel)
	frame, _ = sjson.SetBytes(frame, "data.auth", auth.Auth)
	if auth.ChannelData != "" {
		frame, _ = sjson.SetBytes(frame, "data.channel_data", auth.ChannelData)
	}
	return frame
}

// DepositText renders a deposit event for the chat.
func DepositText(data gjson.Result) string {
	amount := data.Get("amount").String()
	if amount == "" {
		amount = "?"
	}
	network := data.Get("network").String()
	if network == "" {
		network = defaultDepositNet
	}
	return fmt.Sprintf("💰 *New Deposit*: %s USDC on %s", format.MD(amount), format.MD(network))
}
