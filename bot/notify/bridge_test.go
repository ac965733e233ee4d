package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/m3rciful/copperxbot/bot/gateway"
	"github.com/m3rciful/copperxbot/core/session"
)

type fakeAuth struct {
	mu       sync.Mutex
	channels []string
	err      error
}

func (f *fakeAuth) AuthorizeChannel(_ context.Context, token, socketID, channel string) (gateway.ChannelAuth, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, channel)
	if f.err != nil {
		return gateway.ChannelAuth{}, f.err
	}
	return gateway.ChannelAuth{Auth: "key:" + token + ":" + socketID}, nil
}

type fakeSender struct {
	msgs chan string
}

func newFakeSender() *fakeSender {
	return &fakeSender{msgs: make(chan string, 8)}
}

func (f *fakeSender) Notify(_ context.Context, _ int64, text string) error {
	f.msgs <- text
	return nil
}

// pusherServer emulates the handshake: connection_established, subscribe, ping, then events.
type pusherServer struct {
	t           *testing.T
	conns       atomic.Int32
	dropFirst   bool
	rejectSub   bool
	events      []string
	pongs       atomic.Int32
	lastSubAuth atomic.Value
}

func (p *pusherServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := p.conns.Add(1)
	assert.Equal(p.t, "7", r.URL.Query().Get("protocol"))
	assert.True(p.t, strings.HasPrefix(r.URL.Path, "/app/app-key"))

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()
	ctx := r.Context()

	if p.dropFirst && n == 1 {
		_ = conn.Close(websocket.StatusGoingAway, "restart")
		return
	}

	_ = conn.Write(ctx, websocket.MessageText,
		[]byte(`{"event":"pusher:connection_established","data":"{\"socket_id\":\"123.456\",\"activity_timeout\":120}"}`))

	_, msg, err := conn.Read(ctx)
	if err != nil {
		return
	}
	assert.Equal(p.t, "pusher:subscribe", gjson.GetBytes(msg, "event").String())
	assert.Equal(p.t, "private-org-org-1", gjson.GetBytes(msg, "data.channel").String())
	p.lastSubAuth.Store(gjson.GetBytes(msg, "data.auth").String())

	if p.rejectSub {
		_ = conn.Write(ctx, websocket.MessageText,
			[]byte(`{"event":"pusher:subscription_error","channel":"private-org-org-1","data":"{\"error\":\"forbidden\"}"}`))
	} else {
		_ = conn.Write(ctx, websocket.MessageText,
			[]byte(`{"event":"pusher_internal:subscription_succeeded","channel":"private-org-org-1","data":"{}"}`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"event":"pusher:ping","data":{}}`))
		_, msg, err = conn.Read(ctx)
		if err != nil {
			return
		}
		if gjson.GetBytes(msg, "event").String() == "pusher:pong" {
			p.pongs.Add(1)
		}
		for _, ev := range p.events {
			_ = conn.Write(ctx, websocket.MessageText, []byte(ev))
		}
	}

	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

func startPusher(t *testing.T, p *pusherServer) string {
	t.Helper()
	p.t = t
	srv := httptest.NewServer(p)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func creds(expires time.Time) session.Credentials {
	return session.Credentials{Token: "tok", OrganizationID: "org-1", ExpiresAt: expires}
}

const depositFrame = `{"event":"deposit","channel":"private-org-org-1","data":"{\"amount\":\"25\",\"network\":\"polygon\"}"}`

func TestBridgeForwardsDeposits(t *testing.T) {
	p := &pusherServer{events: []string{depositFrame}}
	host := startPusher(t, p)
	auth := &fakeAuth{}
	sender := newFakeSender()

	b := New(Options{Key: "app-key", Host: host}, auth, sender)
	defer b.Close()

	require.NoError(t, b.Subscribe(context.Background(), 42, creds(time.Now().Add(time.Hour))))

	select {
	case msg := <-sender.msgs:
		assert.Equal(t, "💰 *New Deposit*: 25 USDC on polygon", msg)
	case <-time.After(5 * time.Second):
		t.Fatal("deposit not delivered")
	}
	assert.Equal(t, int32(1), p.pongs.Load())
	assert.Equal(t, "key:tok:123.456", p.lastSubAuth.Load())
	assert.Equal(t, 1, b.Active())

	b.Unsubscribe(42)
	assert.Equal(t, 0, b.Active())
}

func TestBridgeDisabledWithoutKey(t *testing.T) {
	b := New(Options{}, &fakeAuth{}, newFakeSender())
	assert.False(t, b.Enabled())
	require.NoError(t, b.Subscribe(context.Background(), 1, creds(time.Now().Add(time.Hour))))
	assert.Equal(t, 0, b.Active())
}

func TestBridgeRequiresOrganization(t *testing.T) {
	b := New(Options{Key: "app-key"}, &fakeAuth{}, newFakeSender())
	defer b.Close()
	assert.Error(t, b.Subscribe(context.Background(), 1, session.Credentials{Token: "tok"}))
}

func TestBridgeReconnects(t *testing.T) {
	p := &pusherServer{dropFirst: true, events: []string{depositFrame}}
	host := startPusher(t, p)
	sender := newFakeSender()

	b := New(Options{Key: "app-key", Host: host, MinBackoff: 10 * time.Millisecond, MaxBackoff: 20 * time.Millisecond}, &fakeAuth{}, sender)
	defer b.Close()
	require.NoError(t, b.Subscribe(context.Background(), 7, creds(time.Time{})))

	select {
	case <-sender.msgs:
	case <-time.After(5 * time.Second):
		t.Fatal("deposit not delivered after reconnect")
	}
	assert.GreaterOrEqual(t, p.conns.Load(), int32(2))
}

func TestBridgeStopsOnSubscriptionError(t *testing.T) {
	p := &pusherServer{rejectSub: true}
	host := startPusher(t, p)
	sender := newFakeSender()

	b := New(Options{Key: "app-key", Host: host, MinBackoff: 10 * time.Millisecond}, &fakeAuth{}, sender)
	defer b.Close()
	require.NoError(t, b.Subscribe(context.Background(), 7, creds(time.Now().Add(time.Hour))))

	select {
	case msg := <-sender.msgs:
		assert.Equal(t, subscribeFailedMsg, msg)
	case <-time.After(5 * time.Second):
		t.Fatal("failure not reported")
	}
	require.Eventually(t, func() bool { return b.Active() == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), p.conns.Load())
}

func TestBridgeStopsWhenTokenRejected(t *testing.T) {
	p := &pusherServer{}
	host := startPusher(t, p)
	auth := &fakeAuth{err: &gateway.Error{Status: http.StatusUnauthorized, Message: "Unauthorized"}}

	b := New(Options{Key: "app-key", Host: host, MinBackoff: 10 * time.Millisecond}, auth, newFakeSender())
	defer b.Close()
	require.NoError(t, b.Subscribe(context.Background(), 7, creds(time.Now().Add(time.Hour))))

	require.Eventually(t, func() bool { return b.Active() == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), p.conns.Load())
}

func TestBridgeEndsAtCredentialExpiry(t *testing.T) {
	p := &pusherServer{}
	host := startPusher(t, p)

	b := New(Options{Key: "app-key", Host: host}, &fakeAuth{}, newFakeSender())
	defer b.Close()
	require.NoError(t, b.Subscribe(context.Background(), 7, creds(time.Now().Add(200*time.Millisecond))))
	assert.Equal(t, 1, b.Active())

	require.Eventually(t, func() bool { return b.Active() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestBridgeResubscribeReplaces(t *testing.T) {
	p := &pusherServer{}
	host := startPusher(t, p)

	b := New(Options{Key: "app-key", Host: host}, &fakeAuth{}, newFakeSender())
	require.NoError(t, b.Subscribe(context.Background(), 7, creds(time.Now().Add(time.Hour))))
	require.NoError(t, b.Subscribe(context.Background(), 7, creds(time.Now().Add(time.Hour))))
	assert.Equal(t, 1, b.Active())

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.Equal(t, 0, b.Active())
	assert.Error(t, b.Subscribe(context.Background(), 7, creds(time.Now().Add(time.Hour))))
}

func TestDepositText(t *testing.T) {
	assert.Equal(t, "💰 *New Deposit*: 10.5 USDC on Solana", DepositText(gjson.Parse(`{"amount":"10.5"}`)))
	assert.Equal(t, `💰 *New Deposit*: 1 USDC on base\_sepolia`, DepositText(gjson.Parse(`{"amount":1,"network":"base_sepolia"}`)))
}

func TestEndpoint(t *testing.T) {
	b := New(Options{Key: "k", Cluster: "eu", Version: "1.2.3"}, nil, nil)
	assert.Equal(t, "wss://ws-eu.pusher.com/app/k?client=copperxbot&protocol=7&version=1.2.3", b.endpoint())
}
