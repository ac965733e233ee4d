package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/m3rciful/copperxbot/core/config"
	"github.com/m3rciful/copperxbot/core/dedupe"
)

// apiRecorder is a Bot API stand-in that accepts every call and remembers the method names.
type apiRecorder struct {
	mu      sync.Mutex
	methods []string
}

func (r *apiRecorder) count(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.methods {
		if m == method {
			n++
		}
	}
	return n
}

func newTestBot(t *testing.T) (*tele.Bot, *apiRecorder) {
	t.Helper()
	rec := &apiRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		rec.mu.Lock()
		rec.methods = append(rec.methods, req.URL.Path[strings.LastIndexByte(req.URL.Path, '/')+1:])
		rec.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	}))
	t.Cleanup(srv.Close)
	bot, err := tele.NewBot(tele.Settings{Token: "1:test", URL: srv.URL, Offline: true, Synchronous: true})
	require.NoError(t, err)
	return bot, rec
}

func callbackUpdate(id int, userID int64) tele.Update {
	user := &tele.User{ID: userID}
	return tele.Update{
		ID: id,
		Callback: &tele.Callback{
			ID:      "cb",
			Sender:  user,
			Data:    "\fmenu",
			Message: &tele.Message{ID: 1, Chat: &tele.Chat{ID: userID}},
		},
	}
}

func messageUpdate(id int, userID int64) tele.Update {
	return tele.Update{
		ID: id,
		Message: &tele.Message{
			ID:     id,
			Sender: &tele.User{ID: userID},
			Chat:   &tele.Chat{ID: userID},
			Text:   "hi",
		},
	}
}

func countingHandler(n *atomic.Int32) tele.HandlerFunc {
	return func(tele.Context) error {
		n.Add(1)
		return nil
	}
}

func TestDedupeMiddlewareSkipsRedelivery(t *testing.T) {
	bot, api := newTestBot(t)
	seen := dedupe.New(dedupe.Options{})
	t.Cleanup(seen.Close)

	var handled atomic.Int32
	h := DedupeMiddleware(seen)(countingHandler(&handled))

	require.NoError(t, h(bot.NewContext(callbackUpdate(7, 1))))
	require.NoError(t, h(bot.NewContext(callbackUpdate(7, 1))))
	assert.Equal(t, int32(1), handled.Load())
	assert.Equal(t, 1, api.count("answerCallbackQuery"), "a redelivered callback is still answered")

	require.NoError(t, h(bot.NewContext(messageUpdate(8, 1))))
	require.NoError(t, h(bot.NewContext(messageUpdate(8, 1))))
	assert.Equal(t, int32(2), handled.Load())
	assert.Equal(t, 1, api.count("answerCallbackQuery"))
}

func TestDedupeMiddlewarePassesWithoutID(t *testing.T) {
	bot, _ := newTestBot(t)
	seen := dedupe.New(dedupe.Options{})
	t.Cleanup(seen.Close)
	var handled atomic.Int32

	h := DedupeMiddleware(seen)(countingHandler(&handled))
	require.NoError(t, h(bot.NewContext(messageUpdate(0, 1))))
	require.NoError(t, h(bot.NewContext(messageUpdate(0, 1))))

	h = DedupeMiddleware(nil)(countingHandler(&handled))
	require.NoError(t, h(bot.NewContext(messageUpdate(9, 1))))
	assert.Equal(t, int32(3), handled.Load())
}

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time { return c.now }

func TestRateLimitMiddleware(t *testing.T) {
	bot, api := newTestBot(t)
	clock := &stepClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	var handled atomic.Int32
	h := RateLimitMiddleware(RateLimitOptions{Interval: time.Second, Now: clock.Now})(countingHandler(&handled))

	require.NoError(t, h(bot.NewContext(messageUpdate(1, 5))))
	require.NoError(t, h(bot.NewContext(messageUpdate(2, 5))))
	assert.Equal(t, int32(1), handled.Load(), "second update inside the interval is dropped")

	require.NoError(t, h(bot.NewContext(messageUpdate(3, 6))))
	assert.Equal(t, int32(2), handled.Load(), "users are limited independently")

	require.NoError(t, h(bot.NewContext(callbackUpdate(4, 5))))
	assert.Equal(t, int32(2), handled.Load())
	assert.Equal(t, 1, api.count("answerCallbackQuery"), "a limited callback is answered")

	clock.now = clock.now.Add(time.Second)
	require.NoError(t, h(bot.NewContext(messageUpdate(5, 5))))
	assert.Equal(t, int32(3), handled.Load())
}

func TestRateLimitMiddlewareExclusions(t *testing.T) {
	bot, _ := newTestBot(t)
	clock := &stepClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	var handled atomic.Int32
	h := RateLimitMiddleware(RateLimitOptions{
		Interval: time.Minute,
		Exclude:  map[string]struct{}{coreconfig.UpdateCallback: {}},
		Now:      clock.Now,
	})(countingHandler(&handled))

	for i := range 3 {
		require.NoError(t, h(bot.NewContext(callbackUpdate(i+1, 5))))
	}
	assert.Equal(t, int32(3), handled.Load(), "excluded kinds bypass the limit")

	require.NoError(t, h(bot.NewContext(messageUpdate(10, 5))))
	require.NoError(t, h(bot.NewContext(messageUpdate(11, 5))))
	assert.Equal(t, int32(4), handled.Load())
}

func TestRateLimitMiddlewareAnswersCallbackOnce(t *testing.T) {
	bot, api := newTestBot(t)
	clock := &stepClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	var limited atomic.Int32
	h := RateLimitMiddleware(RateLimitOptions{
		Interval: time.Second,
		Now:      clock.Now,
		OnLimited: func(c tele.Context) error {
			limited.Add(1)
			return c.Respond(&tele.CallbackResponse{Text: "slow down"})
		},
	})(func(tele.Context) error { return nil })

	require.NoError(t, h(bot.NewContext(callbackUpdate(1, 5))))
	require.NoError(t, h(bot.NewContext(callbackUpdate(2, 5))))
	assert.Equal(t, int32(1), limited.Load())
	assert.Equal(t, 1, api.count("answerCallbackQuery"))
}

func TestUpdateKind(t *testing.T) {
	assert.Equal(t, coreconfig.UpdateCallback, UpdateKind(callbackUpdate(1, 1)))
	assert.Equal(t, coreconfig.UpdateMessage, UpdateKind(messageUpdate(1, 1)))
	assert.Equal(t, "other", UpdateKind(tele.Update{ID: 1}))
}
