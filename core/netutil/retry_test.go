package netutil

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldRetry(t *testing.T) {
	dial := &net.OpError{Op: "dial", Err: errors.New("connection refused")}

	assert.False(t, ShouldRetry(nil))
	assert.False(t, ShouldRetry(context.Canceled))
	assert.False(t, ShouldRetry(errors.New("bad request")))
	assert.True(t, ShouldRetry(dial))
	assert.True(t, ShouldRetry(&url.Error{Op: "Post", URL: "http://x", Err: dial}))
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, Backoff(time.Second, time.Minute, 1))
	assert.Equal(t, 4*time.Second, Backoff(time.Second, time.Minute, 3))
	assert.Equal(t, time.Minute, Backoff(time.Second, time.Minute, 20))
	assert.Equal(t, time.Duration(0), Backoff(0, time.Minute, 2))
}

type flakyTransport struct {
	calls atomic.Int32
	fails int32
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if f.calls.Add(1) <= f.fails {
		return nil, &net.OpError{Op: "dial", Err: errors.New("refused")}
	}
	return http.DefaultTransport.RoundTrip(req)
}

func TestRetryTransportRecovers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	base := &flakyTransport{fails: 2}
	client := &http.Client{Transport: &RetryTransport{Base: base, MaxRetries: 3, Backoff: time.Millisecond}}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, int32(3), base.calls.Load())
}

func TestRetryTransportGivesUp(t *testing.T) {
	base := &flakyTransport{fails: 100}
	client := &http.Client{Transport: &RetryTransport{Base: base, MaxRetries: 1, Backoff: time.Millisecond}}

	_, err := client.Get("http://127.0.0.1:1/")
	require.Error(t, err)
	assert.Equal(t, int32(2), base.calls.Load())
}
