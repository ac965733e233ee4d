package netutil

import (
	"net"
	"net/http"
	"time"
)

const (
	defaultDialTimeout       = 5 * time.Second
	defaultTLSHandshake      = 5 * time.Second
	defaultIdleConnTimeout   = 30 * time.Second
	defaultResponseTimeout   = 10 * time.Second
	defaultClientTimeout     = 30 * time.Second
	defaultKeepAliveInterval = 30 * time.Second
	defaultRetryAttempts     = 3
	defaultRetryBackoff      = 500 * time.Millisecond
)

// ClientOptions tunes NewHTTPClient. Zero values select defaults.
type ClientOptions struct {
	Timeout        time.Duration
	RetryAttempts  int
	RetryBackoff   time.Duration
	ResponseHeader time.Duration
}

// NewHTTPClient returns a pooled client whose transport retries transient network failures.
// Requests with a body are retried only when GetBody is set.
func NewHTTPClient(opts ClientOptions) *http.Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultClientTimeout
	}
	if opts.RetryAttempts < 0 {
		opts.RetryAttempts = 0
	} else if opts.RetryAttempts == 0 {
		opts.RetryAttempts = defaultRetryAttempts
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultRetryBackoff
	}
	if opts.ResponseHeader <= 0 {
		opts.ResponseHeader = defaultResponseTimeout
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAliveInterval}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   defaultTLSHandshake,
		ResponseHeaderTimeout: opts.ResponseHeader,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout: opts.Timeout,
		Transport: &RetryTransport{
			Base:       transport,
			MaxRetries: opts.RetryAttempts,
			Backoff:    opts.RetryBackoff,
		},
	}
}

// RetryTransport re-issues a request after a transient transport error.
type RetryTransport struct {
	Base       http.RoundTripper
	MaxRetries int
	Backoff    time.Duration
}

// RoundTrip implements http.RoundTripper.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	attempts := t.MaxRetries + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		currReq := req
		if attempt > 1 {
			currReq = req.Clone(req.Context())
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, err
				}
				currReq.Body = body
			} else if req.Body != nil && req.Body != http.NoBody {
				return nil, lastErr
			}
		}

		resp, err := base.RoundTrip(currReq)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !ShouldRetry(err) || attempt == attempts {
			break
		}

		delay := Backoff(t.Backoff, 0, attempt)
		if delay <= 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}
	}

	return nil, lastErr
}
