// Package gateway is the client of the Copperx financial API.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/m3rciful/copperxbot/core/logger"
	"github.com/m3rciful/copperxbot/core/netutil"
)

// DefaultBaseURL is the production API.
const DefaultBaseURL = "https://income-api.copperx.io"

const maxResponseBytes = 1 << 20

// Error is a failed call: a non-2xx status or a payload carrying an "error" field.
// Message is the text shown to the user.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return "gateway: " + e.Message
	}
	return fmt.Sprintf("gateway: %s (%d)", e.Message, e.Status)
}

// Code labels the error in handler summaries.
func (e *Error) Code() string {
	if e.Status == 0 {
		return "GATEWAY_ERROR"
	}
	return fmt.Sprintf("GATEWAY_%d", e.Status)
}

// UserMessage extracts the text to show for err. Non-gateway errors get a generic line.
func UserMessage(err error) string {
	var gwErr *Error
	if errors.As(err, &gwErr) && gwErr.Message != "" {
		return gwErr.Message
	}
	return "The service is unavailable, please try again later."
}

// IsUnauthorized reports whether the API rejected the bearer token.
func IsUnauthorized(err error) bool {
	var gwErr *Error
	return errors.As(err, &gwErr) && gwErr.Status == http.StatusUnauthorized
}

// Options configures New.
type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// HTTPClient overrides the retrying client, e.g. in tests.
	HTTPClient *http.Client
}

// Client calls the API. It holds no per-user state and is safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New builds a Client over the shared retrying transport.
func New(opts Options) *Client {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = netutil.NewHTTPClient(netutil.ClientOptions{Timeout: opts.Timeout})
	}
	return &Client{baseURL: base, apiKey: opts.APIKey, http: hc}
}

// BaseURL returns the API root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do sends body (marshalled as JSON unless it is already []byte or json.RawMessage) and returns the
// raw response. The bearer is token, or the API key when token is empty.
func (c *Client) Do(ctx context.Context, method, path string, body any, token string) ([]byte, error) {
	var reader io.Reader
	var payload []byte
	if body != nil {
		switch b := body.(type) {
		case []byte:
			payload = b
		case json.RawMessage:
			payload = b
		default:
			var err error
			if payload, err = json.Marshal(body); err != nil {
				return nil, fmt.Errorf("gateway: encode %s %s: %w", method, path, err)
			}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("gateway: build %s %s: %w", method, path, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(payload)), nil
		}
	}
	req.Header.Set("Accept", "application/json")
	bearer := token
	if bearer == "" {
		bearer = c.apiKey
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		logCall(ctx, method, path, 0, start, err)
		return nil, fmt.Errorf("gateway: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		logCall(ctx, method, path, resp.StatusCode, start, err)
		return nil, fmt.Errorf("gateway: read %s %s: %w", method, path, err)
	}

	if apiErr := responseError(resp.StatusCode, raw); apiErr != nil {
		logCall(ctx, method, path, resp.StatusCode, start, apiErr)
		return nil, apiErr
	}
	logCall(ctx, method, path, resp.StatusCode, start, nil)
	return raw, nil
}

// responseError maps the API's error envelopes onto *Error.
// The message comes from "message" (string or list), then "error", then the status text.
func responseError(status int, raw []byte) error {
	ok := status >= 200 && status < 300
	res := gjson.ParseBytes(raw)
	errField := res.Get("error")
	if ok && (!res.IsObject() || !errField.Exists() || errField.Type == gjson.Null) {
		return nil
	}

	msg := ""
	if m := res.Get("message"); m.IsArray() {
		parts := make([]string, 0, len(m.Array()))
		for _, p := range m.Array() {
			parts = append(parts, p.String())
		}
		msg = strings.Join(parts, "; ")
	} else if m.Type == gjson.String {
		msg = m.String()
	}
	if msg == "" && errField.Exists() {
		if errField.IsObject() {
			msg = errField.Get("message").String()
		} else {
			msg = errField.String()
		}
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	if msg == "" {
		msg = "unknown error"
	}
	return &Error{Status: status, Message: msg}
}

func logCall(ctx context.Context, method, path string, code int, start time.Time, err error) {
	level := slog.LevelDebug
	attrs := []slog.Attr{
		slog.String("status", logger.Status(err)),
		slog.String("method", method),
		slog.String("path", path),
		slog.Duration("duration", logger.Took(start)),
	}
	if code != 0 {
		attrs = append(attrs, slog.Int("http_code", code))
	}
	if err != nil {
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("err", logger.SanitizeLimit(err.Error(), 256)))
	}
	logger.LogEvent(ctx, logger.Gateway, level, "gateway.call", attrs...)
}
