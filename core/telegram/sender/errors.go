package sender

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/copperxbot/core/netutil"
)

var tokenRe = regexp.MustCompile(`bot[0-9]+:[A-Za-z0-9_-]+`)

// retryDelay decides whether a failed call is retried and after how long.
// Flood control answers carry their own wait; transient network errors back off exponentially.
func retryDelay(err error, base time.Duration, attempt int) (time.Duration, bool) {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		if wait := time.Duration(flood.RetryAfter) * time.Second; wait > 0 {
			return wait, true
		}
		return base, true
	}
	if netutil.ShouldRetry(err) {
		return netutil.Backoff(base, 0, attempt), true
	}
	return 0, false
}

// classifyError labels a send failure for the err_kind log field.
func classifyError(err error) string {
	if err == nil {
		return ""
	}
	if isTimeout(err) {
		return "timeout"
	}
	if isBlocked(err) {
		return "blocked"
	}

	var (
		dnsErr   *net.DNSError
		opErr    *net.OpError
		alertErr tls.AlertError
	)
	switch {
	case errors.As(err, &dnsErr):
		return "dns"
	case errors.As(err, &opErr) && opErr.Op == "dial":
		return "dial"
	case errors.As(err, &alertErr):
		return "tls"
	}

	switch status := statusOf(err); {
	case status >= 500:
		return "http_5xx"
	case status >= 400:
		return "http_4xx"
	}
	return "unknown"
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isBlocked reports a 403: the user blocked the bot or never opened the chat.
func isBlocked(err error) bool {
	if errors.Is(err, tele.ErrBlockedByUser) || errors.Is(err, tele.ErrUserIsDeactivated) {
		return true
	}
	return statusOf(err) == http.StatusForbidden
}

// statusOf extracts the Bot API status code, falling back to the "(NNN)" suffix
// telebot appends to untyped errors.
func statusOf(err error) int {
	var (
		apiErr   *tele.Error
		floodErr tele.FloodError
		groupErr tele.GroupError
	)
	switch {
	case err == nil:
		return 0
	case errors.As(err, &apiErr):
		return apiErr.Code
	case errors.As(err, &floodErr):
		return http.StatusTooManyRequests
	case errors.As(err, &groupErr):
		return http.StatusBadRequest
	}

	msg := err.Error()
	open, end := strings.LastIndex(msg, "("), strings.LastIndex(msg, ")")
	if open < 0 || end <= open+1 {
		return 0
	}
	code, convErr := strconv.Atoi(strings.TrimSpace(msg[open+1 : end]))
	if convErr != nil {
		return 0
	}
	return code
}

// sanitizeErrorMessage keeps bot tokens embedded in request URLs out of the logs.
func sanitizeErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	return tokenRe.ReplaceAllString(err.Error(), "bot<redacted>")
}
